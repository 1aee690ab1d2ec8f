// Package audit records every security-relevant operation attempt as an
// append-only audit entry.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// Audit types, one per domain operation. The "_error" variant is derived
// automatically when an attempt fails.
const (
	TypeKeyVerify      = "key_verify"
	TypeKeyCreate      = "key_create"
	TypeKeyUpdate      = "key_update"
	TypeKeyRevoke      = "key_revoke"
	TypeLogin          = "login"
	TypeOauth2Start    = "oauth2_start"
	TypeOauth2Callback = "oauth2_callback"
	TypeTokenVerify    = "token_verify"
	TypeTokenRefresh   = "token_refresh"
	TypeTokenRevoke    = "token_revoke"
	TypeCsrfGenerate   = "csrf_generate"
)

// ErrorSuffix is appended to the audit type of a failed attempt.
const ErrorSuffix = "_error"

// Meta carries caller metadata known at the start of a request.
type Meta struct {
	UserAgent string
	RemoteIP  string
	Forwarded string
}

// Builder accumulates identities for one audit record as they resolve.
// It is an explicit value threaded through each call, never ambient state.
// Fields are written once; the chain naturally resolves outer to inner.
type Builder struct {
	meta      Meta
	typ       string
	subject   string
	keyID     string
	serviceID string
	userID    string
	userKeyID string
	data      map[string]any
}

// New opens a builder for one operation attempt.
func New(meta Meta, typ string) *Builder {
	return &Builder{
		meta: meta,
		typ:  typ,
	}
}

// Key attaches the resolved authentication key.
func (b *Builder) Key(key *domain.Key) *Builder {
	if key != nil {
		b.keyID = key.ID
	}
	return b
}

// Service attaches the resolved service.
func (b *Builder) Service(service *domain.Service) *Builder {
	if service != nil {
		b.serviceID = service.ID
	}
	return b
}

// User attaches the resolved user.
func (b *Builder) User(user *domain.User) *Builder {
	if user != nil {
		b.userID = user.ID
	}
	return b
}

// UserKey attaches the resolved per-user key.
func (b *Builder) UserKey(key *domain.Key) *Builder {
	if key != nil {
		b.userKeyID = key.ID
	}
	return b
}

// Subject sets the entity the operation acted on, typically an id.
func (b *Builder) Subject(subject string) *Builder {
	b.subject = subject
	return b
}

// Data attaches an arbitrary context value to the audit payload.
func (b *Builder) Data(key string, value any) *Builder {
	if b.data == nil {
		b.data = map[string]any{}
	}
	b.data[key] = value
	return b
}

// Recorder persists audit rows.
type Recorder struct {
	audits store.AuditRepository
	logger *slog.Logger
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger for the recorder.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a new Recorder.
func NewRecorder(audits store.AuditRepository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		audits: audits,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Record persists exactly one audit row for the attempt described by the
// builder, tagging it with the error variant of the type when opErr is
// non-nil. It returns opErr unchanged so callers can close an operation
// with a single return statement. A failure to persist the row never masks
// the operation result; it is logged and, for successful operations,
// surfaced as an internal error.
func (r *Recorder) Record(ctx context.Context, b *Builder, opErr error) error {
	row := b.row()
	if opErr != nil {
		row.Type += ErrorSuffix
		if row.Data == nil {
			row.Data = map[string]any{}
		}
		row.Data["error"] = opErr.Error()
		row.Data["code"] = ssoerrors.Code(opErr)
	}

	if err := r.audits.Create(ctx, row); err != nil {
		r.logger.Error("failed to persist audit row", "type", row.Type, "error", err)
		if opErr == nil {
			return ssoerrors.Internal("failed to persist audit row", err)
		}
	}

	return opErr
}

// RecordDiff is Record with a structural before/after diff of a mutated
// entity captured in the payload.
func (r *Recorder) RecordDiff(ctx context.Context, b *Builder, before, after any, opErr error) error {
	if diff := Diff(before, after); len(diff) > 0 {
		b.Data("diff", diff)
	}
	return r.Record(ctx, b, opErr)
}

func (b *Builder) row() *domain.Audit {
	return &domain.Audit{
		ID:        uuid.New().String(),
		Type:      b.typ,
		Subject:   b.subject,
		Data:      b.data,
		KeyID:     b.keyID,
		ServiceID: b.serviceID,
		UserID:    b.userID,
		UserKeyID: b.userKeyID,
		UserAgent: b.meta.UserAgent,
		RemoteIP:  b.meta.RemoteIP,
		Forwarded: b.meta.Forwarded,
	}
}

// Diff computes a shallow field-level diff between two entities of the
// same shape. Each changed field maps to its {from, to} pair. Secret
// values never make it into the payload because domain types omit them
// from JSON or the caller blanks them first.
func Diff(before, after any) map[string]any {
	b := toMap(before)
	a := toMap(after)
	if b == nil || a == nil {
		return nil
	}

	diff := map[string]any{}
	for field, bv := range b {
		av, ok := a[field]
		if !ok {
			diff[field] = map[string]any{"from": bv, "to": nil}
			continue
		}
		if !jsonEqual(bv, av) {
			diff[field] = map[string]any{"from": bv, "to": av}
		}
	}
	for field, av := range a {
		if _, ok := b[field]; !ok {
			diff[field] = map[string]any{"from": nil, "to": av}
		}
	}
	return diff
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
