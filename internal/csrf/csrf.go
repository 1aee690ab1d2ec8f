// Package csrf manages single-use, TTL-bound opaque tokens scoped to a
// service. Tokens double as durable OAuth2 flow state, including PKCE
// code verifiers.
package csrf

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/clock"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// TokenLength is the number of random bytes in a generated token.
const TokenLength = 32

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Manager issues and single-use-verifies CSRF tokens.
type Manager struct {
	csrfs    store.CsrfRepository
	chain    *auth.Chain
	recorder *audit.Recorder
	clock    clock.Clock
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source used for TTL checks.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// NewManager creates a new CSRF Manager.
func NewManager(csrfs store.CsrfRepository, chain *auth.Chain, recorder *audit.Recorder, opts ...ManagerOption) *Manager {
	m := &Manager{
		csrfs:    csrfs,
		chain:    chain,
		recorder: recorder,
		clock:    clock.System{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Issue authenticates the caller as a service and generates a token
// scoped to it, closing one audit record for the attempt.
func (m *Manager) Issue(ctx context.Context, meta audit.Meta, callerValue string, ttl time.Duration) (*domain.Csrf, error) {
	b := audit.New(meta, audit.TypeCsrfGenerate)

	row, err := m.issue(ctx, b, callerValue, ttl)
	return row, m.recorder.Record(ctx, b, err)
}

func (m *Manager) issue(ctx context.Context, b *audit.Builder, callerValue string, ttl time.Duration) (*domain.Csrf, error) {
	service, err := m.chain.AuthenticateService(ctx, callerValue, b)
	if err != nil {
		return nil, err
	}

	row, err := m.Generate(ctx, ttl, service.ID)
	if err != nil {
		return nil, err
	}
	b.Subject(row.Key)

	return row, nil
}

// Generate creates a random token with key == value, expiring after ttl,
// scoped to a service.
func (m *Manager) Generate(ctx context.Context, ttl time.Duration, serviceID string) (*domain.Csrf, error) {
	token, err := generateToken()
	if err != nil {
		return nil, ssoerrors.Internal("failed to generate csrf token", err)
	}
	return m.Create(ctx, token, token, ttl, serviceID)
}

// Create persists a token with externally supplied key and value. The
// value may be a PKCE code verifier rather than random filler.
func (m *Manager) Create(ctx context.Context, key, value string, ttl time.Duration, serviceID string) (*domain.Csrf, error) {
	row := &domain.Csrf{
		Key:       key,
		Value:     value,
		ExpiresAt: m.clock.Now().Add(ttl),
		ServiceID: serviceID,
	}

	if err := m.csrfs.Create(ctx, row); err != nil {
		return nil, err
	}

	return row, nil
}

// ReadAndConsume sweeps expired rows, then consumes the row for key.
// An absent row and an already-consumed row are indistinguishable; both
// fail with csrf_not_found_or_used. Consumption is atomic at the
// repository, so a token can never be spent twice.
func (m *Manager) ReadAndConsume(ctx context.Context, key string) (*domain.Csrf, error) {
	if err := m.csrfs.DeleteExpired(ctx, m.clock.Now()); err != nil {
		return nil, err
	}

	row, err := m.csrfs.ReadAndDelete(ctx, key)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, ssoerrors.New(ssoerrors.CodeCsrfNotFoundOrUsed, "csrf token not found or already used")
		}
		return nil, err
	}

	return row, nil
}

// Verify consumes the row for key and requires it to belong to the given
// service. The ownership check keeps one service from hijacking another
// service's flow state.
func (m *Manager) Verify(ctx context.Context, serviceID, key string) (*domain.Csrf, error) {
	row, err := m.ReadAndConsume(ctx, key)
	if err != nil {
		return nil, err
	}

	if row.ServiceID != serviceID {
		return nil, ssoerrors.New(ssoerrors.CodeCsrfServiceMismatch, "csrf token belongs to another service")
	}

	return row, nil
}

func generateToken() (string, error) {
	raw := make([]byte, TokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return tokenEncoding.EncodeToString(raw), nil
}
