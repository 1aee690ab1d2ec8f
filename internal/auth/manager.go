package auth

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// Manager exposes the public key operations: verify, create, update and
// revoke. Every operation closes exactly one audit record per attempt.
type Manager struct {
	keys     store.KeyRepository
	chain    *Chain
	recorder *audit.Recorder
	logger   *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new key Manager.
func NewManager(keys store.KeyRepository, chain *Chain, recorder *audit.Recorder, opts ...ManagerOption) *Manager {
	m := &Manager{
		keys:     keys,
		chain:    chain,
		recorder: recorder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// VerifyKey authenticates the presented value as either a service key or a
// root key. A nil service with nil error means root.
func (m *Manager) VerifyKey(ctx context.Context, meta audit.Meta, value string) (*domain.Service, error) {
	b := audit.New(meta, audit.TypeKeyVerify)

	service, err := m.chain.Authenticate(ctx, value, b)
	return service, m.recorder.Record(ctx, b, err)
}

// CreateKeyInput describes a key to create.
type CreateKeyInput struct {
	Type      domain.KeyType
	Name      string
	ServiceID string
	UserID    string
}

// CreateKey creates a new key on behalf of an authenticated caller.
//
// A root caller may create root and service keys; a service caller may
// create token and totp keys for users under its own service. The scope
// shape invariant is enforced here: root keys carry no owner ids, service
// keys a service id only, token/totp keys both ids.
func (m *Manager) CreateKey(ctx context.Context, meta audit.Meta, callerValue string, in CreateKeyInput) (*domain.Key, error) {
	b := audit.New(meta, audit.TypeKeyCreate)

	key, err := m.createKey(ctx, b, callerValue, in)
	if key != nil {
		b.Subject(key.ID)
	}
	return key, m.recorder.Record(ctx, b, err)
}

func (m *Manager) createKey(ctx context.Context, b *audit.Builder, callerValue string, in CreateKeyInput) (*domain.Key, error) {
	service, err := m.chain.Authenticate(ctx, callerValue, b)
	if err != nil {
		return nil, err
	}

	switch in.Type {
	case domain.KeyTypeRoot:
		if service != nil || in.ServiceID != "" || in.UserID != "" {
			return nil, ssoerrors.Unauthorized("root keys are created by root callers without owners")
		}
	case domain.KeyTypeService:
		if service != nil || in.ServiceID == "" || in.UserID != "" {
			return nil, ssoerrors.Unauthorized("service keys are created by root callers with a service owner")
		}
	case domain.KeyTypeToken, domain.KeyTypeTotp:
		if in.ServiceID == "" || in.UserID == "" {
			return nil, ssoerrors.BadRequest("user keys need both a service and a user owner")
		}
		if service != nil && service.ID != in.ServiceID {
			return nil, ssoerrors.Unauthorized("cannot create keys under another service")
		}
	default:
		return nil, ssoerrors.BadRequest("unknown key type")
	}

	key, err := NewKey(in.Type, in.Name, in.ServiceID, in.UserID)
	if err != nil {
		return nil, ssoerrors.Internal("failed to generate key", err)
	}

	if err := m.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	return key, nil
}

// UpdateKey renames or flips the enabled bit of an existing key. Revoked
// keys never come back; revocation is terminal.
func (m *Manager) UpdateKey(ctx context.Context, meta audit.Meta, callerValue, keyID, name string, enabled bool) (*domain.Key, error) {
	b := audit.New(meta, audit.TypeKeyUpdate).Subject(keyID)

	before, after, err := m.updateKey(ctx, b, callerValue, keyID, name, enabled)
	return after, m.recorder.RecordDiff(ctx, b, auditView(before), auditView(after), err)
}

func (m *Manager) updateKey(ctx context.Context, b *audit.Builder, callerValue, keyID, name string, enabled bool) (*domain.Key, *domain.Key, error) {
	service, err := m.chain.Authenticate(ctx, callerValue, b)
	if err != nil {
		return nil, nil, err
	}

	key, err := m.keys.GetByID(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}
	if service != nil && key.ServiceID != service.ID {
		return nil, nil, ssoerrors.Unauthorized("cannot manage another service's key")
	}
	if key.IsRevoked {
		return key, nil, ssoerrors.New(ssoerrors.CodeKeyRevoked, "key is revoked")
	}

	before := *key
	if name != "" {
		key.Name = name
	}
	key.IsEnabled = enabled

	if err := m.keys.Update(ctx, key); err != nil {
		return &before, nil, err
	}

	return &before, key, nil
}

// RevokeKey terminally revokes the key with the presented target value.
// The target lookup ignores enabled/revoked status so revocation stays
// idempotent. A service caller may only revoke keys under its own service.
func (m *Manager) RevokeKey(ctx context.Context, meta audit.Meta, callerValue, targetValue string) (*domain.Key, error) {
	b := audit.New(meta, audit.TypeKeyRevoke)

	before, after, err := m.revokeKey(ctx, b, callerValue, targetValue)
	if after != nil {
		b.Subject(after.ID)
	}
	return after, m.recorder.RecordDiff(ctx, b, auditView(before), auditView(after), err)
}

func (m *Manager) revokeKey(ctx context.Context, b *audit.Builder, callerValue, targetValue string) (*domain.Key, *domain.Key, error) {
	service, err := m.chain.Authenticate(ctx, callerValue, b)
	if err != nil {
		return nil, nil, err
	}

	key, err := m.findByValue(ctx, targetValue)
	if err != nil {
		return nil, nil, err
	}
	if service != nil && key.ServiceID != service.ID {
		return nil, nil, ssoerrors.Unauthorized("cannot revoke another service's key")
	}

	before := *key
	key.IsEnabled = false
	key.IsRevoked = true

	if err := m.keys.Update(ctx, key); err != nil {
		return &before, nil, err
	}

	m.logger.Info("key revoked", "key_id", key.ID, "type", key.Type)

	return &before, key, nil
}

// findByValue locates a key of any type by exact value match.
func (m *Manager) findByValue(ctx context.Context, value string) (*domain.Key, error) {
	if value == "" {
		return nil, ssoerrors.New(ssoerrors.CodeKeyUndefined, "no key presented")
	}

	for _, typ := range []domain.KeyType{domain.KeyTypeRoot, domain.KeyTypeService, domain.KeyTypeToken, domain.KeyTypeTotp} {
		key, err := m.keys.GetByValue(ctx, value, typ)
		if err == nil {
			return key, nil
		}
		if !ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, err
		}
	}
	return nil, ssoerrors.New(ssoerrors.CodeKeyNotFound, "key not found")
}

// auditView strips the secret value before a key enters the audit payload.
func auditView(key *domain.Key) *domain.Key {
	if key == nil {
		return nil
	}
	view := *key
	view.Value = ""
	return &view
}
