// Package auth implements the key authentication chain: resolving a
// presented key value to a root or service context and locating per-user
// keys under scope rules.
package auth

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// Chain resolves presented key values. It never mutates a key; its only
// side effect is annotating the audit builder with resolved identities so
// failures stay traceable.
type Chain struct {
	keys     store.KeyRepository
	services store.ServiceRepository
	logger   *slog.Logger
}

// ChainOption configures the Chain.
type ChainOption func(*Chain)

// WithLogger sets the logger for the chain.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain creates a new authentication chain.
func NewChain(keys store.KeyRepository, services store.ServiceRepository, opts ...ChainOption) *Chain {
	c := &Chain{
		keys:     keys,
		services: services,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AuthenticateRoot resolves value to a usable root key.
func (c *Chain) AuthenticateRoot(ctx context.Context, value string, b *audit.Builder) (*domain.Key, error) {
	if value == "" {
		return nil, ssoerrors.New(ssoerrors.CodeKeyUndefined, "no key presented")
	}

	key, err := c.keys.GetByValue(ctx, value, domain.KeyTypeRoot)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, ssoerrors.New(ssoerrors.CodeKeyNotFound, "root key not found")
		}
		return nil, err
	}
	b.Key(key)

	if err := checkKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// AuthenticateService resolves value to a usable service key and loads
// its owning service, which must exist and be enabled.
func (c *Chain) AuthenticateService(ctx context.Context, value string, b *audit.Builder) (*domain.Service, error) {
	if value == "" {
		return nil, ssoerrors.New(ssoerrors.CodeKeyUndefined, "no key presented")
	}

	key, err := c.keys.GetByValue(ctx, value, domain.KeyTypeService)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, ssoerrors.New(ssoerrors.CodeKeyNotFound, "service key not found")
		}
		return nil, err
	}
	b.Key(key)

	if err := checkKey(key); err != nil {
		return nil, err
	}

	service, err := c.services.GetByID(ctx, key.ServiceID)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, ssoerrors.New(ssoerrors.CodeServiceNotFound, "owning service not found")
		}
		return nil, err
	}
	b.Service(service)

	if !service.IsEnabled {
		return nil, ssoerrors.New(ssoerrors.CodeServiceDisabled, "service is disabled")
	}

	return service, nil
}

// Authenticate resolves value as either a service key or a root key, in
// that order. A nil service with a nil error means the caller is root.
func (c *Chain) Authenticate(ctx context.Context, value string, b *audit.Builder) (*domain.Service, error) {
	service, err := c.AuthenticateService(ctx, value, b)
	if err == nil {
		return service, nil
	}

	if rootKey, rootErr := c.AuthenticateRoot(ctx, value, b); rootErr == nil {
		c.logger.Debug("caller authenticated as root", "key_id", rootKey.ID)
		return nil, nil
	}

	// Report the service-path failure; the detail only reaches the audit log.
	return nil, err
}

// ReadUserKey looks up the key scoped to exactly the (service, user, type)
// triple and requires it to be usable.
func (c *Chain) ReadUserKey(ctx context.Context, service *domain.Service, user *domain.User, typ domain.KeyType, b *audit.Builder) (*domain.Key, error) {
	key, err := c.ReadUserKeyUnchecked(ctx, service, user, typ, b)
	if err != nil {
		return nil, err
	}

	if err := checkKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// ReadUserKeyUnchecked is ReadUserKey without the status gate. Revoke
// flows use it so an already-disabled key can still be located and revoked
// idempotently.
func (c *Chain) ReadUserKeyUnchecked(ctx context.Context, service *domain.Service, user *domain.User, typ domain.KeyType, b *audit.Builder) (*domain.Key, error) {
	key, err := c.keys.GetUserKey(ctx, service.ID, user.ID, typ)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, ssoerrors.New(ssoerrors.CodeKeyNotFound, "user key not found")
		}
		return nil, err
	}
	b.UserKey(key)

	return key, nil
}

func checkKey(key *domain.Key) error {
	if key.IsRevoked {
		return ssoerrors.New(ssoerrors.CodeKeyRevoked, "key is revoked")
	}
	if !key.IsEnabled {
		return ssoerrors.New(ssoerrors.CodeKeyDisabled, "key is disabled")
	}
	return nil
}
