// Package store defines repository interfaces for persistence.
package store

import (
	"context"
	"time"

	"github.com/tendant/simple-sso/internal/domain"
)

// KeyRepository defines operations for key persistence.
type KeyRepository interface {
	Create(ctx context.Context, key *domain.Key) error
	GetByID(ctx context.Context, id string) (*domain.Key, error)
	// GetByValue looks up a key by its exact secret value and type.
	GetByValue(ctx context.Context, value string, typ domain.KeyType) (*domain.Key, error)
	// GetUserKey looks up the key scoped to exactly the
	// (service, user, type) triple. When rotation has left revoked
	// siblings behind, a usable key wins over a dead one.
	GetUserKey(ctx context.Context, serviceID, userID string, typ domain.KeyType) (*domain.Key, error)
	Update(ctx context.Context, key *domain.Key) error
	List(ctx context.Context) ([]*domain.Key, error)
}

// ServiceRepository defines operations for service persistence.
type ServiceRepository interface {
	Create(ctx context.Context, service *domain.Service) error
	GetByID(ctx context.Context, id string) (*domain.Service, error)
	Update(ctx context.Context, service *domain.Service) error
	List(ctx context.Context) ([]*domain.Service, error)
}

// UserRepository defines operations for user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	List(ctx context.Context) ([]*domain.User, error)
}

// CsrfRepository defines operations for single-use CSRF token persistence.
type CsrfRepository interface {
	Create(ctx context.Context, csrf *domain.Csrf) error
	// ReadAndDelete returns the row for key and removes it in one atomic
	// operation. Two concurrent calls for the same key must not both
	// succeed.
	ReadAndDelete(ctx context.Context, key string) (*domain.Csrf, error)
	// DeleteExpired removes every row whose TTL elapsed before now.
	DeleteExpired(ctx context.Context, now time.Time) error
}

// AuditRepository defines operations for the append-only audit log.
type AuditRepository interface {
	Create(ctx context.Context, audit *domain.Audit) error
	List(ctx context.Context) ([]*domain.Audit, error)
}

// Store aggregates all repositories.
type Store interface {
	Keys() KeyRepository
	Services() ServiceRepository
	Users() UserRepository
	Csrfs() CsrfRepository
	Audits() AuditRepository
	Close() error
}
