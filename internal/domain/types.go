// Package domain defines the core types for the SSO engine.
package domain

import (
	"time"
)

// KeyType classifies a credential in the key hierarchy.
type KeyType string

const (
	// KeyTypeRoot is the highest-privilege credential, bound to no service.
	KeyTypeRoot KeyType = "root"
	// KeyTypeService is a credential scoped to exactly one service.
	KeyTypeService KeyType = "service"
	// KeyTypeToken is a per-user, per-service credential that signs session tokens.
	KeyTypeToken KeyType = "token"
	// KeyTypeTotp is a per-user, per-service credential for TOTP codes.
	KeyTypeTotp KeyType = "totp"
)

// Key is a credential in the root/service/user hierarchy.
//
// A root key has neither ServiceID nor UserID, a service key has ServiceID
// only, and a token/totp key has both. The value is generated once at
// creation and never regenerated in place; rotation creates a new key and
// revokes the old one. Revocation is terminal.
type Key struct {
	ID        string    `json:"id"`
	Type      KeyType   `json:"type"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	ServiceID string    `json:"service_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	IsEnabled bool      `json:"is_enabled"`
	IsRevoked bool      `json:"is_revoked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usable reports whether the key can authenticate anything at all.
func (k *Key) Usable() bool {
	return k.IsEnabled && !k.IsRevoked
}

// Service is a registered consumer of the SSO engine. A disabled service
// fails every authentication check performed on its behalf.
type Service struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	IsEnabled bool   `json:"is_enabled"`

	// Per-provider callback URLs. A provider with no callback URL is
	// disabled for this service.
	LocalCallbackURL     string `json:"local_callback_url,omitempty"`
	GithubCallbackURL    string `json:"github_callback_url,omitempty"`
	MicrosoftCallbackURL string `json:"microsoft_callback_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an identity known to the engine. Disabled users fail checked reads.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Locale       string    `json:"locale,omitempty"`
	Timezone     string    `json:"timezone,omitempty"`
	IsEnabled    bool      `json:"is_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Csrf is a single-use, TTL-bound opaque token scoped to a service.
//
// The value may carry OAuth2 flow state, including a PKCE code verifier.
// A row is consumed (deleted) exactly once on a successful read by key;
// expired rows are purged lazily on every read.
type Csrf struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	ServiceID string    `json:"service_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the token's TTL has elapsed at the given time.
func (c *Csrf) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// UserToken is a freshly minted session pair. It is derived at issuance
// time and never persisted; both tokens are JWTs signed with a secret
// derived from the user's token key.
type UserToken struct {
	UserID              string `json:"user_id"`
	AccessToken         string `json:"access_token"`
	AccessTokenExpires  int64  `json:"access_token_expires"`
	RefreshToken        string `json:"refresh_token"`
	RefreshTokenExpires int64  `json:"refresh_token_expires"`
}

// Audit is an append-only record of one security-relevant operation
// attempt. Type carries the operation name, suffixed with "_error" when
// the attempt failed.
type Audit struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Subject   string         `json:"subject,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	KeyID     string         `json:"key_id,omitempty"`
	ServiceID string         `json:"service_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	UserKeyID string         `json:"user_key_id,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RemoteIP  string         `json:"remote_ip,omitempty"`
	Forwarded string         `json:"forwarded,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
