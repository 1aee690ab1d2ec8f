package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/clock"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// Service issues and manages JWT session pairs. Every public operation
// closes exactly one audit record per attempt.
type Service struct {
	users    store.UserRepository
	keys     store.KeyRepository
	services store.ServiceRepository
	chain    *auth.Chain
	recorder *audit.Recorder
	lockout  *auth.LockoutService
	clock    clock.Clock
	logger   *slog.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration

	// rotateRefresh selects the refresh policy. Off (the default), the old
	// refresh token stays valid until its natural expiry; on, a refresh
	// rotates the user's token key, which invalidates the prior pair
	// entirely.
	rotateRefresh bool
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRefreshRotation enables refresh-token rotation.
func WithRefreshRotation(rotate bool) Option {
	return func(s *Service) {
		s.rotateRefresh = rotate
	}
}

// WithLockout sets the lockout service throttling password logins.
func WithLockout(lockout *auth.LockoutService) Option {
	return func(s *Service) {
		s.lockout = lockout
	}
}

// NewService creates a new token Service.
func NewService(st store.Store, chain *auth.Chain, recorder *audit.Recorder, accessTTL, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		users:      st.Users(),
		keys:       st.Keys(),
		services:   st.Services(),
		chain:      chain,
		recorder:   recorder,
		clock:      clock.System{},
		logger:     slog.Default(),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EncodeUserToken mints an access/refresh pair bound to the given key.
// Both tokens are signed with a secret derived from the key's value, never
// a process-wide secret, so revoking the key invalidates every token it
// ever signed.
func (s *Service) EncodeUserToken(service *domain.Service, user *domain.User, key *domain.Key, accessTTL, refreshTTL time.Duration) (*domain.UserToken, error) {
	return s.encodePairAt(service, user, key, s.clock.Now(), accessTTL, refreshTTL)
}

func (s *Service) encodePairAt(service *domain.Service, user *domain.User, key *domain.Key, now time.Time, accessTTL, refreshTTL time.Duration) (*domain.UserToken, error) {
	access, accessExp, err := encode(key, user.ID, service.ID, TypeAccess, now, accessTTL)
	if err != nil {
		return nil, ssoerrors.Internal("failed to encode access token", err)
	}

	refresh, refreshExp, err := encode(key, user.ID, service.ID, TypeRefresh, now, refreshTTL)
	if err != nil {
		return nil, ssoerrors.Internal("failed to encode refresh token", err)
	}

	return &domain.UserToken{
		UserID:              user.ID,
		AccessToken:         access,
		AccessTokenExpires:  accessExp,
		RefreshToken:        refresh,
		RefreshTokenExpires: refreshExp,
	}, nil
}

// Verify validates an access token and returns its user and claims.
func (s *Service) Verify(ctx context.Context, meta audit.Meta, callerValue, tokenString string) (*domain.User, *Claims, error) {
	b := audit.New(meta, audit.TypeTokenVerify)

	user, claims, err := s.verify(ctx, b, callerValue, tokenString, TypeAccess)
	return user, claims, s.recorder.Record(ctx, b, err)
}

// verify resolves the token's key through a checked lookup and performs
// the safe decode. Shared by Verify and Refresh.
func (s *Service) verify(ctx context.Context, b *audit.Builder, callerValue, tokenString, wantType string) (*domain.User, *Claims, error) {
	caller, err := s.chain.Authenticate(ctx, callerValue, b)
	if err != nil {
		return nil, nil, err
	}

	// Unsafe decode first: just enough identity to find the signing key.
	unsafe, err := decodeUnsafe(tokenString)
	if err != nil {
		return nil, nil, err
	}
	b.Subject(unsafe.Subject)

	if caller != nil && caller.ID != unsafe.ServiceID {
		return nil, nil, ssoerrors.New(ssoerrors.CodeScopeMismatch, "token belongs to another service")
	}

	user, _, key, err := s.resolveTokenKey(ctx, b, unsafe, true)
	if err != nil {
		return nil, nil, err
	}

	claims, err := decode(tokenString, key, s.clock.Now)
	if err != nil {
		return nil, nil, err
	}

	if claims.TokenType != wantType {
		return nil, nil, ssoerrors.New(ssoerrors.CodeTokenWrongType, "unexpected token type")
	}

	return user, claims, nil
}

// resolveTokenKey loads the token's user, service and signing key. The
// signing key comes from the key_id claim, not a scope lookup, so a
// rotated-out key keeps signing exactly the tokens it signed and nothing
// newer. The checked variant gates on user, service and key liveness; the
// unchecked variant only requires them to exist, so revocation stays
// reachable.
func (s *Service) resolveTokenKey(ctx context.Context, b *audit.Builder, claims *Claims, checked bool) (*domain.User, *domain.Service, *domain.Key, error) {
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, nil, nil, ssoerrors.New(ssoerrors.CodeUserNotFound, "token user not found")
		}
		return nil, nil, nil, err
	}
	b.User(user)

	if checked && !user.IsEnabled {
		return nil, nil, nil, ssoerrors.New(ssoerrors.CodeUserDisabled, "user is disabled")
	}

	service, err := s.services.GetByID(ctx, claims.ServiceID)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, nil, nil, ssoerrors.New(ssoerrors.CodeServiceNotFound, "token service not found")
		}
		return nil, nil, nil, err
	}
	b.Service(service)

	if checked && !service.IsEnabled {
		return nil, nil, nil, ssoerrors.New(ssoerrors.CodeServiceDisabled, "service is disabled")
	}

	key, err := s.keys.GetByID(ctx, claims.KeyID)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, nil, nil, ssoerrors.New(ssoerrors.CodeKeyNotFound, "token signing key not found")
		}
		return nil, nil, nil, err
	}
	if key.Type != domain.KeyTypeToken || key.ServiceID != service.ID || key.UserID != user.ID {
		return nil, nil, nil, ssoerrors.New(ssoerrors.CodeTokenInvalid, "token key claim does not match its identity claims")
	}
	b.UserKey(key)

	if checked {
		if key.IsRevoked {
			return nil, nil, nil, ssoerrors.New(ssoerrors.CodeKeyRevoked, "token signing key is revoked")
		}
		if !key.IsEnabled {
			return nil, nil, nil, ssoerrors.New(ssoerrors.CodeKeyDisabled, "token signing key is disabled")
		}
	}

	return user, service, key, nil
}

// Refresh validates a refresh token and mints a fresh pair. The fresh
// pair always carries strictly later expiries than the pair it replaces.
// Under the default policy the presented refresh token stays valid until
// its own expiry; with rotation enabled the user's token key is rotated,
// which invalidates the old pair entirely.
func (s *Service) Refresh(ctx context.Context, meta audit.Meta, callerValue, tokenString string) (*domain.User, *domain.UserToken, error) {
	b := audit.New(meta, audit.TypeTokenRefresh)

	user, pair, err := s.refresh(ctx, b, callerValue, tokenString)
	return user, pair, s.recorder.Record(ctx, b, err)
}

func (s *Service) refresh(ctx context.Context, b *audit.Builder, callerValue, tokenString string) (*domain.User, *domain.UserToken, error) {
	user, claims, err := s.verify(ctx, b, callerValue, tokenString, TypeRefresh)
	if err != nil {
		return nil, nil, err
	}

	service, err := s.services.GetByID(ctx, claims.ServiceID)
	if err != nil {
		return nil, nil, err
	}

	key, err := s.keys.GetByID(ctx, claims.KeyID)
	if err != nil {
		return nil, nil, err
	}

	if s.rotateRefresh {
		key, err = s.rotateKey(ctx, b, key)
		if err != nil {
			return nil, nil, err
		}
	}

	// Claims are second-granular, so a refresh landing in the issuance
	// second would mint a byte-identical pair. Nudge past that second so
	// the new pair is always strictly newer than the presented one.
	now := s.clock.Now()
	if claims.ExpiresAt != nil {
		if issued := claims.ExpiresAt.Add(-s.refreshTTL); !now.Truncate(time.Second).After(issued) {
			now = issued.Add(time.Second)
		}
	}

	pair, err := s.encodePairAt(service, user, key, now, s.accessTTL, s.refreshTTL)
	if err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}

// rotateKey creates a replacement token key and terminally revokes the old
// one. Rotation, not regeneration: the old value never changes in place.
func (s *Service) rotateKey(ctx context.Context, b *audit.Builder, old *domain.Key) (*domain.Key, error) {
	replacement, err := auth.NewKey(old.Type, old.Name, old.ServiceID, old.UserID)
	if err != nil {
		return nil, ssoerrors.Internal("failed to generate replacement key", err)
	}

	if err := s.keys.Create(ctx, replacement); err != nil {
		return nil, err
	}

	old.IsEnabled = false
	old.IsRevoked = true
	if err := s.keys.Update(ctx, old); err != nil {
		return nil, err
	}

	b.UserKey(replacement).Data("rotated_key_id", old.ID)
	s.logger.Info("token key rotated", "old_key_id", old.ID, "new_key_id", replacement.ID)

	return replacement, nil
}

// Revoke terminally revokes the key that signed the presented token,
// invalidating the whole session family. The key lookup is unchecked so
// revocation is idempotent and reachable even for a partially revoked
// session; expiry of the presented token does not block it.
func (s *Service) Revoke(ctx context.Context, meta audit.Meta, callerValue, tokenString string) (*domain.Key, error) {
	b := audit.New(meta, audit.TypeTokenRevoke)

	before, after, err := s.revoke(ctx, b, callerValue, tokenString)
	return after, s.recorder.RecordDiff(ctx, b, keyAuditView(before), keyAuditView(after), err)
}

func (s *Service) revoke(ctx context.Context, b *audit.Builder, callerValue, tokenString string) (*domain.Key, *domain.Key, error) {
	caller, err := s.chain.Authenticate(ctx, callerValue, b)
	if err != nil {
		return nil, nil, err
	}

	unsafe, err := decodeUnsafe(tokenString)
	if err != nil {
		return nil, nil, err
	}
	b.Subject(unsafe.Subject)

	if caller != nil && caller.ID != unsafe.ServiceID {
		return nil, nil, ssoerrors.New(ssoerrors.CodeScopeMismatch, "token belongs to another service")
	}

	_, _, key, err := s.resolveTokenKey(ctx, b, unsafe, false)
	if err != nil {
		return nil, nil, err
	}

	// The signature and type must be genuine for that key before a write
	// happens, but expiry and revocation status do not gate the operation.
	claims, err := decodeSignatureOnly(tokenString, key)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeRefresh {
		return nil, nil, ssoerrors.New(ssoerrors.CodeTokenWrongType, "unexpected token type")
	}

	before := *key
	key.IsEnabled = false
	key.IsRevoked = true

	if err := s.keys.Update(ctx, key); err != nil {
		return &before, nil, err
	}

	s.logger.Info("session revoked", "user_id", unsafe.Subject, "key_id", key.ID)

	return &before, key, nil
}

// OAuth2Login mints a session pair after a completed delegation flow. It
// runs inside the callback's audit record, so it takes the open builder
// instead of creating one.
//
// The state service check repeats the CSRF manager's ownership check at
// the token boundary; both layers must agree before a session is minted.
func (s *Service) OAuth2Login(ctx context.Context, b *audit.Builder, service *domain.Service, stateServiceID, email string) (*domain.UserToken, error) {
	if service.ID != stateServiceID {
		return nil, ssoerrors.New(ssoerrors.CodeCsrfServiceMismatch, "flow state belongs to another service")
	}

	user, key, err := s.resolveLoginUser(ctx, b, service, email)
	if err != nil {
		return nil, err
	}

	return s.EncodeUserToken(service, user, key, s.accessTTL, s.refreshTTL)
}

// PasswordLogin authenticates a user by email and password under a service
// caller and mints a session pair. Failures look identical regardless of
// which part of the credential was wrong.
func (s *Service) PasswordLogin(ctx context.Context, meta audit.Meta, callerValue, email, password string) (*domain.UserToken, error) {
	b := audit.New(meta, audit.TypeLogin).Subject(email)

	pair, err := s.passwordLogin(ctx, b, callerValue, email, password)
	return pair, s.recorder.Record(ctx, b, err)
}

func (s *Service) passwordLogin(ctx context.Context, b *audit.Builder, callerValue, email, password string) (*domain.UserToken, error) {
	service, err := s.chain.AuthenticateService(ctx, callerValue, b)
	if err != nil {
		return nil, err
	}

	if s.lockout != nil && s.lockout.IsLocked(email) {
		return nil, ssoerrors.New(ssoerrors.CodeRateLimited, "account temporarily locked")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			s.recordLoginFailure(email)
			return nil, ssoerrors.New(ssoerrors.CodeInvalidCredentials, "invalid credentials")
		}
		return nil, err
	}
	b.User(user)

	if !user.IsEnabled || user.PasswordHash == "" {
		s.recordLoginFailure(email)
		return nil, ssoerrors.New(ssoerrors.CodeInvalidCredentials, "invalid credentials")
	}

	valid, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification error", "error", err)
		return nil, ssoerrors.New(ssoerrors.CodeInvalidCredentials, "invalid credentials")
	}
	if !valid {
		s.recordLoginFailure(email)
		return nil, ssoerrors.New(ssoerrors.CodeInvalidCredentials, "invalid credentials")
	}

	key, err := s.chain.ReadUserKey(ctx, service, user, domain.KeyTypeToken, b)
	if err != nil {
		return nil, err
	}

	if s.lockout != nil {
		s.lockout.RecordSuccess(email)
	}

	return s.EncodeUserToken(service, user, key, s.accessTTL, s.refreshTTL)
}

func (s *Service) recordLoginFailure(email string) {
	if s.lockout != nil {
		s.lockout.RecordFailure(email)
	}
}

// resolveLoginUser loads an enabled user by email and their usable token
// key under the given service.
func (s *Service) resolveLoginUser(ctx context.Context, b *audit.Builder, service *domain.Service, email string) (*domain.User, *domain.Key, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			return nil, nil, ssoerrors.New(ssoerrors.CodeUserNotFound, "no local user for external identity")
		}
		return nil, nil, err
	}
	b.User(user)

	if !user.IsEnabled {
		return nil, nil, ssoerrors.New(ssoerrors.CodeUserDisabled, "user is disabled")
	}

	key, err := s.chain.ReadUserKey(ctx, service, user, domain.KeyTypeToken, b)
	if err != nil {
		return nil, nil, err
	}

	return user, key, nil
}

func keyAuditView(key *domain.Key) *domain.Key {
	if key == nil {
		return nil
	}
	view := *key
	view.Value = ""
	return &view
}
