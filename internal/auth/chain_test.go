package auth

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store/file"
)

type fixture struct {
	store *file.Store
	chain *Chain

	rootKey    *domain.Key
	serviceA   *domain.Service
	serviceB   *domain.Service
	serviceKey *domain.Key
	user       *domain.User
	userKey    *domain.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	f := &fixture{
		store: st,
		chain: NewChain(st.Keys(), st.Services()),
	}

	f.rootKey = mustKey(t, domain.KeyTypeRoot, "root", "", "")
	if err := st.Keys().Create(ctx, f.rootKey); err != nil {
		t.Fatalf("Create root key failed: %v", err)
	}

	f.serviceA = &domain.Service{ID: "service-a", Name: "A", IsEnabled: true}
	f.serviceB = &domain.Service{ID: "service-b", Name: "B", IsEnabled: true}
	for _, s := range []*domain.Service{f.serviceA, f.serviceB} {
		if err := st.Services().Create(ctx, s); err != nil {
			t.Fatalf("Create service failed: %v", err)
		}
	}

	f.serviceKey = mustKey(t, domain.KeyTypeService, "a key", f.serviceA.ID, "")
	if err := st.Keys().Create(ctx, f.serviceKey); err != nil {
		t.Fatalf("Create service key failed: %v", err)
	}

	f.user = &domain.User{ID: "user-1", Email: "user@example.com", IsEnabled: true}
	if err := st.Users().Create(ctx, f.user); err != nil {
		t.Fatalf("Create user failed: %v", err)
	}

	f.userKey = mustKey(t, domain.KeyTypeToken, "user token key", f.serviceA.ID, f.user.ID)
	if err := st.Keys().Create(ctx, f.userKey); err != nil {
		t.Fatalf("Create user key failed: %v", err)
	}

	return f
}

func mustKey(t *testing.T, typ domain.KeyType, name, serviceID, userID string) *domain.Key {
	t.Helper()
	key, err := NewKey(typ, name, serviceID, userID)
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}
	return key
}

func builder() *audit.Builder {
	return audit.New(audit.Meta{}, audit.TypeKeyVerify)
}

func TestAuthenticateRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.chain.AuthenticateRoot(ctx, f.rootKey.Value, builder())
	if err != nil {
		t.Fatalf("AuthenticateRoot failed: %v", err)
	}
	if key.ID != f.rootKey.ID {
		t.Errorf("key ID = %q, want %q", key.ID, f.rootKey.ID)
	}
}

func TestAuthenticateRootFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		value string
		code  string
	}{
		{"empty value", "", ssoerrors.CodeKeyUndefined},
		{"unknown value", "nope", ssoerrors.CodeKeyNotFound},
		{"service key is not root", f.serviceKey.Value, ssoerrors.CodeKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chain.AuthenticateRoot(ctx, tt.value, builder())
			if !ssoerrors.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestAuthenticateService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service, err := f.chain.AuthenticateService(ctx, f.serviceKey.Value, builder())
	if err != nil {
		t.Fatalf("AuthenticateService failed: %v", err)
	}
	if service.ID != f.serviceA.ID {
		t.Errorf("service ID = %q, want %q", service.ID, f.serviceA.ID)
	}
}

func TestAuthenticateServiceRevokedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.serviceKey.IsEnabled = false
	f.serviceKey.IsRevoked = true
	if err := f.store.Keys().Update(ctx, f.serviceKey); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, err := f.chain.AuthenticateService(ctx, f.serviceKey.Value, builder())
	if !ssoerrors.IsCode(err, ssoerrors.CodeKeyRevoked) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeKeyRevoked)
	}
}

func TestAuthenticateServiceDisabledService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.serviceA.IsEnabled = false
	if err := f.store.Services().Update(ctx, f.serviceA); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, err := f.chain.AuthenticateService(ctx, f.serviceKey.Value, builder())
	if !ssoerrors.IsCode(err, ssoerrors.CodeServiceDisabled) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeServiceDisabled)
	}
}

func TestAuthenticateEither(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	service, err := f.chain.Authenticate(ctx, f.serviceKey.Value, builder())
	if err != nil {
		t.Fatalf("Authenticate with service key failed: %v", err)
	}
	if service == nil || service.ID != f.serviceA.ID {
		t.Errorf("service = %v, want %q", service, f.serviceA.ID)
	}

	service, err = f.chain.Authenticate(ctx, f.rootKey.Value, builder())
	if err != nil {
		t.Fatalf("Authenticate with root key failed: %v", err)
	}
	if service != nil {
		t.Errorf("root authentication should yield a nil service, got %v", service)
	}
}

func TestAuthenticateLogsRootCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	chain := NewChain(f.store.Keys(), f.store.Services(), WithLogger(logger))

	if _, err := chain.Authenticate(ctx, f.rootKey.Value, builder()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !strings.Contains(buf.String(), "caller authenticated as root") {
		t.Errorf("log output %q missing the root authentication line", buf.String())
	}
}

func TestReadUserKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.chain.ReadUserKey(ctx, f.serviceA, f.user, domain.KeyTypeToken, builder())
	if err != nil {
		t.Fatalf("ReadUserKey failed: %v", err)
	}
	if key.ID != f.userKey.ID {
		t.Errorf("key ID = %q, want %q", key.ID, f.userKey.ID)
	}
}

func TestReadUserKeyScopeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The user key lives under service A; resolving it under service B
	// must fail, never succeed.
	_, err := f.chain.ReadUserKey(ctx, f.serviceB, f.user, domain.KeyTypeToken, builder())
	if !ssoerrors.IsCode(err, ssoerrors.CodeKeyNotFound) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeKeyNotFound)
	}
}

func TestReadUserKeyUncheckedIgnoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.userKey.IsEnabled = false
	f.userKey.IsRevoked = true
	if err := f.store.Keys().Update(ctx, f.userKey); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := f.chain.ReadUserKey(ctx, f.serviceA, f.user, domain.KeyTypeToken, builder()); err == nil {
		t.Error("checked read of a revoked key should fail")
	}

	key, err := f.chain.ReadUserKeyUnchecked(ctx, f.serviceA, f.user, domain.KeyTypeToken, builder())
	if err != nil {
		t.Fatalf("ReadUserKeyUnchecked failed: %v", err)
	}
	if key.ID != f.userKey.ID {
		t.Errorf("key ID = %q, want %q", key.ID, f.userKey.ID)
	}
}

func TestKeyValueShape(t *testing.T) {
	value, err := GenerateKeyValue()
	if err != nil {
		t.Fatalf("GenerateKeyValue failed: %v", err)
	}
	// 24 random bytes encode to 39 base32 characters.
	if len(value) < 34 {
		t.Errorf("key value too short: %d chars", len(value))
	}

	other, err := GenerateKeyValue()
	if err != nil {
		t.Fatalf("GenerateKeyValue failed: %v", err)
	}
	if value == other {
		t.Error("two generated values should differ")
	}
}
