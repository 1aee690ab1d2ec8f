package csrf

import (
	"context"
	"testing"
	"time"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/clock"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store/file"
)

func newTestManager(t *testing.T, c clock.Clock) (*Manager, *file.Store) {
	t.Helper()

	st, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	chain := auth.NewChain(st.Keys(), st.Services())
	recorder := audit.NewRecorder(st.Audits())
	return NewManager(st.Csrfs(), chain, recorder, WithClock(c)), st
}

func TestGenerateAndConsume(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	row, err := m.Generate(ctx, time.Hour, "service-a")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if row.Key == "" {
		t.Fatal("Generated key should not be empty")
	}
	if row.Key != row.Value {
		t.Error("Generate should set key == value")
	}

	got, err := m.ReadAndConsume(ctx, row.Key)
	if err != nil {
		t.Fatalf("ReadAndConsume failed: %v", err)
	}
	if got.Value != row.Value {
		t.Errorf("Value = %q, want %q", got.Value, row.Value)
	}

	// Second read must fail: consumption is single-use.
	if _, err := m.ReadAndConsume(ctx, row.Key); !ssoerrors.IsCode(err, ssoerrors.CodeCsrfNotFoundOrUsed) {
		t.Errorf("Second ReadAndConsume error = %v, want %s", err, ssoerrors.CodeCsrfNotFoundOrUsed)
	}
}

func TestCreateCarriesValue(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	// The value may be a PKCE verifier rather than random filler.
	if _, err := m.Create(ctx, "state-key", "pkce-verifier", time.Hour, "service-a"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := m.ReadAndConsume(ctx, "state-key")
	if err != nil {
		t.Fatalf("ReadAndConsume failed: %v", err)
	}
	if got.Value != "pkce-verifier" {
		t.Errorf("Value = %q, want pkce-verifier", got.Value)
	}
}

func TestExpiredTokenIsUnreadable(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	row, err := m.Generate(ctx, time.Minute, "service-a")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	c.Advance(2 * time.Minute)

	if _, err := m.ReadAndConsume(ctx, row.Key); !ssoerrors.IsCode(err, ssoerrors.CodeCsrfNotFoundOrUsed) {
		t.Errorf("Expired read error = %v, want %s", err, ssoerrors.CodeCsrfNotFoundOrUsed)
	}
}

func TestZeroTTLIsUnreadableImmediately(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	row, err := m.Generate(ctx, 0, "service-a")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// The sweep runs before the lookup, so even the first read fails.
	c.Advance(time.Nanosecond)
	if _, err := m.ReadAndConsume(ctx, row.Key); !ssoerrors.IsCode(err, ssoerrors.CodeCsrfNotFoundOrUsed) {
		t.Errorf("Zero-TTL read error = %v, want %s", err, ssoerrors.CodeCsrfNotFoundOrUsed)
	}
}

func TestIssueScopesTokenToCaller(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, st := newTestManager(t, c)
	ctx := context.Background()

	service := &domain.Service{ID: "service-a", Name: "A", IsEnabled: true}
	if err := st.Services().Create(ctx, service); err != nil {
		t.Fatalf("Create service failed: %v", err)
	}
	key, err := auth.NewKey(domain.KeyTypeService, "a key", service.ID, "")
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}
	if err := st.Keys().Create(ctx, key); err != nil {
		t.Fatalf("Create key failed: %v", err)
	}

	row, err := m.Issue(ctx, audit.Meta{}, key.Value, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if row.ServiceID != service.ID {
		t.Errorf("ServiceID = %q, want %q", row.ServiceID, service.ID)
	}

	// The issued token behaves like any other: single use, owner only.
	if _, err := m.Verify(ctx, service.ID, row.Key); err != nil {
		t.Errorf("Verify of issued token failed: %v", err)
	}

	rows, err := st.Audits().List(ctx)
	if err != nil {
		t.Fatalf("List audits failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
	if rows[0].Type != audit.TypeCsrfGenerate {
		t.Errorf("row type = %q, want %q", rows[0].Type, audit.TypeCsrfGenerate)
	}
	if rows[0].Subject != row.Key {
		t.Errorf("row subject = %q, want the issued key", rows[0].Subject)
	}
}

func TestIssueRejectsUnknownCaller(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, st := newTestManager(t, c)
	ctx := context.Background()

	_, err := m.Issue(ctx, audit.Meta{}, "nope", time.Hour)
	if !ssoerrors.IsCode(err, ssoerrors.CodeKeyNotFound) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeKeyNotFound)
	}

	rows, err := st.Audits().List(ctx)
	if err != nil {
		t.Fatalf("List audits failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
	if rows[0].Type != audit.TypeCsrfGenerate+audit.ErrorSuffix {
		t.Errorf("row type = %q, want %q", rows[0].Type, audit.TypeCsrfGenerate+audit.ErrorSuffix)
	}
}

func TestVerifyServiceMismatch(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	row, err := m.Generate(ctx, time.Hour, "service-a")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := m.Verify(ctx, "service-b", row.Key); !ssoerrors.IsCode(err, ssoerrors.CodeCsrfServiceMismatch) {
		t.Errorf("Verify error = %v, want %s", err, ssoerrors.CodeCsrfServiceMismatch)
	}

	// The mismatch still consumed the row.
	if _, err := m.ReadAndConsume(ctx, row.Key); !ssoerrors.IsCode(err, ssoerrors.CodeCsrfNotFoundOrUsed) {
		t.Errorf("Post-mismatch read error = %v, want %s", err, ssoerrors.CodeCsrfNotFoundOrUsed)
	}
}

func TestVerifyMatchingService(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, c)
	ctx := context.Background()

	row, err := m.Generate(ctx, time.Hour, "service-a")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	got, err := m.Verify(ctx, "service-a", row.Key)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.ServiceID != "service-a" {
		t.Errorf("ServiceID = %q, want service-a", got.ServiceID)
	}
}
