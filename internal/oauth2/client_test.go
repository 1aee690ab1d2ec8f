package oauth2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	ssoerrors "github.com/tendant/simple-sso/internal/errors"
)

func testConfig(tokenURL, userinfoURL string, emailFields []string) Config {
	return Config{
		Provider: ProviderGithub,
		Endpoints: Endpoints{
			TokenURL:    tokenURL,
			UserinfoURL: userinfoURL,
			EmailFields: emailFields,
		},
		Credentials: Credentials{ClientID: "client-id", ClientSecret: "client-secret"},
		RedirectURL: "https://app.example.com/callback",
	}
}

func TestExchangeCode(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"upstream-token","token_type":"bearer"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	token, err := c.ExchangeCode(context.Background(), testConfig(srv.URL, "", nil), "the-code", "the-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if token != "upstream-token" {
		t.Errorf("token = %q, want upstream-token", token)
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"redirect_uri":  "https://app.example.com/callback",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"code_verifier": "the-verifier",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
}

func TestExchangeCodeOmitsEmptyVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if _, ok := r.PostForm["code_verifier"]; ok {
			t.Error("code_verifier should be absent for non-PKCE flows")
		}
		w.Write([]byte(`{"access_token":"x"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	if _, err := c.ExchangeCode(context.Background(), testConfig(srv.URL, "", nil), "code", ""); err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
}

func TestExchangeCodeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	_, err := c.ExchangeCode(context.Background(), testConfig(srv.URL, "", nil), "code", "")
	if !ssoerrors.IsCode(err, ssoerrors.CodeExchangeFailed) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeExchangeFailed)
	}
}

func TestExchangeCodeMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"incorrect_client_credentials"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	_, err := c.ExchangeCode(context.Background(), testConfig(srv.URL, "", nil), "code", "")
	if !ssoerrors.IsCode(err, ssoerrors.CodeExchangeFailed) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeExchangeFailed)
	}
}

func TestFetchUserEmailFieldFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer upstream-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		// No "mail" field; the lookup should fall through to the next one.
		w.Write([]byte(`{"mail":null,"userPrincipalName":"user@example.com"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	email, err := c.FetchUserEmail(context.Background(), testConfig("", srv.URL, []string{"mail", "userPrincipalName"}), "upstream-token")
	if err != nil {
		t.Fatalf("FetchUserEmail failed: %v", err)
	}
	if email != "user@example.com" {
		t.Errorf("email = %q, want user@example.com", email)
	}
}

func TestFetchUserEmailMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"login":"octocat","email":null}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client())
	_, err := c.FetchUserEmail(context.Background(), testConfig("", srv.URL, []string{"email"}), "token")
	if !ssoerrors.IsCode(err, ssoerrors.CodeUserinfoFailed) {
		t.Errorf("error = %v, want %s", err, ssoerrors.CodeUserinfoFailed)
	}
}
