package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ssoerrors "github.com/tendant/simple-sso/internal/errors"
)

// maxResponseBytes bounds provider response bodies.
const maxResponseBytes = 1 << 20

// Client is the outbound port toward provider token and userinfo
// endpoints. It is the only place the core performs network I/O.
type Client interface {
	// ExchangeCode trades an authorization code for an upstream access
	// token, supplying the PKCE verifier when the provider requires one.
	ExchangeCode(ctx context.Context, cfg Config, code, verifier string) (string, error)
	// FetchUserEmail resolves the authenticated user's email address via
	// the provider's userinfo endpoint.
	FetchUserEmail(ctx context.Context, cfg Config, accessToken string) (string, error)
}

// HTTPClient is the default Client over a plain http.Client.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient constructs the default provider client.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{httpClient: client}
}

// ExchangeCode performs the token exchange.
func (c *HTTPClient) ExchangeCode(ctx context.Context, cfg Config, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURL)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", ssoerrors.Wrap(err, ssoerrors.CodeExchangeFailed, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", ssoerrors.Wrap(err, ssoerrors.CodeExchangeFailed, "token exchange failed")
	}

	accessToken, _ := raw["access_token"].(string)
	if accessToken == "" {
		return "", ssoerrors.New(ssoerrors.CodeExchangeFailed, "token response missing access_token")
	}

	return accessToken, nil
}

// FetchUserEmail calls the userinfo endpoint with the upstream token.
func (c *HTTPClient) FetchUserEmail(ctx context.Context, cfg Config, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserinfoURL, nil)
	if err != nil {
		return "", ssoerrors.Wrap(err, ssoerrors.CodeUserinfoFailed, "failed to build userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", ssoerrors.Wrap(err, ssoerrors.CodeUserinfoFailed, "userinfo lookup failed")
	}

	for _, field := range cfg.EmailFields {
		if email, _ := raw[field].(string); email != "" {
			return email, nil
		}
	}

	return "", ssoerrors.New(ssoerrors.CodeUserinfoFailed, "userinfo response missing email")
}

func (c *HTTPClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return raw, nil
}
