package oauth2

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/csrf"
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/token"
)

// Flow runs the two-phase delegation: Start builds the provider authorize
// URL and parks flow state as a single-use CSRF row; Callback consumes
// that state, exchanges the code upstream and mints a local session.
type Flow struct {
	chain    *auth.Chain
	csrf     *csrf.Manager
	client   Client
	tokens   *token.Service
	recorder *audit.Recorder
	logger   *slog.Logger

	creds    map[Provider]Credentials
	stateTTL time.Duration
}

// FlowOption configures the Flow.
type FlowOption func(*Flow)

// WithLogger sets the logger for the flow.
func WithLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithClient sets the outbound provider client.
func WithClient(client Client) FlowOption {
	return func(f *Flow) {
		f.client = client
	}
}

// NewFlow creates a new delegation Flow. stateTTL bounds how long a
// started flow may wait for its callback.
func NewFlow(chain *auth.Chain, csrfManager *csrf.Manager, tokens *token.Service, recorder *audit.Recorder, creds map[Provider]Credentials, stateTTL time.Duration, opts ...FlowOption) *Flow {
	f := &Flow{
		chain:    chain,
		csrf:     csrfManager,
		client:   NewHTTPClient(nil),
		tokens:   tokens,
		recorder: recorder,
		logger:   slog.Default(),
		creds:    creds,
		stateTTL: stateTTL,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Start authenticates the caller as a service and returns the provider
// authorize URL for that service's registered callback.
func (f *Flow) Start(ctx context.Context, meta audit.Meta, callerValue string, provider Provider) (string, error) {
	b := audit.New(meta, audit.TypeOauth2Start).Data("provider", string(provider))

	authorizeURL, err := f.start(ctx, b, callerValue, provider)
	return authorizeURL, f.recorder.Record(ctx, b, err)
}

func (f *Flow) start(ctx context.Context, b *audit.Builder, callerValue string, provider Provider) (string, error) {
	service, err := f.chain.AuthenticateService(ctx, callerValue, b)
	if err != nil {
		return "", err
	}

	cfg, err := f.providerConfig(service, provider)
	if err != nil {
		return "", err
	}

	state, err := csrfState()
	if err != nil {
		return "", err
	}

	// Non-PKCE flows park the state itself; PKCE flows park the verifier
	// so the callback can recover it for the exchange.
	stateValue := state
	challenge := ""
	if cfg.RequiresPKCE {
		verifier, err := GenerateVerifier()
		if err != nil {
			return "", ssoerrors.Internal("failed to generate pkce verifier", err)
		}
		stateValue = verifier
		challenge = Challenge(verifier)
	}

	if _, err := f.csrf.Create(ctx, state, stateValue, f.stateTTL, service.ID); err != nil {
		return "", err
	}

	f.logger.Info("oauth2 flow started", "provider", string(provider), "service_id", service.ID)

	return buildAuthorizeURL(cfg, state, challenge), nil
}

// Callback completes the flow: the state row is consumed before any
// upstream call, so a callback is processable exactly once and only after
// a matching Start.
func (f *Flow) Callback(ctx context.Context, meta audit.Meta, callerValue string, provider Provider, code, state string) (*domain.UserToken, error) {
	b := audit.New(meta, audit.TypeOauth2Callback).Data("provider", string(provider))

	pair, err := f.callback(ctx, b, callerValue, provider, code, state)
	return pair, f.recorder.Record(ctx, b, err)
}

func (f *Flow) callback(ctx context.Context, b *audit.Builder, callerValue string, provider Provider, code, state string) (*domain.UserToken, error) {
	service, err := f.chain.AuthenticateService(ctx, callerValue, b)
	if err != nil {
		return nil, err
	}

	cfg, err := f.providerConfig(service, provider)
	if err != nil {
		return nil, err
	}

	row, err := f.csrf.ReadAndConsume(ctx, state)
	if err != nil {
		return nil, err
	}

	verifier := ""
	if cfg.RequiresPKCE {
		verifier = row.Value
	}

	upstreamToken, err := f.client.ExchangeCode(ctx, cfg, code, verifier)
	if err != nil {
		return nil, err
	}

	email, err := f.client.FetchUserEmail(ctx, cfg, upstreamToken)
	if err != nil {
		return nil, err
	}
	b.Subject(email)

	// Defense in depth: the calling key is already service-scoped, but the
	// consumed row must still belong to that service.
	if row.ServiceID != service.ID {
		return nil, ssoerrors.New(ssoerrors.CodeCsrfServiceMismatch, "flow state belongs to another service")
	}

	pair, err := f.tokens.OAuth2Login(ctx, b, service, row.ServiceID, email)
	if err != nil {
		return nil, err
	}

	f.logger.Info("oauth2 delegation completed", "provider", string(provider), "service_id", service.ID, "user_id", pair.UserID)

	return pair, nil
}

// providerConfig assembles the flow configuration for one provider under
// one service. A provider without registered credentials or without a
// callback URL for the service is disabled, and fails before any network
// call.
func (f *Flow) providerConfig(service *domain.Service, provider Provider) (Config, error) {
	endpoints, ok := providerEndpoints[provider]
	if !ok {
		return Config{}, ssoerrors.BadRequest("unknown oauth2 provider")
	}

	creds := f.creds[provider]
	redirect := callbackURL(service, provider)
	if creds.ClientID == "" || redirect == "" {
		return Config{}, ssoerrors.New(ssoerrors.CodeProviderDisabled, "provider is not configured for this service")
	}

	return Config{
		Provider:    provider,
		Endpoints:   endpoints,
		Credentials: creds,
		RedirectURL: redirect,
	}, nil
}

func buildAuthorizeURL(cfg Config, state, challenge string) string {
	u, _ := url.Parse(cfg.AuthorizeURL)
	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", cfg.Scope)
	q.Set("state", state)
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// csrfState generates the random state parameter.
func csrfState() (string, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return "", ssoerrors.Internal("failed to generate state", err)
	}
	return verifier, nil
}
