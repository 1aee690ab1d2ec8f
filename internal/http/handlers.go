package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/csrf"
	"github.com/tendant/simple-sso/internal/domain"
	"github.com/tendant/simple-sso/internal/metrics"
	"github.com/tendant/simple-sso/internal/oauth2"
	"github.com/tendant/simple-sso/internal/token"
)

// Handler exposes the SSO engine's routes.
type Handler struct {
	tokens  *token.Service
	flow    *oauth2.Flow
	keys    *auth.Manager
	csrfs   *csrf.Manager
	csrfTTL time.Duration
}

// NewHandler creates a new Handler. csrfTTL bounds the lifetime of tokens
// issued through the raw CSRF endpoint.
func NewHandler(tokens *token.Service, flow *oauth2.Flow, keys *auth.Manager, csrfs *csrf.Manager, csrfTTL time.Duration) *Handler {
	return &Handler{
		tokens:  tokens,
		flow:    flow,
		keys:    keys,
		csrfs:   csrfs,
		csrfTTL: csrfTTL,
	}
}

// Routes mounts the handler's routes. rateLimit bounds requests per minute
// per client IP on the authentication endpoints.
func (h *Handler) Routes(r chi.Router, rateLimit int) {
	r.Group(func(r chi.Router) {
		if rateLimit > 0 {
			r.Use(httprate.Limit(rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					metrics.RecordRateLimitExceeded(r.URL.Path)
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
				}),
			))
		}

		r.Post("/login", h.Login)
		r.Get("/oauth2/{provider}", h.Oauth2Start)
		r.Get("/oauth2/{provider}/callback", h.Oauth2Callback)
		r.Post("/token/verify", h.TokenVerify)
		r.Post("/token/refresh", h.TokenRefresh)
		r.Post("/token/revoke", h.TokenRevoke)
		r.Post("/key/verify", h.KeyVerify)
		r.Post("/key/create", h.KeyCreate)
		r.Post("/key/update", h.KeyUpdate)
		r.Post("/key/revoke", h.KeyRevoke)
		r.Post("/csrf/generate", h.CsrfGenerate)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles password login under a service caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pair, err := h.tokens.PasswordLogin(r.Context(), requestMeta(r), callerKey(r), req.Email, req.Password)
	metrics.RecordAuthAttempt("login", err == nil)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordTokensIssued("login")

	writeJSON(w, http.StatusOK, pair)
}

// Oauth2Start returns the provider authorize URL for the calling service.
func (h *Handler) Oauth2Start(w http.ResponseWriter, r *http.Request) {
	provider, err := oauth2.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}

	url, err := h.flow.Start(r.Context(), requestMeta(r), callerKey(r), provider)
	metrics.RecordOauth2Flow(string(provider), "start", err == nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Oauth2Callback completes a delegation flow and returns a session pair.
func (h *Handler) Oauth2Callback(w http.ResponseWriter, r *http.Request) {
	provider, err := oauth2.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	pair, err := h.flow.Callback(r.Context(), requestMeta(r), callerKey(r), provider, code, state)
	metrics.RecordOauth2Flow(string(provider), "callback", err == nil)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordTokensIssued("oauth2")

	writeJSON(w, http.StatusOK, pair)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	User               *domain.User `json:"user"`
	AccessToken        string       `json:"access_token"`
	AccessTokenExpires int64        `json:"access_token_expires"`
}

// TokenVerify validates an access token.
func (h *Handler) TokenVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, claims, err := h.tokens.Verify(r.Context(), requestMeta(r), callerKey(r), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		User:               publicUser(user),
		AccessToken:        req.Token,
		AccessTokenExpires: claims.ExpiresAt.Unix(),
	})
}

type refreshResponse struct {
	User                *domain.User `json:"user"`
	AccessToken         string       `json:"access_token"`
	AccessTokenExpires  int64        `json:"access_token_expires"`
	RefreshToken        string       `json:"refresh_token"`
	RefreshTokenExpires int64        `json:"refresh_token_expires"`
}

// TokenRefresh mints a fresh session pair from a refresh token.
func (h *Handler) TokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, pair, err := h.tokens.Refresh(r.Context(), requestMeta(r), callerKey(r), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordTokensIssued("refresh")

	writeJSON(w, http.StatusOK, refreshResponse{
		User:                publicUser(user),
		AccessToken:         pair.AccessToken,
		AccessTokenExpires:  pair.AccessTokenExpires,
		RefreshToken:        pair.RefreshToken,
		RefreshTokenExpires: pair.RefreshTokenExpires,
	})
}

// TokenRevoke revokes the whole session family behind a token.
func (h *Handler) TokenRevoke(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.tokens.Revoke(r.Context(), requestMeta(r), callerKey(r), req.Token); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordTokenRevocation()

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type keyRequest struct {
	Key string `json:"key"`
}

// KeyVerify authenticates a presented key value.
func (h *Handler) KeyVerify(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	service, err := h.keys.VerifyKey(r.Context(), requestMeta(r), req.Key)
	metrics.RecordAuthAttempt("key", err == nil)
	if err != nil {
		writeError(w, err)
		return
	}

	if service == nil {
		writeJSON(w, http.StatusOK, map[string]any{"root": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": service})
}

type keyCreateRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	ServiceID string `json:"service_id"`
	UserID    string `json:"user_id"`
}

// KeyCreate mints a new key under the caller's scope. The response is the
// only place the secret value ever appears.
func (h *Handler) KeyCreate(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.CreateKey(r.Context(), requestMeta(r), callerKey(r), auth.CreateKeyInput{
		Type:      domain.KeyType(req.Type),
		Name:      req.Name,
		ServiceID: req.ServiceID,
		UserID:    req.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, key)
}

type keyUpdateRequest struct {
	KeyID   string `json:"key_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// KeyUpdate renames or flips the enabled bit of a key.
func (h *Handler) KeyUpdate(w http.ResponseWriter, r *http.Request) {
	var req keyUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.UpdateKey(r.Context(), requestMeta(r), callerKey(r), req.KeyID, req.Name, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}

	view := *key
	view.Value = ""
	writeJSON(w, http.StatusOK, view)
}

// CsrfGenerate issues a single-use CSRF token scoped to the calling
// service.
func (h *Handler) CsrfGenerate(w http.ResponseWriter, r *http.Request) {
	row, err := h.csrfs.Issue(r.Context(), requestMeta(r), callerKey(r), h.csrfTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"csrf":       row.Key,
		"expires_at": row.ExpiresAt.Unix(),
	})
}

// KeyRevoke terminally revokes the key presented in the body.
func (h *Handler) KeyRevoke(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.RevokeKey(r.Context(), requestMeta(r), callerKey(r), req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordKeyRevocation()

	writeJSON(w, http.StatusOK, map[string]string{"key_id": key.ID, "status": "revoked"})
}

// publicUser strips credential material from a user before it leaves the
// boundary.
func publicUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	view := *user
	view.PasswordHash = ""
	return &view
}
