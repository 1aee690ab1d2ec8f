// Package oauth2 implements the provider-agnostic delegation flow: this
// system is a client of upstream identity providers, never a server toward
// third parties.
package oauth2

import (
	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
)

// Provider tags a supported upstream provider.
type Provider string

const (
	// ProviderGithub uses the plain authorization-code flow.
	ProviderGithub Provider = "github"
	// ProviderMicrosoft uses authorization-code with PKCE S256.
	ProviderMicrosoft Provider = "microsoft"
)

// Endpoints carries the per-provider protocol constants.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
	Scope        string
	// EmailFields are tried in order against the userinfo response.
	EmailFields  []string
	RequiresPKCE bool
}

var providerEndpoints = map[Provider]Endpoints{
	ProviderGithub: {
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		UserinfoURL:  "https://api.github.com/user",
		Scope:        "user:email",
		EmailFields:  []string{"email"},
		RequiresPKCE: false,
	},
	ProviderMicrosoft: {
		AuthorizeURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		UserinfoURL:  "https://graph.microsoft.com/v1.0/me",
		Scope:        "openid email profile User.Read",
		EmailFields:  []string{"mail", "userPrincipalName"},
		RequiresPKCE: true,
	},
}

// ParseProvider maps a provider name to its tag.
func ParseProvider(name string) (Provider, error) {
	p := Provider(name)
	if _, ok := providerEndpoints[p]; !ok {
		return "", ssoerrors.BadRequest("unknown oauth2 provider")
	}
	return p, nil
}

// Credentials are the client credentials registered with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Config is everything one flow needs for one provider under one service.
type Config struct {
	Provider Provider
	Endpoints
	Credentials
	RedirectURL string
}

// callbackURL returns the service's registered callback for a provider,
// empty when the provider is disabled for that service.
func callbackURL(service *domain.Service, p Provider) string {
	switch p {
	case ProviderGithub:
		return service.GithubCallbackURL
	case ProviderMicrosoft:
		return service.MicrosoftCallbackURL
	}
	return ""
}
