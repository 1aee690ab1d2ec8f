// Package config handles application configuration via environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the SSO engine.
type Config struct {
	// Server settings
	Host string `env:"SSO_HOST" env-default:"0.0.0.0"`
	Port int    `env:"SSO_PORT" env-default:"8080"`

	// Storage settings
	DataDir string `env:"SSO_DATA_DIR" env-default:"./data"`

	// Token settings
	AccessTokenTTL  time.Duration `env:"SSO_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `env:"SSO_REFRESH_TOKEN_TTL" env-default:"168h"` // 7 days
	// RefreshRotate enables refresh-token rotation: a successful refresh
	// rotates the user's token key, invalidating the prior pair. Off by
	// default: the old refresh token stays valid until its own expiry.
	RefreshRotate bool `env:"SSO_REFRESH_ROTATE" env-default:"false"`

	// CSRF settings. OAuth2 flow state uses the access-token window.
	CsrfTTL time.Duration `env:"SSO_CSRF_TTL" env-default:"15m"`

	// Provider credentials. A provider with no client id is disabled.
	GithubClientID        string `env:"SSO_GITHUB_CLIENT_ID"`
	GithubClientSecret    string `env:"SSO_GITHUB_CLIENT_SECRET"`
	MicrosoftClientID     string `env:"SSO_MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"SSO_MICROSOFT_CLIENT_SECRET"`

	// Rate limiting and lockout
	AuthRateLimit   int           `env:"SSO_AUTH_RATE_LIMIT" env-default:"10"` // requests per minute per IP
	LockoutAttempts int           `env:"SSO_LOCKOUT_ATTEMPTS" env-default:"5"`
	LockoutDuration time.Duration `env:"SSO_LOCKOUT_DURATION" env-default:"15m"`

	// Logging
	LogLevel  string `env:"SSO_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"SSO_LOG_FORMAT" env-default:"json"` // json or text
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the server address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
