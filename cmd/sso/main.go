// Package main is the entry point for the simple-sso credential and
// session engine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-sso/internal/audit"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/config"
	"github.com/tendant/simple-sso/internal/csrf"
	ssohttp "github.com/tendant/simple-sso/internal/http"
	"github.com/tendant/simple-sso/internal/oauth2"
	"github.com/tendant/simple-sso/internal/store/file"
	"github.com/tendant/simple-sso/internal/token"
)

func main() {
	// Load .env in development; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Initialize file store
	store, err := file.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Info("initialized file store", "data_dir", cfg.DataDir)

	// Wire the core
	recorder := audit.NewRecorder(store.Audits(), audit.WithLogger(logger))
	chain := auth.NewChain(store.Keys(), store.Services(), auth.WithLogger(logger))
	keys := auth.NewManager(store.Keys(), chain, recorder, auth.WithManagerLogger(logger))
	csrfManager := csrf.NewManager(store.Csrfs(), chain, recorder)
	lockout := auth.NewLockoutService(cfg.LockoutAttempts, cfg.LockoutDuration)

	tokens := token.NewService(store, chain, recorder, cfg.AccessTokenTTL, cfg.RefreshTokenTTL,
		token.WithLogger(logger),
		token.WithLockout(lockout),
		token.WithRefreshRotation(cfg.RefreshRotate),
	)

	creds := map[oauth2.Provider]oauth2.Credentials{
		oauth2.ProviderGithub:    {ClientID: cfg.GithubClientID, ClientSecret: cfg.GithubClientSecret},
		oauth2.ProviderMicrosoft: {ClientID: cfg.MicrosoftClientID, ClientSecret: cfg.MicrosoftClientSecret},
	}
	flow := oauth2.NewFlow(chain, csrfManager, tokens, recorder, creds, cfg.CsrfTTL,
		oauth2.WithLogger(logger))

	// Create HTTP server and mount routes
	server := ssohttp.NewServer(cfg.Addr(), ssohttp.WithLogger(logger))
	ssohttp.NewHandler(tokens, flow, keys, csrfManager, cfg.CsrfTTL).Routes(server.Router(), cfg.AuthRateLimit)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started", "addr", cfg.Addr())

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
