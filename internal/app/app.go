package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pairchat/pairchat-server/internal/auth"
	"github.com/pairchat/pairchat-server/internal/chat"
	"github.com/pairchat/pairchat-server/internal/config"
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/store"
	"github.com/pairchat/pairchat-server/internal/store/sqlite"
	transporthttp "github.com/pairchat/pairchat-server/internal/transport/http"
)

// App wires together store, services, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}

	authService := auth.NewService(st, jwtConfig)
	chatService := chat.NewService(st, cfg.StoreTimeout)

	registry := core.NewRegistry()
	hub := core.NewHub(registry, logger)
	server := transporthttp.NewServer(hub, registry, authService, chatService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the hub and the HTTP server and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
