// ABOUTME: Composition root: wires store, services, and HTTP servers
// ABOUTME: Run blocks until the context is cancelled, then shuts down gracefully

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/config"
	"github.com/agentchess/chess-gateway/internal/game"
	"github.com/agentchess/chess-gateway/internal/mcp"
	"github.com/agentchess/chess-gateway/internal/oauth"
	"github.com/agentchess/chess-gateway/internal/store"
	"github.com/agentchess/chess-gateway/internal/tools"
	"github.com/agentchess/chess-gateway/internal/web"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Gateway owns the assembled application.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	server *http.Server
}

// New builds the gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	signer := auth.NewSessionSigner([]byte(cfg.Session.JWTSecret))
	resolver := auth.NewResolver(st, signer, cfg.Session.CookieName)

	games := game.NewService(st)

	registry := tools.NewRegistry()
	tools.RegisterChessTools(registry, games)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:  registry,
		Resolver:  resolver,
		Pinger:    st,
		Logger:    logger.With("component", "mcp"),
		PublicURL: cfg.OAuth.PublicURL,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating mcp server: %w", err)
	}

	oauthServer := oauth.NewServer(st, resolver, cfg.OAuth)
	webHandler := web.NewHandler(games)

	mux := http.NewServeMux()
	mcpServer.RegisterRoutes(mux)
	oauthServer.RegisterRoutes(mux)
	webHandler.RegisterRoutes(mux)

	return &Gateway{
		cfg:    cfg,
		logger: logger,
		store:  st,
		server: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.cfg.Server.HTTPAddr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = g.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.server.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("store close failed", "error", err)
	}
	return nil
}
