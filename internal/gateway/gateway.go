// ABOUTME: Gateway orchestrator that coordinates the session machine and HTTP server
// ABOUTME: Manages hub, rate gate, stats, and graceful shutdown lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whatsgate/whatsgate/internal/auth"
	"github.com/whatsgate/whatsgate/internal/config"
	"github.com/whatsgate/whatsgate/internal/hub"
	"github.com/whatsgate/whatsgate/internal/ratelimit"
	"github.com/whatsgate/whatsgate/internal/session"
	"github.com/whatsgate/whatsgate/internal/stats"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// Gateway owns every long-lived component and the HTTP server that fronts
// them. Construct with New, run with Run.
type Gateway struct {
	config     *config.Config
	machine    *session.Machine
	hub        *hub.Hub
	gate       *ratelimit.Gate
	stats      *stats.Collector
	httpServer *http.Server
	logger     *slog.Logger
}

// buildAuthMiddleware creates the bearer middleware from config. With no
// jwt_secret and no api_key_hash configured, auth is disabled and requests
// pass through keyed by remote host.
func buildAuthMiddleware(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	var jwtVerifier auth.TokenVerifier
	var keyVerifier *auth.APIKeyVerifier
	if cfg.Auth.JWTSecret != "" {
		jwtVerifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.APIKeyHash != "" {
		keyVerifier = auth.NewAPIKeyVerifier(cfg.Auth.APIKeyHash)
	}
	if jwtVerifier == nil && keyVerifier == nil {
		logger.Warn("auth disabled - no jwt_secret or api_key_hash configured")
	} else {
		logger.Info("bearer auth enabled")
	}
	return auth.Middleware(jwtVerifier, keyVerifier)
}

// New creates a gateway from the configuration and a client factory. The
// factory is typically wa.FakeFactory in development and tests; a real
// binding supplies its own.
func New(cfg *config.Config, factory wa.Factory, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	collector := stats.New()

	// The hub's snapshot closure and the machine's event sink reference each
	// other; the closure is never invoked before New returns, so the late
	// assignment below is safe.
	var machine *session.Machine
	eventHub := hub.New(
		cfg.Events.HeartbeatInterval,
		cfg.Events.SubscriberBuffer,
		func() (hub.Event, bool) { return machine.SnapshotEvent() },
		logger.With("component", "hub"),
	)
	machine = session.New(
		factory,
		eventHub,
		collector,
		cfg.Client.RestartDelay,
		logger.With("component", "session"),
	)

	gate := ratelimit.New(
		ratelimit.Limit{Requests: cfg.RateLimit.Standard.MaxRequests, Window: cfg.RateLimit.Standard.Window},
		ratelimit.Limit{Requests: cfg.RateLimit.Strict.MaxRequests, Window: cfg.RateLimit.Strict.Window},
	)

	g := &Gateway{
		config:  cfg,
		machine: machine,
		hub:     eventHub,
		gate:    gate,
		stats:   collector,
		logger:  logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux, buildAuthMiddleware(cfg, logger))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerRoutes attaches all handlers to the mux. Health stays outside the
// auth and rate-limit chain.
func (g *Gateway) registerRoutes(mux *http.ServeMux, authMW func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", g.handleHealth)

	api := func(tier ratelimit.Tier, h http.HandlerFunc) http.Handler {
		return authMW(g.limited(tier, h))
	}
	gated := func(tier ratelimit.Tier, h clientHandler) http.Handler {
		return authMW(g.limited(tier, g.requireReady(h)))
	}

	mux.Handle("GET /api/status", api(ratelimit.TierStandard, g.handleStatus))
	mux.Handle("GET /api/qr", api(ratelimit.TierStandard, g.handleQR))
	mux.Handle("GET /api/stats", api(ratelimit.TierStandard, g.handleStats))

	mux.Handle("POST /api/session/start", api(ratelimit.TierStrict, g.handleSessionStart))
	mux.Handle("POST /api/session/restart", api(ratelimit.TierStrict, g.handleSessionRestart))
	mux.Handle("POST /api/session/logout", api(ratelimit.TierStrict, g.handleSessionLogout))

	mux.Handle("POST /api/messages", gated(ratelimit.TierStrict, g.handleSendMessage))
	mux.Handle("POST /api/messages/media", gated(ratelimit.TierStrict, g.handleSendMedia))

	mux.Handle("GET /api/chats", gated(ratelimit.TierStandard, g.handleListChats))
	mux.Handle("GET /api/chats/{id}/messages", gated(ratelimit.TierStandard, g.handleChatMessages))
	mux.Handle("POST /api/chats/{id}/typing", gated(ratelimit.TierStandard, g.handleTyping))
	mux.Handle("POST /api/chats/{id}/read", gated(ratelimit.TierStandard, g.handleMarkRead))
	mux.Handle("GET /api/contacts", gated(ratelimit.TierStandard, g.handleListContacts))

	mux.Handle("POST /api/groups", gated(ratelimit.TierStrict, g.handleCreateGroup))
	mux.Handle("POST /api/groups/{id}/participants", gated(ratelimit.TierStrict, g.handleAddParticipants))
	mux.Handle("DELETE /api/groups/{id}/participants", gated(ratelimit.TierStrict, g.handleRemoveParticipants))

	mux.Handle("GET /api/events", api(ratelimit.TierStandard, g.handleEvents))
	mux.Handle("GET /api/ws", api(ratelimit.TierStandard, g.handleWS))
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Client.AutoStart {
		g.logger.Info("auto-starting session")
		g.machine.RequestStart()
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("shutting down gateway")
		return g.shutdown()
	})

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// shutdown stops the HTTP server with a fresh deadline, then tears down the
// session machine and background components. Uses context.Background()
// intentionally since the run context is already canceled.
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := g.httpServer.Shutdown(ctx)

	g.machine.Close()
	g.hub.Close()
	g.gate.Close()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
