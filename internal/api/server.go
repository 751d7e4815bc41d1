// ABOUTME: HTTP server assembly: route table, middleware chain, and lifecycle
// ABOUTME: Run blocks until the context is canceled, then drains with a graceful shutdown

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/driftware/walletgate/internal/auth"
	"github.com/driftware/walletgate/internal/challenge"
	"github.com/driftware/walletgate/internal/config"
	"github.com/driftware/walletgate/internal/identity"
	"github.com/driftware/walletgate/internal/metrics"
	"github.com/driftware/walletgate/internal/store"
	"github.com/driftware/walletgate/internal/tenant"
	"github.com/driftware/walletgate/internal/token"
)

// Server wires the challenge, identity, and tenant services behind the
// HTTP surface. The store is injected so the binary can pick the backend.
type Server struct {
	cfg        *config.Config
	store      store.Store
	challenges *challenge.Manager
	identity   *identity.Service
	tenant     *tenant.Service
	codec      *token.Codec
	limiter    *rateLimiter
	httpServer *http.Server
	logger     *slog.Logger
}

// New assembles the server from configuration and an opened store.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := token.NewCodec(cfg.Auth.Issuer, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	identitySvc, err := identity.NewService(st)
	if err != nil {
		return nil, fmt.Errorf("creating identity service: %w", err)
	}

	tenantSvc, err := tenant.NewService(st, codec)
	if err != nil {
		return nil, fmt.Errorf("creating tenant service: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		store:      st,
		challenges: challenge.NewManager(st, cfg.Auth.Audience, cfg.Auth.ChallengeTTL),
		identity:   identitySvc,
		tenant:     tenantSvc,
		codec:      codec,
		logger:     logger.With("component", "api"),
	}

	if cfg.Server.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.Server.RateLimit.PerSecond, cfg.Server.RateLimit.Burst)
		s.logger.Info("rate limiting enabled",
			"per_second", cfg.Server.RateLimit.PerSecond,
			"burst", cfg.Server.RateLimit.Burst,
		)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the full middleware-wrapped route table. Exposed so
// tests can drive the server without a listener.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.routes()
	h = requestLog(s.logger, h)
	h = maxBodyBytes(h, maxRequestBody)
	return metrics.Instrument(h)
}

// routes builds the route table. Authenticated endpoints sit behind the
// bearer-token middleware; /auth endpoints behind the rate limiter.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	authed := auth.Middleware(s.codec)
	tenantOnly := auth.RequireTenant()
	limited := func(h http.Handler) http.Handler { return h }
	if s.limiter != nil {
		limited = s.limiter.middleware
	}

	mux.Handle("GET /auth/families", limited(http.HandlerFunc(s.handleFamilies)))
	mux.Handle("POST /auth/{family}/challenge", limited(http.HandlerFunc(s.handleChallenge)))
	mux.Handle("POST /auth/{family}/verify", limited(http.HandlerFunc(s.handleVerify)))
	mux.Handle("POST /auth/{family}/link", limited(authed(http.HandlerFunc(s.handleLink))))
	mux.Handle("POST /auth/{family}/unlink", limited(authed(http.HandlerFunc(s.handleUnlink))))

	mux.Handle("POST /context/bootstrap", authed(http.HandlerFunc(s.handleBootstrap)))
	mux.Handle("POST /context/switch-organization", authed(http.HandlerFunc(s.handleSwitchOrganization)))
	mux.Handle("POST /context/switch-workspace", authed(http.HandlerFunc(s.handleSwitchWorkspace)))
	mux.Handle("GET /context/workspaces", authed(tenantOnly(http.HandlerFunc(s.handleListWorkspaces))))

	mux.Handle("GET /me", authed(http.HandlerFunc(s.handleMe)))
	mux.Handle("DELETE /me", authed(http.HandlerFunc(s.handleDeleteAccount)))
	mux.Handle("DELETE /organizations/{id}", authed(http.HandlerFunc(s.handleDeleteOrganization)))

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, metrics.Handler())
	}

	return mux
}

// Run starts the HTTP server and the challenge sweeper, blocking until
// the context is canceled or the server fails. Returns nil on graceful
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	stopSweeper := s.challenges.StartSweeper(s.cfg.Auth.SweepInterval)
	defer stopSweeper()

	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	metrics.SetReady(true)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	metrics.SetReady(false)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and the
// configured timeout. Uses context.Background() intentionally since the
// original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown drains in-flight requests and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.limiter != nil {
		s.limiter.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// internalError logs the cause and writes an opaque 500.
func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// session returns the authenticated session or writes a 401. The auth
// middleware guarantees one on these routes; the check guards against a
// miswired route table.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *auth.Session {
	session := auth.FromContext(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	return session
}
