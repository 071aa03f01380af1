package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tombee/toolhub/internal/bridge"
	"github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/tracing"
)

// Config holds server configuration.
type Config struct {
	// Listen is the TCP address to bind, for example "127.0.0.1:8090".
	Listen string

	// Version is reported by the health endpoint.
	Version string

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string

	// CallRate is the sustained number of tool calls per second across the
	// process. Zero disables limiting.
	CallRate float64

	// CallBurst is the number of tool calls allowed in a burst.
	CallBurst int

	// ReadTimeout bounds reading a request. Write timeouts are not set so
	// the event stream can stay open.
	ReadTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:      "127.0.0.1:8090",
		Version:     "dev",
		CallRate:    20,
		CallBurst:   40,
		ReadTimeout: 30 * time.Second,
	}
}

// Server is the HTTP API server.
type Server struct {
	config  Config
	router  *chi.Mux
	httpSrv *http.Server
	orch    *mcp.Orchestrator
	bridge  *bridge.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	started time.Time
}

// New creates a server for orch and bridgeClient.
func New(cfg Config, orch *mcp.Orchestrator, bridgeClient *bridge.Client) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.CallRate > 0 {
		limit = rate.Limit(cfg.CallRate)
	}
	burst := cfg.CallBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		orch:    orch,
		bridge:  bridgeClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.WithComponent(logger, "api"),
		started: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", tracing.HeaderCorrelationID, tracing.HeaderRequestID},
		ExposedHeaders: []string{tracing.HeaderCorrelationID},
		MaxAge:         300,
	}))

	s.router.Use(tracing.CorrelationMiddleware)
	s.router.Use(tracing.Middleware)
	s.router.Use(log.HTTPMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", s.handleListServers)
			r.Post("/", s.handleAddServer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetServer)
				r.Delete("/", s.handleRemoveServer)
				r.Post("/toggle", s.handleToggleServer)
				r.Get("/logs", s.handleServerLogs)
			})
		})

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", s.handleListTools)
			r.Post("/call", s.handleCallTool)
		})

		r.Post("/bridge/file-operations", s.handleBridgeOperation)
	})
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
