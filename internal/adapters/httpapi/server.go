// Package httpapi exposes the webhook endpoint and the PNL ledger over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/lclpedro/hyperhook/internal/adapters/logger"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const requestIDHeader = "X-Request-Id"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Addr        string
	CORSOrigins []string
	Ledger      LedgerAPI
	Signals     SignalAPI
	Snapshots   SnapshotAPI
	Configs     ConfigStore
	Checks      map[string]Pinger // Named dependencies reported by /health
	Metrics     *metrics.Metrics  // Optional; enables /metrics
	Logger      ports.Logger
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	logger    ports.Logger
	ledger    LedgerAPI
	signals   SignalAPI
	snapshots SnapshotAPI
	configs   ConfigStore
	checks    map[string]Pinger
	metrics   *metrics.Metrics
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    cfg.Logger,
		ledger:    cfg.Ledger,
		signals:   cfg.Signals,
		snapshots: cfg.Snapshots,
		configs:   cfg.Configs,
		checks:    cfg.Checks,
		metrics:   cfg.Metrics,
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.setupMiddleware(origins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}
	s.router.Use(middleware.Timeout(25 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/configs", s.handleCreateConfig)
		r.Get("/configs/{ownerID}", s.handleListConfigs)

		r.Route("/pnl/{ownerID}", func(r chi.Router) {
			r.Get("/summaries", s.handleListSummaries)
			r.Get("/summaries/{instrument}", s.handleGetSummary)
			r.Post("/recalculate", s.handleRecalculate)
			r.Get("/positions", s.handleListPositions)
			r.Get("/trades", s.handleListTrades)
			r.Get("/period", s.handlePeriod)
			r.Post("/refresh-prices", s.handleRefreshPrices)
			r.Post("/snapshots", s.handleTakeSnapshot)
			r.Get("/snapshots", s.handleListSnapshots)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestID propagates the caller's request id, or a fresh UUID, into the context and response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info(r.Context(), "HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// metricsMiddleware records request counts and latency by route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
