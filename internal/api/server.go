// Package api provides the HTTP REST API for portscout. It exposes scans,
// profiles, health, Prometheus metrics and a WebSocket progress feed.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/portscout/internal/api/handlers"
	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/scanning"
)

const defaultShutdownTimeout = 15 * time.Second

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	database   *db.DB
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	hub        *handlers.ProgressHub
	newScanner handlers.ScannerFactory
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the server and its scans record into.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithScannerFactory replaces the coordinator used for API scans.
func WithScannerFactory(f handlers.ScannerFactory) Option {
	return func(s *Server) {
		s.newScanner = f
	}
}

// New creates a new API server. database may be nil, in which case the scan
// history and profile endpoints answer 503.
func New(cfg *config.Config, database *db.DB, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	s := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		database: database,
		logger:   logging.Default(),
		metrics:  metrics.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	if s.newScanner == nil {
		s.newScanner = s.coordinatorFactory
	}
	s.hub = handlers.NewProgressHub(s.logger)

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:           s.Handler(),
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
	}

	return s, nil
}

// coordinatorFactory builds a real coordinator for each API scan.
func (s *Server) coordinatorFactory(progress scanning.ProgressFunc) handlers.Scanner {
	opts := s.config.CoordinatorOptions()
	opts.Progress = progress
	opts.Logger = s.logger
	opts.Metrics = s.metrics
	return scanning.NewCoordinator(opts)
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	var (
		scanStore handlers.ScanStore
		manager   *profiles.Manager
		pinger    handlers.DatabasePinger
	)
	if s.database != nil {
		scanStore = db.NewScanRepository(s.database)
		manager = profiles.NewManager(db.NewProfileRepository(s.database))
		pinger = s.database
	}
	defaults := s.config.ScanDefaults()

	scanHandler := handlers.NewScanHandler(s.newScanner, scanStore, manager, s.hub, defaults, s.logger)
	profileHandler := handlers.NewProfileHandler(manager, defaults, s.logger)
	healthHandler := handlers.NewHealthHandler(pinger, s.hub, s.logger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	handleMethods(api, "/health", map[string]http.HandlerFunc{
		http.MethodGet: healthHandler.Health,
	})
	handleMethods(api, "/scans", map[string]http.HandlerFunc{
		http.MethodGet:  scanHandler.ListScans,
		http.MethodPost: scanHandler.CreateScan,
	})
	handleMethods(api, "/scans/{id}", map[string]http.HandlerFunc{
		http.MethodGet: scanHandler.GetScan,
	})
	handleMethods(api, "/profiles", map[string]http.HandlerFunc{
		http.MethodGet:  profileHandler.ListProfiles,
		http.MethodPost: profileHandler.CreateProfile,
	})
	handleMethods(api, "/profiles/{name}", map[string]http.HandlerFunc{
		http.MethodGet:    profileHandler.GetProfile,
		http.MethodDelete: profileHandler.DeleteProfile,
	})

	api.HandleFunc("/ws/progress", s.hub.ServeWS).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
}

// handleMethods registers one route per method on path, followed by a
// path-only route answering every other method with 405. The fallback keeps
// mux from reporting 404 once later routes fail to match the path.
func handleMethods(r *mux.Router, path string, routes map[string]http.HandlerFunc) {
	allowed := make([]string, 0, len(routes))
	for method, h := range routes {
		r.HandleFunc(path, h).Methods(method)
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	r.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", allow)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
}

// setupMiddleware configures router middleware. Recovery must stay first.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
	if s.config.API.MaxRequestSize > 0 {
		s.router.Use(middleware.MaxBodySize(s.config.API.MaxRequestSize))
	}
}

// Handler returns the router, wrapped in CORS when enabled. Preflight
// requests are answered before routing.
func (s *Server) Handler() http.Handler {
	cors := s.config.API.CORS
	if !cors.Enabled {
		return s.router
	}
	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(cors.AllowedOrigins),
		gorillahandlers.AllowedMethods(cors.AllowedMethods),
		gorillahandlers.AllowedHeaders(cors.AllowedHeaders),
	)(s.router)
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.hub.Close()
		return err
	}
}

// Stop gracefully stops the API server and disconnects progress subscribers.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	s.hub.Close()

	timeout := s.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// Hub returns the progress hub.
func (s *Server) Hub() *handlers.ProgressHub {
	return s.hub
}
