// Package server provides the HTTP server for the status/control API and webhook ingress.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Josh-XT/AGiXT-sub003/internal/apierrors"
	"github.com/Josh-XT/AGiXT-sub003/internal/config"
	"github.com/Josh-XT/AGiXT-sub003/internal/handler"
	"github.com/Josh-XT/AGiXT-sub003/internal/health"
	"github.com/Josh-XT/AGiXT-sub003/internal/metrics"
	"github.com/Josh-XT/AGiXT-sub003/internal/middleware"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthChecker
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	sup *supervisor.Supervisor,
	healthCheck *health.HealthChecker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handler.NewHandlers(sup, errorHandler, logger),
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS([]string{"*"}),
	}
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}
	if s.cfg.Server.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})
	s.router.Use(metrics.Middleware(s.metrics))

	s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Webhook ingress authenticates per platform, not with the admin token
	v1.HandleFunc("/webhooks/{platform}", s.handlers.Webhook).Methods(http.MethodPost)

	control := v1.PathPrefix("/platforms").Subrouter()
	control.Use(middleware.AdminAuth(s.cfg.Server.AdminToken, s.logger))
	control.HandleFunc("", s.handlers.ListPlatforms).Methods(http.MethodGet)
	control.HandleFunc("/{platform}/workers", s.handlers.ListWorkers).Methods(http.MethodGet)
	control.HandleFunc("/{platform}/workers/{tenant_id}", s.handlers.GetWorker).Methods(http.MethodGet)
	control.HandleFunc("/{platform}/workers/{tenant_id}/start", s.handlers.StartWorker).Methods(http.MethodPost)
	control.HandleFunc("/{platform}/workers/{tenant_id}/stop", s.handlers.StopWorker).Methods(http.MethodPost)
	control.HandleFunc("/{platform}/reconcile", s.handlers.Reconcile).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeNotFound, "endpoint not found", r.Header.Get("X-Request-ID"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
