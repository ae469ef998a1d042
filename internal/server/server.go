package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kiroku/internal/artifact"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
)

// Server is the Kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Tracking *tracking.Service
	Registry *registry.Service
	Resolver *artifact.Resolver
	Logger   *slog.Logger

	// Presigner enables tokenized artifact URLs when non-nil. Requests
	// carrying a valid token pass bearer auth for the signed path.
	Presigner *artifact.Presigner

	// ArtifactRoot is the URI the proxied artifact endpoints serve from.
	ArtifactRoot string

	// AuthToken enables static bearer-token auth when non-empty.
	AuthToken string

	// RateLimiter enforces per-client-IP request limits when non-nil.
	RateLimiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// ExtraRoutes lets an embedding application register additional
	// handlers before the middleware chain is assembled.
	ExtraRoutes func(mux *http.ServeMux)

	// Middlewares are applied outermost, before routing, in registration
	// order (first-registered wraps everything else).
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Tracking:            cfg.Tracking,
		Registry:            cfg.Registry,
		Resolver:            cfg.Resolver,
		Presigner:           cfg.Presigner,
		ArtifactRoot:        cfg.ArtifactRoot,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Experiments.
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/create", h.HandleCreateExperiment)
	mux.HandleFunc("GET /api/2.0/mlflow/experiments/get", h.HandleGetExperiment)
	mux.HandleFunc("GET /api/2.0/mlflow/experiments/get-by-name", h.HandleGetExperimentByName)
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/update", h.HandleUpdateExperiment)
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/delete", h.HandleDeleteExperiment)
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/restore", h.HandleRestoreExperiment)
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/set-experiment-tag", h.HandleSetExperimentTag)
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/search", h.HandleSearchExperiments)

	// Runs.
	mux.HandleFunc("POST /api/2.0/mlflow/runs/create", h.HandleCreateRun)
	mux.HandleFunc("GET /api/2.0/mlflow/runs/get", h.HandleGetRun)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/update", h.HandleUpdateRun)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/delete", h.HandleDeleteRun)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/restore", h.HandleRestoreRun)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-metric", h.HandleLogMetric)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-parameter", h.HandleLogParam)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/set-tag", h.HandleSetTag)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/delete-tag", h.HandleDeleteTag)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-batch", h.HandleLogBatch)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-inputs", h.HandleLogInputs)
	mux.HandleFunc("POST /api/2.0/mlflow/runs/search", h.HandleSearchRuns)
	mux.HandleFunc("GET /api/2.0/mlflow/metrics/get-history", h.HandleGetMetricHistory)

	// Registered models and versions.
	mux.HandleFunc("POST /api/2.0/mlflow/registered-models/create", h.HandleCreateRegisteredModel)
	mux.HandleFunc("GET /api/2.0/mlflow/registered-models/get", h.HandleGetRegisteredModel)
	mux.HandleFunc("POST /api/2.0/mlflow/registered-models/rename", h.HandleRenameRegisteredModel)
	mux.HandleFunc("PATCH /api/2.0/mlflow/registered-models/update", h.HandleUpdateRegisteredModel)
	mux.HandleFunc("DELETE /api/2.0/mlflow/registered-models/delete", h.HandleDeleteRegisteredModel)
	mux.HandleFunc("POST /api/2.0/mlflow/registered-models/search", h.HandleSearchRegisteredModels)
	mux.HandleFunc("POST /api/2.0/mlflow/registered-models/get-latest-versions", h.HandleGetLatestVersions)
	mux.HandleFunc("POST /api/2.0/mlflow/registered-models/set-tag", h.HandleSetRegisteredModelTag)
	mux.HandleFunc("DELETE /api/2.0/mlflow/registered-models/delete-tag", h.HandleDeleteRegisteredModelTag)
	mux.HandleFunc("POST /api/2.0/mlflow/model-versions/create", h.HandleCreateModelVersion)
	mux.HandleFunc("GET /api/2.0/mlflow/model-versions/get", h.HandleGetModelVersion)
	mux.HandleFunc("PATCH /api/2.0/mlflow/model-versions/update", h.HandleUpdateModelVersion)
	mux.HandleFunc("DELETE /api/2.0/mlflow/model-versions/delete", h.HandleDeleteModelVersion)
	mux.HandleFunc("POST /api/2.0/mlflow/model-versions/transition-stage", h.HandleTransitionModelVersionStage)
	mux.HandleFunc("GET /api/2.0/mlflow/model-versions/search", h.HandleSearchModelVersions)
	mux.HandleFunc("POST /api/2.0/mlflow/model-versions/set-tag", h.HandleSetModelVersionTag)
	mux.HandleFunc("DELETE /api/2.0/mlflow/model-versions/delete-tag", h.HandleDeleteModelVersionTag)
	mux.HandleFunc("GET /api/2.0/mlflow/model-versions/get-download-uri", h.HandleGetDownloadURI)

	// Artifacts: run-scoped listing plus the proxied store. The exact
	// listing route wins over the {path...} wildcard by specificity.
	mux.HandleFunc("GET /api/2.0/mlflow/artifacts/list", h.HandleListRunArtifacts)
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/artifacts", h.HandleListArtifacts)
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/artifacts/{path...}", h.HandleDownloadArtifact)
	mux.HandleFunc("PUT /api/2.0/mlflow-artifacts/artifacts/{path...}", h.HandleUploadArtifact)
	mux.HandleFunc("DELETE /api/2.0/mlflow-artifacts/artifacts/{path...}", h.HandleDeleteArtifact)
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/presigned-url", h.HandleCreatePresignedURL)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → rate limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.AuthToken, cfg.Presigner, handler)
	if cfg.RateLimiter != nil {
		handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc)(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
