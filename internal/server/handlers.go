package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/artifact"
	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	tracking            *tracking.Service
	registry            *registry.Service
	resolver            *artifact.Resolver
	presigner           *artifact.Presigner
	artifactRoot        string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Tracking            *tracking.Service
	Registry            *registry.Service
	Resolver            *artifact.Resolver
	Presigner           *artifact.Presigner
	ArtifactRoot        string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		tracking:            d.Tracking,
		registry:            d.Registry,
		resolver:            d.Resolver,
		presigner:           d.Presigner,
		artifactRoot:        strings.TrimRight(d.ArtifactRoot, "/"),
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health. Reports store reachability; a failing
// store turns the response into 503 so probes take the instance out of
// rotation.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if err := h.tracking.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
