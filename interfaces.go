package kiroku

import (
	"context"
	"net/http"
)

// EventHook receives async notifications when tracking lifecycle events
// occur. Multiple hooks may be registered via multiple WithEventHook
// calls. Hook methods run in goroutines — they must not block
// indefinitely. Failures are logged but do not fail the originating
// request.
type EventHook interface {
	OnRunCreated(ctx context.Context, run Run) error
	OnRunFinished(ctx context.Context, run Run) error
	OnModelVersionTransitioned(ctx context.Context, version ModelVersion) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Registered routes share the auth chain and OTEL instrumentation with the
// built-in tracking and registry routes. The function is called once during
// New() after all built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /health. Use for custom logging, license checks, or cross-cutting headers.
// Multiple middlewares are applied in registration order
// (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
