package kiroku

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	grpcPort        int
	storeURI        string
	artifactRoot    string
	authToken       string
	logger          *slog.Logger
	version         string
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
	eventHooks      []EventHook
}

// WithPort overrides the HTTP port from config (KIROKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithGRPCPort overrides the gRPC port from config (KIROKU_GRPC_PORT env var).
// A value of 0 keeps the gRPC listener disabled.
func WithGRPCPort(port int) Option {
	return func(o *resolvedOptions) { o.grpcPort = port }
}

// WithStoreURI overrides the tracking store location from config
// (KIROKU_STORE_URI env var). A postgres:// or postgresql:// URI selects the
// relational backend; anything else is treated as a filesystem root.
func WithStoreURI(uri string) Option {
	return func(o *resolvedOptions) { o.storeURI = uri }
}

// WithArtifactRoot overrides the default artifact location base from config
// (KIROKU_ARTIFACT_ROOT env var).
func WithArtifactRoot(root string) Option {
	return func(o *resolvedOptions) { o.artifactRoot = root }
}

// WithAuthToken enables static bearer-token auth on the HTTP surface
// (KIROKU_AUTH_TOKEN env var). An empty token leaves auth disabled.
func WithAuthToken(token string) Option {
	return func(o *resolvedOptions) { o.authToken = token }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithEventHook registers a lifecycle event hook. Multiple hooks may be
// registered; each event is delivered to every hook.
func WithEventHook(h EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, h) }
}
