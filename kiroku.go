// Package kiroku is the public API for embedding the Kiroku experiment
// tracking server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	    kiroku.WithStoreURI("./data"),
//	    kiroku.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kiroku (root) imports
// internal/*, but internal/* never imports kiroku (root).
package kiroku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/internal/artifact"
	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/grpcserver"
	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
	"github.com/ashita-ai/kiroku/internal/store"
	"github.com/ashita-ai/kiroku/internal/store/filestore"
	"github.com/ashita-ai/kiroku/internal/store/postgres"
	"github.com/ashita-ai/kiroku/internal/telemetry"
	"github.com/ashita-ai/kiroku/migrations"
)

// App is a fully wired Kiroku server. Construct with New, start with Run.
type App struct {
	cfg          config.Config
	store        store.Store
	tracking     *tracking.Service
	registry     *registry.Service
	srv          *server.Server
	grpcSrv      *grpcserver.Server // nil when the gRPC listener is disabled
	limiter      ratelimit.Limiter  // nil when rate limiting is disabled
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kiroku server. It opens the tracking store, runs
// migrations when the store is relational, wires all subsystems, and returns
// a ready-to-run App. It does NOT start any goroutines or accept connections
// — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.grpcPort != 0 {
		cfg.GRPCPort = o.grpcPort
	}
	if o.storeURI != "" {
		cfg.StoreURI = o.storeURI
		if o.artifactRoot == "" {
			// Re-derive the artifact default for the overridden store.
			cfg.ArtifactRoot = ""
		}
	}
	if o.artifactRoot != "" {
		cfg.ArtifactRoot = o.artifactRoot
	}
	if cfg.ArtifactRoot == "" {
		if cfg.UsesPostgres() {
			cfg.ArtifactRoot = "./kiroku-artifacts"
		} else {
			cfg.ArtifactRoot = cfg.StoreURI + "/artifacts"
		}
	}
	if o.authToken != "" {
		cfg.AuthToken = o.authToken
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kiroku starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx(opts), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the tracking store. The URI scheme selects the backend.
	var st store.Store
	if cfg.UsesPostgres() {
		pg, err := postgres.New(context.Background(), cfg.StoreURI, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("store: %w", err)
		}
		if err := pg.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = pg.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		st = pg
		logger.Info("store: postgres")
	} else {
		fs, err := filestore.New(cfg.StoreURI)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("store: %w", err)
		}
		st = fs
		logger.Info("store: filesystem", "root", cfg.StoreURI)
	}

	// Wire services.
	clock := &ident.Clock{}
	trackSvc := tracking.New(st, clock, cfg.ArtifactRoot, logger)
	regSvc := registry.New(st, clock, logger)
	trackSvc.SetMaxResultsCap(cfg.MaxResultsCap)
	regSvc.SetMaxResultsCap(cfg.MaxResultsCap)
	for _, h := range o.eventHooks {
		trackSvc.AddHook(trackingHookAdapter{hook: h})
		regSvc.AddHook(registryHookAdapter{hook: h})
	}
	resolver := artifact.NewResolver(trackSvc, regSvc)

	// The default experiment must exist before the first CreateRun.
	if err := trackSvc.EnsureDefaultExperiment(context.Background()); err != nil {
		_ = st.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("default experiment: %w", err)
	}

	// Collapse registered route registrars and middlewares into the forms
	// internal/server accepts.
	var extraRoutes func(mux *http.ServeMux)
	if len(o.routeRegistrars) > 0 {
		registrars := o.routeRegistrars
		extraRoutes = func(mux *http.ServeMux) {
			for _, fn := range registrars {
				fn(mux)
			}
		}
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	var presigner *artifact.Presigner
	if cfg.PresignSecret != "" {
		presigner = artifact.NewPresigner([]byte(cfg.PresignSecret), cfg.PresignTTL)
	}

	srv := server.New(server.Config{
		Tracking:            trackSvc,
		Registry:            regSvc,
		Resolver:            resolver,
		Presigner:           presigner,
		Logger:              logger,
		ArtifactRoot:        cfg.ArtifactRoot,
		AuthToken:           cfg.AuthToken,
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	var grpcSrv *grpcserver.Server
	if cfg.GRPCPort > 0 {
		grpcSrv = grpcserver.New(grpcserver.Config{
			Tracking: trackSvc,
			Registry: regSvc,
			Logger:   logger,
			Port:     cfg.GRPCPort,
		})
	}

	return &App{
		cfg:          cfg,
		store:        st,
		tracking:     trackSvc,
		registry:     regSvc,
		srv:          srv,
		grpcSrv:      grpcSrv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the fully assembled HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server (and the gRPC server when configured) and blocks
// until ctx is cancelled or a server fails. On cancellation it performs a
// graceful shutdown before returning.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if a.grpcSrv != nil {
		go func() {
			if err := a.grpcSrv.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	// Block until signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the servers, flushes telemetry, and closes the
// store. Safe to call once after Run returns an error, or directly when Run
// was never started.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kiroku shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if a.grpcSrv != nil {
		a.grpcSrv.Stop()
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}

	_ = a.otelShutdown(context.Background())
	if err := a.store.Close(context.Background()); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("kiroku stopped")
	return nil
}

// ctx is a no-op helper so that New(opts ...) can pass a background context to
// telemetry.Init without adding a context parameter to the public API.
// The returned context is never cancelled by this function.
func ctx(_ []Option) context.Context { return context.Background() }
