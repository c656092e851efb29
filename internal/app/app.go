// Package app wires configuration, logging, telemetry providers, the schema registry and
// the document store for one talk2data run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"talk2data/internal/config"
	"talk2data/internal/logging"
	"talk2data/internal/observability"
	"talk2data/internal/registry"
	"talk2data/internal/schemamodel"
	"talk2data/internal/schemastore"
)

// App owns the runtime resources shared by every command.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	runID  string

	loggerProvider *observability.LoggerProvider
	tracerProvider *observability.TracerProvider
	meterProvider  *observability.MeterProvider
	refreshMetrics *observability.RefreshMetrics

	registry *registry.Registry
	store    *schemastore.DirStore

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App. The logger gets a fresh run id.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	runID := uuid.NewString()
	return &App{
		cfg:    cfg,
		logger: logger.WithRunID(runID),
		runID:  runID,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Init starts the configured telemetry providers and builds the registry and store. It
// is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.initialized {
		return nil
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		provider := a.loggerProvider
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return provider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, registryMetrics, refreshMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			if err := meterProvider.Report(shutdownCtx, a.logger.Logger); err != nil {
				a.logger.Warn("failed to report metrics", slog.String("error", err.Error()))
			}
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	opts := []registry.Option{
		registry.WithTTL(a.cfg.Registry.TTL),
		registry.WithLogger(a.logger),
	}
	if registryMetrics != nil {
		opts = append(opts, registry.WithMetrics(registryMetrics))
	}

	a.tracerProvider = tracerProvider
	a.meterProvider = meterProvider
	a.refreshMetrics = refreshMetrics
	a.registry = registry.New(opts...)
	a.store = schemastore.NewDirStore(a.cfg.Schema.Dir)
	a.cleanup = cleanup
	a.initialized = true

	a.logger.Debug("talk2data initialized",
		slog.String("schema_dir", a.cfg.Schema.Dir),
		slog.Bool("tracing", tracerProvider != nil),
		slog.Bool("metrics", meterProvider != nil),
	)

	success = true
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the run logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// RunID returns the id attached to every log record of this run.
func (a *App) RunID() string { return a.runID }

// Registry returns the schema registry. Init must have been called.
func (a *App) Registry() *registry.Registry { return a.registry }

// Store returns the schema document store. Init must have been called.
func (a *App) Store() *schemastore.DirStore { return a.store }

// RefreshMetrics returns the refresh recorder, nil when metrics are disabled.
func (a *App) RefreshMetrics() *observability.RefreshMetrics { return a.refreshMetrics }

// SchemaRef selects a schema either by document path or by store key.
type SchemaRef struct {
	File     string
	Tenant   string
	SchemaID string
}

// Resolve fills Tenant and SchemaID from the configured defaults and returns the
// registry key. File references are keyed by their absolute path.
func (a *App) Resolve(ref SchemaRef) (registry.Key, error) {
	if ref.File != "" {
		abs, err := filepath.Abs(ref.File)
		if err != nil {
			return registry.Key{}, fmt.Errorf("failed to resolve schema path: %w", err)
		}
		return registry.NewKey("", "file:"+abs), nil
	}

	tenant := strings.TrimSpace(ref.Tenant)
	if tenant == "" {
		tenant = a.cfg.Schema.DefaultTenant
	}
	id := strings.TrimSpace(ref.SchemaID)
	if id == "" {
		id = a.cfg.Schema.DefaultID
	}
	if id == "" {
		return registry.Key{}, fmt.Errorf("no schema selected: pass --schema FILE or --schema-id ID, or set schema.default_id")
	}
	return registry.NewKey(tenant, id), nil
}

// ParseOptions returns the parse options derived from configuration.
func (a *App) ParseOptions() []schemamodel.ParseOption {
	return []schemamodel.ParseOption{
		schemamodel.WithFactPrefixes(a.cfg.Schema.FactPrefixes...),
		schemamodel.WithLogger(a.logger),
	}
}

// Source returns the loader for key: the document file for file keys, the store otherwise.
func (a *App) Source(key registry.Key) registry.LoadFunc {
	if path, ok := strings.CutPrefix(key.SchemaID, "file:"); ok && key.Tenant == "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		opts := append([]schemamodel.ParseOption{schemamodel.WithName(name)}, a.ParseOptions()...)
		return registry.DocumentLoader(schemamodel.FileLoader(path), opts...)
	}
	return a.store.LoadFunc(key, a.ParseOptions()...)
}

// Snapshot returns the registry snapshot for ref, loading it on first use.
func (a *App) Snapshot(ctx context.Context, ref SchemaRef) (*registry.Snapshot, error) {
	key, err := a.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return a.registry.Get(ctx, key, a.Source(key))
}
