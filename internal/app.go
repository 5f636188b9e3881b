package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starford/tagdex/internal/dictionary"
	"github.com/starford/tagdex/internal/docstore"
	"github.com/starford/tagdex/internal/metrics"
	"github.com/starford/tagdex/internal/service"
	"github.com/starford/tagdex/internal/sse"
	"github.com/starford/tagdex/internal/storage"
)

// App is the wired component graph shared by the server and the one-shot
// CLI commands.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	DB       *docstore.DB
	Dict     *dictionary.Dictionary
	Cache    *dictionary.FileCache
	Registry *prometheus.Registry
	Broker   *sse.Broker
	Service  *service.Service
}

// Open builds the application from opts. The caller must Close it.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	logger := a.logger
	if logger == nil {
		out := a.logOutput
		if out == nil {
			out = os.Stdout
		}
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("dictionary_cache", cfg.Dictionary.CachePath),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := docstore.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init docstore: %w", err)
	}

	app := &App{Config: cfg, Logger: logger, DB: db}

	var persister dictionary.Persister = db
	if cfg.Dictionary.UsesFileCache() {
		if err := os.MkdirAll(cfg.Dictionary.CacheDir, 0o755); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create dictionary cache dir: %w", err)
		}
		files, err := storage.NewFS(cfg.Dictionary.CacheDir)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init dictionary storage: %w", err)
		}
		app.Cache = dictionary.NewFileCache(files, cfg.Dictionary.CachePath)
		persister = app.Cache
	}

	app.Dict = dictionary.New(persister, dictionary.WithResolveCacheSize(cfg.Dictionary.ResolveCacheSize))
	if err := app.Dict.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	logger.Info("dictionary loaded", slog.Int("tags", app.Dict.Len()))

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app.Broker = sse.NewBroker(2 * time.Second)

	app.Service = service.New(db, app.Dict, logger,
		service.WithSettings(service.Settings{
			ScanWindow:     cfg.Scan.WindowSize,
			RecommitWindow: cfg.Recommit.WindowSize,
			MinimumCount:   cfg.Planner.MinimumCount,
			Background:     cfg.Planner.Background,
		}),
		service.WithPublisher(app.Broker),
		service.WithMetrics(metrics.New(app.Registry)),
	)
	return app, nil
}

// Close releases the broker and the store.
func (a *App) Close() error {
	a.Broker.Close()
	return a.DB.Close()
}
