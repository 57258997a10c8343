// Package app builds the long-lived services of the price watcher from
// configuration and owns their shutdown.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/archive"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/extract"
	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	"github.com/JakeFAU/pricewatch/internal/fetcher/headless"
	"github.com/JakeFAU/pricewatch/internal/id/uuid"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	memorypub "github.com/JakeFAU/pricewatch/internal/publisher/memory"
	"github.com/JakeFAU/pricewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/pricewatch/internal/storage/gcs"
	"github.com/JakeFAU/pricewatch/internal/storage/local"
	"github.com/JakeFAU/pricewatch/internal/storage/memory"
	"github.com/JakeFAU/pricewatch/internal/storage/migrations"
	"github.com/JakeFAU/pricewatch/internal/storage/postgres"
	"github.com/JakeFAU/pricewatch/internal/storage/redis"
	"github.com/JakeFAU/pricewatch/internal/storage/sqlite"
	"github.com/JakeFAU/pricewatch/internal/tracker"
	"github.com/JakeFAU/pricewatch/internal/watcher"
	"github.com/JakeFAU/pricewatch/internal/worker"
)

// App holds the shared services. It is built once per command and closed
// when the command returns.
type App struct {
	Logger    *zap.Logger
	Store     tracker.Store
	Signals   tracker.SignalStore
	Catalog   *catalog.Service
	Runner    *worker.Runner
	Watcher   *watcher.Watcher
	Publisher tracker.Publisher

	closers         []io.Closer
	separateSignals bool
}

type signalBackend interface {
	tracker.SignalStore
	io.Closer
}

// New wires every service described by cfg. It fails fast when a backend
// cannot be reached or configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Logger: logger}
	if err := a.init(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("signal_backend", cfg.Signal.Backend),
		zap.String("engine", cfg.Scraper.Engine),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("pubsub_backend", cfg.PubSub.Backend),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, cfg config.Config) error {
	store, err := OpenStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store)
	if cfg.DB.AutoMigrate {
		if m, ok := store.(tracker.Migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("schema migrated", zap.String("driver", cfg.DB.Driver))
		}
	}

	a.Signals = store
	if cfg.Signal.Backend == "redis" {
		signals, err := openRedis(ctx, cfg.Signal)
		if err != nil {
			return err
		}
		a.Signals = signals
		a.separateSignals = true
		a.closers = append(a.closers, signals)
	}

	archiver, err := a.openArchiver(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if err := a.openPublisher(ctx, cfg.PubSub); err != nil {
		return err
	}

	clock := system.New()
	a.Catalog = catalog.New(store, a.Signals, clock, catalog.Config{ScanningWindow: cfg.Watcher.ScanningWindow}, a.Logger)

	limiter := ratelimit.New(ratelimit.Config{PerDomainQPS: cfg.Scraper.DomainQPS})
	a.Runner = worker.New(
		store,
		store,
		NewEngine(cfg.Scraper),
		extract.NewStockDetector(cfg.Scraper.StockMarkers),
		clock,
		uuid.New(),
		limiter,
		archiver,
		a.Publisher,
		worker.Config{PriceSelectors: cfg.Scraper.PriceSelectors, Topic: cfg.PubSub.Topic},
		a.Logger,
	)
	a.Watcher = watcher.New(a.Signals, a.Runner, clock, watcher.Config{PollInterval: cfg.Watcher.PollInterval}, a.Logger)
	return nil
}

// OpenStore connects the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.DBConfig) (tracker.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(ctx, sqlite.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", cfg.Driver)
	}
}

// OpenMigrationDB returns a database/sql handle and goose dialect for the
// configured relational backend. The caller closes the handle.
func OpenMigrationDB(ctx context.Context, cfg config.DBConfig) (*sql.DB, string, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, migrations.Postgres, nil
	case "sqlite":
		store, err := sqlite.New(ctx, sqlite.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		return store.DB(), migrations.SQLite, nil
	default:
		return nil, "", fmt.Errorf("db driver %q has no schema to migrate", cfg.Driver)
	}
}

// NewEngine returns the page fetcher selected by scraper.engine.
func NewEngine(cfg config.ScraperConfig) tracker.Engine {
	if cfg.Engine == "static" {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
			Timeout:        cfg.NavigationTimeout,
		})
	}
	return headless.New(headless.Config{
		UserAgent:         cfg.UserAgent,
		AcceptLanguage:    cfg.AcceptLanguage,
		NavigationTimeout: cfg.NavigationTimeout,
		SettleDelay:       cfg.SettleDelay,
		Headless:          cfg.Headless,
		ExecPath:          cfg.ExecPath,
	})
}

func openRedis(ctx context.Context, cfg config.SignalConfig) (signalBackend, error) {
	signals, err := redis.New(redis.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.RedisKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open redis signal store: %w", err)
	}
	if err := signals.Ping(ctx); err != nil {
		_ = signals.Close()
		return nil, fmt.Errorf("open redis signal store: %w", err)
	}
	return signals, nil
}

func (a *App) openArchiver(ctx context.Context, cfg config.ArchiveConfig) (tracker.Archiver, error) {
	var blobs tracker.BlobStore
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		blobs = store
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, store)
		blobs = store
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
	archiver, err := archive.New(blobs, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("create archiver: %w", err)
	}
	return archiver, nil
}

func (a *App) openPublisher(ctx context.Context, cfg config.PubSubConfig) error {
	switch cfg.Backend {
	case "", "none":
		return nil
	case "memory":
		a.Publisher = memorypub.New()
	case "gcp":
		pub, err := pubsub.New(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub)
	default:
		return fmt.Errorf("unknown pubsub backend: %s", cfg.Backend)
	}
	return nil
}

// Ping checks the store and, when separate, the signal backend.
func (a *App) Ping(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return err
	}
	if !a.separateSignals {
		return nil
	}
	if p, ok := a.Signals.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every backend in reverse order of creation and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
