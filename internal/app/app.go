// Package app builds the long-lived services behind every serialwatch command.
// It acts as the dependency injection container: backends are chosen from
// configuration, shared where two roles point at the same database, and closed
// together on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/clock/system"
	"github.com/JakeFAU/serialwatch/internal/config"
	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/detector"
	"github.com/JakeFAU/serialwatch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/serialwatch/internal/fetcher/colly"
	"github.com/JakeFAU/serialwatch/internal/id/uuid"
	"github.com/JakeFAU/serialwatch/internal/locator"
	"github.com/JakeFAU/serialwatch/internal/metrics"
	"github.com/JakeFAU/serialwatch/internal/parser/tsdr"
	"github.com/JakeFAU/serialwatch/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/serialwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/serialwatch/internal/scanner"
	"github.com/JakeFAU/serialwatch/internal/session"
	"github.com/JakeFAU/serialwatch/internal/storage/archive"
	"github.com/JakeFAU/serialwatch/internal/storage/gcs"
	"github.com/JakeFAU/serialwatch/internal/storage/local"
	"github.com/JakeFAU/serialwatch/internal/storage/memory"
	"github.com/JakeFAU/serialwatch/internal/storage/postgres"
	"github.com/JakeFAU/serialwatch/internal/storage/sqlite"
)

// RecentLister is implemented by sinks that can list stored records.
type RecentLister interface {
	Recent(ctx context.Context, since time.Time) ([]crawler.Record, error)
}

// App holds the shared services for one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Clock      crawler.Clock
	Store      crawler.StateStore
	Sink       crawler.RecordSink
	Recent     RecentLister
	Fetcher    *fetcher.Fetcher
	Locator    *locator.Locator
	Scanner    *scanner.Scanner
	Controller *session.Controller

	sqlite   *sqlite.Store
	postgres *postgres.Store
	closers  []func() error
}

// Overrides replaces pieces of the default wiring. Tests use it to point the
// fetcher at a local server.
type Overrides struct {
	Clock   crawler.Clock
	Pauser  crawler.Pauser
	Session fetcher.SessionFactory
}

// New builds every service described by cfg. Any failure closes what was
// already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return NewWithOverrides(ctx, cfg, logger, Overrides{})
}

// NewWithOverrides is New with replaceable clock, pauser, and session factory.
func NewWithOverrides(ctx context.Context, cfg config.Config, logger *zap.Logger, o Overrides) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a = &App{Config: cfg, Logger: logger, Clock: o.Clock}
	if a.Clock == nil {
		a.Clock = system.New()
	}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
			a = nil
		}
	}()

	logger.Info("initializing services",
		zap.String("mode", cfg.Source.Mode),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("sink_backend", cfg.Sink.Backend),
	)

	if a.Store, err = a.buildStore(ctx); err != nil {
		return nil, err
	}
	if err = a.buildSink(ctx); err != nil {
		return nil, err
	}
	if err = a.buildCrawl(o); err != nil {
		return nil, err
	}
	if err = a.buildController(ctx); err != nil {
		return nil, err
	}

	logger.Info("services initialized")
	return a, nil
}

func (a *App) seed() crawler.Serial {
	return crawler.Serial(a.Config.Session.SeedSerial)
}

func (a *App) openSQLite(ctx context.Context) (*sqlite.Store, error) {
	if a.sqlite != nil {
		return a.sqlite, nil
	}
	store, err := sqlite.Open(ctx, sqlite.Config{Path: a.Config.SQLite.Path, Seed: a.seed()}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.sqlite = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) openPostgres(ctx context.Context) (*postgres.Store, error) {
	if a.postgres != nil {
		return a.postgres, nil
	}
	pg := a.Config.Postgres
	store, err := postgres.NewStore(ctx,
		postgres.PoolConfig{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		},
		postgres.Tables{State: pg.StateTable, Records: pg.RecordsTable, Sessions: pg.SessionsTable},
		a.seed(), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.postgres = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	if pg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (a *App) buildStore(ctx context.Context) (crawler.StateStore, error) {
	switch a.Config.State.Backend {
	case config.BackendFile:
		return local.NewStateStore(local.StateConfig{Path: a.Config.State.Path, Seed: a.seed()}, a.Logger)
	case config.BackendSQLite:
		return a.openSQLite(ctx)
	case config.BackendPostgres:
		return a.openPostgres(ctx)
	case config.BackendMemory:
		return memory.NewStateStore(a.seed(), a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported state backend %q", a.Config.State.Backend)
	}
}

func (a *App) buildSink(ctx context.Context) error {
	var primary crawler.RecordSink
	switch a.Config.Sink.Backend {
	case config.BackendFile:
		history, err := local.NewHistorySink(local.HistoryConfig{Path: a.Config.Sink.Path}, a.Clock, a.Logger)
		if err != nil {
			return err
		}
		primary, a.Recent = history, history
	case config.BackendSQLite:
		store, err := a.openSQLite(ctx)
		if err != nil {
			return err
		}
		primary, a.Recent = store, store
	case config.BackendPostgres:
		store, err := a.openPostgres(ctx)
		if err != nil {
			return err
		}
		primary = store
	case config.BackendMemory:
		sink := memory.NewRecordSink()
		primary, a.Recent = sink, sink
	case config.BackendNone:
	default:
		return fmt.Errorf("unsupported sink backend %q", a.Config.Sink.Backend)
	}

	if a.Config.Archive.GCSBucket == "" {
		a.Sink = primary
		return nil
	}
	blobs, err := gcs.Dial(ctx, gcs.Config{Bucket: a.Config.Archive.GCSBucket, Prefix: a.Config.Archive.Prefix}, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, blobs.Close)
	archiver, err := archive.NewSink(blobs, a.Clock, a.Logger)
	if err != nil {
		return err
	}
	if primary == nil {
		a.Sink = archiver
		return nil
	}
	a.Sink = crawler.NewMultiSink(primary, archiver)
	return nil
}

func (a *App) buildCrawl(o Overrides) error {
	cfg := a.Config
	factory := o.Session
	if factory == nil {
		factory = collyfetcher.NewFactory(collyfetcher.Config{
			UserAgents: cfg.Source.UserAgents,
			Timeout:    cfg.Fetcher.RequestTimeout,
		})
	}
	pauser := o.Pauser
	if pauser == nil {
		pauser = system.NewPauser()
	}
	var markers []string
	if len(cfg.Source.BlockMarkers) > 0 {
		markers = cfg.Source.BlockMarkers
	}

	f, err := fetcher.New(
		fetcher.Config{
			URLTemplate:      cfg.Source.URLTemplate,
			MaxRetries:       cfg.Fetcher.MaxRetries,
			BlockedRetries:   cfg.Fetcher.BlockedRetries,
			RateLimitBackoff: cfg.Fetcher.RateLimitBackoff,
			TransientBackoff: cfg.Fetcher.TransientBackoff,
			BlockedDelay:     cfg.Fetcher.BlockedDelay,
		},
		factory,
		ratelimit.New(ratelimit.Config{MinDelay: cfg.Fetcher.MinDelay}),
		tsdr.New(a.Clock),
		detector.NewClassifier(markers),
		pauser,
		a.Logger.Named("fetcher"),
	)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	a.Fetcher = f
	a.closers = append(a.closers, func() error {
		f.Close()
		return nil
	})

	if a.Locator, err = locator.New(f, locator.Config{
		InitialStep:  cfg.Locator.InitialStep,
		SeedFallback: cfg.Locator.SeedFallback,
	}, a.Logger.Named("locator")); err != nil {
		return fmt.Errorf("init locator: %w", err)
	}
	if a.Scanner, err = scanner.New(f, a.Clock, scanner.Config{ProgressEvery: cfg.Session.ProgressEvery},
		a.Logger.Named("scanner")); err != nil {
		return fmt.Errorf("init scanner: %w", err)
	}
	return nil
}

func (a *App) buildController(ctx context.Context) error {
	deps := session.Dependencies{
		Store:   a.Store,
		Locator: a.Locator,
		Scanner: a.Scanner,
		Sink:    a.Sink,
		IDs:     uuid.New(),
		Clock:   a.Clock,
	}
	if a.postgres != nil {
		deps.Recorder = a.postgres
	}
	if a.Config.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, a.Config.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		deps.Publisher = pub
	}

	controller, err := session.New(deps, session.Config{
		BootstrapWindow: a.Config.Session.BootstrapWindow,
		CatchUpCeiling:  a.Config.Session.CatchUpCeiling,
		Topic:           a.Config.PubSub.TopicName,
	}, a.Logger.Named("session"))
	if err != nil {
		return fmt.Errorf("init session controller: %w", err)
	}
	a.Controller = controller
	return nil
}

// Close releases services in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
