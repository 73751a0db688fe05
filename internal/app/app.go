package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/db"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	httpx "github.com/ilyacantor/autonomos-platform-sub006/internal/http"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx/driftscan"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx/temporalworker"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Repos    repos.Repos
	Clients  Clients
	Services Services
	Server   *httpx.Server

	metrics      *observability.Metrics
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// Migrate opens the configured database and creates or updates every table.
func Migrate(log *logger.Logger, cfg Config) error {
	dbs, err := db.Open(log, cfg.DB)
	if err != nil {
		return err
	}
	defer dbs.Close()
	if err := db.AutoMigrateAll(dbs.DB()); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	log.Info("migrations applied", "driver", dbs.Driver())
	return nil
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "driftd",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	dbs, err := db.Open(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := db.AutoMigrateAll(dbs.DB()); err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	reposet := repos.New(dbs.DB(), log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = dbs.Close()
		return nil, err
	}
	serviceset, err := wireServices(dbs.DB(), log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		_ = dbs.Close()
		return nil, err
	}
	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           dbs,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the invalidation subscriber and the configured scheduler.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Clients.Bus != nil {
		reg := a.Services.Registry
		if err := a.Clients.Bus.Subscribe(ctx, reg.EvictLocal); err != nil {
			return err
		}
	}

	switch a.Cfg.Scheduler {
	case SchedulerLocal:
		a.Services.Scheduler.Start(ctx)
	case SchedulerTemporal:
		return a.startTemporal(ctx)
	default:
		a.Log.Info("scheduler disabled; scans run on demand only")
	}
	return nil
}

func (a *App) startTemporal(ctx context.Context) error {
	svc := a.Services
	acts := &driftscan.Activities{
		Log:  a.Log,
		Keys: svc.Sources.PolledKeys,
		Scan: func(ctx context.Context, key fingerprint.Key) (*pipeline.ScanResult, error) {
			return svc.Pipeline.ScanPolled(ctx, key, svc.Connector)
		},
		Sweep: svc.Review.Sweep,
	}
	runner, err := temporalworker.NewRunner(a.Log, a.Clients.Temporal, temporalx.LoadConfig(), acts, temporalworker.Options{
		Concurrency:   a.Cfg.ScanConcurrency,
		ScanInterval:  a.Cfg.ScanInterval,
		SweepInterval: a.Cfg.SweepInterval,
	})
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	return runner.EnsureLoops(ctx)
}

// Run serves HTTP until ctx is done, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	server, err := wireServer(a.Log, a.Cfg, a.Services, a.metrics)
	if err != nil {
		return err
	}
	a.Server = server
	if err := a.Start(ctx); err != nil {
		return err
	}
	addr := ":" + a.Cfg.Port
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Run(addr) }()
	a.Log.Info("http server listening", "addr", addr, "scheduler", a.Cfg.Scheduler)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ScanOnce scans every polled key once and reports how many failed.
func (a *App) ScanOnce(ctx context.Context) int {
	return a.Services.Scheduler.ScanAll(ctx)
}

// ScanKey scans one declared key.
func (a *App) ScanKey(ctx context.Context, key fingerprint.Key) (*pipeline.ScanResult, error) {
	return a.Services.Pipeline.ScanPolled(ctx, key, a.Services.Connector)
}

func (a *App) SweepOnce(ctx context.Context) (int, error) {
	return a.Services.Review.Sweep(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Connector != nil {
		a.Services.Connector.Close()
	}
	a.Clients.Close()
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
