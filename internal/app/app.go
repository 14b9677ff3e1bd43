package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"hostwatch/internal/alerts"
	"hostwatch/internal/clock"
	"hostwatch/internal/collector"
	"hostwatch/internal/config"
	"hostwatch/internal/db"
	"hostwatch/internal/docker"
	"hostwatch/internal/eventbus"
	"hostwatch/internal/health"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifier"
	"hostwatch/internal/rollup"
	"hostwatch/internal/throttle"
	"hostwatch/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db      *db.Repository
	bus     *eventbus.Bus
	metrics *metrics.Metrics

	inventory *config.Inventory
	collector *collector.Service
	internal  *health.Checker
	public    *health.Checker
	alerts    *alerts.Dispatcher
	scheduler *rollup.Scheduler

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb)
	clk := clock.Real()
	bus := eventbus.New()
	m := metrics.New()

	var (
		runtime docker.Runtime
		pinger  web.Pinger
	)
	switch cfg.DockerMode {
	case "api":
		dc := docker.NewClient(cfg.DockerSocket, logger.With("module", "docker"))
		runtime, pinger = dc, dc
	default:
		runtime = docker.NewCLI(cfg.DockerBinary)
	}

	sender := notifier.New(notifier.Options{
		NtfyURL:          cfg.NtfyURL,
		NtfyTopic:        cfg.NtfyTopic,
		NtfyToken:        cfg.NtfyToken,
		TelegramBotToken: cfg.TelegramBotToken,
		TelegramChatID:   cfg.TelegramChatID,
	}, logger.With("module", "notifier"))
	dispatcher, err := alerts.NewDispatcher(alerts.Options{
		Store:        repo,
		Sender:       sender,
		Clock:        clk,
		Thresholds:   alerts.Thresholds{CPU: cfg.CPUThreshold, Memory: cfg.MemoryThreshold, Disk: cfg.DiskThreshold},
		Cooldown:     cfg.AlertCooldown,
		Workers:      4,
		DashboardURL: cfg.PublicBaseURL,
		Metrics:      m,
	}, logger.With("module", "alerts"))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	internal, err := health.NewInternalChecker(health.Options{
		Machine:   health.InternalMachine{Threshold: cfg.FailureThreshold, RetryDelay: cfg.RetryDelay},
		Prober:    health.NewHTTPProber(cfg.ProbeTimeout, cfg.DegradedAfter),
		Clock:     clk,
		Workers:   cfg.ProbeWorkers,
		Sink:      dispatcher,
		Publish:   bus.Services.Publish,
		Store:     repo,
		StoreGate: throttle.New(cfg.ServiceStoreInterval, clk),
		Metrics:   m,
	}, logger.With("module", "health", "checker", "internal"))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	public, err := health.NewPublicChecker(health.Options{
		Machine: health.PublicMachine{Threshold: cfg.FailureThreshold, RetryDelay: cfg.PublicRetryDelay, RecoveryInterval: cfg.RecoveryInterval},
		Prober:  health.NewHTTPProber(cfg.PublicTimeout, cfg.DegradedAfter),
		Clock:   clk,
		Workers: cfg.ProbeWorkers,
		Sink:    dispatcher,
		Publish: bus.Public.Publish,
		Metrics: m,
	}, logger.With("module", "health", "checker", "public"))
	if err != nil {
		internal.Stop()
		_ = sqldb.Close()
		return nil, err
	}

	agg := rollup.NewAggregator(repo, clk, rollup.DefaultRetention(), m, logger.With("module", "rollup"))
	w := web.NewServer(repo, bus, m, pinger, logger.With("module", "web"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		bus:       bus,
		metrics:   m,
		inventory: config.NewInventory(cfg, logger.With("module", "inventory")),
		collector: collector.NewService(collector.ServiceOptions{
			Host:          collector.NewHostSampler(collector.SystemSource(), cfg.DiskPath, clk, logger.With("module", "host")),
			Containers:    collector.NewContainerCollector(runtime, clk, logger.With("module", "containers")),
			Bus:           bus,
			Store:         repo,
			MetricsGate:   throttle.New(cfg.MetricsStoreInterval, clk),
			ContainerGate: throttle.New(cfg.ContainerStoreInterval, clk),
			Observer:      dispatcher,
			Metrics:       m,
		}, logger.With("module", "collector")),
		internal: internal,
		public:   public,
		alerts:   dispatcher,
		scheduler: rollup.NewScheduler(agg, rollup.SchedulerOptions{
			Location:     time.Local,
			CatchUpDelay: cfg.CatchUpDelay,
			Clock:        clk,
		}, logger.With("module", "scheduler")),
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second}
	return app, nil
}

// Bus exposes live snapshots to in-process consumers.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Run starts every loop and blocks until ctx is cancelled or the HTTP
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.alerts.Seed(ctx); err != nil {
		a.log.Warn("alert seed", "err", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP(gctx) })
	g.Go(func() error {
		every(gctx, a.cfg.MetricsInterval, a.collector.TickMetrics)
		return nil
	})
	g.Go(func() error {
		every(gctx, a.cfg.ContainerInterval, a.collector.TickContainers)
		return nil
	})
	g.Go(func() error {
		every(gctx, a.cfg.ServiceInterval, func(ctx context.Context) {
			a.internal.RunPass(ctx, a.inventory.Load())
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, a.cfg.PublicInterval, func(ctx context.Context) {
			a.public.RunPass(ctx, a.inventory.Load())
		})
		return nil
	})

	err := g.Wait()
	a.shutdown()
	return err
}

// every runs fn now and then on each tick. Ticks missed while fn runs are
// dropped.
func every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	fn(ctx)
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		errCh <- a.httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "err", err)
	}
	return nil
}

func (a *App) shutdown() {
	a.internal.Stop()
	a.public.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.scheduler.Stop(ctx)
	a.alerts.Close()
	if err := a.db.DB().Close(); err != nil {
		a.log.Warn("close db", "err", err)
	}
	a.log.Info("shutdown complete")
}
