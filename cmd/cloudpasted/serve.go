package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloudpaste/cloudpaste/internal/api"
	"github.com/cloudpaste/cloudpaste/internal/cache"
	"github.com/cloudpaste/cloudpaste/internal/circuit"
	"github.com/cloudpaste/cloudpaste/internal/config"
	"github.com/cloudpaste/cloudpaste/internal/health"
	"github.com/cloudpaste/cloudpaste/internal/job"
	"github.com/cloudpaste/cloudpaste/internal/metrics"
	"github.com/cloudpaste/cloudpaste/internal/proxy"
	"github.com/cloudpaste/cloudpaste/internal/resolver"
	"github.com/cloudpaste/cloudpaste/internal/schedule"
	"github.com/cloudpaste/cloudpaste/internal/search"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/logging"
	"github.com/cloudpaste/cloudpaste/pkg/retry"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway: HTTP proxy, job engine, and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		initLogging(cfg)
		return runServe(cfg)
	},
}

// runServe wires the resolver, job engine, scheduler, and HTTP adapter
// together and blocks until an interrupt or a subsystem failure. Upload
// admission (internal/upload) and ad-hoc search (internal/search.Service)
// are invoked directly by whatever front-end terminates a request into a
// {principal, operation, body} record (spec.md's Non-goals put that framing
// out of this gateway's scope) - here only the pieces with a runnable
// surface of their own (the proxy, the job engine, the scheduler) start.
func runServe(cfg *config.Configuration) error {
	logger := logging.WithComponent("main")

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedConfiguredState(db, cfg); err != nil {
		return fmt.Errorf("seed storage configs/mounts: %w", err)
	}

	rs := resolver.New(db)
	// The collector's own registry is kept separate from the default
	// Prometheus registerer internal/api's /metrics endpoint serves from, so
	// its HTTP server is never started here - only used as an in-process
	// recorder for driver call outcomes (§7).
	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:        cfg.Monitoring.Metrics.Enabled,
		Namespace:      "cloudpaste",
		UpdateInterval: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("build metrics collector: %w", err)
	}
	rs.EnableGuard(
		retry.New(retry.Config{
			MaxAttempts:  cfg.Network.Retry.MaxAttempts,
			InitialDelay: cfg.Network.Retry.BaseDelay,
			MaxDelay:     cfg.Network.Retry.MaxDelay,
			Jitter:       true,
		}),
		circuit.NewManager(circuit.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.Network.CircuitBreaker.Timeout,
		}),
		metricsCollector,
	)
	bus := cache.NewBus(cfg.Proxy.DirCacheTTL, cfg.Proxy.SignedURLCacheTTL, time.Minute)
	ix := search.NewIndexer(db)

	proxySecret := os.Getenv(cfg.Proxy.SecretEnv)
	proxySvc := proxy.New(rs, proxy.Config{
		Secret:        proxySecret,
		DefaultExpiry: cfg.Proxy.DefaultExpiry,
		MaxExpiry:     cfg.Proxy.MaxExpiry,
		RewriteHLS:    cfg.Proxy.RewriteHLS,
	})

	engine := job.New(db, cfg.Jobs.WorkerCount, cfg.Jobs.PollInterval, cfg.Jobs.StalledThreshold)
	engine.Register(job.NewCopyHandler(rs, db, bus, types.Principal{Type: types.PrincipalAdmin}))
	engine.Register(job.NewFsIndexRebuildHandler(db, ix, rs.Driver, bus))
	engine.Register(job.NewFsIndexApplyDirtyHandler(db, ix, rs.Driver, bus))
	engine.Register(job.NewCleanupUploadSessionsHandler(db, nowMs))
	engine.Register(job.NewRefreshStorageUsageHandler(db, driverFactoryFor, nowMs))

	checker, err := health.NewChecker(&health.Config{Enabled: true, Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("build health checker: %w", err)
	}
	if err := checker.RegisterCheck("database", "database ping", health.CategoryCore, health.PriorityCritical,
		health.StorageCheck(func(ctx context.Context) error { return db.Ping(ctx) })); err != nil {
		return err
	}
	mounts, err := db.Mounts.List(context.Background())
	if err != nil {
		return fmt.Errorf("list mounts: %w", err)
	}
	for _, m := range mounts {
		mount := m
		if !mount.IsActive {
			continue
		}
		err := checker.RegisterCheck("mount:"+mount.Name, "storage driver health for "+mount.MountPath, health.CategoryStorage, health.PriorityHigh,
			health.StorageCheck(func(ctx context.Context) error {
				drv, err := rs.Driver(ctx, &mount)
				if err != nil {
					return err
				}
				return drv.HealthCheck(ctx)
			}))
		if err != nil {
			return err
		}
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = fmt.Sprintf(":%d", cfg.Global.MetricsPort)
	apiSrv := api.NewServer(apiCfg, checker, proxySvc, Version)

	scheduler := schedule.New(db, nowMs)
	if err := scheduler.Start(schedule.DefaultConfig()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := engine.ReclaimStalled(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to reclaim stalled tasks at startup")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("reclaimed stalled tasks")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", apiCfg.Address).Msg("listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case <-gctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	scheduler.Stop()
	cancel()

	return g.Wait()
}

func nowMs() int64 { return time.Now().UnixMilli() }
