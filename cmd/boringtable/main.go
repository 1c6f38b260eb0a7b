package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/boringtable/pkg/config"
	"github.com/platinummonkey/boringtable/pkg/httpview"
	"github.com/platinummonkey/boringtable/pkg/observability"
	"github.com/platinummonkey/boringtable/pkg/plugins"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
	"github.com/platinummonkey/boringtable/pkg/source/filewatch"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "boringtable: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	engineLog := engineLogger(cfg.Observability)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	rec := fanout{}
	if cfg.Observability.MetricsEnabled {
		rec = append(rec, metrics)
	}
	if cfg.Observability.OTelEnabled {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		rec = append(rec, otelMetrics)
	}

	redisClient, err := openRedis(ctx, cfg.Sources)
	if err != nil {
		return err
	}
	db, placeholder, err := openDatabase(ctx, cfg.Sources)
	if err != nil {
		return err
	}
	s3Client, err := fetch.NewS3Client(ctx, fetch.S3Config{
		Endpoint:     cfg.Sources.S3Endpoint,
		Region:       cfg.Sources.S3Region,
		AccessKey:    cfg.Sources.S3AccessKey,
		SecretKey:    cfg.Sources.S3SecretKey,
		UsePathStyle: cfg.Sources.S3UsePathStyle,
	})
	if err != nil {
		return err
	}

	scheduler := fetch.NewScheduler(ctx, engineLog, cfg.Table.SchedulerWorkers, cfg.Table.RefreshTimeout)

	factories := plugins.NewRegistry[plugins.Row]()
	deps := plugins.BuiltinDeps[plugins.Row]{
		Logger:    engineLog,
		Recorder:  rec,
		S3:        s3Client,
		Scheduler: scheduler,
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	if db != nil {
		deps.DB, deps.Placeholder, deps.Scan = db, placeholder, plugins.ScanRow
	}
	if err := plugins.RegisterBuiltins(factories, deps); err != nil {
		return err
	}
	loader := plugins.NewLoader(factories, engineLog)

	manifest, err := loadManifest(ctx, cfg.Table, loader)
	if err != nil {
		return err
	}
	chain, err := loader.Build(ctx, manifest)
	if err != nil {
		return err
	}

	tbl, err := table.New(ctx, nil, plugins.RowColumns(manifest.Columns), chain,
		table.WithID(manifest.ID),
		table.WithLogger(engineLog),
		table.WithRecorder(rec),
		table.WithTracer(observability.Tracer()),
		table.WithMaxQueuedCycles(cfg.Table.MaxQueuedCycles),
	)
	if err != nil {
		return fmt.Errorf("failed to build table %s: %w", manifest.ID, err)
	}

	var watcher *filewatch.Watcher[plugins.Row]
	if cfg.Table.RowsFile != "" {
		watcher, err = filewatch.New[plugins.Row](cfg.Table.RowsFile, tbl, filewatch.Options{Logger: engineLog})
		if err != nil {
			return err
		}
	}

	health := observability.NewHealthChecker(db, redisClient, version)

	var limiter httpview.Limiter
	if n := cfg.Server.RateLimitPerMinute; n > 0 {
		limitCfg := httpview.RateLimitConfig{RequestsPerWindow: n, Window: time.Minute, Burst: cfg.Server.RateLimitBurst}
		if redisClient != nil {
			limiter = httpview.NewRedisLimiter(redisClient, limitCfg, "boringtable:ratelimit:"+manifest.ID)
		} else {
			memory := httpview.NewMemoryLimiter(limitCfg)
			memory.StartCleanup(ctx)
			limiter = memory
		}
	}
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: httpview.New(tbl, httpview.Options{
			Logger:       logger,
			Registry:     registry,
			Metrics:      metrics,
			Health:       health,
			Version:      version,
			WaitTimeout:  cfg.Server.WaitTimeout,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			RateLimit:    limiter,

			AllowedOrigins: cfg.Server.CORSOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if db != nil {
		shutdown.Register("database", func(context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("scheduler", scheduler.Stop)

	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("table", manifest.ID).Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}
