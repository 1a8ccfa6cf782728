package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/acquire/gdalprobe"
	"github.com/mohammed-shakir/raster-extent-index/internal/acquire/httpprobe"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/config"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/executor"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/health"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/httpclient"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/router"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/server"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/events"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	h3mapper "github.com/mohammed-shakir/raster-extent-index/internal/mapper/h3"
	"github.com/mohammed-shakir/raster-extent-index/internal/metrics"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
	ingest "github.com/mohammed-shakir/raster-extent-index/pkg/ingest/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	migrate := flag.Bool("migrate", false, "create the write schema table on the primary store and exit")
	flag.Parse()

	cfg := config.Load(*envFile)

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "extent-index",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writeSchema, err := store.ParseSchema(cfg.Store.WriteSchema)
	if err != nil {
		appLog.Error("invalid WRITE_SCHEMA", "err", err)
		return 1
	}

	var cacheStore *cache.Store
	if cfg.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cli, err := redisstore.New(rctx, cfg.RedisAddr,
			redisstore.WithPoolSize(cfg.Redis.PoolSize),
			redisstore.WithMinIdleConns(cfg.Redis.MinIdleConns),
			redisstore.WithDialTimeout(cfg.Redis.DialTimeout),
			redisstore.WithReadTimeout(cfg.CacheOpTimeout),
			redisstore.WithWriteTimeout(cfg.CacheOpTimeout),
		)
		cancel()
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = cli.Close() }()
		cacheStore = cache.NewRedisStore(cli, cfg.RecordCacheTTL)
	}

	opts := store.Options{
		WriteSchema:  writeSchema,
		AutoMigrate:  cfg.Store.AutoMigrate,
		CacheTTL:     cfg.RecordCacheTTL,
		CacheTimeout: cfg.CacheOpTimeout,
		Logger:       appLog,
	}
	if cacheStore != nil {
		opts.Cache = cacheStore.Records
	}
	drv, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.URLs, opts)
	if err != nil {
		appLog.Error("store setup failed", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer func() { _ = drv.Close() }()

	if *migrate {
		if err := drv.EnsureSchema(ctx, writeSchema); err != nil {
			appLog.Error("migration failed", "schema", string(writeSchema), "err", err)
			return 1
		}
		appLog.Info("schema ensured", "schema", string(writeSchema))
		return 0
	}

	var fallback acquire.Prober
	if gdalprobe.Available {
		fallback = gdalprobe.New()
	} else {
		appLog.Warn("built without gdal; only grid sidecars can be probed")
	}
	prober := httpprobe.New(httpclient.NewOutbound(cfg.Probe.Timeout), fallback)
	acq, err := acquire.New(prober, acquire.Options{
		MaxAttempts: cfg.Probe.MaxAttempts,
		Backoff:     cfg.Probe.Backoff,
		Concurrency: cfg.Probe.Concurrency,
		CacheSize:   cfg.Probe.CacheSize,
		Timeout:     cfg.Probe.Timeout,
		Logger:      appLog,
	})
	if err != nil {
		appLog.Error("acquirer setup failed", "err", err)
		return 1
	}

	m := h3mapper.New()
	eng, err := engine.New(engine.Options{
		Acquirer:      acq,
		Resolver:      extent.New(extent.Options{DensifyStep: cfg.DensifyStep}),
		AcceptPartial: cfg.AcceptPartial,
		CellRes:       cfg.H3Res,
		Cells:         m,
		Logger:        appLog,
	})
	if err != nil {
		appLog.Error("engine setup failed", "err", err)
		return 1
	}

	ingCfg := ingest.FromConfig(cfg.Ingest)

	exOpts := executor.Options{Logger: appLog}
	if cacheStore != nil && cfg.H3Res > 0 {
		exOpts.Cells = cacheStore.Cells
	}
	if cfg.Ingest.EventsTopic != "" {
		pub, err := events.NewPublisher(ingCfg.Brokers, cfg.Ingest.EventsTopic, 0, appLog)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("event publisher close", "err", err)
			}
		}()
		exOpts.Events = pub
	}
	ex := executor.New(eng, drv, exOpts)

	prov := metrics.Init(metrics.Config{
		Enabled:        cfg.MetricsEnabled,
		IncludeDefault: true,
		Build:          metrics.BuildInfo{Version: Version, Revision: os.Getenv("BUILD_REVISION"), BuildDate: os.Getenv("BUILD_DATE")},
	})

	ready := []health.Check{storeCheck(drv)}

	runner, err := ingest.New(ingCfg, ex, ingest.Options{Logger: appLog, Register: prov.Registerer()})
	if err != nil {
		appLog.Error("ingest runner setup failed", "err", err)
		return 1
	}
	if err := runner.Start(ctx); err != nil {
		appLog.Error("ingest runner start failed", "err", err)
		return 1
	}
	defer runner.Stop()
	if ingCfg.Enabled {
		ready = append(ready, health.RunnerCheck("ingest", runner))
	}

	deps := server.Deps{
		Handlers: router.New(drv, ex, router.Options{Mapper: m, Cells: exOpts.Cells, CellRes: cfg.H3Res, Logger: appLog}),
		Ready:    ready,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = prov.Handler()
	}

	appLog.Info("starting extent server",
		"addr", cfg.Addr,
		"version", Version,
		"db_driver", cfg.Store.Driver,
		"stores", len(cfg.Store.URLs),
		"write_schema", string(writeSchema),
		"gdal", gdalprobe.Available,
		"h3_res", cfg.H3Res,
		"ingest", ingCfg.Enabled,
	)
	logLayouts(ctx, appLog, drv)

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func storeCheck(drv *store.Driver) health.Check {
	return health.Check{Name: "store", Probe: func(ctx context.Context) (any, error) {
		if err := drv.Ping(ctx); err != nil {
			return nil, err
		}
		layouts, err := drv.Layouts(ctx)
		if err != nil && !errors.Is(err, store.ErrNoSchema) {
			return nil, err
		}
		out := make(map[string]string, len(layouts))
		for label, l := range layouts {
			out[label] = l.String()
		}
		return out, nil
	}}
}

func logLayouts(ctx context.Context, log *slog.Logger, drv *store.Driver) {
	layouts, err := drv.Layouts(ctx)
	if err != nil {
		log.Warn("store layout probe failed", "err", err)
		return
	}
	for label, l := range layouts {
		log.Info("store layout", "store", label, "layout", l.String())
	}
}
