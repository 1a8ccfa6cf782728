// Command extent-resolve resolves a dataset document and prints its extent
// record as JSON. With -store the record is also written to the configured
// database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/acquire/gdalprobe"
	"github.com/mohammed-shakir/raster-extent-index/internal/acquire/httpprobe"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/config"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/executor"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/httpclient"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	h3mapper "github.com/mohammed-shakir/raster-extent-index/internal/mapper/h3"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extent-resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "dotenv file to load before reading the environment")
	persist := fs.Bool("store", false, "write the record to the configured store")
	insert := fs.Bool("insert", false, "with -store, leave already indexed datasets untouched")
	pretty := fs.Bool("pretty", false, "indent the JSON output")
	h3Res := fs.Int("h3", -1, "H3 resolution for footprint cells, overrides H3_RES")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load(*envFile)
	if *h3Res >= 0 {
		cfg.H3Res = *h3Res
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "extent-index",
		Component: "resolve",
	}, stderr)
	log := logger.NewSlog(&zl)

	body, err := readDocument(fs.Arg(0), stdin)
	if err != nil {
		log.Error("read document", "err", err)
		return 1
	}
	d, err := dataset.Decode(body)
	if err != nil {
		log.Error("invalid dataset document", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(cfg, log)
	if err != nil {
		log.Error("engine setup failed", "err", err)
		return 1
	}

	var (
		rec model.Record
		rep engine.Report
	)
	if *persist {
		rec, rep, err = index(ctx, cfg, log, eng, d, *insert)
	} else {
		rec, rep, err = eng.ResolveDatasetExtent(ctx, d)
	}
	if err != nil {
		if errors.Is(err, executor.ErrExists) {
			log.Info("dataset already indexed", "id", d.ID)
			return 0
		}
		log.Error("resolve failed", "id", d.ID, "err", err)
		return 1
	}
	for _, f := range rep.Failures {
		log.Warn("band unresolved", "band", f.Band, "err", f)
	}

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rec); err != nil {
		log.Error("write record", "err", err)
		return 1
	}
	log.Debug("resolved", "id", rec.ID, "bands", len(rep.Bands), "duration", rep.Duration)
	return 0
}

func readDocument(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func buildEngine(cfg config.Config, log *slog.Logger) (*engine.Engine, error) {
	var fallback acquire.Prober
	if gdalprobe.Available {
		fallback = gdalprobe.New()
	}
	prober := httpprobe.New(httpclient.NewOutbound(cfg.Probe.Timeout), fallback)
	acq, err := acquire.New(prober, acquire.Options{
		MaxAttempts: cfg.Probe.MaxAttempts,
		Backoff:     cfg.Probe.Backoff,
		Concurrency: cfg.Probe.Concurrency,
		CacheSize:   cfg.Probe.CacheSize,
		Timeout:     cfg.Probe.Timeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Acquirer:      acq,
		Resolver:      extent.New(extent.Options{DensifyStep: cfg.DensifyStep}),
		AcceptPartial: cfg.AcceptPartial,
		CellRes:       cfg.H3Res,
		Cells:         h3mapper.New(),
		Logger:        log,
	})
}

func index(ctx context.Context, cfg config.Config, log *slog.Logger, eng *engine.Engine, d dataset.Description, insert bool) (model.Record, engine.Report, error) {
	schema, err := store.ParseSchema(cfg.Store.WriteSchema)
	if err != nil {
		return model.Record{}, engine.Report{}, err
	}
	drv, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.URLs, store.Options{
		WriteSchema: schema,
		AutoMigrate: cfg.Store.AutoMigrate,
		Logger:      log,
	})
	if err != nil {
		return model.Record{}, engine.Report{}, err
	}
	defer func() { _ = drv.Close() }()

	mode := executor.ModeUpsert
	if insert {
		mode = executor.ModeInsert
	}
	return executor.New(eng, drv, executor.Options{Logger: log}).Index(ctx, d, mode)
}
