// Command obsqc turns gridded reanalysis fields into quality-controlled BUFR
// observations.
//
// With -date it runs once and exits:
//
//	obsqc -date 2025-06-01 -type surface
//
// Without -date it serves /healthz, /readyz, /metrics and /runs, and runs
// on SCHEDULE when one is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/grid-obs-bufr/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/grid-obs-bufr/internal/adapter/kafka"
	"github.com/couchcryptid/grid-obs-bufr/internal/adapter/netcdf"
	"github.com/couchcryptid/grid-obs-bufr/internal/adapter/sqlite"
	"github.com/couchcryptid/grid-obs-bufr/internal/bufr"
	"github.com/couchcryptid/grid-obs-bufr/internal/config"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
	"github.com/couchcryptid/grid-obs-bufr/internal/observability"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/couchcryptid/grid-obs-bufr/internal/qc"
	"github.com/couchcryptid/grid-obs-bufr/internal/scheduler"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
)

func main() {
	dateFlag := flag.String("date", "", "process one date (YYYY-MM-DD) and exit")
	typeFlag := flag.String("type", "all", "observation type for -date: surface, upper_air, or all")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	p, err := config.LoadPipeline(cfg.PipelineConfig)
	if err != nil {
		logger.Error("failed to load pipeline config", "path", cfg.PipelineConfig, "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	anomaly := qc.NewAnomaly(cfg.ModelPath, logger)
	if anomaly.Available() {
		metrics.ModelEnabled.Set(1)
	}

	workers := p.Workers
	if cfg.QCWorkers > 0 {
		workers = cfg.QCWorkers
	}
	extractor := pipeline.NewExtractor(
		grid.NewResolver(p.VariableMap(), p.AliasTable()),
		qc.NewPhysical(p.Bounds(), logger),
		anomaly,
		pipeline.ExtractorConfig{Hours: p.Hours, LevelScale: p.LevelScale, Workers: workers},
		logger,
	)
	encoder := bufr.NewEncoder(bufr.Options{
		Centre:             p.BUFR.Centre,
		SubCentre:          p.BUFR.SubCentre,
		MasterTableVersion: p.BUFR.MasterTableVersion,
	}, logger)

	deps := pipeline.RunnerDeps{
		Open:      func(path string) (grid.Dataset, error) { return netcdf.Open(path) },
		Extractor: extractor,
		Encoder:   encoder,
		Metrics:   metrics,
		Logger:    logger,
	}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		deps.Publisher = publisher
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	var store *sqlite.RunStore
	if cfg.RunDBPath != "" {
		store, err = sqlite.Open(cfg.RunDBPath)
		if err != nil {
			logger.Error("failed to open run ledger", "path", cfg.RunDBPath, "error", err)
			os.Exit(1)
		}
		deps.Recorder = store
		seedLastSuccess(store, metrics, obsTypes(p), logger)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		RawDir:   p.Paths.RawDir,
		BufrDir:  p.Paths.BufrDir,
		Provider: p.Provider,
	}, deps)
	types := obsTypes(p)

	code := 0
	if *dateFlag != "" {
		code = runOnce(runner, *dateFlag, *typeFlag, types, logger)
	} else {
		serve(cfg, runner, store, types, logger)
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("run ledger close error", "error", err)
		}
	}
	os.Exit(code)
}

// obsTypes lists the types the provider has a variable map for.
func obsTypes(p *config.Pipeline) []domain.ObsType {
	vm := p.VariableMap()
	var out []domain.ObsType
	for _, t := range []domain.ObsType{domain.Surface, domain.UpperAir} {
		if _, ok := vm[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// seedLastSuccess restores the last-success gauge from the run ledger.
func seedLastSuccess(store *sqlite.RunStore, metrics *observability.Metrics, types []domain.ObsType, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, t := range types {
		last, err := store.LastSuccess(ctx, t)
		if err != nil {
			logger.Warn("read last successful run", "obs_type", t, "error", err)
			continue
		}
		if last.IsZero() {
			continue
		}
		metrics.LastSuccess.WithLabelValues(string(t)).Set(float64(last.Unix()))
		logger.Info("last successful run", "obs_type", t, "finished_at", last)
	}
}

// readiness is ready when every checker is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runOnce(runner *pipeline.Runner, dateArg, typeArg string, types []domain.ObsType, logger *slog.Logger) int {
	date, err := time.Parse("2006-01-02", dateArg)
	if err != nil {
		logger.Error("invalid -date", "date", dateArg, "error", err)
		return 2
	}
	if typeArg != "all" {
		t, err := domain.ParseObsType(typeArg)
		if err != nil {
			logger.Error("invalid -type", "type", typeArg, "error", err)
			return 2
		}
		types = []domain.ObsType{t}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	for _, t := range types {
		rep, err := runner.Run(ctx, date, t)
		if err != nil {
			logger.Error("run failed", "obs_type", t, "error", err)
			code = 1
			continue
		}
		fmt.Printf("%s %s: %d/%d observations accepted, %d messages -> %s\n",
			date.Format("2006-01-02"), t, rep.Stats.FinalCount, rep.Stats.InitialCount, rep.Encode.Encoded, rep.OutputPath)
	}
	return code
}

func serve(cfg *config.Config, runner *pipeline.Runner, store *sqlite.RunStore, types []domain.ObsType, logger *slog.Logger) {
	var runs httpadapter.RunLister
	ready := readiness{runner}
	if store != nil {
		runs = store
		ready = readiness{store, runner}
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, runs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var sched *scheduler.Scheduler
	if cfg.Schedule != "" {
		s, err := scheduler.New(cfg.Schedule, cfg.ScheduleLag, types, runner, logger)
		if err != nil {
			logger.Error("invalid schedule", "schedule", cfg.Schedule, "error", err)
			stop()
		} else {
			sched = s
			sched.Start(ctx)
		}
	} else {
		logger.Info("no schedule configured, serving endpoints only")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
