package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/bufr"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
	"github.com/couchcryptid/grid-obs-bufr/internal/observability"
	"github.com/google/uuid"
)

// GridOpener opens the grid file at path. A missing file must wrap
// domain.ErrNotFound.
type GridOpener func(path string) (grid.Dataset, error)

// MessageEncoder writes accepted observations to a message file.
type MessageEncoder interface {
	Encode(observations []domain.Observation, path string, obsType domain.ObsType) (bufr.Result, error)
}

// Publisher distributes the output of a finished run.
type Publisher interface {
	Publish(ctx context.Context, report Report) error
}

// RunRecorder persists run reports.
type RunRecorder interface {
	Record(ctx context.Context, report Report) error
}

// Report describes one run.
type Report struct {
	RunID      string         `json:"run_id"`
	Date       time.Time      `json:"date"`
	ObsType    domain.ObsType `json:"obs_type"`
	Provider   string         `json:"provider"`
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path,omitempty"`
	Stats      domain.Stats   `json:"stats"`
	Encode     bufr.Result    `json:"encode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
}

// RunnerConfig names the input and output locations of a run.
type RunnerConfig struct {
	RawDir   string
	BufrDir  string
	Provider string
}

// InputPath is the grid file for a date, e.g. raw/ecmwf-era5_20250601_surface.nc.
func (c RunnerConfig) InputPath(date time.Time, obsType domain.ObsType) string {
	return filepath.Join(c.RawDir, c.fileName(date, obsType, "nc"))
}

// OutputPath is the message file for a date.
func (c RunnerConfig) OutputPath(date time.Time, obsType domain.ObsType) string {
	return filepath.Join(c.BufrDir, c.fileName(date, obsType, "bufr"))
}

func (c RunnerConfig) fileName(date time.Time, obsType domain.ObsType, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", c.Provider, date.Format("20060102"), obsType, ext)
}

// RunnerDeps are the collaborators of a Runner. Publisher and Recorder are
// optional.
type RunnerDeps struct {
	Open      GridOpener
	Extractor *Extractor
	Encoder   MessageEncoder
	Publisher Publisher
	Recorder  RunRecorder
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Runner executes complete runs: open, extract, encode, publish, record.
// Runs are serialized.
type Runner struct {
	cfg   RunnerConfig
	deps  RunnerDeps
	mu    sync.Mutex
	ready atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, deps RunnerDeps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

// CheckReadiness returns nil once a run has completed successfully.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// Run processes one date. The returned report is non-nil whenever the
// observation type is valid, including on failure.
func (r *Runner) Run(ctx context.Context, date time.Time, obsType domain.ObsType) (*Report, error) {
	if _, err := domain.ParseObsType(string(obsType)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	rep := &Report{
		RunID:     uuid.NewString(),
		Date:      day,
		ObsType:   obsType,
		Provider:  r.cfg.Provider,
		InputPath: r.cfg.InputPath(day, obsType),
		StartedAt: domain.Now(),
	}
	logger := r.deps.Logger.With(
		"run_id", rep.RunID,
		"obs_type", obsType,
		"date", day.Format(time.DateOnly),
	)
	m := r.deps.Metrics

	m.RunInFlight.Set(1)
	defer m.RunInFlight.Set(0)
	start := time.Now()

	err := r.run(ctx, rep, logger)

	rep.FinishedAt = domain.Now()
	m.RunDuration.WithLabelValues(string(obsType)).Observe(time.Since(start).Seconds())
	if err != nil {
		rep.Error = err.Error()
		m.RunsTotal.WithLabelValues(string(obsType), "error").Inc()
		logger.Error("run failed", "error", err)
	} else {
		m.RunsTotal.WithLabelValues(string(obsType), "success").Inc()
		m.LastSuccess.WithLabelValues(string(obsType)).Set(float64(rep.FinishedAt.Unix()))
		r.ready.Store(true)
		logger.Info("run complete",
			"final_count", rep.Stats.FinalCount,
			"encoded", rep.Encode.Encoded,
			"output", rep.OutputPath,
		)
	}

	r.record(ctx, *rep, logger)
	return rep, err
}

func (r *Runner) run(ctx context.Context, rep *Report, logger *slog.Logger) error {
	ds, err := r.deps.Open(rep.InputPath)
	if err != nil {
		return fmt.Errorf("open grid: %w", err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			logger.Warn("close grid", "error", cerr)
		}
	}()

	ext, err := r.deps.Extractor.Extract(ctx, ds, rep.Date, rep.ObsType)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	rep.Stats = ext.Stats
	r.observeStats(ext.Stats)

	out := r.cfg.OutputPath(rep.Date, rep.ObsType)
	if len(ext.Observations) == 0 {
		logger.Warn("no observations passed qc, skipping encoding")
		// A file from an earlier run of this date would outlive its report.
		if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove stale output: %w", domain.ErrOutput, err)
		}
		return nil
	}

	if err := os.MkdirAll(r.cfg.BufrDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrOutput, err)
	}
	res, err := r.deps.Encoder.Encode(ext.Observations, out, rep.ObsType)
	rep.Encode = res
	r.deps.Metrics.MessagesEncoded.Add(float64(res.Encoded))
	r.deps.Metrics.MessagesSkipped.Add(float64(len(res.Skipped)))
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	rep.OutputPath = out

	if r.deps.Publisher != nil && res.Encoded > 0 {
		if err := r.deps.Publisher.Publish(ctx, *rep); err != nil {
			r.deps.Metrics.PublishErrors.Inc()
			return fmt.Errorf("publish: %w", err)
		}
		r.deps.Metrics.MessagesPublished.Add(float64(res.Encoded))
	}
	return nil
}

func (r *Runner) observeStats(s domain.Stats) {
	obs := r.deps.Metrics.Observations
	obs.WithLabelValues("physical", "pass").Add(float64(s.PassPhysical))
	obs.WithLabelValues("physical", "fail").Add(float64(s.FailPhysical))
	obs.WithLabelValues("ml", "pass").Add(float64(s.PassML))
	obs.WithLabelValues("ml", "fail").Add(float64(s.FailML))
	r.deps.Metrics.MLDegraded.Add(float64(s.MLDegraded))
}

// record stores the report. Ledger failures never fail the run.
func (r *Runner) record(ctx context.Context, rep Report, logger *slog.Logger) {
	if r.deps.Recorder == nil {
		return
	}
	if err := r.deps.Recorder.Record(context.WithoutCancel(ctx), rep); err != nil {
		logger.Warn("record run failed", "error", err)
	}
}
