package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/bufr"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
	"github.com/couchcryptid/grid-obs-bufr/internal/observability"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/couchcryptid/grid-obs-bufr/internal/qc"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockPublisher struct {
	mu      sync.Mutex
	reports []pipeline.Report
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, r pipeline.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

type mockRecorder struct {
	reports []pipeline.Report
	err     error
}

func (m *mockRecorder) Record(_ context.Context, r pipeline.Report) error {
	m.reports = append(m.reports, r)
	return m.err
}

type trackedDataset struct {
	grid.Dataset
	closed bool
}

func (d *trackedDataset) Close() error {
	d.closed = true
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

type runnerFixture struct {
	runner    *pipeline.Runner
	publisher *mockPublisher
	recorder  *mockRecorder
	metrics   *observability.Metrics
	dataset   *trackedDataset
	cfg       pipeline.RunnerConfig
	opened    []string
}

func newRunnerFixture(t *testing.T, ds grid.Dataset) *runnerFixture {
	t.Helper()
	dir := t.TempDir()
	f := &runnerFixture{
		publisher: &mockPublisher{},
		recorder:  &mockRecorder{},
		metrics:   newTestMetrics(),
		cfg: pipeline.RunnerConfig{
			RawDir:   filepath.Join(dir, "raw"),
			BufrDir:  filepath.Join(dir, "bufr"),
			Provider: "ecmwf-era5",
		},
	}
	if ds != nil {
		f.dataset = &trackedDataset{Dataset: ds}
	}
	open := func(path string) (grid.Dataset, error) {
		f.opened = append(f.opened, path)
		if f.dataset == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return f.dataset, nil
	}
	f.runner = pipeline.NewRunner(f.cfg, pipeline.RunnerDeps{
		Open:      open,
		Extractor: newExtractor(qc.NewPhysical(scenarioBounds(), discardLogger()), &stubAnomaly{}, 2),
		Encoder:   bufr.NewEncoder(bufr.Options{}, discardLogger()),
		Publisher: f.publisher,
		Recorder:  f.recorder,
		Metrics:   f.metrics,
		Logger:    discardLogger(),
	})
	return f
}

func freezeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })
	return clock
}

// --- tests ---

func TestRunnerConfig_Paths(t *testing.T) {
	cfg := pipeline.RunnerConfig{RawDir: "data/raw", BufrDir: "data/bufr", Provider: "ecmwf-era5"}
	assert.Equal(t, filepath.Join("data/raw", "ecmwf-era5_20250601_surface.nc"), cfg.InputPath(runDate, domain.Surface))
	assert.Equal(t, filepath.Join("data/bufr", "ecmwf-era5_20250601_upper_air.bufr"), cfg.OutputPath(runDate, domain.UpperAir))
}

func TestRunner_Run_HappyPath(t *testing.T) {
	freezeClock(t)
	ds := surfaceGrid(t, 1, 2, 2,
		[]float64{290, 100, 300, 305},
		[]float64{101000, 102000, 90000, 104000},
	)
	f := newRunnerFixture(t, ds)
	require.Error(t, f.runner.CheckReadiness(context.Background()))

	rep, err := f.runner.Run(context.Background(), runDate.Add(15*time.Hour), domain.Surface)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, runDate, rep.Date)
	assert.Equal(t, []string{f.cfg.InputPath(runDate, domain.Surface)}, f.opened)
	assert.Equal(t, f.cfg.OutputPath(runDate, domain.Surface), rep.OutputPath)
	assert.Equal(t, 2, rep.Stats.FinalCount)
	assert.Equal(t, bufr.Result{Encoded: 2}, rep.Encode)
	assert.Empty(t, rep.Error)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), rep.StartedAt)
	assert.True(t, f.dataset.closed)

	data, err := os.ReadFile(rep.OutputPath)
	require.NoError(t, err)
	msgs, err := bufr.Split(data)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.Len(t, f.publisher.reports, 1)
	assert.Equal(t, rep.RunID, f.publisher.reports[0].RunID)
	require.Len(t, f.recorder.reports, 1)
	assert.Equal(t, *rep, f.recorder.reports[0])

	require.NoError(t, f.runner.CheckReadiness(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("surface", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Observations.WithLabelValues("physical", "fail")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MessagesEncoded))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MessagesPublished))
}

func TestRunner_Run_NoSurvivorsSkipsEncoding(t *testing.T) {
	ds := surfaceGrid(t, 1, 2, 2, fill(4, 100), fill(4, 101000))
	f := newRunnerFixture(t, ds)

	rep, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Stats.FailPhysical)
	assert.Zero(t, rep.Stats.FinalCount)
	assert.Empty(t, rep.OutputPath)
	assert.Empty(t, f.publisher.reports)
	require.Len(t, f.recorder.reports, 1)

	_, statErr := os.Stat(f.cfg.OutputPath(runDate, domain.Surface))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	assert.NoError(t, f.runner.CheckReadiness(context.Background()))
}

func TestRunner_Run_NoSurvivorsRemovesStaleOutput(t *testing.T) {
	ds := surfaceGrid(t, 1, 2, 2, fill(4, 100), fill(4, 101000))
	f := newRunnerFixture(t, ds)

	stale := f.cfg.OutputPath(runDate, domain.Surface)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("BUFR from an earlier run"), 0o644))

	rep, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.NoError(t, err)
	assert.Zero(t, rep.Stats.FinalCount)
	assert.Empty(t, rep.OutputPath)

	_, statErr := os.Stat(stale)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunner_Run_MissingInput(t *testing.T) {
	f := newRunnerFixture(t, nil)

	rep, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NotNil(t, rep)
	assert.Contains(t, rep.Error, "not found")
	assert.Equal(t, domain.Stats{}, rep.Stats)

	require.Len(t, f.recorder.reports, 1)
	assert.NotEmpty(t, f.recorder.reports[0].Error)
	assert.Error(t, f.runner.CheckReadiness(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("surface", "error")))
}

func TestRunner_Run_StructuralErrorStopsRun(t *testing.T) {
	ds := surfaceGrid(t, 5, 1, 1, fill(5, 290), fill(5, 101000))
	f := newRunnerFixture(t, ds)

	rep, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.ErrorIs(t, err, domain.ErrStructure)
	assert.Zero(t, rep.Stats.InitialCount)
	assert.Empty(t, f.publisher.reports)
	assert.True(t, f.dataset.closed)
}

func TestRunner_Run_UnknownObsType(t *testing.T) {
	f := newRunnerFixture(t, nil)

	rep, err := f.runner.Run(context.Background(), runDate, "radar")
	require.ErrorIs(t, err, domain.ErrUnknownObsType)
	assert.Nil(t, rep)
	assert.Empty(t, f.opened)
	assert.Empty(t, f.recorder.reports)
}

func TestRunner_Run_PublishError(t *testing.T) {
	ds := surfaceGrid(t, 1, 1, 1, []float64{290}, []float64{101000})
	f := newRunnerFixture(t, ds)
	f.publisher.err = errors.New("broker down")

	rep, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.NotEmpty(t, rep.OutputPath, "file is written before publishing")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishErrors))
}

func TestRunner_Run_RecorderErrorIgnored(t *testing.T) {
	ds := surfaceGrid(t, 1, 1, 1, []float64{290}, []float64{101000})
	f := newRunnerFixture(t, ds)
	f.recorder.err = errors.New("database is locked")

	_, err := f.runner.Run(context.Background(), runDate, domain.Surface)
	require.NoError(t, err)
}
