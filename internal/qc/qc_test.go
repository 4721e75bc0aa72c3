package qc

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBounds() Bounds {
	return Bounds{
		KeyTemperature: {Min: 250, Max: 320},
		KeyPressure:    {Min: 95000, Max: 105000},
	}
}

func surfaceObs(temp, pres, u, v float64) domain.Observation {
	return domain.Observation{Latitude: 50, Longitude: 0, Temperature: temp, Pressure: pres, UWind: u, VWind: v}
}

func TestPhysical_Check(t *testing.T) {
	p := NewPhysical(testBounds(), discardLogger())

	tests := []struct {
		name string
		obs  domain.Observation
		want bool
	}{
		{"all in range", surfaceObs(290, 101000, 1, 1), true},
		{"temperature too low", surfaceObs(100, 102000, 1, 1), false},
		{"pressure too low", surfaceObs(300, 90000, 1, 1), false},
		{"temperature at min", surfaceObs(250, 101000, 1, 1), true},
		{"temperature at max", surfaceObs(320, 101000, 1, 1), true},
		{"pressure at max", surfaceObs(290, 105000, 1, 1), true},
		{"just above max", surfaceObs(320.0001, 101000, 1, 1), false},
		{"wind unconfigured passes anything", surfaceObs(290, 101000, 1e6, -1e6), true},
		{"NaN fails configured bound", surfaceObs(math.NaN(), 101000, 1, 1), false},
		{"NaN passes unconfigured bound", surfaceObs(290, 101000, math.NaN(), 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Check(tt.obs))
		})
	}
}

func TestPhysical_NoBoundsPassesEverything(t *testing.T) {
	p := NewPhysical(nil, discardLogger())
	assert.True(t, p.Check(surfaceObs(-1000, -1, 500, 500)))
}

func TestPhysical_WindBoundAppliesToBothComponents(t *testing.T) {
	p := NewPhysical(Bounds{KeyWind: {Min: -50, Max: 50}}, discardLogger())
	assert.True(t, p.Check(surfaceObs(0, 0, 50, -50)))
	assert.False(t, p.Check(surfaceObs(0, 0, 10, 51)))
	assert.False(t, p.Check(surfaceObs(0, 0, -51, 10)))
}

func TestPhysical_ProfileLevels(t *testing.T) {
	p := NewPhysical(testBounds(), discardLogger())
	obs := surfaceObs(290, 100000, 1, 1)
	obs.Profile = &domain.Profile{
		Levels:      2,
		Pressure:    []float64{100000, 100000},
		Temperature: []float64{290, 260},
		UWind:       []float64{1, 2},
		VWind:       []float64{1, 2},
	}
	assert.True(t, p.Check(obs))

	obs.Profile.Temperature = []float64{290, 200}
	assert.False(t, p.Check(obs), "level temperature outside bounds rejects the whole observation")
}

func TestPhysical_ProfilePressureFromLevelsNotChecked(t *testing.T) {
	p := NewPhysical(testBounds(), discardLogger())
	obs := surfaceObs(250, 30000, 1, 1)
	obs.Profile = &domain.Profile{
		Levels:      3,
		Pressure:    []float64{30000, 50000, 85000},
		Temperature: []float64{250, 260, 280},
		UWind:       []float64{20, 10, 5},
		VWind:       []float64{1, 2, 3},
	}
	assert.True(t, p.Check(obs))

	obs.Profile = nil
	assert.False(t, p.Check(obs), "surface pressure is still range-checked")
}

func TestPhysical_BoundsCopied(t *testing.T) {
	b := testBounds()
	p := NewPhysical(b, discardLogger())
	delete(b, KeyTemperature)
	assert.False(t, p.Check(surfaceObs(100, 101000, 0, 0)))
}

// --- anomaly ---

type stubClassifier struct {
	labels []int
	err    error
	panics bool
	rows   [][]float64
}

func (s *stubClassifier) Predict(rows [][]float64) ([]int, error) {
	if s.panics {
		panic("boom")
	}
	s.rows = append(s.rows, rows...)
	return s.labels, s.err
}

func TestAnomaly_Classify(t *testing.T) {
	tests := []struct {
		name  string
		model *stubClassifier
		want  domain.Verdict
	}{
		{"inlier", &stubClassifier{labels: []int{Inlier}}, domain.VerdictAccept},
		{"outlier", &stubClassifier{labels: []int{Outlier}}, domain.VerdictReject},
		{"classifier error", &stubClassifier{err: errors.New("shape mismatch")}, domain.VerdictDegraded},
		{"wrong label count", &stubClassifier{labels: []int{}}, domain.VerdictDegraded},
		{"panic", &stubClassifier{panics: true}, domain.VerdictDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnomalyWithClassifier(tt.model, discardLogger())
			got := a.Classify(surfaceObs(290, 101000, 3, 4))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != domain.VerdictReject, a.Check(surfaceObs(290, 101000, 3, 4)))
		})
	}
}

func TestAnomaly_ErrorsCounted(t *testing.T) {
	a := NewAnomalyWithClassifier(&stubClassifier{err: errors.New("bad")}, discardLogger())
	a.Classify(surfaceObs(290, 101000, 0, 0))
	a.Classify(surfaceObs(290, 101000, 0, 0))
	assert.Equal(t, int64(2), a.Errors())
	assert.True(t, a.Available())
}

func TestAnomaly_FeatureVector(t *testing.T) {
	stub := &stubClassifier{labels: []int{Inlier}}
	a := NewAnomalyWithClassifier(stub, discardLogger())
	a.Classify(surfaceObs(290, 101000, 3, 4))
	require.Len(t, stub.rows, 1)
	assert.Equal(t, []float64{290, 101000, 5}, stub.rows[0])
}

func TestAnomaly_MissingModelFailsOpen(t *testing.T) {
	a := NewAnomaly(filepath.Join(t.TempDir(), "missing.json"), discardLogger())

	assert.False(t, a.Available())
	assert.ErrorIs(t, a.LoadErr(), domain.ErrNotFound)

	// Values a loaded model would certainly flag.
	for _, obs := range []domain.Observation{
		surfaceObs(290, 101000, 1, 1),
		surfaceObs(1e9, -1e9, 1e9, 1e9),
		surfaceObs(math.NaN(), math.NaN(), 0, 0),
	} {
		assert.True(t, a.Check(obs))
		assert.Equal(t, domain.VerdictDegraded, a.Classify(obs))
	}
}

func TestAnomaly_IncompatibleArtifactFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.joblib")
	require.NoError(t, os.WriteFile(path, []byte{0x80, 0x04, 0x95}, 0o600))

	a := NewAnomaly(path, discardLogger())
	assert.False(t, a.Available())
	require.Error(t, a.LoadErr())
	assert.True(t, a.Check(surfaceObs(1e9, 0, 0, 0)))
}

// --- isolation forest ---

// singleSplitForest isolates temperatures above 300 K after one split.
func singleSplitForest() *IsolationForest {
	return &IsolationForest{
		MaxSamples: 256,
		Offset:     -0.5,
		NFeatures:  3,
		Trees: []Tree{{
			ChildrenLeft:  []int{1, leaf, leaf},
			ChildrenRight: []int{2, leaf, leaf},
			Feature:       []int{0, -2, -2},
			Threshold:     []float64{300, -2, -2},
			NodeSamples:   []int{256, 255, 1},
		}},
	}
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestIsolationForest_Predict(t *testing.T) {
	f := singleSplitForest()
	require.NoError(t, f.Validate())

	labels, err := f.Predict([][]float64{
		{288, 101325, 10},
		{340, 101325, 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{Inlier, Outlier}, labels)
}

func TestIsolationForest_Score(t *testing.T) {
	f := singleSplitForest()

	normal, err := f.Score([]float64{288, 101325, 10})
	require.NoError(t, err)
	assert.InDelta(t, -0.467, normal, 1e-3)

	odd, err := f.Score([]float64{340, 101325, 10})
	require.NoError(t, err)
	assert.InDelta(t, -0.935, odd, 1e-3)
}

func TestIsolationForest_FeatureSubset(t *testing.T) {
	f := singleSplitForest()
	// The tree's only feature is input column 2 (wind speed).
	f.Trees[0].Features = []int{2}

	labels, err := f.Predict([][]float64{{400, 0, 10}, {0, 0, 400}})
	require.NoError(t, err)
	assert.Equal(t, []int{Inlier, Outlier}, labels)
}

func TestIsolationForest_RejectsBadRows(t *testing.T) {
	f := singleSplitForest()

	_, err := f.Predict([][]float64{{1, 2}})
	require.Error(t, err)

	_, err = f.Predict([][]float64{{math.Inf(1), 2, 3}})
	require.Error(t, err)
}

func TestIsolationForest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *IsolationForest)
	}{
		{"no trees", func(f *IsolationForest) { f.Trees = nil }},
		{"max samples", func(f *IsolationForest) { f.MaxSamples = 1 }},
		{"ragged arrays", func(f *IsolationForest) { f.Trees[0].Threshold = []float64{1} }},
		{"backward child", func(f *IsolationForest) { f.Trees[0].ChildrenLeft[0] = 0 }},
		{"feature out of range", func(f *IsolationForest) { f.Trees[0].Feature[0] = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := singleSplitForest()
			tt.mutate(f)
			assert.Error(t, f.Validate())
		})
	}
}

func TestLoadModel_RoundTrip(t *testing.T) {
	data, err := MarshalModel(singleSplitForest())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "qc_anomaly_model.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	a := NewAnomaly(path, discardLogger())
	require.True(t, a.Available())
	assert.Equal(t, domain.VerdictAccept, a.Classify(surfaceObs(288, 101325, 3, 4)))
	assert.Equal(t, domain.VerdictReject, a.Classify(surfaceObs(340, 101325, 3, 4)))
}

func TestLoadModel_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"unknown kind", write("kind.json", `{"kind":"svm","version":1,"model":{}}`)},
		{"unknown version", write("version.json", `{"kind":"isolation_forest","version":9,"model":{}}`)},
		{"invalid forest", write("forest.json", `{"kind":"isolation_forest","version":1,"model":{"max_samples":256,"n_features":3,"trees":[]}}`)},
		{"not json", write("junk.json", `junk`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModel(tt.path)
			require.Error(t, err)
			assert.NotErrorIs(t, err, domain.ErrNotFound)
		})
	}
}
