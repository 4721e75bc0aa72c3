package qc

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// Classifier labels feature rows +1 (inlier) or -1 (outlier).
// Implementations must be safe for concurrent use.
type Classifier interface {
	Predict(rows [][]float64) ([]int, error)
}

const (
	Inlier  = 1
	Outlier = -1
)

// Features returns the classifier input for an observation:
// temperature, pressure and wind speed.
func Features(obs domain.Observation) []float64 {
	return []float64{obs.Temperature, obs.Pressure, obs.WindSpeed()}
}

// Anomaly wraps a pre-trained classifier with a fail-open policy: only an
// explicit outlier label rejects an observation.
type Anomaly struct {
	model   Classifier
	loadErr error
	logger  *slog.Logger
	failed  atomic.Int64
}

// NewAnomaly loads the model at path. A load failure does not return an
// error; it disables classification for the lifetime of the Anomaly.
func NewAnomaly(path string, logger *slog.Logger) *Anomaly {
	model, err := LoadModel(path)
	if err != nil {
		logger.Error("anomaly model unavailable, ml qc disabled", "path", path, "error", err)
		return &Anomaly{loadErr: err, logger: logger}
	}
	logger.Info("anomaly model loaded", "path", path)
	return &Anomaly{model: model, logger: logger}
}

// NewAnomalyWithClassifier wraps an already-loaded classifier. A nil
// classifier behaves like a failed load.
func NewAnomalyWithClassifier(c Classifier, logger *slog.Logger) *Anomaly {
	a := &Anomaly{model: c, logger: logger}
	if c == nil {
		a.loadErr = fmt.Errorf("%w: no classifier", domain.ErrNotFound)
	}
	return a
}

// Available reports whether a model is loaded.
func (a *Anomaly) Available() bool { return a.model != nil }

// LoadErr returns the reason the model is unavailable, if any.
func (a *Anomaly) LoadErr() error { return a.loadErr }

// Errors returns the number of classification errors seen so far.
func (a *Anomaly) Errors() int64 { return a.failed.Load() }

// Classify runs the model on one observation.
func (a *Anomaly) Classify(obs domain.Observation) (v domain.Verdict) {
	if a.model == nil {
		return domain.VerdictDegraded
	}

	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.logger.Warn("anomaly classification panicked", "panic", r)
			v = domain.VerdictDegraded
		}
	}()

	labels, err := a.model.Predict([][]float64{Features(obs)})
	if err == nil && len(labels) != 1 {
		err = fmt.Errorf("classifier returned %d labels for 1 row", len(labels))
	}
	if err != nil {
		a.failed.Add(1)
		a.logger.Warn("anomaly classification failed, passing observation", "error", err)
		return domain.VerdictDegraded
	}

	if labels[0] == Outlier {
		a.logger.Debug("anomaly qc failed",
			"lat", obs.Latitude,
			"lon", obs.Longitude,
			"time", obs.Time,
		)
		return domain.VerdictReject
	}
	return domain.VerdictAccept
}

// Check reports whether the observation passes the anomaly stage.
func (a *Anomaly) Check(obs domain.Observation) bool {
	return a.Classify(obs).Passed()
}
