// Package qc implements the two quality-control stages applied to every
// extracted observation: configured physical range checks, then anomaly
// classification by a pre-trained model.
package qc

import (
	"log/slog"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// Bound keys, as they appear in the quality_control configuration.
const (
	KeyTemperature = "temperature_K"
	KeyPressure    = "pressure_Pa"
	KeyWind        = "wind_component_ms"
)

// Bound is an inclusive [Min, Max] range.
type Bound struct {
	Min float64
	Max float64
}

// Contains reports Min <= v <= Max. NaN is never contained.
func (b Bound) Contains(v float64) bool {
	return b.Min <= v && v <= b.Max
}

// Bounds maps bound keys to ranges.
type Bounds map[string]Bound

// Physical validates observations against configured ranges.
//
// A variable whose bound key is absent from the configuration is not
// checked at all: forgetting to configure temperature_K silently disables
// the temperature check rather than rejecting every observation.
type Physical struct {
	bounds Bounds
	logger *slog.Logger
}

// NewPhysical creates a range checker. Bounds are copied.
func NewPhysical(bounds Bounds, logger *slog.Logger) *Physical {
	cp := make(Bounds, len(bounds))
	for k, v := range bounds {
		cp[k] = v
	}
	return &Physical{bounds: cp, logger: logger}
}

// Check reports whether temperature, pressure and both wind components are
// within their configured bounds. Upper-air observations must also pass
// at every profile level. Their pressures come from the level coordinate
// and are not range-checked; pressure_Pa applies to surface pressure only.
func (p *Physical) Check(obs domain.Observation) bool {
	ok := p.inRange(KeyTemperature, obs.Temperature) &&
		p.inRange(KeyWind, obs.UWind) &&
		p.inRange(KeyWind, obs.VWind)
	if ok && obs.Profile == nil {
		ok = p.inRange(KeyPressure, obs.Pressure)
	}
	if ok && obs.Profile != nil {
		ok = p.allInRange(KeyTemperature, obs.Profile.Temperature) &&
			p.allInRange(KeyWind, obs.Profile.UWind) &&
			p.allInRange(KeyWind, obs.Profile.VWind)
	}
	if !ok {
		p.logger.Debug("physical qc failed",
			"lat", obs.Latitude,
			"lon", obs.Longitude,
			"time", obs.Time,
		)
	}
	return ok
}

func (p *Physical) allInRange(key string, values []float64) bool {
	for _, v := range values {
		if !p.inRange(key, v) {
			return false
		}
	}
	return true
}

func (p *Physical) inRange(key string, value float64) bool {
	b, ok := p.bounds[key]
	if !ok {
		return true
	}
	if !b.Contains(value) {
		p.logger.Debug("value out of range", "key", key, "value", value, "min", b.Min, "max", b.Max)
		return false
	}
	return true
}
