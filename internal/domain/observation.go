package domain

import (
	"fmt"
	"math"
	"time"
)

// ObsType selects the grid layout and the message template.
type ObsType string

const (
	Surface  ObsType = "surface"
	UpperAir ObsType = "upper_air"
)

// ParseObsType validates an observation type name.
func ParseObsType(s string) (ObsType, error) {
	switch ObsType(s) {
	case Surface, UpperAir:
		return ObsType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownObsType, s)
	}
}

// Profile is the vertical part of an upper-air observation: four parallel
// arrays, one entry per level, ordered by level index. Levels is the
// declared repeat count.
type Profile struct {
	Levels      int       `json:"levels"`
	Pressure    []float64 `json:"pressure"`
	Temperature []float64 `json:"temperature"`
	UWind       []float64 `json:"u_wind"`
	VWind       []float64 `json:"v_wind"`
}

// NewProfile allocates a profile of n levels.
func NewProfile(n int) *Profile {
	return &Profile{
		Levels:      n,
		Pressure:    make([]float64, n),
		Temperature: make([]float64, n),
		UWind:       make([]float64, n),
		VWind:       make([]float64, n),
	}
}

// Validate checks that every array holds exactly Levels entries.
func (p *Profile) Validate() error {
	arrays := []struct {
		name string
		n    int
	}{
		{"pressure", len(p.Pressure)},
		{"temperature", len(p.Temperature)},
		{"u_wind", len(p.UWind)},
		{"v_wind", len(p.VWind)},
	}
	for _, a := range arrays {
		if a.n != p.Levels {
			return fmt.Errorf("%w: profile %s has %d levels, want %d", ErrStructure, a.name, a.n, p.Levels)
		}
	}
	return nil
}

// Observation is one grid point at one time step. Observations are built
// once and never patched: QC either keeps one as-is or drops it.
type Observation struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Pressure    float64   `json:"pressure"`
	UWind       float64   `json:"u_wind"`
	VWind       float64   `json:"v_wind"`

	// Profile is nil for surface observations.
	Profile *Profile `json:"profile,omitempty"`
}

// WindSpeed returns the horizontal wind speed from the two components.
func (o Observation) WindSpeed() float64 {
	return math.Hypot(o.UWind, o.VWind)
}
