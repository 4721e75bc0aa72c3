package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
	"golang.org/x/sync/errgroup"
)

// chunkSize is the number of grid points evaluated per worker task.
const chunkSize = 1024

// PhysicalChecker is the deterministic range-check stage.
type PhysicalChecker interface {
	Check(obs domain.Observation) bool
}

// AnomalyClassifier is the statistical stage. It must be safe for
// concurrent use.
type AnomalyClassifier interface {
	Classify(obs domain.Observation) domain.Verdict
}

// ExtractorConfig tunes an Extractor.
type ExtractorConfig struct {
	// Hours are the canonical observation hours matched to time indices.
	Hours []int
	// LevelScale converts the level coordinate to pascals.
	LevelScale float64
	// Workers bounds parallel QC evaluation. Zero means GOMAXPROCS.
	Workers int
}

// Extractor walks a grid and runs both QC stages on every point.
type Extractor struct {
	resolver *grid.Resolver
	physical PhysicalChecker
	anomaly  AnomalyClassifier
	cfg      ExtractorConfig
	logger   *slog.Logger
}

// Extraction is the outcome of one extraction: accepted observations in
// canonical order and the stage counters that produced them.
type Extraction struct {
	Observations []domain.Observation
	Stats        domain.Stats
}

// NewExtractor creates an Extractor with the given stages.
func NewExtractor(resolver *grid.Resolver, physical PhysicalChecker, anomaly AnomalyClassifier, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if len(cfg.Hours) == 0 {
		cfg.Hours = grid.DefaultHours
	}
	if cfg.LevelScale == 0 {
		cfg.LevelScale = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Extractor{
		resolver: resolver,
		physical: physical,
		anomaly:  anomaly,
		cfg:      cfg,
		logger:   logger,
	}
}

// fields holds the resolved variables of one extraction.
type fields struct {
	obsType     domain.ObsType
	times       []time.Time
	lats        []float64
	lons        []float64
	levels      []float64 // Pa, upper-air only
	temperature *grid.Variable
	pressure    *grid.Variable // surface only
	uWind       *grid.Variable
	vWind       *grid.Variable
}

type pointResult struct {
	obs      domain.Observation
	physical bool
	verdict  domain.Verdict
}

// Extract resolves the variables for obsType, checks their layout, and
// evaluates every (time, lat, lon) point. Structural problems fail before
// any QC runs and produce no Stats.
func (e *Extractor) Extract(ctx context.Context, ds grid.Dataset, date time.Time, obsType domain.ObsType) (*Extraction, error) {
	if _, err := domain.ParseObsType(string(obsType)); err != nil {
		return nil, err
	}

	f, err := e.load(ds, date, obsType)
	if err != nil {
		return nil, err
	}

	space := grid.IndexSpace{Times: len(f.times), Lats: len(f.lats), Lons: len(f.lons)}
	e.logger.Info("extracting observations",
		"obs_type", obsType,
		"time_steps", space.Times,
		"hours", e.cfg.Hours[:space.Times],
		"points", space.Len(),
	)

	results, err := e.evaluate(ctx, f, space)
	if err != nil {
		return nil, err
	}

	out := &Extraction{Observations: make([]domain.Observation, 0, len(results))}
	st := &out.Stats
	for i := range results {
		r := &results[i]
		st.InitialCount++
		if !r.physical {
			st.FailPhysical++
			continue
		}
		st.PassPhysical++
		if !r.verdict.Passed() {
			st.FailML++
			continue
		}
		st.PassML++
		if r.verdict == domain.VerdictDegraded {
			st.MLDegraded++
		}
		out.Observations = append(out.Observations, r.obs)
	}
	st.FinalCount = len(out.Observations)

	if err := st.Validate(len(out.Observations)); err != nil {
		return nil, fmt.Errorf("qc accounting: %w", err)
	}

	e.logger.Info("qc complete",
		"obs_type", obsType,
		"initial_count", st.InitialCount,
		"fail_physical", st.FailPhysical,
		"fail_ml", st.FailML,
		"ml_degraded", st.MLDegraded,
		"final_count", st.FinalCount,
	)
	return out, nil
}

// evaluate runs QC on every point of the space in parallel. Results are
// slotted by canonical position, so the caller sees them in order.
func (e *Extractor) evaluate(ctx context.Context, f *fields, space grid.IndexSpace) ([]pointResult, error) {
	n := space.Len()
	results := make([]pointResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				obs := f.observation(space.At(i))
				r := pointResult{obs: obs, physical: e.physical.Check(obs)}
				if r.physical {
					r.verdict = e.anomaly.Classify(obs)
				}
				results[i] = r
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Extractor) load(ds grid.Dataset, date time.Time, obsType domain.ObsType) (*fields, error) {
	f := &fields{obsType: obsType}

	lat, err := e.coordinate(ds, grid.Latitude, obsType)
	if err != nil {
		return nil, err
	}
	lon, err := e.coordinate(ds, grid.Longitude, obsType)
	if err != nil {
		return nil, err
	}
	f.lats, f.lons = lat.Data, lon.Data

	if f.temperature, err = e.resolver.Resolve(ds, grid.Temperature, obsType); err != nil {
		return nil, err
	}
	if f.uWind, err = e.resolver.Resolve(ds, grid.UWind, obsType); err != nil {
		return nil, err
	}
	if f.vWind, err = e.resolver.Resolve(ds, grid.VWind, obsType); err != nil {
		return nil, err
	}

	var shape []int
	switch obsType {
	case domain.Surface:
		if f.pressure, err = e.resolver.Resolve(ds, grid.Pressure, obsType); err != nil {
			return nil, err
		}
		if f.temperature.Rank() != 3 {
			return nil, fmt.Errorf("%w: surface field %q has rank %d, want (time, lat, lon)",
				domain.ErrStructure, f.temperature.Name, f.temperature.Rank())
		}
		shape = []int{f.temperature.Shape[0], len(f.lats), len(f.lons)}
		if err := checkShapes(shape, f.temperature, f.pressure, f.uWind, f.vWind); err != nil {
			return nil, err
		}
	case domain.UpperAir:
		level, err := e.coordinate(ds, grid.Level, obsType)
		if err != nil {
			return nil, err
		}
		if f.temperature.Rank() != 4 {
			return nil, fmt.Errorf("%w: upper-air field %q has rank %d, want (time, level, lat, lon)",
				domain.ErrStructure, f.temperature.Name, f.temperature.Rank())
		}
		shape = []int{f.temperature.Shape[0], len(level.Data), len(f.lats), len(f.lons)}
		if err := checkShapes(shape, f.temperature, f.uWind, f.vWind); err != nil {
			return nil, err
		}
		f.levels = make([]float64, len(level.Data))
		for i, p := range level.Data {
			f.levels[i] = p * e.cfg.LevelScale
		}
	}

	if f.times, err = grid.ObservationTimes(date, e.cfg.Hours, shape[0]); err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Extractor) coordinate(ds grid.Dataset, name string, obsType domain.ObsType) (*grid.Variable, error) {
	v, err := e.resolver.Resolve(ds, name, obsType)
	if err != nil {
		return nil, err
	}
	if v.Rank() != 1 {
		return nil, fmt.Errorf("%w: coordinate %q has rank %d, want 1", domain.ErrStructure, v.Name, v.Rank())
	}
	return v, nil
}

func checkShapes(want []int, vars ...*grid.Variable) error {
	for _, v := range vars {
		if len(v.Shape) != len(want) {
			return fmt.Errorf("%w: %q has shape %v, want %v", domain.ErrStructure, v.Name, v.Shape, want)
		}
		for i := range want {
			if v.Shape[i] != want[i] {
				return fmt.Errorf("%w: %q has shape %v, want %v", domain.ErrStructure, v.Name, v.Shape, want)
			}
		}
	}
	return nil
}

// observation builds the observation at one index. Upper-air observations
// take their scalar fields from the first level.
func (f *fields) observation(idx grid.Index) domain.Observation {
	obs := domain.Observation{
		Latitude:  f.lats[idx.Lat],
		Longitude: f.lons[idx.Lon],
		Time:      f.times[idx.Time],
	}
	if f.obsType == domain.Surface {
		obs.Temperature = f.temperature.At(idx.Time, idx.Lat, idx.Lon)
		obs.Pressure = f.pressure.At(idx.Time, idx.Lat, idx.Lon)
		obs.UWind = f.uWind.At(idx.Time, idx.Lat, idx.Lon)
		obs.VWind = f.vWind.At(idx.Time, idx.Lat, idx.Lon)
		return obs
	}

	p := domain.NewProfile(len(f.levels))
	for k, pressure := range f.levels {
		p.Pressure[k] = pressure
		p.Temperature[k] = f.temperature.At(idx.Time, k, idx.Lat, idx.Lon)
		p.UWind[k] = f.uWind.At(idx.Time, k, idx.Lat, idx.Lon)
		p.VWind[k] = f.vWind.At(idx.Time, k, idx.Lat, idx.Lon)
	}
	if p.Levels > 0 {
		obs.Temperature = p.Temperature[0]
		obs.Pressure = p.Pressure[0]
		obs.UWind = p.UWind[0]
		obs.VWind = p.VWind[0]
	}
	obs.Profile = p
	return obs
}
