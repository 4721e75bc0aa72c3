// Package synthetic generates ERA5-shaped grids with random fields, used
// when no real data can be retrieved.
package synthetic

import (
	"math"
	"math/rand/v2"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
)

// Area is a north/west/south/east bounding box in degrees.
type Area struct {
	North, West, South, East float64
}

// Options shape a synthetic grid.
type Options struct {
	Area  Area
	Step  float64 // grid spacing in degrees
	Hours []int
	// Levels are pressure levels in hPa, upper-air only.
	Levels []float64
	Seed   uint64
}

// DefaultOptions covers western Europe at 0.25 degrees.
func DefaultOptions() Options {
	return Options{
		Area:   Area{North: 55, West: -10, South: 45, East: 5},
		Step:   0.25,
		Hours:  append([]int(nil), grid.DefaultHours...),
		Levels: []float64{1000, 925, 850, 700, 500, 300},
		Seed:   1,
	}
}

// Dimension and variable names written to synthetic files, matching ERA5.
const (
	dimTime      = "time"
	dimLevel     = "pressure_level"
	dimLatitude  = "latitude"
	dimLongitude = "longitude"
)

// Generate builds a dataset for obsType. Latitudes run north to south and
// both coordinate axes include their end points.
func Generate(obsType domain.ObsType, opts Options) (*grid.Memory, error) {
	obsType, err := domain.ParseObsType(string(obsType))
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	lats := axis(opts.Area.North, opts.Area.South, -opts.Step)
	lons := axis(opts.Area.West, opts.Area.East, opts.Step)
	times := make([]float64, len(opts.Hours))
	for i, h := range opts.Hours {
		times[i] = float64(h)
	}

	vars := []*grid.Variable{
		must(grid.NewVariable(dimLatitude, []string{dimLatitude}, []int{len(lats)}, lats)),
		must(grid.NewVariable(dimLongitude, []string{dimLongitude}, []int{len(lons)}, lons)),
		must(grid.NewVariable(dimTime, []string{dimTime}, []int{len(times)}, times)),
	}

	if obsType == domain.Surface {
		dims := []string{dimTime, dimLatitude, dimLongitude}
		shape := []int{len(times), len(lats), len(lons)}
		n := shape[0] * shape[1] * shape[2]
		vars = append(vars,
			must(grid.NewVariable("t2m", dims, shape, normal(rng, n, 285, 10))),
			must(grid.NewVariable("msl", dims, shape, normal(rng, n, 101325, 500))),
			must(grid.NewVariable("u10", dims, shape, normal(rng, n, 5, 5))),
			must(grid.NewVariable("v10", dims, shape, normal(rng, n, 2, 5))),
		)
		return grid.NewMemory(vars...), nil
	}

	dims := []string{dimTime, dimLevel, dimLatitude, dimLongitude}
	shape := []int{len(times), len(opts.Levels), len(lats), len(lons)}
	plane := len(lats) * len(lons)
	n := shape[0] * shape[1] * plane
	t := make([]float64, n)
	u := make([]float64, n)
	v := make([]float64, n)
	for i := range t {
		p := opts.Levels[(i/plane)%len(opts.Levels)]
		// Standard-atmosphere temperature and a wind that strengthens aloft.
		t[i] = 288.15*math.Pow(p/1013.25, 0.190263) + rng.NormFloat64()*2
		u[i] = 5 + 20*(1-p/1000) + rng.NormFloat64()*5
		v[i] = 2 + rng.NormFloat64()*5
	}
	vars = append(vars,
		must(grid.NewVariable(dimLevel, []string{dimLevel}, []int{len(opts.Levels)}, append([]float64(nil), opts.Levels...))),
		must(grid.NewVariable("t", dims, shape, t)),
		must(grid.NewVariable("u", dims, shape, u)),
		must(grid.NewVariable("v", dims, shape, v)),
	)
	return grid.NewMemory(vars...), nil
}

// axis returns from, from+step, ... up to and including to.
func axis(from, to, step float64) []float64 {
	if step == 0 {
		return []float64{from}
	}
	n := int(math.Floor((to-from)/step+1e-9)) + 1
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func normal(rng *rand.Rand, n int, mean, stddev float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*stddev
	}
	return out
}

// must panics on a shape error, which would be a bug in this package.
func must(v *grid.Variable, err error) *grid.Variable {
	if err != nil {
		panic(err)
	}
	return v
}
