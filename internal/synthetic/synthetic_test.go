package synthetic_test

import (
	"testing"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Surface(t *testing.T) {
	ds, err := synthetic.Generate(domain.Surface, synthetic.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"latitude", "longitude", "msl", "t2m", "time", "u10", "v10"}, ds.Names())

	lat, err := ds.Variable("latitude")
	require.NoError(t, err)
	require.Len(t, lat.Data, 41)
	assert.Equal(t, 55.0, lat.Data[0])
	assert.InDelta(t, 45.0, lat.Data[40], 1e-9)

	lon, err := ds.Variable("longitude")
	require.NoError(t, err)
	require.Len(t, lon.Data, 61)
	assert.Equal(t, -10.0, lon.Data[0])
	assert.InDelta(t, 5.0, lon.Data[60], 1e-9)

	t2m, err := ds.Variable("t2m")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 41, 61}, t2m.Shape)
	assert.Equal(t, []string{"time", "latitude", "longitude"}, t2m.Dims)

	var sum float64
	for _, x := range t2m.Data {
		sum += x
	}
	assert.InDelta(t, 285, sum/float64(len(t2m.Data)), 1)
}

func TestGenerate_UpperAir(t *testing.T) {
	opts := synthetic.DefaultOptions()
	opts.Hours = []int{0, 12}
	ds, err := synthetic.Generate(domain.UpperAir, opts)
	require.NoError(t, err)

	level, err := ds.Variable("pressure_level")
	require.NoError(t, err)
	assert.Equal(t, opts.Levels, level.Data)

	temp, err := ds.Variable("t")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6, 41, 61}, temp.Shape)
	assert.Greater(t, temp.At(0, 0, 0, 0), temp.At(0, 5, 0, 0)+20, "colder aloft")
}

func TestGenerate_Deterministic(t *testing.T) {
	opts := synthetic.DefaultOptions()
	opts.Area = synthetic.Area{North: 50, West: 0, South: 49, East: 1}
	opts.Step = 0.5

	a, err := synthetic.Generate(domain.Surface, opts)
	require.NoError(t, err)
	b, err := synthetic.Generate(domain.Surface, opts)
	require.NoError(t, err)
	va, _ := a.Variable("msl")
	vb, _ := b.Variable("msl")
	assert.Equal(t, va.Data, vb.Data)

	opts.Seed = 2
	c, err := synthetic.Generate(domain.Surface, opts)
	require.NoError(t, err)
	vc, _ := c.Variable("msl")
	assert.NotEqual(t, va.Data, vc.Data)
}

func TestGenerate_UnknownType(t *testing.T) {
	_, err := synthetic.Generate("radar", synthetic.DefaultOptions())
	assert.ErrorIs(t, err, domain.ErrUnknownObsType)
}
