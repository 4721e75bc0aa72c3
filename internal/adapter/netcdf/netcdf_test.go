package netcdf

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attrMap map[string]interface{}

func (m attrMap) Get(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		in    interface{}
		data  []float64
		shape []int
	}{
		{"scalar", float32(2.5), []float64{2.5}, nil},
		{"vector", []float64{1, 2, 3}, []float64{1, 2, 3}, []int{3}},
		{"packed int16", [][]int16{{1, 2}, {3, 4}}, []float64{1, 2, 3, 4}, []int{2, 2}},
		{"rank 3", [][][]float32{{{1, 2, 3}}, {{4, 5, 6}}}, []float64{1, 2, 3, 4, 5, 6}, []int{2, 1, 3}},
		{"empty", []float32{}, []float64{}, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, shape, err := flatten(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)
			assert.Equal(t, tt.shape, shape)
		})
	}
}

func TestFlatten_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
	}{
		{"nil", nil},
		{"ragged", [][]float32{{1, 2}, {3}}},
		{"text", "temperature"},
		{"strings", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := flatten(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestUnpack(t *testing.T) {
	data := []float64{100, -32767, 200, 5}
	unpack(data, attrMap{
		attrScale:   []float64{0.5},
		attrOffset:  250.0,
		attrFill:    int16(-32767),
		attrMissing: float32(5),
	})

	assert.Equal(t, 300.0, data[0])
	assert.True(t, math.IsNaN(data[1]))
	assert.Equal(t, 350.0, data[2])
	assert.True(t, math.IsNaN(data[3]))
}

func TestUnpack_NoAttributes(t *testing.T) {
	data := []float64{1.5, -2}
	unpack(data, attrMap{})
	assert.Equal(t, []float64{1.5, -2}, data)
}

func TestAttrFloat(t *testing.T) {
	attrs := attrMap{"a": int32(7), "b": []float32{}, "c": "K"}

	v, ok := attrFloat(attrs, "a")
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = attrFloat(attrs, "b")
	assert.False(t, ok)
	_, ok = attrFloat(attrs, "c")
	assert.False(t, ok)
	_, ok = attrFloat(attrs, "missing")
	assert.False(t, ok)
}

func TestReshape_FlattenRoundTrip(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	shape := []int{2, 3, 2}

	nested := reshape(data, shape).Interface()
	require.IsType(t, [][][]float32{}, nested)
	assert.Equal(t, float32(12), nested.([][][]float32)[1][2][1])

	got, gotShape, err := flatten(nested)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, shape, gotShape)
}

func TestReshape_Scalar(t *testing.T) {
	assert.Equal(t, float32(3), reshape([]float64{3}, nil).Interface())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "ecmwf-era5_20250601_surface.nc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
