// Package netcdf reads and writes grid variables as NetCDF files.
package netcdf

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
)

// Packing attributes applied when a variable is loaded.
const (
	attrScale   = "scale_factor"
	attrOffset  = "add_offset"
	attrFill    = "_FillValue"
	attrMissing = "missing_value"
)

// attributes is the subset of api.AttributeMap used for unpacking.
type attributes interface {
	Get(key string) (interface{}, bool)
}

// Dataset is a grid.Dataset backed by an open NetCDF file. Variables are
// read on demand and returned unpacked as float64.
type Dataset struct {
	path  string
	group api.Group
	names map[string]struct{}
}

// Open opens a NetCDF file. A missing file is reported as domain.ErrNotFound.
func Open(path string) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: grid file %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat grid file: %w", err)
	}
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStructure, path, err)
	}
	names := make(map[string]struct{})
	for _, name := range g.ListVariables() {
		names[name] = struct{}{}
	}
	return &Dataset{path: path, group: g, names: names}, nil
}

func (d *Dataset) Has(name string) bool {
	_, ok := d.names[name]
	return ok
}

// Variable loads and unpacks one variable.
func (d *Dataset) Variable(name string) (*grid.Variable, error) {
	if !d.Has(name) {
		return nil, fmt.Errorf("%w: variable %q in %s", domain.ErrNotFound, name, d.path)
	}
	v, err := d.group.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", domain.ErrStructure, name, err)
	}
	data, shape, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %q: %v", domain.ErrStructure, name, err)
	}
	if len(shape) < len(v.Dimensions) && len(data) == 0 {
		shape = append(shape, make([]int, len(v.Dimensions)-len(shape))...)
	}
	if v.Attributes != nil {
		unpack(data, v.Attributes)
	}
	return grid.NewVariable(name, v.Dimensions, shape, data)
}

func (d *Dataset) Close() error {
	d.group.Close()
	return nil
}

// flatten converts nested numeric slices into row-major float64 data and
// the shape of the nesting. A bare number is a rank-0 value.
func flatten(values interface{}) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errors.New("no values")
	}

	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float64, 0, n)
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			x, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("unsupported element type %s", v.Type())
			}
			data = append(data, x)
			return nil
		}
		if v.Kind() != reflect.Slice {
			return fmt.Errorf("expected slice at depth %d, got %s", depth, v.Kind())
		}
		if v.Len() != shape[depth] {
			return fmt.Errorf("ragged array at depth %d: %d != %d", depth, v.Len(), shape[depth])
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return data, shape, nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}

// attrFloat reads a numeric attribute. Single-element arrays are accepted.
func attrFloat(attrs attributes, key string) (float64, bool) {
	raw, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	v := reflect.ValueOf(raw)
	if v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			return 0, false
		}
		v = v.Index(0)
	}
	return toFloat(v)
}

// unpack maps fill and missing values to NaN, then applies scale_factor
// and add_offset in place.
func unpack(data []float64, attrs attributes) {
	fill, hasFill := attrFloat(attrs, attrFill)
	missing, hasMissing := attrFloat(attrs, attrMissing)
	scale, ok := attrFloat(attrs, attrScale)
	if !ok {
		scale = 1
	}
	offset, _ := attrFloat(attrs, attrOffset)

	for i, raw := range data {
		if (hasFill && raw == fill) || (hasMissing && raw == missing) {
			data[i] = math.NaN()
			continue
		}
		data[i] = raw*scale + offset
	}
}
