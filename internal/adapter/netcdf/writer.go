package netcdf

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
)

// Writer creates a NetCDF classic file from grid variables. Values are
// stored as float32.
type Writer struct {
	path string
	w    *cdf.CDFWriter
}

// Create opens path for writing, truncating any existing file.
func Create(path string) (*Writer, error) {
	w, err := cdf.OpenWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{path: path, w: w}, nil
}

// Add writes one variable with optional attributes. Dimensions shared
// between variables must have the same extent.
func (w *Writer) Add(v *grid.Variable, attrs map[string]interface{}) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	om, err := util.NewOrderedMap(keys, attrs)
	if err != nil {
		return fmt.Errorf("attributes of %q: %w", v.Name, err)
	}
	err = w.w.AddVar(v.Name, api.Variable{
		Values:     reshape(v.Data, v.Shape).Interface(),
		Dimensions: v.Dims,
		Attributes: om,
	})
	if err != nil {
		return fmt.Errorf("write %q to %s: %w", v.Name, w.path, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.w.Close()
}

// reshape builds nested float32 slices of the given shape from row-major
// data. A rank-0 shape yields a bare float32.
func reshape(data []float64, shape []int) reflect.Value {
	if len(shape) == 0 {
		return reflect.ValueOf(float32(data[0]))
	}
	elem := reflect.TypeOf(float32(0))
	for range shape[1:] {
		elem = reflect.SliceOf(elem)
	}
	stride := 1
	for _, s := range shape[1:] {
		stride *= s
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), shape[0], shape[0])
	for i := 0; i < shape[0]; i++ {
		part := data[i*stride : (i+1)*stride]
		if len(shape) == 1 {
			out.Index(i).Set(reflect.ValueOf(float32(part[0])))
			continue
		}
		out.Index(i).Set(reshape(part, shape[1:]))
	}
	return out
}
