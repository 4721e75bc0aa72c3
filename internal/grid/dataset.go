// Package grid provides read access to gridded fields: named, dimensioned
// arrays resolved from logical names, a time axis matched against canonical
// observation hours, and the index space walked during extraction.
package grid

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// Variable is a read-only named array stored row-major.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float64
}

// NewVariable checks that data and dims agree with shape.
func NewVariable(name string, dims []string, shape []int, data []float64) (*Variable, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("%w: variable %q has %d dims but rank %d", domain.ErrStructure, name, len(dims), len(shape))
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("%w: variable %q has negative extent", domain.ErrStructure, name)
		}
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: variable %q shape %v needs %d values, got %d", domain.ErrStructure, name, shape, n, len(data))
	}
	return &Variable{Name: name, Dims: dims, Shape: shape, Data: data}, nil
}

// Rank returns the number of dimensions.
func (v *Variable) Rank() int { return len(v.Shape) }

// At returns the element at the given index, one index per dimension.
// It panics on a rank mismatch or an out-of-range index, like a slice.
func (v *Variable) At(idx ...int) float64 {
	if len(idx) != len(v.Shape) {
		panic(fmt.Sprintf("grid: %s: %d indices for rank %d", v.Name, len(idx), len(v.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= v.Shape[i] {
			panic(fmt.Sprintf("grid: %s: index %d out of range [0,%d) on dim %d", v.Name, x, v.Shape[i], i))
		}
		off = off*v.Shape[i] + x
	}
	return v.Data[off]
}

// Dataset is a read-only set of variables from one grid file.
type Dataset interface {
	// Has reports whether the dataset contains a variable with this name.
	Has(name string) bool
	// Variable loads a variable by its file-specific name.
	Variable(name string) (*Variable, error)
	Close() error
}

// Memory is an in-memory Dataset.
type Memory struct {
	vars map[string]*Variable
}

// NewMemory builds a dataset from already-loaded variables.
func NewMemory(vars ...*Variable) *Memory {
	m := &Memory{vars: make(map[string]*Variable, len(vars))}
	for _, v := range vars {
		m.vars[v.Name] = v
	}
	return m
}

func (m *Memory) Has(name string) bool {
	_, ok := m.vars[name]
	return ok
}

func (m *Memory) Variable(name string) (*Variable, error) {
	v, ok := m.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q", domain.ErrNotFound, name)
	}
	return v, nil
}

// Names returns the variable names in sorted order.
func (m *Memory) Names() []string {
	names := make([]string, 0, len(m.vars))
	for name := range m.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) Close() error { return nil }
