package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/grid"
	"github.com/couchcryptid/grid-obs-bufr/internal/qc"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Pipeline is the file-based processing configuration.
type Pipeline struct {
	RetrievalMode string   `yaml:"retrieval_mode" validate:"oneof=synthetic real"`
	Paths         Paths    `yaml:"pipeline_paths"`
	Provider      string   `yaml:"provider" validate:"required"`
	Hours         []int    `yaml:"observation_hours" validate:"min=1,dive,min=0,max=23"`
	LevelScale    float64  `yaml:"level_scale" validate:"gt=0"`
	Workers       int      `yaml:"workers" validate:"min=0"`
	BUFR          BUFR     `yaml:"bufr"`
	QC            QCBounds `yaml:"quality_control" validate:"dive"`

	// Providers carry the variable map of each data provider.
	Providers map[string]Provider `yaml:"providers" validate:"dive"`
	// Aliases override grid.DefaultAliases when set.
	Aliases map[string]Candidates `yaml:"aliases"`
}

// Paths locates input grids and output messages.
type Paths struct {
	RawDir  string `yaml:"raw_netcdf_dir" validate:"required"`
	BufrDir string `yaml:"processed_bufr_dir" validate:"required"`
}

// BUFR sets section 1 identification.
type BUFR struct {
	Centre             uint16 `yaml:"centre"`
	SubCentre          uint16 `yaml:"sub_centre"`
	MasterTableVersion uint8  `yaml:"master_table_version"`
}

// Bound is one inclusive range.
type Bound struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max" validate:"gtefield=Min"`
}

// QCBounds maps bound keys (temperature_K, pressure_Pa, wind_component_ms)
// to ranges. A key left out disables that check.
type QCBounds map[string]Bound

// Provider holds per-observation-type variable candidates.
type Provider struct {
	VariableMap map[domain.ObsType]map[string]Candidates `yaml:"variable_map"`
}

// Candidates accepts either a single variable name or a list of names.
type Candidates []string

func (c *Candidates) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = Candidates{node.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*c = names
		return nil
	default:
		return fmt.Errorf("line %d: variable candidates must be a name or a list of names", node.Line)
	}
}

// DefaultPipeline returns the configuration used when no file is present.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		RetrievalMode: "synthetic",
		Paths:         Paths{RawDir: "data/raw", BufrDir: "data/bufr"},
		Provider:      "ecmwf-era5",
		Hours:         append([]int(nil), grid.DefaultHours...),
		LevelScale:    100,
		QC: QCBounds{
			qc.KeyTemperature: {Min: 180, Max: 340},
			qc.KeyPressure:    {Min: 85000, Max: 110000},
			qc.KeyWind:        {Min: -100, Max: 100},
		},
		Providers: map[string]Provider{
			"ecmwf-era5": {VariableMap: map[domain.ObsType]map[string]Candidates{
				domain.Surface: {
					grid.Latitude:    {"latitude"},
					grid.Longitude:   {"longitude"},
					grid.Temperature: {"t2m"},
					grid.Pressure:    {"msl", "sp"},
					grid.UWind:       {"u10"},
					grid.VWind:       {"v10"},
				},
				domain.UpperAir: {
					grid.Latitude:    {"latitude"},
					grid.Longitude:   {"longitude"},
					grid.Level:       {"pressure_level", "level"},
					grid.Temperature: {"t"},
					grid.UWind:       {"u"},
					grid.VWind:       {"v"},
				},
			}},
		},
	}
}

// LoadPipeline reads a YAML file over the defaults. A missing file yields
// the defaults. The quality_control section of a file replaces the default
// bounds as a whole, so a key left out of it is not checked.
func LoadPipeline(path string) (*Pipeline, error) {
	p := DefaultPipeline()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return p, p.Validate()
	case err != nil:
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	p.QC = nil
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config %s: %w", path, err)
	}
	return p, nil
}

var validate = validator.New()

// Validate checks field constraints and that the selected provider has a
// variable map.
func (p *Pipeline) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if _, ok := p.Providers[p.Provider]; !ok {
		return fmt.Errorf("provider %q has no variable_map", p.Provider)
	}
	for key := range p.QC {
		switch key {
		case qc.KeyTemperature, qc.KeyPressure, qc.KeyWind:
		default:
			return fmt.Errorf("unknown quality_control key %q", key)
		}
	}
	for obsType := range p.Providers[p.Provider].VariableMap {
		if _, err := domain.ParseObsType(string(obsType)); err != nil {
			return err
		}
	}
	return nil
}

// Bounds converts the QC section for qc.NewPhysical.
func (p *Pipeline) Bounds() qc.Bounds {
	out := make(qc.Bounds, len(p.QC))
	for k, b := range p.QC {
		out[k] = qc.Bound{Min: b.Min, Max: b.Max}
	}
	return out
}

// VariableMap returns the selected provider's candidates.
func (p *Pipeline) VariableMap() grid.VariableMap {
	src := p.Providers[p.Provider].VariableMap
	out := make(grid.VariableMap, len(src))
	for obsType, names := range src {
		m := make(map[string][]string, len(names))
		for std, c := range names {
			m[std] = []string(c)
		}
		out[obsType] = m
	}
	return out
}

// AliasTable returns the configured aliases, or nil for the defaults.
func (p *Pipeline) AliasTable() map[string][]string {
	if p.Aliases == nil {
		return nil
	}
	out := make(map[string][]string, len(p.Aliases))
	for k, v := range p.Aliases {
		out[k] = []string(v)
	}
	return out
}
