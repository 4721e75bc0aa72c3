package grid

import (
	"fmt"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// Logical variable names.
const (
	Latitude    = "latitude"
	Longitude   = "longitude"
	Level       = "level"
	Temperature = "temperature"
	Pressure    = "pressure"
	UWind       = "u_wind"
	VWind       = "v_wind"
)

// VariableMap lists, per observation type and logical name, the
// provider-specific variable names to try in order.
type VariableMap map[domain.ObsType]map[string][]string

// DefaultAliases are tried after the configured candidates.
var DefaultAliases = map[string][]string{
	Latitude:  {"lat"},
	Longitude: {"lon"},
	Level:     {"pressure_level", "isobaricInhPa", "plev"},
}

// Resolver maps logical names onto dataset variables. First match wins.
type Resolver struct {
	vars    VariableMap
	aliases map[string][]string
}

// NewResolver creates a Resolver. A nil alias table selects DefaultAliases.
func NewResolver(vars VariableMap, aliases map[string][]string) *Resolver {
	if aliases == nil {
		aliases = DefaultAliases
	}
	return &Resolver{vars: vars, aliases: aliases}
}

// Candidates returns the ordered, de-duplicated names tried for a logical
// variable: configured names first, then aliases.
func (r *Resolver) Candidates(standardName string, obsType domain.ObsType) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(names []string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(r.vars[obsType][standardName])
	add(r.aliases[standardName])
	return out
}

// Resolve loads the first candidate present in the dataset.
func (r *Resolver) Resolve(ds Dataset, standardName string, obsType domain.ObsType) (*Variable, error) {
	candidates := r.Candidates(standardName, obsType)
	for _, name := range candidates {
		if !ds.Has(name) {
			continue
		}
		v, err := ds.Variable(name)
		if err != nil {
			return nil, fmt.Errorf("load %q for %s: %w", name, standardName, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: no variable for %q (%s), tried %v", domain.ErrLookup, standardName, obsType, candidates)
}
