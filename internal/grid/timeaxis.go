package grid

import (
	"fmt"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// DefaultHours are the UTC hours requested from the upstream archive.
var DefaultHours = []int{0, 6, 12, 18}

// ObservationHours matches time indices to canonical hours positionally.
// Fewer steps than canonical hours use the leading hours; more steps means
// the retrieval was malformed and is rejected.
func ObservationHours(canonical []int, steps int) ([]int, error) {
	if steps < 0 {
		return nil, fmt.Errorf("%w: negative time dimension %d", domain.ErrStructure, steps)
	}
	if steps > len(canonical) {
		return nil, fmt.Errorf("%w: %d time steps but only %d expected hours %v",
			domain.ErrStructure, steps, len(canonical), canonical)
	}
	hours := make([]int, steps)
	copy(hours, canonical[:steps])
	return hours, nil
}

// ObservationTimes returns the timestamp of each time index for a run date.
func ObservationTimes(date time.Time, canonical []int, steps int) ([]time.Time, error) {
	hours, err := ObservationHours(canonical, steps)
	if err != nil {
		return nil, err
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, len(hours))
	for i, h := range hours {
		times[i] = day.Add(time.Duration(h) * time.Hour)
	}
	return times, nil
}
