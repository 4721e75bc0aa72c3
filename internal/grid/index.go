package grid

// Index addresses one grid point at one time step.
type Index struct {
	Time int
	Lat  int
	Lon  int
}

// IndexSpace is the cartesian product time × lat × lon in canonical order:
// time outermost, then latitude, then longitude. Position i in the space is
// position i in the extracted observation list.
type IndexSpace struct {
	Times int
	Lats  int
	Lons  int
}

// Len returns the number of points in the space.
func (s IndexSpace) Len() int {
	if s.Times <= 0 || s.Lats <= 0 || s.Lons <= 0 {
		return 0
	}
	return s.Times * s.Lats * s.Lons
}

// At returns the index at canonical position i, 0 <= i < Len().
func (s IndexSpace) At(i int) Index {
	plane := s.Lats * s.Lons
	return Index{
		Time: i / plane,
		Lat:  (i % plane) / s.Lons,
		Lon:  i % s.Lons,
	}
}

// Offset is the inverse of At.
func (s IndexSpace) Offset(idx Index) int {
	return (idx.Time*s.Lats+idx.Lat)*s.Lons + idx.Lon
}
