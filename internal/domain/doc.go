// Package domain models point observations extracted from gridded
// meteorological fields and the statistics of the quality-control stages
// they pass through.
//
// # Data Source
//
// Input grids are ERA5-style reanalysis files: one array per variable over
// (time, latitude, longitude) for surface fields, or (time, level, latitude,
// longitude) for pressure-level fields. The acquisition step places one file
// per date and observation type on disk before extraction runs.
//
// # Units
//
//	temperature   K     (2 m temperature for surface, air temperature per level)
//	pressure      Pa    (mean sea level pressure for surface, level pressure aloft)
//	u_wind/v_wind m s-1 (10 m components for surface, per level aloft)
//
// Pressure-level coordinates are usually stored in hPa and are scaled to Pa
// by the configured level scale before they reach an [Observation].
//
// # Observation Times
//
// The date comes from the run (the acquisition date). The hour of each time
// index comes from the canonical hour set (00/06/12/18 UTC by default),
// matched positionally: time index i is hour canonical[i]. A file with fewer
// time steps than canonical hours uses the leading hours only; a file with
// more is rejected as malformed.
//
// # Quality Control Outcomes
//
// An observation is either accepted whole or dropped whole. The two stages
// are counted in [Stats]:
//
//	initial_count = pass_physical + fail_physical
//	pass_physical = pass_ml + fail_ml
//	final_count   = pass_ml = len(observations)
//
// The anomaly stage is fail-open: an unavailable model or a classification
// error yields [VerdictDegraded], which counts as a pass and is tallied
// separately in Stats.MLDegraded.
package domain
