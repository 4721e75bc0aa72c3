package bufr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// Defaults for section 1 when no originating centre is configured.
const (
	DefaultCentre             uint16 = 98
	DefaultMasterTableVersion uint8  = 38
)

// MaxLevels is the largest profile the 8-bit replication factor can carry;
// the all-ones value is reserved for missing.
const MaxLevels = 254

var (
	surfaceDescriptors = []Descriptor{
		FXY(301021), // latitude, longitude
		FXY(4001), FXY(4002), FXY(4003), FXY(4004), FXY(4005),
		FXY(12101), // temperature
		FXY(10004), // pressure
		FXY(11003), FXY(11004),
	}

	upperAirDescriptors = []Descriptor{
		FXY(301021),
		FXY(4001), FXY(4002), FXY(4003), FXY(4004),
		FXY(104000), // delayed replication of the next 4 descriptors
		FXY(31001),
		FXY(7004), FXY(12101), FXY(11003), FXY(11004),
	}
)

// Options sets the section 1 identification of every message.
type Options struct {
	Centre             uint16
	SubCentre          uint16
	MasterTableVersion uint8
}

// Skip records one observation that could not be encoded.
type Skip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result summarizes one Encode call. Zero encoded messages is a valid
// outcome.
type Result struct {
	Encoded int    `json:"encoded"`
	Skipped []Skip `json:"skipped,omitempty"`
}

// Encoder serializes observations, one message per observation.
type Encoder struct {
	opts   Options
	logger *slog.Logger
}

// NewEncoder creates an encoder. Zero Centre and MasterTableVersion take
// the package defaults.
func NewEncoder(opts Options, logger *slog.Logger) *Encoder {
	if opts.Centre == 0 {
		opts.Centre = DefaultCentre
	}
	if opts.MasterTableVersion == 0 {
		opts.MasterTableVersion = DefaultMasterTableVersion
	}
	return &Encoder{opts: opts, logger: logger}
}

// Encode writes one message per observation to path, truncating it. The
// observation type is checked before the file is touched. A record that
// cannot be built is skipped and reported in the Result; a write failure
// aborts with domain.ErrOutput.
func (e *Encoder) Encode(observations []domain.Observation, path string, obsType domain.ObsType) (res Result, err error) {
	if _, err := domain.ParseObsType(string(obsType)); err != nil {
		return Result{}, err
	}

	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrOutput, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", domain.ErrOutput, path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	res, err = e.Write(bw, observations, obsType)
	if err != nil {
		return res, err
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrOutput, err)
	}

	e.logger.Info("bufr file written",
		"path", path,
		"obs_type", obsType,
		"encoded", res.Encoded,
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// Write is Encode over an arbitrary stream.
func (e *Encoder) Write(w io.Writer, observations []domain.Observation, obsType domain.ObsType) (Result, error) {
	if _, err := domain.ParseObsType(string(obsType)); err != nil {
		return Result{}, err
	}

	var res Result
	for i := range observations {
		msg, err := e.Message(observations[i], obsType)
		if err != nil {
			e.logger.Warn("skipping observation", "index", i, "obs_type", obsType, "error", err)
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: err.Error()})
			continue
		}
		if _, err := w.Write(msg); err != nil {
			return res, fmt.Errorf("%w: %w", domain.ErrOutput, err)
		}
		res.Encoded++
	}
	return res, nil
}

// Message builds the message for a single observation. Failures wrap
// domain.ErrEncode.
func (e *Encoder) Message(obs domain.Observation, obsType domain.ObsType) ([]byte, error) {
	var (
		h      Header
		fields []field
		err    error
	)
	switch obsType {
	case domain.Surface:
		h, fields = e.surface(obs)
	case domain.UpperAir:
		h, fields, err = e.upperAir(obs)
	default:
		_, err = domain.ParseObsType(string(obsType))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncode, err)
	}

	msg, err := build(h, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncode, err)
	}
	return msg, nil
}

func (e *Encoder) header(category, subCategory uint8, t time.Time, ds []Descriptor) Header {
	return Header{
		Centre:             e.opts.Centre,
		SubCentre:          e.opts.SubCentre,
		DataCategory:       category,
		DataSubCategory:    subCategory,
		MasterTableVersion: e.opts.MasterTableVersion,
		Time:               t,
		Subsets:            1,
		Observed:           true,
		Descriptors:        ds,
	}
}

func (e *Encoder) surface(obs domain.Observation) (Header, []field) {
	t := obs.Time.UTC().Truncate(time.Minute)
	fields := []field{
		{FXY(5001), obs.Latitude},
		{FXY(6001), obs.Longitude},
		{FXY(4001), float64(t.Year())},
		{FXY(4002), float64(t.Month())},
		{FXY(4003), float64(t.Day())},
		{FXY(4004), float64(t.Hour())},
		{FXY(4005), float64(t.Minute())},
		{FXY(12101), obs.Temperature},
		{FXY(10004), obs.Pressure},
		{FXY(11003), obs.UWind},
		{FXY(11004), obs.VWind},
	}
	return e.header(CategorySurface, 0, t, surfaceDescriptors), fields
}

func (e *Encoder) upperAir(obs domain.Observation) (Header, []field, error) {
	p := obs.Profile
	if p == nil {
		return Header{}, nil, errors.New("upper-air observation has no profile")
	}
	if err := p.Validate(); err != nil {
		return Header{}, nil, err
	}
	if p.Levels > MaxLevels {
		return Header{}, nil, fmt.Errorf("profile has %d levels, at most %d can be replicated", p.Levels, MaxLevels)
	}

	t := obs.Time.UTC().Truncate(time.Hour)
	fields := make([]field, 0, 7+4*p.Levels)
	fields = append(fields,
		field{FXY(5001), obs.Latitude},
		field{FXY(6001), obs.Longitude},
		field{FXY(4001), float64(t.Year())},
		field{FXY(4002), float64(t.Month())},
		field{FXY(4003), float64(t.Day())},
		field{FXY(4004), float64(t.Hour())},
		field{FXY(31001), float64(p.Levels)},
	)
	for i := 0; i < p.Levels; i++ {
		fields = append(fields,
			field{FXY(7004), p.Pressure[i]},
			field{FXY(12101), p.Temperature[i]},
			field{FXY(11003), p.UWind[i]},
			field{FXY(11004), p.VWind[i]},
		)
	}
	return e.header(CategoryUpperAir, 4, t, upperAirDescriptors), fields, nil
}
