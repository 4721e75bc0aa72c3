// Package bufr encodes observations as WMO FM 94 BUFR edition 4 messages,
// one message per observation, and decodes the same subset back for
// validation.
//
// Only the Table B and Table D entries used by the surface and upper-air
// templates are known. Messages are uncompressed and carry one subset.
package bufr

import (
	"fmt"
	"math"
)

// Descriptor is a packed FXY descriptor: F in the top 2 bits, X in the next
// 6 and Y in the low 8, exactly as it appears in section 3.
type Descriptor uint16

// FXY builds a descriptor from its decimal form, e.g. FXY(12101) for 0 12 101.
func FXY(fxxyyy int) Descriptor {
	f := fxxyyy / 100000
	x := fxxyyy / 1000 % 100
	y := fxxyyy % 1000
	return Descriptor(f<<14 | x<<8 | y)
}

func (d Descriptor) F() int { return int(d >> 14) }
func (d Descriptor) X() int { return int(d>>8) & 0x3f }
func (d Descriptor) Y() int { return int(d) & 0xff }

func (d Descriptor) String() string {
	return fmt.Sprintf("%d%02d%03d", d.F(), d.X(), d.Y())
}

// Element is a Table B entry.
type Element struct {
	Name      string
	Unit      string
	Scale     int
	Reference int64
	Width     uint8
}

var tableB = map[Descriptor]Element{
	FXY(4001):  {"YEAR", "a", 0, 0, 12},
	FXY(4002):  {"MONTH", "mon", 0, 0, 4},
	FXY(4003):  {"DAY", "d", 0, 0, 6},
	FXY(4004):  {"HOUR", "h", 0, 0, 5},
	FXY(4005):  {"MINUTE", "min", 0, 0, 6},
	FXY(5001):  {"LATITUDE (HIGH ACCURACY)", "deg", 5, -9000000, 25},
	FXY(6001):  {"LONGITUDE (HIGH ACCURACY)", "deg", 5, -18000000, 26},
	FXY(7004):  {"PRESSURE", "Pa", -1, 0, 14},
	FXY(10004): {"PRESSURE", "Pa", -1, 0, 14},
	FXY(11003): {"U-COMPONENT", "m/s", 1, -4096, 13},
	FXY(11004): {"V-COMPONENT", "m/s", 1, -4096, 13},
	FXY(12101): {"TEMPERATURE/AIR TEMPERATURE", "K", 2, 0, 16},
	FXY(31001): {"DELAYED DESCRIPTOR REPLICATION FACTOR", "numeric", 0, 0, 8},
}

var tableD = map[Descriptor][]Descriptor{
	FXY(301021): {FXY(5001), FXY(6001)},
}

// Lookup returns the Table B entry for an element descriptor.
func Lookup(d Descriptor) (Element, bool) {
	e, ok := tableB[d]
	return e, ok
}

// missing returns the all-ones value that encodes a missing element.
func (e Element) missing() uint64 {
	return 1<<e.Width - 1
}

// Encode scales and offsets v into its raw bit value. NaN encodes as
// missing; values outside the representable range are an error.
func (e Element) Encode(v float64) (uint64, error) {
	if math.IsNaN(v) {
		return e.missing(), nil
	}
	raw := math.Round(scaleBy(v, e.Scale)) - float64(e.Reference)
	if math.IsInf(raw, 0) || raw < 0 || raw >= float64(e.missing()) {
		return 0, fmt.Errorf("%s value %g outside representable range", e.Name, v)
	}
	return uint64(raw), nil
}

// Decode inverts Encode. The missing value decodes to NaN.
func (e Element) Decode(raw uint64) float64 {
	if raw == e.missing() {
		return math.NaN()
	}
	return scaleBy(float64(int64(raw)+e.Reference), -e.Scale)
}

// scaleBy returns v * 10^scale, dividing for negative scales so that whole
// numbers round-trip exactly.
func scaleBy(v float64, scale int) float64 {
	if scale >= 0 {
		return v * math.Pow10(scale)
	}
	return v / math.Pow10(-scale)
}
