// Command validate checks the integrity of BUFR files written by the
// pipeline: message framing, section structure, decoded values against the
// configured QC bounds, and consistency of the messages within each file.
//
// Usage:
//
//	go run ./cmd/validate -config config.yaml data/bufr/ecmwf-era5_20250601_surface.bufr
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/grid-obs-bufr/internal/bufr"
	"github.com/couchcryptid/grid-obs-bufr/internal/config"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/qc"
)

// Elements checked against QC bounds.
var (
	descLatitude    = bufr.FXY(5001)
	descLongitude   = bufr.FXY(6001)
	descPressure    = bufr.FXY(10004)
	descLevel       = bufr.FXY(7004)
	descTemperature = bufr.FXY(12101)
	descUWind       = bufr.FXY(11003)
	descVWind       = bufr.FXY(11004)
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	configPath := flag.String("config", "config.yaml", "pipeline config file with QC bounds")
	maxErrors := flag.Int("max-errors", 20, "errors printed per phase")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	p, err := config.LoadPipeline(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	code := 0
	for _, path := range flag.Args() {
		if c := run(path, p.Bounds(), *maxErrors); c != 0 {
			code = c
		}
	}
	os.Exit(code)
}

func run(path string, bounds qc.Bounds, maxErrors int) int {
	fmt.Printf("=== %s ===\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read: %v\n", err)
		return 1
	}

	framing := &phase{name: "Message framing"}
	raw, err := bufr.Split(data)
	if err != nil {
		framing.errorf("%v", err)
	}

	decoding := &phase{name: "Section structure"}
	msgs := make([]*bufr.Message, 0, len(raw))
	for i, m := range raw {
		msg, err := bufr.Decode(m)
		if err != nil {
			decoding.errorf("message %d: %v", i, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	phases := []*phase{
		framing,
		decoding,
		validateValues(msgs, bounds),
		validateConsistency(msgs, expectedType(path)),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	fmt.Printf("\nMessages: %d framed, %d decoded, %d bytes\n", len(raw), len(msgs), len(data))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrors {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxErrors)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validateValues checks every decoded element that has a QC bound. Level
// pressures only need to be positive and no higher than surface pressure.
// Missing values are allowed.
func validateValues(msgs []*bufr.Message, bounds qc.Bounds) *phase {
	p := &phase{name: "Decoded values within QC bounds"}
	keys := map[bufr.Descriptor]string{
		descPressure:    qc.KeyPressure,
		descTemperature: qc.KeyTemperature,
		descUWind:       qc.KeyWind,
		descVWind:       qc.KeyWind,
	}
	for i, m := range msgs {
		for _, v := range m.Values {
			if math.IsNaN(v.Value) {
				continue
			}
			switch v.Descriptor {
			case descLatitude:
				if v.Value < -90 || v.Value > 90 {
					p.errorf("message %d: latitude %.5f", i, v.Value)
				}
			case descLongitude:
				if v.Value < -180 || v.Value > 180 {
					p.errorf("message %d: longitude %.5f", i, v.Value)
				}
			case descLevel:
				if v.Value <= 0 || v.Value > 110000 {
					p.errorf("message %d: level pressure %g", i, v.Value)
				}
			}
			key, ok := keys[v.Descriptor]
			if !ok {
				continue
			}
			b, ok := bounds[key]
			if ok && (v.Value < b.Min || v.Value > b.Max) {
				p.errorf("message %d: %s %g outside [%g, %g]", i, v.Descriptor, v.Value, b.Min, b.Max)
			}
		}
	}
	return p
}

// validateConsistency checks that all messages share a category matching
// the file name and a single observation date.
func validateConsistency(msgs []*bufr.Message, want domain.ObsType) *phase {
	p := &phase{name: "File consistency"}
	if len(msgs) == 0 {
		p.errorf("no decodable messages")
		return p
	}
	wantCategory := map[domain.ObsType]uint8{
		domain.Surface:  bufr.CategorySurface,
		domain.UpperAir: bufr.CategoryUpperAir,
	}
	day := msgs[0].Header.Time.Format("2006-01-02")
	for i, m := range msgs {
		if c, ok := wantCategory[want]; ok && m.Header.DataCategory != c {
			p.errorf("message %d: data category %d, want %d for %s", i, m.Header.DataCategory, c, want)
		}
		if d := m.Header.Time.Format("2006-01-02"); d != day {
			p.errorf("message %d: date %s differs from %s", i, d, day)
		}
		if m.Header.Subsets != 1 {
			p.errorf("message %d: %d subsets", i, m.Header.Subsets)
		}
	}
	return p
}

// expectedType reads the observation type from a file named
// {provider}_{YYYYMMDD}_{obs_type}.bufr. Unknown names return "".
func expectedType(path string) domain.ObsType {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, t := range []domain.ObsType{domain.UpperAir, domain.Surface} {
		if strings.HasSuffix(name, "_"+string(t)) {
			return t
		}
	}
	return ""
}
