// Command genmock writes synthetic ERA5-shaped NetCDF grids into the raw
// grid directory, named the way a run expects to find them. It stands in for
// data acquisition when no real retrieval is configured.
//
// Usage:
//
//	go run ./cmd/genmock -date 2025-06-01 -type all -config config.yaml
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/adapter/netcdf"
	"github.com/couchcryptid/grid-obs-bufr/internal/config"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/couchcryptid/grid-obs-bufr/internal/synthetic"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dateFlag := flag.String("date", "", "date to generate, YYYY-MM-DD")
	typeFlag := flag.String("type", "all", "observation type: surface, upper_air, or all")
	configPath := flag.String("config", "config.yaml", "pipeline config file")
	seed := flag.Uint64("seed", 0, "random seed; 0 derives one from the date")
	flag.Parse()

	if *dateFlag == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -date")
	}
	date, err := time.Parse("2006-01-02", *dateFlag)
	if err != nil {
		return fmt.Errorf("invalid -date: %w", err)
	}

	p, err := config.LoadPipeline(*configPath)
	if err != nil {
		return err
	}
	if p.RetrievalMode == "real" {
		log.Printf("retrieval_mode is real; writing synthetic data anyway")
	}

	types := []domain.ObsType{domain.Surface, domain.UpperAir}
	if *typeFlag != "all" {
		t, err := domain.ParseObsType(*typeFlag)
		if err != nil {
			return err
		}
		types = []domain.ObsType{t}
	}

	opts := synthetic.DefaultOptions()
	opts.Hours = p.Hours
	opts.Seed = *seed
	if opts.Seed == 0 {
		opts.Seed = uint64(date.Unix())
	}

	if err := os.MkdirAll(p.Paths.RawDir, 0o755); err != nil {
		return err
	}
	paths := pipeline.RunnerConfig{RawDir: p.Paths.RawDir, Provider: p.Provider}
	for _, t := range types {
		path := paths.InputPath(date, t)
		if err := write(path, t, opts); err != nil {
			return err
		}
		log.Printf("wrote %s grid: %s", t, path)
	}
	return nil
}

func write(path string, obsType domain.ObsType, opts synthetic.Options) (err error) {
	ds, err := synthetic.Generate(obsType, opts)
	if err != nil {
		return err
	}
	w, err := netcdf.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for _, name := range ds.Names() {
		v, err := ds.Variable(name)
		if err != nil {
			return err
		}
		if err := w.Add(v, attributes(name)); err != nil {
			return err
		}
	}
	return nil
}

// attributes returns CF units for the variables genmock writes.
func attributes(name string) map[string]interface{} {
	units := map[string]string{
		"latitude":       "degrees_north",
		"longitude":      "degrees_east",
		"time":           "hours",
		"pressure_level": "hPa",
		"t2m":            "K",
		"t":              "K",
		"msl":            "Pa",
		"u10":            "m s**-1",
		"v10":            "m s**-1",
		"u":              "m s**-1",
		"v":              "m s**-1",
	}
	if u, ok := units[name]; ok {
		return map[string]interface{}{"units": u}
	}
	return nil
}
