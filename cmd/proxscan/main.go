// Offline proximity scanner. Reads a recorded position file, rebuilds
// every track at one-second resolution, and replays the resampled points
// through the rule engine's proximity pass to find close approaches the
// live feed's update rate would miss. Results land in a SQLite store
// and on stdout as CSV lines for postprocessing.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/ingest"
	"adsb_actions/internal/prox"
	"adsb_actions/internal/regions"
	"adsb_actions/internal/resample"
	"adsb_actions/internal/rules"
	"adsb_actions/internal/sink"
	"adsb_actions/internal/stats"
)

func main() {
	rulesPath := flag.String("rules", "", "YAML rules file (required)")
	inputPath := flag.String("input", "", "recorded JSONL position file, optionally .gz (required)")
	losDB := flag.String("losdb", "", "SQLite path for the LOS store")
	interval := flag.Int64("interval", 1, "proximity sample interval, seconds")
	minAlt := flag.Int("min-alt", 0, "resampler altitude band floor (0 = default)")
	maxAlt := flag.Int("max-alt", 0, "resampler altitude band ceiling (0 = default)")
	flag.Parse()

	if *rulesPath == "" || *inputPath == "" {
		fmt.Fprintln(os.Stderr, "-rules and -input are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := rules.LoadFile(*rulesPath)
	if err != nil {
		log.Fatalf("load rules: %v", err)
	}
	var layers []regions.Layer
	for _, path := range cfg.Settings.RegionLayers {
		set, err := regions.LoadFile(path)
		if err != nil {
			log.Fatalf("load region layer %s: %v", path, err)
		}
		layers = append(layers, set)
	}

	engine := rules.NewEngine(cfg, rules.Options{
		LayerCount: len(layers),
		Stats:      &stats.Default,
	})

	var store *sink.LOSStore
	var proxSink prox.Sink
	if *losDB != "" {
		store, err = sink.OpenLOSStore(*losDB)
		if err != nil {
			log.Fatalf("open los store: %v", err)
		}
		defer func() { _ = store.Close() }()
		proxSink = store
	}
	proxEngine := prox.NewEngine(proxSink, &stats.Default)
	engine.RegisterPairFunc("los", proxEngine.Update)

	resampler := resample.New(resample.Options{
		MinAlt: *minAlt,
		MaxAlt: *maxAlt,
		Layers: layers,
	})

	n, err := loadPositions(*inputPath, resampler)
	if err != nil {
		log.Fatalf("read %s: %v", *inputPath, err)
	}
	log.Printf("loaded %d positions from %s", n, *inputPath)

	resampler.DoProxChecks(engine, layers, *interval, proxEngine.GC)
	proxEngine.Finalize()
	engine.FinalReport()

	if store != nil {
		count, err := store.Count()
		if err != nil {
			log.Printf("ERROR: count los events: %v", err)
		} else {
			log.Printf("recorded %d LOS events in %s", count, *losDB)
		}
	}
}

// loadPositions feeds every position in the file into the resampler.
// Heartbeats only advance time, so they are skipped here.
func loadPositions(path string, resampler *resample.Resampler) (int, error) {
	src, err := ingest.NewReplaySource(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	n := 0
	for {
		line, err := src.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		loc, err := adsb.FromJSON(line)
		if err != nil {
			log.Printf("ERROR: bad position line: %v", err)
			continue
		}
		if loc.IsHeartbeat() {
			continue
		}
		resampler.AddLocation(loc)
		n++
	}
}
