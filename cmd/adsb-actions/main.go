// Command-line entry point for the live rule daemon.
//
// It ingests an ADS-B position feed (TCP, NATS, or a replay file),
// tracks flights against the configured region layers, evaluates the
// YAML rule set on every update, and runs the periodic proximity pass.
// Optional sinks: a SQLite loss-of-separation store, a PostgreSQL
// operations log, and a ClickHouse position archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"adsb_actions/internal/api"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/ingest"
	"adsb_actions/internal/prox"
	"adsb_actions/internal/regions"
	"adsb_actions/internal/resample"
	"adsb_actions/internal/rules"
	"adsb_actions/internal/sink"
	"adsb_actions/internal/stats"
	"adsb_actions/internal/tracker"
	"adsb_actions/internal/webhooks"
)

func main() {
	rulesPath := flag.String("rules", "", "YAML rules file (required)")

	tcpAddr := flag.String("tcp", "", "TCP feed host:port")
	natsURL := flag.String("nats", "", "NATS server URL")
	natsSubject := flag.String("nats-subject", "adsb.positions", "NATS subject to subscribe")
	replayPath := flag.String("replay", "", "replay a sorted JSONL file (optionally .gz)")
	noRetry := flag.Bool("no-retry", false, "exit on TCP read errors instead of reconnecting")

	port := flag.Int("port", 0, "status API port (0 disables)")
	checkpoint := flag.Float64("checkpoint", 0, "checkpoint interval, seconds of ingested time (0 = auto)")
	noGrid := flag.Bool("no-grid", false, "disable the spatial grid prefilter")
	webhookSpec := flag.String("webhook", "", "HTTP webhook registrations, kind=url[,kind=url...]")

	useResampler := flag.Bool("resample", false, "shadow positions into the 1 Hz resampler")
	losDB := flag.String("losdb", "", "SQLite path for the LOS store")

	pgHost := flag.String("pg-host", "", "PostgreSQL host for the ops log (empty disables)")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgDB := flag.String("pg-db", "adsb_actions", "PostgreSQL database")
	pgUser := flag.String("pg-user", "adsb", "PostgreSQL user")
	pgPass := flag.String("pg-pass", "", "PostgreSQL password")

	chHost := flag.String("ch-host", "", "ClickHouse host for the position archive (empty disables)")
	chPort := flag.Int("ch-port", 9000, "ClickHouse port")
	chDB := flag.String("ch-db", "adsb_actions", "ClickHouse database")
	chUser := flag.String("ch-user", "default", "ClickHouse user")
	chPass := flag.String("ch-pass", "", "ClickHouse password")

	flag.Parse()

	if *rulesPath == "" {
		fmt.Fprintln(os.Stderr, "-rules is required")
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
	log.Printf("loaded %d rules, %d region layers", len(cfg.Rules), len(layers))

	hooks := parseWebhooks(*webhookSpec)
	emitters := sink.NewJSONLSet()
	engine := rules.NewEngine(cfg, rules.Options{
		DisableSpatialGrid: *noGrid,
		LayerCount:         len(layers),
		Webhooks:           hooks,
		Emitters:           emitters,
		Stats:              &stats.Default,
	})

	ctx := context.Background()

	var losStore *sink.LOSStore
	if *losDB != "" {
		losStore, err = sink.OpenLOSStore(*losDB)
		if err != nil {
			log.Fatalf("open los store: %v", err)
		}
		defer func() { _ = losStore.Close() }()
	}
	proxEngine := newProxEngine(losStore)
	engine.RegisterPairFunc("los", proxEngine.Update)
	proxEngine.StartGCLoop()
	defer proxEngine.Stop()

	if *pgHost != "" {
		opsLog, err := sink.OpenOpsLog(ctx, sink.PostgresConfig{
			Host: *pgHost, Port: *pgPort, Database: *pgDB,
			User: *pgUser, Password: *pgPass,
		})
		if err != nil {
			log.Fatalf("open ops log: %v", err)
		}
		defer opsLog.Close()
		if err := opsLog.CreateSchema(ctx); err != nil {
			log.Fatalf("ops log schema: %v", err)
		}
		registerOpsRecorder(engine, opsLog)
	}

	var archive *sink.PositionArchive
	if *chHost != "" {
		archive, err = sink.OpenPositionArchive(ctx, sink.ClickHouseConfig{
			Host: *chHost, Port: *chPort, Database: *chDB,
			User: *chUser, Password: *chPass,
		})
		if err != nil {
			log.Fatalf("open position archive: %v", err)
		}
		if err := archive.CreateSchema(ctx); err != nil {
			log.Fatalf("archive schema: %v", err)
		}
		defer func() { _ = archive.Close(ctx) }()
	}

	var resampler *resample.Resampler
	if *useResampler {
		resampler = resample.New(resample.Options{Layers: layers})
	}

	src, err := openSource(*tcpAddr, *natsURL, *natsSubject, *replayPath, !*noRetry)
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer func() { _ = src.Close() }()

	// Replays checkpoint less often; the interval is in ingested time, so
	// a fast replay sweeps just as frequently relative to the data.
	ckptSecs := *checkpoint
	if ckptSecs == 0 && *replayPath != "" {
		ckptSecs = ingest.BatchCheckpointSecs
	}

	reg := tracker.New(layers, &stats.Default)
	loop := ingest.NewLoop(src, reg, engine, ingest.LoopConfig{
		CheckpointSecs: ckptSecs,
		Resampler:      resampler,
		Archive:        archive,
	})

	if *port != 0 {
		srv := api.NewStatusServer(reg, &stats.Default, *port)
		go func() {
			if err := srv.Run(); err != nil {
				log.Printf("ERROR: status api: %v", err)
			}
		}()
	}

	// Drain the in-flight message, then exit cleanly.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("received %v, shutting down", sig)
		loop.Stop()
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("ingest loop: %v", err)
	}

	proxEngine.Finalize()
	engine.FinalReport()
	if err := emitters.Close(); err != nil {
		log.Printf("ERROR: close emitters: %v", err)
	}
	log.Printf("done; counters: %v", stats.Default.Snapshot())
}

// newProxEngine wires the LOS engine, with or without a SQLite sink.
func newProxEngine(store *sink.LOSStore) *prox.Engine {
	if store == nil {
		return prox.NewEngine(nil, &stats.Default)
	}
	return prox.NewEngine(store, &stats.Default)
}

// registerOpsRecorder names a "record_op" callback rules can dispatch to.
// The flight's database row id is cached on first insert.
func registerOpsRecorder(engine *rules.Engine, opsLog *sink.OpsLog) {
	engine.RegisterFlightFunc("record_op", func(f *flight.Flight) {
		ctx := context.Background()

		f.Lock()
		extID := f.ExternalID
		note, _ := f.Flags["note"].(string)
		f.Unlock()

		if extID == "" {
			id, err := opsLog.EnsureFlight(ctx, f.ID, f.OtherID, f.LastLoc.Hex)
			if err != nil {
				log.Printf("ERROR: ensure flight %s: %v", f.ID, err)
				return
			}
			f.Lock()
			f.ExternalID = id
			f.Unlock()
			extID = id
		}

		if err := opsLog.RecordOp(ctx, extID, "record_op", note, f.LastLoc); err != nil {
			log.Printf("ERROR: record op for %s: %v", f.ID, err)
		}
	})
}

func openSource(tcpAddr, natsURL, natsSubject, replayPath string, retry bool) (ingest.Source, error) {
	configured := 0
	for _, s := range []string{tcpAddr, natsURL, replayPath} {
		if s != "" {
			configured++
		}
	}
	if configured != 1 {
		return nil, fmt.Errorf("exactly one of -tcp, -nats, -replay must be given")
	}

	switch {
	case tcpAddr != "":
		return ingest.NewTCPSource(tcpAddr, retry), nil
	case natsURL != "":
		return ingest.NewNATSSource(natsURL, natsSubject)
	default:
		return ingest.NewReplaySource(replayPath)
	}
}

// parseWebhooks parses kind=url pairs into an HTTP webhook registry.
func parseWebhooks(spec string) *webhooks.Registry {
	hooks := webhooks.NewRegistry()
	if spec == "" {
		return hooks
	}
	for _, pair := range strings.Split(spec, ",") {
		kind, url, ok := strings.Cut(pair, "=")
		if !ok {
			log.Fatalf("bad -webhook entry %q, want kind=url", pair)
		}
		hooks.RegisterHTTP(kind, url)
	}
	return hooks
}
