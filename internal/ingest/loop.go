package ingest

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync/atomic"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/resample"
	"adsb_actions/internal/rules"
	"adsb_actions/internal/sink"
	"adsb_actions/internal/stats"
	"adsb_actions/internal/tracker"
)

// Checkpoint intervals in seconds of ingested time.
const (
	NetworkCheckpointSecs = 5.0
	BatchCheckpointSecs   = 10.0
)

// LoopConfig tunes one ingest loop.
type LoopConfig struct {
	// CheckpointSecs is the maintenance interval in ingested time.
	CheckpointSecs float64
	// ExpireSecs overrides the flight expiry window.
	ExpireSecs float64

	// Resampler, when set, shadows every position into the per-second
	// history.
	Resampler *resample.Resampler
	// Archive, when set, receives every position for batch insert.
	Archive *sink.PositionArchive

	Stats *stats.Counters
}

// Loop drives a Source through the tracker and rule engine. Checkpoints
// run on ingested time, not wall clock, so replays at speed behave like
// the live feed did.
type Loop struct {
	src    Source
	reg    *tracker.Registry
	engine *rules.Engine
	cfg    LoopConfig

	exit     atomic.Bool
	lastRead float64
	lastCkpt float64

	st *stats.Counters
}

// NewLoop assembles an ingest loop.
func NewLoop(src Source, reg *tracker.Registry, engine *rules.Engine, cfg LoopConfig) *Loop {
	if cfg.CheckpointSecs <= 0 {
		cfg.CheckpointSecs = NetworkCheckpointSecs
	}
	if cfg.ExpireSecs <= 0 {
		cfg.ExpireSecs = tracker.ExpireSecs
	}
	st := cfg.Stats
	if st == nil {
		st = &stats.Default
	}
	return &Loop{src: src, reg: reg, engine: engine, cfg: cfg, st: st}
}

// Stop asks the loop to exit after the message currently in flight.
func (l *Loop) Stop() {
	l.exit.Store(true)
}

// LastRead returns the latest ingested timestamp.
func (l *Loop) LastRead() float64 {
	return l.lastRead
}

// Run consumes the source until EOF, Stop, or context cancellation.
// Malformed lines are logged and skipped; the loop only dies on signal
// or a terminal source error.
func (l *Loop) Run(ctx context.Context) error {
	for !l.exit.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := l.src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		loc, err := adsb.FromJSON(line)
		if err != nil {
			log.Printf("ERROR: bad position line: %v", err)
			continue
		}
		l.st.JSONReadLines.Add(1)

		ts := l.reg.AddLocation(loc, l.engine)
		if ts > l.lastRead {
			l.lastRead = ts
		}

		if !loc.IsHeartbeat() {
			if l.cfg.Resampler != nil {
				l.cfg.Resampler.AddLocation(loc)
			}
			if l.cfg.Archive != nil {
				if err := l.cfg.Archive.Add(ctx, loc); err != nil {
					log.Printf("ERROR: archive position: %v", err)
				}
			}
		}

		l.maybeCheckpoint()
	}

	// Final sweep so short replays still see maintenance.
	if l.lastRead > l.lastCkpt {
		l.checkpoint()
	}
	return nil
}

func (l *Loop) maybeCheckpoint() {
	if l.lastCkpt == 0 {
		l.lastCkpt = l.lastRead
		return
	}
	if l.lastRead-l.lastCkpt >= l.cfg.CheckpointSecs {
		l.checkpoint()
	}
}

func (l *Loop) checkpoint() {
	if l.lastRead == 0 {
		return
	}
	l.reg.ExpireOlderThan(l.engine, l.lastRead, l.cfg.ExpireSecs)
	l.reg.CheckProximity(l.engine, l.lastRead)
	l.lastCkpt = l.lastRead
}
