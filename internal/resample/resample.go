// Package resample reconstructs a 1 Hz position history per aircraft by
// linear interpolation across irregular raw samples, with anti-teleport
// heuristics, and can replay that history through the proximity pass.
package resample

import (
	"fmt"
	"math"
	"sort"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/geo"
	"adsb_actions/internal/regions"
	"adsb_actions/internal/rules"
	"adsb_actions/internal/stats"
	"adsb_actions/internal/tracker"
)

// Defaults. The altitude band clips to terminal-area traffic; the speed
// thresholds suit general aviation.
const (
	DefaultMinAlt             = 3000
	DefaultMaxAlt             = 12000
	DefaultMaxInterpolateSecs = 60.0
	DefaultMaxImpliedSpeedKt  = 600.0
	DefaultMaxSpeedDeltaKt    = 100.0
)

// Options configures a Resampler. Zero values select the defaults.
type Options struct {
	MinAlt             int
	MaxAlt             int
	MaxInterpolateSecs float64
	MaxImpliedSpeedKt  float64
	MaxSpeedDeltaKt    float64

	// Layers, when non-empty, drops positions outside every region.
	Layers []regions.Layer

	Stats *stats.Counters
}

// Resampler keeps per-segment raw history and the per-second table of
// raw plus synthesized points. Segments are keyed "tail_N"; N increments
// whenever a tail goes quiet longer than MaxInterpolateSecs.
type Resampler struct {
	opts Options

	perFlight map[string][]adsb.Location
	perSecond map[int64][]adsb.Location

	segCounter map[string]int     // tail -> current N
	lastSeen   map[string]float64 // tail -> last timestamp
	lastSpeed  map[string]float64 // segment -> implied speed of last leg

	st *stats.Counters
}

// New creates a Resampler.
func New(opts Options) *Resampler {
	if opts.MinAlt == 0 {
		opts.MinAlt = DefaultMinAlt
	}
	if opts.MaxAlt == 0 {
		opts.MaxAlt = DefaultMaxAlt
	}
	if opts.MaxInterpolateSecs == 0 {
		opts.MaxInterpolateSecs = DefaultMaxInterpolateSecs
	}
	if opts.MaxImpliedSpeedKt == 0 {
		opts.MaxImpliedSpeedKt = DefaultMaxImpliedSpeedKt
	}
	if opts.MaxSpeedDeltaKt == 0 {
		opts.MaxSpeedDeltaKt = DefaultMaxSpeedDeltaKt
	}
	st := opts.Stats
	if st == nil {
		st = &stats.Default
	}
	return &Resampler{
		opts:       opts,
		perFlight:  make(map[string][]adsb.Location),
		perSecond:  make(map[int64][]adsb.Location),
		segCounter: make(map[string]int),
		lastSeen:   make(map[string]float64),
		lastSpeed:  make(map[string]float64),
		st:         st,
	}
}

// AddLocation folds one raw position into the history. Positions without
// a tail, outside the altitude band, or outside every configured region
// are skipped and counted.
func (r *Resampler) AddLocation(loc adsb.Location) {
	if loc.Tail == "" {
		r.st.ResamplerSkips.Add(1)
		return
	}
	if loc.AltBaro < r.opts.MinAlt || loc.AltBaro > r.opts.MaxAlt {
		r.st.ResamplerSkips.Add(1)
		return
	}
	if len(r.opts.Layers) > 0 && !r.inAnyLayer(loc) {
		r.st.ResamplerSkips.Add(1)
		return
	}

	tail := loc.Tail
	n, seen := r.segCounter[tail]
	switch {
	case !seen:
		n = 1
	case loc.Now-r.lastSeen[tail] > r.opts.MaxInterpolateSecs:
		n++
	}
	r.segCounter[tail] = n
	r.lastSeen[tail] = loc.Now
	seg := fmt.Sprintf("%s_%d", tail, n)

	hist := r.perFlight[seg]
	if len(hist) > 0 {
		prev := hist[len(hist)-1]
		gap := loc.Now - prev.Now
		if gap > 0 {
			implied := prev.DistanceNM(loc) / gap * 3600
			if implied > r.opts.MaxImpliedSpeedKt {
				loc.Suspicious = true
			}
			if last, ok := r.lastSpeed[seg]; ok &&
				math.Abs(implied-last) > r.opts.MaxSpeedDeltaKt {
				loc.Suspicious = true
			}
			r.lastSpeed[seg] = implied
		}

		if gap > 1 && gap <= r.opts.MaxInterpolateSecs {
			for ts := int64(math.Floor(prev.Now)) + 1; float64(ts) < loc.Now; ts++ {
				frac := (float64(ts) - prev.Now) / gap
				synth := interpolate(prev, loc, frac, float64(ts))
				synth.Suspicious = loc.Suspicious
				r.perSecond[ts] = append(r.perSecond[ts], synth)
				r.st.ResamplerPoints.Add(1)
			}
		}
	}

	r.perFlight[seg] = append(hist, loc)
	r.perSecond[int64(loc.Now)] = append(r.perSecond[int64(loc.Now)], loc)
	r.st.ResamplerPoints.Add(1)
}

func (r *Resampler) inAnyLayer(loc adsb.Location) bool {
	for _, layer := range r.opts.Layers {
		if layer.Contains(loc.Lat, loc.Lon, loc.Track, loc.AltBaro) >= 0 {
			return true
		}
	}
	return false
}

// interpolate synthesizes a point at frac of the way from a to b. Track
// is blended along the shortest arc.
func interpolate(a, b adsb.Location, frac, now float64) adsb.Location {
	out := a
	out.Lat = geo.Lerp(a.Lat, b.Lat, frac)
	out.Lon = geo.Lerp(a.Lon, b.Lon, frac)
	out.AltBaro = int(math.Round(geo.Lerp(float64(a.AltBaro), float64(b.AltBaro), frac)))
	out.GS = geo.Lerp(a.GS, b.GS, frac)
	out.Track = geo.LerpTrack(a.Track, b.Track, frac)
	out.Now = now
	return out
}

// Segments returns the raw history for one "tail_N" segment.
func (r *Resampler) Segments(seg string) []adsb.Location {
	return r.perFlight[seg]
}

// SegmentCount returns the current sequence number for a tail, zero if
// never seen.
func (r *Resampler) SegmentCount(tail string) int {
	return r.segCounter[tail]
}

// AtSecond returns every point recorded for one integer second.
func (r *Resampler) AtSecond(ts int64) []adsb.Location {
	return r.perSecond[ts]
}

// Range returns the inclusive timestamp span of the per-second table.
func (r *Resampler) Range() (min, max int64, ok bool) {
	for ts := range r.perSecond {
		if !ok {
			min, max, ok = ts, ts, true
			continue
		}
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max, ok
}

// ForEachResampledPoint visits every point in timestamp order.
func (r *Resampler) ForEachResampledPoint(fn func(adsb.Location)) {
	keys := make([]int64, 0, len(r.perSecond))
	for ts := range r.perSecond {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, ts := range keys {
		for _, loc := range r.perSecond[ts] {
			fn(loc)
		}
	}
}

// DoProxChecks replays the per-second history through a synthetic flight
// registry, running the rule engine's proximity pass every
// sampleInterval seconds and invoking gc after each sweep so a LOS
// engine can finalize events.
func (r *Resampler) DoProxChecks(engine *rules.Engine, layers []regions.Layer,
	sampleInterval int64, gc func(now float64)) {

	min, max, ok := r.Range()
	if !ok {
		return
	}
	if sampleInterval <= 0 {
		sampleInterval = 1
	}

	reg := tracker.New(layers, r.st)
	for ts := min; ts <= max; ts += sampleInterval {
		for _, loc := range r.perSecond[ts] {
			reg.AddLocation(loc, engine)
		}
		reg.CheckProximity(engine, float64(ts))
		reg.ExpireOlderThan(engine, float64(ts), r.opts.MaxInterpolateSecs)
		if gc != nil {
			gc(float64(ts))
		}
	}
}
