// Package prox tracks loss-of-separation episodes between aircraft
// pairs: creation on first detection, minimum-approach updates, and
// GC-driven finalization with a grep-able CSV summary line.
package prox

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/stats"
)

const (
	// GCTime is how long an event goes without updates before it is
	// finalized and removed.
	GCTime = 60.0
	// GCLoopDelay is the background sweep interval.
	GCLoopDelay = 5 * time.Second
)

// Sink receives LOS records for external persistence. AddLOS returns an
// opaque row id handed back on the finalizing UpdateLOS.
type Sink interface {
	AddLOS(e *Event) (int64, error)
	UpdateLOS(e *Event) error
}

// Event is one open loss-of-separation episode, keyed by the sorted
// flight-id pair. Loc1/Loc2 snapshot the closest approach seen so far.
type Event struct {
	ID1, ID2         string
	Flight1, Flight2 *flight.Flight
	Loc1, Loc2       adsb.Location

	LatDist, AltDist       float64
	MinLatDist, MinAltDist float64

	CreateTime float64
	LastTime   float64
	CPATime    float64

	RowID int64
}

// Key is the map key: sorted ids joined by a space.
func (e *Event) Key() string { return e.ID1 + " " + e.ID2 }

// Duration is the observed length of the episode in seconds.
func (e *Event) Duration() float64 { return e.LastTime - e.CreateTime }

// update records a further detection. Minima tighten independently; a
// new minimum on either axis re-snapshots the closest-approach geometry.
func (e *Event) update(l1, l2 adsb.Location, latDist, altDist, now float64) {
	e.LastTime = now
	e.LatDist = latDist
	e.AltDist = altDist

	tightened := false
	if latDist < e.MinLatDist {
		e.MinLatDist = latDist
		tightened = true
	}
	if altDist < e.MinAltDist {
		e.MinAltDist = altDist
		tightened = true
	}
	if tightened {
		e.Loc1 = deepcopy.Copy(l1).(adsb.Location)
		e.Loc2 = deepcopy.Copy(l2).(adsb.Location)
		e.CPATime = now
	}
}

// Quality classifies the episode for triage. Long episodes suggest
// intentional formation flight; short track histories suggest the data
// is too thin to trust.
func (e *Event) Quality() string {
	trackSecs := e.Flight1.TrackSecs()
	if s := e.Flight2.TrackSecs(); s < trackSecs {
		trackSecs = s
	}
	dur := e.Duration()

	switch {
	case trackSecs < 60:
		return "low"
	case dur > 120:
		return "low"
	case dur > 60 || e.Flight1.IsHelicopter() || e.Flight2.IsHelicopter():
		return "medium"
	case dur <= 40 && e.MinLatDist < 0.2 && e.MinAltDist < 200:
		return "vhigh"
	}
	return "high"
}

// Engine holds all open LOS events for the process.
type Engine struct {
	mu     sync.Mutex
	events map[string]*Event

	sink Sink
	st   *stats.Counters

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewEngine creates an Engine. sink may be nil when no external store is
// configured.
func NewEngine(sink Sink, st *stats.Counters) *Engine {
	if st == nil {
		st = &stats.Default
	}
	return &Engine{
		events: make(map[string]*Event),
		sink:   sink,
		st:     st,
	}
}

// Update is the proximity-rule callback: register it as the pair
// callback for LOS rules. Ordering is canonicalized so (A,B) and (B,A)
// address the same event.
func (p *Engine) Update(f1, f2 *flight.Flight) {
	if f2.ID < f1.ID {
		f1, f2 = f2, f1
	}
	l1, l2 := f1.LastLoc, f2.LastLoc
	latDist := l1.DistanceNM(l2)
	altDist := math.Abs(float64(l1.AltBaro - l2.AltBaro))
	now := l1.Now

	key := f1.ID + " " + f2.ID

	p.mu.Lock()
	ev, ok := p.events[key]
	if ok {
		ev.update(l1, l2, latDist, altDist, now)
		p.mu.Unlock()
		p.st.LOSUpdate.Add(1)
		log.Printf("LOS update %s: %.2f nm / %.0f ft (min %.2f / %.0f)",
			key, latDist, altDist, ev.MinLatDist, ev.MinAltDist)
		return
	}

	ev = &Event{
		ID1: f1.ID, ID2: f2.ID,
		Flight1: f1, Flight2: f2,
		Loc1:       deepcopy.Copy(l1).(adsb.Location),
		Loc2:       deepcopy.Copy(l2).(adsb.Location),
		LatDist:    latDist,
		AltDist:    altDist,
		MinLatDist: latDist,
		MinAltDist: altDist,
		CreateTime: now,
		LastTime:   now,
		CPATime:    now,
	}
	p.events[key] = ev
	p.mu.Unlock()

	p.st.LOSAdd.Add(1)
	log.Printf("LOS new %s: %.2f nm / %.0f ft", key, latDist, altDist)

	// External write happens outside the lock.
	if p.sink != nil {
		id, err := p.sink.AddLOS(ev)
		if err != nil {
			log.Printf("ERROR: los add for %s: %v", key, err)
			return
		}
		ev.RowID = id
	}
}

// GC finalizes every event not updated within GCTime of now: push the
// final minima to the sink, emit the postprocessing CSV line, and drop
// the record. A later encounter of the same pair opens a fresh event.
func (p *Engine) GC(now float64) {
	p.mu.Lock()
	var stale []*Event
	for key, ev := range p.events {
		if now-ev.LastTime > GCTime {
			stale = append(stale, ev)
			delete(p.events, key)
		}
	}
	p.mu.Unlock()

	for _, ev := range stale {
		if p.sink != nil {
			if err := p.sink.UpdateLOS(ev); err != nil {
				log.Printf("ERROR: los finalize for %s: %v", ev.Key(), err)
			}
		}
		p.st.LOSFinalize.Add(1)
		log.Print(ev.csvLine())
	}
}

// Active returns the number of open events.
func (p *Engine) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// StartGCLoop runs GC against wall-clock time until Stop is called.
func (p *Engine) StartGCLoop() {
	p.quit = make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(GCLoopDelay)
		defer ticker.Stop()
		for {
			select {
			case <-p.quit:
				return
			case <-ticker.C:
				p.GC(float64(time.Now().Unix()))
			}
		}
	}()
}

// Stop terminates the GC loop and waits for it.
func (p *Engine) Stop() {
	if p.quit != nil {
		close(p.quit)
		p.wg.Wait()
	}
}

// Finalize force-GCs every remaining event; used at end of batch runs.
func (p *Engine) Finalize() {
	p.GC(math.Inf(1))
}

// csvLine renders the finalization record consumed by downstream
// tooling. Columns: timestamp, midpoint lat/lon/alt, both ids, both
// ground speeds, the minima, quality, three reserved columns, and a
// replay URL.
func (e *Event) csvLine() string {
	mean := adsb.MeanLoc(e.Loc1, e.Loc2)
	return fmt.Sprintf(
		"CSV OUTPUT FOR POSTPROCESSING: %d,%.4f,%.4f,%d,%s,%s,%.0f,%.0f,%.2f,%.0f,%s,%s,%s,%s,%s",
		int64(e.CPATime), mean.Lat, mean.Lon, mean.AltBaro,
		e.ID1, e.ID2, e.Loc1.GS, e.Loc2.GS,
		e.MinLatDist, e.MinAltDist, e.Quality(),
		"notused", "interp", "audio", e.replayURL(mean))
}

func (e *Event) replayURL(mean adsb.Location) string {
	t := time.Unix(int64(e.CPATime), 0).UTC()
	return fmt.Sprintf(
		"https://globe.adsbexchange.com/?icao=%s,%s&lat=%.4f&lon=%.4f&zoom=11&showTrace=%s&timestamp=%d",
		e.Loc1.Hex, e.Loc2.Hex, mean.Lat, mean.Lon,
		t.Format("2006-01-02"), int64(e.CPATime))
}
