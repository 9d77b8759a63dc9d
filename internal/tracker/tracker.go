// Package tracker maintains the registry of active flights: creation on
// first sight, per-position updates, and age-based expiry.
package tracker

import (
	"log"
	"sync"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/regions"
	"adsb_actions/internal/rules"
	"adsb_actions/internal/stats"
)

// ExpireSecs is the default idle time before a flight is dropped.
const ExpireSecs = 180.0

// Registry maps flight id to Flight, guarded by one lock. Rule
// evaluation happens outside the lock; the flight's own lock covers its
// mutable flags during callbacks.
type Registry struct {
	mu      sync.Mutex
	flights map[string]*flight.Flight
	layers  []regions.Layer
	st      *stats.Counters
}

// New creates a Registry applying the given region layers on each update.
func New(layers []regions.Layer, st *stats.Counters) *Registry {
	if st == nil {
		st = &stats.Default
	}
	return &Registry{
		flights: make(map[string]*flight.Flight),
		layers:  layers,
		st:      st,
	}
}

// AddLocation folds one position into the registry and evaluates rules
// for the affected flight. Positions without a usable flight id are
// dropped (heartbeats still advance the returned timestamp). Returns the
// position's timestamp.
func (r *Registry) AddLocation(loc adsb.Location, engine *rules.Engine) float64 {
	id := loc.FlightID()
	if id == "" || id == "N/A" {
		return loc.Now
	}

	r.mu.Lock()
	f, ok := r.flights[id]
	if ok {
		f.UpdateLoc(loc)
	} else {
		f = flight.New(id, loc.Callsign, loc, len(r.layers))
		r.flights[id] = f
	}
	f.UpdateRegions(r.layers, f.LastLoc)
	r.mu.Unlock()

	if engine != nil {
		engine.ProcessFlight(f)
	}
	return loc.Now
}

// ExpireOld removes every flight idle longer than ExpireSecs as of now,
// running the expire path for each.
func (r *Registry) ExpireOld(engine *rules.Engine, now float64) {
	r.ExpireOlderThan(engine, now, ExpireSecs)
}

// ExpireOlderThan is ExpireOld with an explicit idle window.
func (r *Registry) ExpireOlderThan(engine *rules.Engine, now, idleSecs float64) {
	r.mu.Lock()
	var stale []*flight.Flight
	for id, f := range r.flights {
		if f.LastLoc.Now < now-idleSecs {
			stale = append(stale, f)
			delete(r.flights, id)
		}
	}
	r.mu.Unlock()

	for _, f := range stale {
		log.Printf("expiring flight %s, last seen %.0f", f.ID, f.LastLoc.Now)
		if engine != nil {
			engine.DoExpire(f)
		}
	}
}

// CheckProximity hands the active flight list to the rule engine's
// pairwise pass.
func (r *Registry) CheckProximity(engine *rules.Engine, now float64) {
	if engine == nil {
		return
	}
	engine.HandleProximityConditions(r.Active(), now)
}

// Active returns a snapshot of all tracked flights.
func (r *Registry) Active() []*flight.Flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*flight.Flight, 0, len(r.flights))
	for _, f := range r.flights {
		out = append(out, f)
	}
	return out
}

// Get returns the flight for id, or nil.
func (r *Registry) Get(id string) *flight.Flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flights[id]
}

// Len returns the number of tracked flights.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flights)
}
