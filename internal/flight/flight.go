// Package flight holds the per-aircraft state tracked across position
// updates: identity, the latest Location, region membership per layer,
// and a rolling altitude window.
package flight

import (
	"fmt"
	"strings"
	"sync"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/regions"
)

// altTrackEntries is the size of the rolling altitude window.
const altTrackEntries = 5

// Flight is the mutable state for one aircraft. It is owned by the
// registry; the embedded mutex guards Flags and ExternalID when user
// callbacks touch them.
type Flight struct {
	ID      string // stable flight id (tail, callsign, or hex)
	OtherID string // raw callsign as observed

	FirstLoc adsb.Location
	LastLoc  adsb.Location

	// Region membership, one slot per configured layer. "" means none.
	InsideRegions     []string
	PrevInsideRegions []string
	PrevValid         bool // false until the second region update

	// Flags is a free-form scratch area written by rule actions and read
	// by later rules or sinks.
	Flags map[string]any

	// ExternalID is an opaque id assigned by a downstream database,
	// cached after first insert.
	ExternalID string

	altWindow []int

	regionsInitialized bool

	mu sync.Mutex
}

// New creates a Flight from its first observed position. layerCount is the
// number of configured region layers.
func New(id, callsign string, loc adsb.Location, layerCount int) *Flight {
	return &Flight{
		ID:                id,
		OtherID:           callsign,
		FirstLoc:          loc,
		LastLoc:           loc,
		InsideRegions:     make([]string, layerCount),
		PrevInsideRegions: make([]string, layerCount),
		Flags:             make(map[string]any),
	}
}

// Lock acquires the flight's own lock. Always inner to the registry lock.
func (f *Flight) Lock() { f.mu.Lock() }

// Unlock releases the flight's own lock.
func (f *Flight) Unlock() { f.mu.Unlock() }

// UpdateLoc replaces the last seen Location. The secondary-field bundle
// arrives intermittently, so a previous bundle is carried forward when the
// incoming position has none: the last seen value is still authoritative.
func (f *Flight) UpdateLoc(loc adsb.Location) {
	if loc.Category == nil && f.LastLoc.Category != nil {
		loc.Category = f.LastLoc.Category
	}
	f.LastLoc = loc
}

// UpdateRegions records current region membership for each layer, saving
// the previous state first. PrevValid becomes true on the second and
// subsequent updates.
func (f *Flight) UpdateRegions(layers []regions.Layer, loc adsb.Location) {
	copy(f.PrevInsideRegions, f.InsideRegions)

	for i, layer := range layers {
		f.InsideRegions[i] = ""
		idx := layer.Contains(loc.Lat, loc.Lon, loc.Track, loc.AltBaro)
		if idx >= 0 {
			f.InsideRegions[i] = layer.RegionName(idx)
		}
	}

	if f.regionsInitialized {
		f.PrevValid = true
	}
	f.regionsInitialized = true
}

// TrackAlt pushes alt into the rolling window and reports whether it is
// above (+1), at (0), or below (-1) the window's previous mean.
func (f *Flight) TrackAlt(alt int) int {
	avg := alt
	if len(f.altWindow) > 0 {
		sum := 0
		for _, a := range f.altWindow {
			sum += a
		}
		avg = int(float64(sum) / float64(len(f.altWindow)))
	}
	if len(f.altWindow) == altTrackEntries {
		f.altWindow = f.altWindow[1:]
	}
	f.altWindow = append(f.altWindow, alt)

	switch {
	case alt > avg:
		return 1
	case alt < avg:
		return -1
	}
	return 0
}

// AltChangeIndicator renders the altitude trend for display: "^", "v", or
// two spaces for level.
func (f *Flight) AltChangeIndicator(alt int) string {
	switch f.TrackAlt(alt) {
	case 1:
		return "^"
	case -1:
		return "v"
	}
	return "  "
}

// InAnyRegion reports whether any layer currently has a region.
func (f *Flight) InAnyRegion() bool {
	for _, r := range f.InsideRegions {
		if r != "" {
			return true
		}
	}
	return false
}

// WasInAnyRegion reports whether any layer had a region on the previous
// update.
func (f *Flight) WasInAnyRegion() bool {
	for _, r := range f.PrevInsideRegions {
		if r != "" {
			return true
		}
	}
	return false
}

// IsInRegions reports whether the flight currently occupies any of the
// named regions. An empty or none-only list means the flight must be in no
// region at all.
func (f *Flight) IsInRegions(names []string) bool {
	return matchRegions(f.InsideRegions, names, f.InAnyRegion())
}

// WasInRegions is IsInRegions against the previous update's membership.
func (f *Flight) WasInRegions(names []string) bool {
	return matchRegions(f.PrevInsideRegions, names, f.WasInAnyRegion())
}

func matchRegions(current, names []string, inAny bool) bool {
	effective := names[:0:0]
	for _, n := range names {
		if n != "" && !strings.EqualFold(n, "none") {
			effective = append(effective, n)
		}
	}
	if len(effective) == 0 {
		return !inAny
	}
	for _, r := range current {
		if r == "" {
			continue
		}
		for _, n := range effective {
			if r == n {
				return true
			}
		}
	}
	return false
}

// ChangedRegions reports whether any layer's region differs from the
// previous update. Always false before the second update.
func (f *Flight) ChangedRegions() bool {
	if !f.PrevValid {
		return false
	}
	for i := range f.InsideRegions {
		if f.InsideRegions[i] != f.PrevInsideRegions[i] {
			return true
		}
	}
	return false
}

// TrackSecs returns the length of the observed track in seconds.
func (f *Flight) TrackSecs() float64 {
	return f.LastLoc.Now - f.FirstLoc.Now
}

// IsHelicopter reports whether the flight's emitter category is A7.
func (f *Flight) IsHelicopter() bool {
	return f.LastLoc.Category != nil && f.LastLoc.Category.EmitterCategory == "A7"
}

// NoteFlag returns the "note" flag if one has been set by a rule action.
func (f *Flight) NoteFlag() string {
	if n, ok := f.Flags["note"].(string); ok {
		return n
	}
	return ""
}

// String renders the last position plus region membership for logs.
func (f *Flight) String() string {
	return fmt.Sprintf("%s %v", f.LastLoc.String(), f.InsideRegions)
}
