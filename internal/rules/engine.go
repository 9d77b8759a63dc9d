package rules

import (
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"strings"

	"adsb_actions/internal/flight"
	"adsb_actions/internal/sink"
	"adsb_actions/internal/stats"
	"adsb_actions/internal/webhooks"
)

// Defaults for the evaluation knobs. Grid cells are degrees; one degree
// of latitude is about 60 nm.
const (
	DefaultGridCellDeg  = 1.0
	DefaultMinFreshSecs = 10.0
)

// FlightFunc is a per-position callback, invoked with the matched flight.
type FlightFunc func(*flight.Flight)

// PairFunc is a proximity callback, invoked with both flights of a pair.
type PairFunc func(a, b *flight.Flight)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// DisableSpatialGrid forces linear evaluation of latlongring rules.
	DisableSpatialGrid bool
	// GridCellDeg is the spatial grid cell size in degrees.
	GridCellDeg float64
	// MinFreshSecs is the proximity-pass freshness window.
	MinFreshSecs float64
	// LayerCount is the number of configured region layers. When nonzero
	// the proximity pass skips flights that are in no region at all.
	LayerCount int

	Webhooks *webhooks.Registry
	Emitters *sink.JSONLSet
	Stats    *stats.Counters
}

type gridCell struct {
	lat, lon int
}

// Engine evaluates parsed rules against flights and dispatches actions.
type Engine struct {
	cfg  *Config
	opts Options

	execLog     *ExecutionLog
	flightFuncs map[string]FlightFunc
	pairFuncs   map[string]PairFunc

	// grid maps cells to indices of latlongring rules whose bbox
	// intersects the cell. Nil when the optimization is disabled.
	grid map[gridCell][]int

	st *stats.Counters
}

// NewEngine builds an Engine over a parsed Config.
func NewEngine(cfg *Config, opts Options) *Engine {
	if opts.GridCellDeg <= 0 {
		opts.GridCellDeg = DefaultGridCellDeg
	}
	if opts.MinFreshSecs <= 0 {
		opts.MinFreshSecs = DefaultMinFreshSecs
	}
	st := opts.Stats
	if st == nil {
		st = &stats.Default
	}

	e := &Engine{
		cfg:         cfg,
		opts:        opts,
		execLog:     NewExecutionLog(),
		flightFuncs: make(map[string]FlightFunc),
		pairFuncs:   make(map[string]PairFunc),
		st:          st,
	}
	if !opts.DisableSpatialGrid {
		e.buildGrid()
	}
	return e
}

// buildGrid indexes every latlongring rule into each grid cell its
// bounding box touches. Rules without a ring are always candidates and
// never enter the grid.
func (e *Engine) buildGrid() {
	e.grid = make(map[gridCell][]int)
	for i, rule := range e.cfg.Rules {
		if rule.BBox == nil {
			continue
		}
		minLat := int(math.Floor(rule.BBox.MinLat / e.opts.GridCellDeg))
		maxLat := int(math.Floor(rule.BBox.MaxLat / e.opts.GridCellDeg))
		minLon := int(math.Floor(rule.BBox.MinLon / e.opts.GridCellDeg))
		maxLon := int(math.Floor(rule.BBox.MaxLon / e.opts.GridCellDeg))
		for la := minLat; la <= maxLat; la++ {
			for lo := minLon; lo <= maxLon; lo++ {
				cell := gridCell{la, lo}
				e.grid[cell] = append(e.grid[cell], i)
			}
		}
	}
}

// RegisterFlightFunc names a per-position callback.
func (e *Engine) RegisterFlightFunc(name string, fn FlightFunc) {
	e.flightFuncs[name] = fn
}

// RegisterPairFunc names a proximity-pair callback.
func (e *Engine) RegisterPairFunc(name string, fn PairFunc) {
	e.pairFuncs[name] = fn
}

// ExecLog exposes the cooldown/counter log.
func (e *Engine) ExecLog() *ExecutionLog { return e.execLog }

// Config returns the parsed configuration the engine was built from.
func (e *Engine) Config() *Config { return e.cfg }

// ProcessFlight evaluates every candidate rule against the flight's
// latest position and fires the actions of each rule that matches.
func (e *Engine) ProcessFlight(f *flight.Flight) {
	var inCell map[int]bool
	if e.grid != nil {
		cell := gridCell{
			lat: int(math.Floor(f.LastLoc.Lat / e.opts.GridCellDeg)),
			lon: int(math.Floor(f.LastLoc.Lon / e.opts.GridCellDeg)),
		}
		inCell = make(map[int]bool)
		for _, idx := range e.grid[cell] {
			inCell[idx] = true
		}
	}

	for i, rule := range e.cfg.Rules {
		// Ring rules outside the flight's grid cell cannot match.
		if inCell != nil && rule.BBox != nil && !inCell[i] {
			continue
		}
		e.st.ConditionCalls.Add(1)
		if e.conditionsMatch(f, rule, false, f.LastLoc.Now) {
			e.doActions(f, nil, rule)
		}
	}
}

// conditionsMatch evaluates a rule's conditions in a fixed order,
// short-circuiting on the first failure. forProximity selects the
// proximity pass, where the proximity condition itself is a pass-through
// instead of a gate.
func (e *Engine) conditionsMatch(f *flight.Flight, rule *Rule, forProximity bool, now float64) bool {
	c := &rule.Conditions

	if len(c.Unknown) > 0 {
		return false
	}
	if c.Enabled != nil && !*c.Enabled {
		return false
	}
	if c.Proximity != nil && !forProximity {
		return false
	}

	if c.AircraftList != "" {
		list, ok := e.cfg.AircraftLists[c.AircraftList]
		if !ok {
			log.Printf("WARNING: rule %q references unknown aircraft_list %q", rule.Name, c.AircraftList)
			return false
		}
		if !containsString(list, f.ID) {
			return false
		}
	}

	alt := f.LastLoc.AltBaro
	if c.MinAlt != nil && alt < *c.MinAlt {
		return false
	}
	if c.MaxAlt != nil && alt > *c.MaxAlt {
		return false
	}

	if c.MinVertRate != nil || c.MaxVertRate != nil {
		rate := 0.0
		if f.LastLoc.Category != nil {
			rate = f.LastLoc.Category.BaroRate
		}
		if c.MinVertRate != nil && rate < *c.MinVertRate {
			return false
		}
		if c.MaxVertRate != nil && rate > *c.MaxVertRate {
			return false
		}
	}

	if len(c.Squawks) > 0 {
		sq := -1
		if f.LastLoc.Category != nil {
			fmt.Sscanf(f.LastLoc.Category.Squawk, "%d", &sq)
		}
		if !containsInt(c.Squawks, sq) {
			return false
		}
	}

	if c.Emergency != "" {
		val := ""
		if f.LastLoc.Category != nil {
			val = f.LastLoc.Category.Emergency
		}
		switch c.Emergency {
		case "none":
			if val != "" && val != "none" {
				return false
			}
		case "any":
			if val == "" || val == "none" {
				return false
			}
		default:
			if val != c.Emergency {
				return false
			}
		}
	}

	if len(c.Categories) > 0 {
		cat := ""
		if f.LastLoc.Category != nil {
			cat = f.LastLoc.Category.EmitterCategory
		}
		if !containsString(c.Categories, cat) {
			return false
		}
	}

	if len(c.CallsignPrefixes) > 0 {
		matched := false
		for _, p := range c.CallsignPrefixes {
			if strings.HasPrefix(f.ID, p) || strings.HasPrefix(f.OtherID, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.HasRegions && !f.IsInRegions(c.Regions) {
		return false
	}

	if c.Transition != nil {
		if !f.PrevValid {
			return false
		}
		if !f.WasInRegions([]string{c.Transition[0]}) {
			return false
		}
		if !f.IsInRegions([]string{c.Transition[1]}) {
			return false
		}
	}

	if c.ChangedRegions && !f.ChangedRegions() {
		return false
	}

	if ring := c.LatLongRing; ring != nil {
		if rule.BBox != nil && !rule.BBox.Contains(f.LastLoc.Lat, f.LastLoc.Lon) {
			return false
		}
		if f.LastLoc.DistFrom(ring.Lat, ring.Lon) > ring.RadiusNM {
			return false
		}
	}

	if len(c.TimeRanges) > 0 {
		matched := false
		for _, tr := range c.TimeRanges {
			if tr.matches(f.LastLoc.Now) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.CooldownSecs > 0 &&
		e.execLog.WithinCooldown(rule.Name, f.ID, c.CooldownSecs, now) {
		return false
	}
	if c.RuleCooldownSecs > 0 &&
		e.execLog.WithinRuleCooldown(rule.Name, c.RuleCooldownSecs, now) {
		return false
	}

	return true
}

// doActions fires a matched rule. The execution is logged first so the
// cooldown takes effect regardless of which actions are configured. For
// proximity matches other is the second flight of the pair.
func (e *Engine) doActions(f, other *flight.Flight, rule *Rule) {
	f.Lock()
	note := f.NoteFlag()
	f.Unlock()
	e.execLog.Log(rule.Name, f.ID, f.LastLoc.Now, note)
	e.st.RuleMatches.Add(1)

	a := &rule.Actions

	if a.Note != "" {
		f.Lock()
		f.Flags["note"] = a.Note
		f.Unlock()
	}

	if a.Print {
		if other != nil {
			log.Printf("MATCH rule %s: %s / %s", rule.Name, f, other)
		} else {
			log.Printf("MATCH rule %s: %s", rule.Name, f)
		}
	}

	if len(a.Webhook) >= 2 {
		message := fmt.Sprintf("Rule %s matched for %s", rule.Name, f.ID)
		if len(a.Webhook) >= 3 {
			message = a.Webhook[2]
		}
		if e.opts.Webhooks != nil {
			if e.opts.Webhooks.Send(a.Webhook[0], a.Webhook[1], message) {
				e.st.WebhooksFired.Add(1)
			}
		} else {
			log.Printf("WARNING: rule %q has a webhook action but no registry is configured", rule.Name)
		}
	}

	if a.EmitJSONL != "" {
		if e.opts.Emitters != nil {
			if err := e.opts.Emitters.Emit(a.EmitJSONL, f.LastLoc); err != nil {
				log.Printf("ERROR: rule %q emit_jsonl: %v", rule.Name, err)
			}
		} else {
			log.Printf("WARNING: rule %q has an emit_jsonl action but no writer is configured", rule.Name)
		}
	}

	if a.Callback != "" {
		e.dispatchCallback(rule.Name, a.Callback, f, other)
	}
}

// dispatchCallback invokes a registered callback, containing any panic so
// a misbehaving handler cannot tear down the ingest loop.
func (e *Engine) dispatchCallback(rule, name string, f, other *flight.Flight) {
	defer func() {
		if r := recover(); r != nil {
			e.st.CallbackErrors.Add(1)
			log.Printf("ERROR: callback %q (rule %q) panicked: %v\n%s", name, rule, r, debug.Stack())
		}
	}()

	if other != nil {
		fn, ok := e.pairFuncs[name]
		if !ok {
			log.Printf("WARNING: rule %q names unregistered pair callback %q", rule, name)
			return
		}
		e.st.CallbacksFired.Add(1)
		fn(f, other)
		return
	}

	fn, ok := e.flightFuncs[name]
	if !ok {
		log.Printf("WARNING: rule %q names unregistered callback %q", rule, name)
		return
	}
	e.st.CallbacksFired.Add(1)
	fn(f)
}

// DoExpire runs the expiry path for a flight being removed: any rule
// carrying an expire_callback action, plus the legacy rule name
// "expire_callback_rule", fires its callback if the rule's other
// conditions hold.
func (e *Engine) DoExpire(f *flight.Flight) {
	for _, rule := range e.cfg.Rules {
		name := rule.Actions.ExpireCallback
		if name == "" && rule.Name == "expire_callback_rule" {
			name = rule.Actions.Callback
		}
		if name == "" {
			continue
		}
		if !e.conditionsMatch(f, rule, false, f.LastLoc.Now) {
			continue
		}
		f.Lock()
		note := f.NoteFlag()
		f.Unlock()
		e.execLog.Log(rule.Name, f.ID, f.LastLoc.Now, note)
		e.dispatchCallback(rule.Name, name, f, nil)
	}
	e.st.FlightsExpired.Add(1)
}

// HandleProximityConditions runs the pairwise pass for every rule with a
// proximity condition. Flights must satisfy the rule's per-flight
// conditions and have been seen within the freshness window; surviving
// unique pairs inside both separation thresholds fire the rule.
func (e *Engine) HandleProximityConditions(flights []*flight.Flight, now float64) {
	for _, rule := range e.cfg.Rules {
		p := rule.Conditions.Proximity
		if p == nil {
			continue
		}

		var cands []*flight.Flight
		for _, f := range flights {
			if now-f.LastLoc.Now > e.opts.MinFreshSecs {
				continue
			}
			if e.opts.LayerCount > 0 && !f.InAnyRegion() {
				continue
			}
			e.st.ConditionCalls.Add(1)
			if !e.conditionsMatch(f, rule, true, now) {
				continue
			}
			cands = append(cands, f)
		}

		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				a, b := cands[i], cands[j]
				altDiff := a.LastLoc.AltBaro - b.LastLoc.AltBaro
				if altDiff < 0 {
					altDiff = -altDiff
				}
				if float64(altDiff) >= p.AltSepFt {
					continue
				}
				if a.LastLoc.DistanceNM(b.LastLoc) >= p.LatSepNM {
					continue
				}
				e.doActions(a, b, rule)
			}
		}
	}
}

// FinalReport renders execution counters for every rule with a track
// action and logs the result. Returns the combined report text.
func (e *Engine) FinalReport() string {
	var b strings.Builder
	for _, rule := range e.cfg.Rules {
		if !rule.Actions.Track {
			continue
		}
		b.WriteString(e.execLog.Counter(rule.Name).Report())
	}
	report := b.String()
	if report != "" {
		log.Printf("Final rule report:\n%s", report)
	}
	return report
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
