// Package stats tracks process-wide counters. Counters are incremented
// from any goroutine; exactness is not required.
package stats

import "sync/atomic"

// Counters holds the systemwide event counts.
type Counters struct {
	JSONReadLines      atomic.Int64
	ConditionCalls     atomic.Int64
	RuleMatches        atomic.Int64
	CallbacksFired     atomic.Int64
	CallbackErrors     atomic.Int64
	WebhooksFired      atomic.Int64
	FlightsExpired     atomic.Int64
	ResamplerPoints    atomic.Int64
	ResamplerSkips     atomic.Int64
	LOSAdd             atomic.Int64
	LOSUpdate          atomic.Int64
	LOSFinalize        atomic.Int64
}

// Default is the process-wide counter set.
var Default Counters

// Snapshot returns the current counter values keyed by name.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"json_readlines":   c.JSONReadLines.Load(),
		"condition_calls":  c.ConditionCalls.Load(),
		"rule_matches":     c.RuleMatches.Load(),
		"callbacks_fired":  c.CallbacksFired.Load(),
		"callback_errors":  c.CallbackErrors.Load(),
		"webhooks_fired":   c.WebhooksFired.Load(),
		"flights_expired":  c.FlightsExpired.Load(),
		"resampler_points": c.ResamplerPoints.Load(),
		"resampler_skips":  c.ResamplerSkips.Load(),
		"los_add":          c.LOSAdd.Load(),
		"los_update":       c.LOSUpdate.Load(),
		"los_finalize":     c.LOSFinalize.Load(),
	}
}

// Reset zeroes every counter. Used by tests.
func (c *Counters) Reset() {
	c.JSONReadLines.Store(0)
	c.ConditionCalls.Store(0)
	c.RuleMatches.Store(0)
	c.CallbacksFired.Store(0)
	c.CallbackErrors.Store(0)
	c.WebhooksFired.Store(0)
	c.FlightsExpired.Store(0)
	c.ResamplerPoints.Store(0)
	c.ResamplerSkips.Store(0)
	c.LOSAdd.Store(0)
	c.LOSUpdate.Store(0)
	c.LOSFinalize.Store(0)
}
