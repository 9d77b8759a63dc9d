package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ExecutionCounter counts firings of a single rule, broken down by the
// note attached to the flight at fire time.
type ExecutionCounter struct {
	RuleName string
	Count    int
	Notes    map[string]int
}

func (c *ExecutionCounter) increment(note string) {
	c.Count++
	if note != "" {
		if c.Notes == nil {
			c.Notes = make(map[string]int)
		}
		c.Notes[note]++
	}
}

// Report renders the counter for the final report.
func (c *ExecutionCounter) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %s matched %d times.\n", c.RuleName, c.Count)

	notes := make([]string, 0, len(c.Notes))
	for n := range c.Notes {
		notes = append(notes, n)
	}
	sort.Strings(notes)
	for _, n := range notes {
		fmt.Fprintf(&b, "    Including %s %d times.\n", n, c.Notes[n])
	}
	return b.String()
}

type execKey struct {
	rule   string
	flight string // "" for the per-rule entry
}

// ExecutionLog records the last fire time for each rule/flight pair, which
// backs the cooldown and rule_cooldown conditions, plus per-rule execution
// counters. Timestamps are in the ingested time domain, not wall clock.
type ExecutionLog struct {
	mu       sync.Mutex
	lastFire map[execKey]float64
	counters map[string]*ExecutionCounter
}

// NewExecutionLog creates an empty log.
func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{
		lastFire: make(map[execKey]float64),
		counters: make(map[string]*ExecutionCounter),
	}
}

// Log records a firing of rule for flightID at now, with the flight's
// current note (may be empty). Both the pair entry and the rule-only entry
// are written.
func (l *ExecutionLog) Log(rule, flightID string, now float64, note string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[rule]
	if !ok {
		c = &ExecutionCounter{RuleName: rule}
		l.counters[rule] = c
	}
	c.increment(note)

	l.lastFire[execKey{rule, flightID}] = now
	l.lastFire[execKey{rule, ""}] = now
}

// WithinCooldown reports whether rule has fired for flightID within the
// last secs seconds of ingested time.
func (l *ExecutionLog) WithinCooldown(rule, flightID string, secs, now float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastFire[execKey{rule, flightID}]; ok {
		return now-last < secs
	}
	return false
}

// WithinRuleCooldown reports whether rule has fired for any flight within
// the last secs seconds of ingested time.
func (l *ExecutionLog) WithinRuleCooldown(rule string, secs, now float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastFire[execKey{rule, ""}]; ok {
		return now-last < secs
	}
	return false
}

// Counter returns the execution counter for rule, or an empty one.
func (l *ExecutionLog) Counter(rule string) *ExecutionCounter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counters[rule]; ok {
		return c
	}
	return &ExecutionCounter{RuleName: rule}
}
