// Package rules implements the declarative rule engine: YAML rule
// parsing into tagged condition and action records, per-position
// evaluation with a spatial-grid prefilter, the pairwise proximity pass,
// and cooldown bookkeeping.
package rules

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"adsb_actions/internal/geo"
)

// Settings is the top-level config block.
type Settings struct {
	RegionLayers []string `yaml:"region_layers"`
}

// Config is a parsed rule file. Rules keep their file order.
type Config struct {
	Settings      Settings
	AircraftLists map[string][]string
	Rules         []*Rule
}

// Rule is one named rule: AND-combined conditions plus the actions that
// fire when all conditions hold.
type Rule struct {
	Name       string
	Conditions Conditions
	Actions    Actions

	// BBox is the precomputed rectangle around a latlongring condition,
	// used by the spatial grid and as a cheap pre-reject.
	BBox *geo.BBox
}

// Ring is the latlongring condition: within RadiusNM of a center point.
type Ring struct {
	RadiusNM float64
	Lat      float64
	Lon      float64
}

// Proximity marks a rule for the pairwise proximity pass.
type Proximity struct {
	AltSepFt float64
	LatSepNM float64
}

// timeRange is one "HHMM-HHMM" window in minutes since midnight UTC.
// A window with end < start wraps past midnight.
type timeRange struct {
	start, end int
}

func (r timeRange) matches(ts float64) bool {
	t := time.Unix(int64(ts), 0).UTC()
	m := t.Hour()*60 + t.Minute()
	if r.end < r.start {
		return m >= r.start || m <= r.end
	}
	return m >= r.start && m <= r.end
}

// Conditions is the tagged set of recognized rule conditions. Nil
// pointers and empty slices mean "not specified".
type Conditions struct {
	Enabled          *bool
	AircraftList     string
	MinAlt           *int
	MaxAlt           *int
	MinVertRate      *float64
	MaxVertRate      *float64
	Squawks          []int
	Emergency        string
	Categories       []string
	CallsignPrefixes []string
	Regions          []string
	HasRegions       bool // distinguishes "regions: []" from absent
	Transition       *[2]string
	ChangedRegions   bool
	LatLongRing      *Ring
	TimeRanges       []timeRange
	Proximity        *Proximity
	CooldownSecs     float64
	RuleCooldownSecs float64

	// Unknown condition names force the rule to never match.
	Unknown []string
}

// Actions is the tagged set of recognized rule actions.
type Actions struct {
	Callback       string
	Note           string
	Print          bool
	Webhook        []string // kind, recipient, optional message
	EmitJSONL      string
	ExpireCallback string
	Track          bool
}

type rawFile struct {
	Config        Settings            `yaml:"config"`
	AircraftLists map[string][]string `yaml:"aircraft_lists"`
	Rules         yaml.Node           `yaml:"rules"`
}

// LoadFile reads and parses a rule configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML rule configuration. Rule order is preserved, so
// the rules block is walked as a raw node rather than a map.
func Parse(data []byte) (*Config, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	cfg := &Config{
		Settings:      raw.Config,
		AircraftLists: raw.AircraftLists,
	}
	if cfg.AircraftLists == nil {
		cfg.AircraftLists = make(map[string][]string)
	}

	if raw.Rules.Kind == 0 || raw.Rules.Kind == yaml.ScalarNode {
		return cfg, nil
	}
	if raw.Rules.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rules block must be a mapping")
	}

	for i := 0; i+1 < len(raw.Rules.Content); i += 2 {
		name := raw.Rules.Content[i].Value
		rule, err := parseRule(name, raw.Rules.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	return cfg, nil
}

type rawRule struct {
	Conditions yaml.Node `yaml:"conditions"`
	Actions    yaml.Node `yaml:"actions"`
}

func parseRule(name string, node *yaml.Node) (*Rule, error) {
	var body rawRule
	if err := node.Decode(&body); err != nil {
		return nil, err
	}

	rule := &Rule{Name: name}
	if err := parseConditions(&rule.Conditions, &body.Conditions, name); err != nil {
		return nil, err
	}
	if err := parseActions(&rule.Actions, &body.Actions, name); err != nil {
		return nil, err
	}

	if ring := rule.Conditions.LatLongRing; ring != nil {
		bbox := geo.RingBBox(ring.RadiusNM, ring.Lat, ring.Lon)
		rule.BBox = &bbox
	}
	return rule, nil
}

func parseConditions(c *Conditions, node *yaml.Node, rule string) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("conditions must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		var err error

		switch key {
		case "enabled":
			var b bool
			if err = val.Decode(&b); err == nil {
				c.Enabled = &b
			}
		case "aircraft_list":
			err = val.Decode(&c.AircraftList)
		case "min_alt":
			c.MinAlt, err = decodeAltitude(val)
		case "max_alt":
			c.MaxAlt, err = decodeAltitude(val)
		case "min_vertical_rate":
			var f float64
			if err = val.Decode(&f); err == nil {
				c.MinVertRate = &f
			}
		case "max_vertical_rate":
			var f float64
			if err = val.Decode(&f); err == nil {
				c.MaxVertRate = &f
			}
		case "squawk":
			c.Squawks, err = decodeIntList(val)
		case "emergency":
			err = val.Decode(&c.Emergency)
		case "category":
			c.Categories, err = decodeStringList(val)
		case "callsign_prefix":
			c.CallsignPrefixes, err = decodeStringList(val)
		case "regions":
			c.HasRegions = true
			c.Regions, err = decodeStringList(val)
		case "transition_regions":
			var pair []string
			if err = val.Decode(&pair); err == nil {
				if len(pair) != 2 {
					err = fmt.Errorf("transition_regions needs exactly 2 entries, got %d", len(pair))
				} else {
					c.Transition = &[2]string{normalizeRegion(pair[0]), normalizeRegion(pair[1])}
				}
			}
		case "changed_regions":
			c.ChangedRegions = true
		case "latlongring":
			var vals []float64
			if err = val.Decode(&vals); err == nil {
				if len(vals) != 3 {
					err = fmt.Errorf("latlongring needs [radius_nm, lat, lon], got %d entries", len(vals))
				} else {
					c.LatLongRing = &Ring{RadiusNM: vals[0], Lat: vals[1], Lon: vals[2]}
				}
			}
		case "time_ranges":
			var specs []string
			if err = val.Decode(&specs); err == nil {
				for _, s := range specs {
					tr, perr := parseTimeRange(s)
					if perr != nil {
						err = perr
						break
					}
					c.TimeRanges = append(c.TimeRanges, tr)
				}
			}
		case "proximity":
			var vals []float64
			if err = val.Decode(&vals); err == nil {
				if len(vals) != 2 {
					err = fmt.Errorf("proximity needs [alt_sep_ft, lat_sep_nm], got %d entries", len(vals))
				} else {
					c.Proximity = &Proximity{AltSepFt: vals[0], LatSepNM: vals[1]}
				}
			}
		case "cooldown":
			var mins float64
			if err = val.Decode(&mins); err == nil {
				c.CooldownSecs = mins * 60
			}
		case "rule_cooldown":
			var mins float64
			if err = val.Decode(&mins); err == nil {
				c.RuleCooldownSecs = mins * 60
			}
		default:
			log.Printf("WARNING: rule %q: unknown condition %q, rule will never match", rule, key)
			c.Unknown = append(c.Unknown, key)
		}

		if err != nil {
			return fmt.Errorf("condition %q: %w", key, err)
		}
	}
	return nil
}

func parseActions(a *Actions, node *yaml.Node, rule string) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("actions must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		var err error

		switch key {
		case "callback":
			err = val.Decode(&a.Callback)
		case "note":
			err = val.Decode(&a.Note)
		case "print":
			err = val.Decode(&a.Print)
		case "webhook":
			err = val.Decode(&a.Webhook)
			if err == nil && len(a.Webhook) < 2 {
				err = fmt.Errorf("webhook needs [kind, recipient, message?], got %d entries", len(a.Webhook))
			}
		case "emit_jsonl":
			err = val.Decode(&a.EmitJSONL)
		case "expire_callback":
			err = val.Decode(&a.ExpireCallback)
		case "track":
			err = val.Decode(&a.Track)
		default:
			log.Printf("WARNING: rule %q: unknown action %q, skipping", rule, key)
		}

		if err != nil {
			return fmt.Errorf("action %q: %w", key, err)
		}
	}
	return nil
}

// decodeAltitude accepts an integer or the string "ground" (0).
func decodeAltitude(val *yaml.Node) (*int, error) {
	if val.Kind == yaml.ScalarNode && strings.EqualFold(val.Value, "ground") {
		zero := 0
		return &zero, nil
	}
	var alt int
	if err := val.Decode(&alt); err != nil {
		return nil, err
	}
	return &alt, nil
}

// decodeStringList accepts either a scalar or a sequence of scalars.
func decodeStringList(val *yaml.Node) ([]string, error) {
	if val.Kind == yaml.ScalarNode {
		if val.Tag == "!!null" {
			return nil, nil
		}
		return []string{val.Value}, nil
	}
	var list []string
	if err := val.Decode(&list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeIntList(val *yaml.Node) ([]int, error) {
	if val.Kind == yaml.ScalarNode {
		n, err := strconv.Atoi(val.Value)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	var list []int
	if err := val.Decode(&list); err != nil {
		return nil, err
	}
	return list, nil
}

func normalizeRegion(s string) string {
	if strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func parseTimeRange(s string) (timeRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return timeRange{}, fmt.Errorf("time range %q must be HHMM-HHMM", s)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return timeRange{}, fmt.Errorf("time range %q: %w", s, err)
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return timeRange{}, fmt.Errorf("time range %q: %w", s, err)
	}
	return timeRange{start: start, end: end}, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, fmt.Errorf("%q is not HHMM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("%q is not HHMM", s)
	}
	m, err := strconv.Atoi(s[2:])
	if err != nil {
		return 0, fmt.Errorf("%q is not HHMM", s)
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return h*60 + m, nil
}
