// Package adsb provides the position-report value types decoded from an
// ADS-B JSON feed, plus ICAO hex to registration conversion.
package adsb

import (
	"encoding/json"
	"fmt"
	"strconv"

	"adsb_actions/internal/geo"
)

// FlexFloat handles JSON fields that can arrive as number, string, or be
// absent. Raw feeds are noisy; anything unparseable decodes to zero.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = FlexFloat(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = FlexFloat(v)
			return nil
		}
	}

	*f = 0
	return nil
}

// FlexAlt handles the alt_baro field, which is an integer number of feet or
// the literal string "ground" (decoded as 0).
type FlexAlt int

func (a *FlexAlt) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*a = FlexAlt(int(v))
		return nil
	}

	// "ground", or a stringified number.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*a = FlexAlt(int(v))
			return nil
		}
	}

	*a = 0
	return nil
}

// Category carries the secondary ADS-B fields that arrive intermittently
// alongside positions. Unrecognized keys are preserved in Extra.
type Category struct {
	Squawk          string         `json:"squawk,omitempty"`
	Emergency       string         `json:"emergency,omitempty"`
	EmitterCategory string         `json:"category,omitempty"`
	BaroRate        float64        `json:"baro_rate,omitempty"`
	Extra           map[string]any `json:"-"`
}

// Location is a single immutable aircraft position report.
type Location struct {
	Lat        float64
	Lon        float64
	AltBaro    int     // feet; "ground" maps to 0
	Now        float64 // seconds since epoch
	Callsign   string  // raw ADS-B "flight" field; may be "" or "N/A"
	Hex        string  // ICAO hex, lowercase
	Tail       string  // derived from Hex; may be ""
	GS         float64 // knots
	Track      float64 // degrees 0-360
	Category   *Category
	Suspicious bool // set by the resampler's anti-teleport guard
}

// wireLocation matches the JSON feed field names with tolerant types.
type wireLocation struct {
	Lat       FlexFloat       `json:"lat"`
	Lon       FlexFloat       `json:"lon"`
	AltBaro   FlexAlt         `json:"alt_baro"`
	Now       FlexFloat       `json:"now"`
	Flight    string          `json:"flight"`
	Hex       string          `json:"hex"`
	GS        FlexFloat       `json:"gs"`
	Track     FlexFloat       `json:"track"`
	Squawk    json.RawMessage `json:"squawk"`
	Emergency string          `json:"emergency"`
	Category  string          `json:"category"`
	BaroRate  FlexFloat       `json:"baro_rate"`
}

// FromJSON decodes one feed line into a Location. Absent or wrong-typed
// numeric fields default to zero rather than failing.
func FromJSON(data []byte) (Location, error) {
	var w wireLocation
	if err := json.Unmarshal(data, &w); err != nil {
		return Location{}, fmt.Errorf("decode position: %w", err)
	}

	loc := Location{
		Lat:      float64(w.Lat),
		Lon:      float64(w.Lon),
		AltBaro:  int(w.AltBaro),
		Now:      float64(w.Now),
		Callsign: w.Flight,
		Hex:      w.Hex,
		GS:       float64(w.GS),
		Track:    float64(w.Track),
	}

	if w.Hex != "" {
		loc.Tail = IcaoToTail(w.Hex)
	}

	if len(w.Squawk) > 0 || w.Emergency != "" || w.Category != "" || w.BaroRate != 0 {
		var squawk string
		if len(w.Squawk) > 0 {
			// Squawk arrives as "1200" or 1200.
			if err := json.Unmarshal(w.Squawk, &squawk); err != nil {
				var n float64
				if json.Unmarshal(w.Squawk, &n) == nil {
					squawk = strconv.Itoa(int(n))
				}
			}
		}
		loc.Category = &Category{
			Squawk:          squawk,
			Emergency:       w.Emergency,
			EmitterCategory: w.Category,
			BaroRate:        float64(w.BaroRate),
		}
	}

	return loc, nil
}

// FlightID returns the stable identity for this position: the derived tail
// if the ICAO hex decoded, else the raw callsign, else the hex. Empty means
// the position should be dropped.
func (l Location) FlightID() string {
	if l.Tail != "" {
		return l.Tail
	}
	if l.Callsign != "" && l.Callsign != "N/A" {
		return l.Callsign
	}
	return l.Hex
}

// IsHeartbeat reports whether this is a time-advance entry with no flight data.
func (l Location) IsHeartbeat() bool {
	return l.Callsign == "N/A" && l.Hex == ""
}

// DistanceNM returns the great-circle distance to other in nautical miles.
func (l Location) DistanceNM(other Location) float64 {
	return geo.DistanceNM(l.Lat, l.Lon, other.Lat, other.Lon)
}

// DistFrom returns the great-circle distance to a lat/lon in nautical miles.
func (l Location) DistFrom(lat, lon float64) float64 {
	return geo.DistanceNM(l.Lat, l.Lon, lat, lon)
}

// String renders the position for logs: tail/callsign, altitude, track,
// speed, lat/lon.
func (l Location) String() string {
	return fmt.Sprintf("%s/%s: %d MSL %d deg %.1f kts %.4f, %.4f",
		l.Tail, l.Callsign, l.AltBaro, int(l.Track), l.GS, l.Lat, l.Lon)
}

// ToJSON serializes the Location back to the feed's wire format. Parsing a
// line and serializing it round-trips lat, lon, alt_baro, track, and the
// flight id.
func (l Location) ToJSON() []byte {
	m := map[string]any{
		"now":      l.Now,
		"lat":      l.Lat,
		"lon":      l.Lon,
		"alt_baro": l.AltBaro,
		"gs":       l.GS,
		"track":    l.Track,
	}
	if l.Hex != "" {
		m["hex"] = l.Hex
	}
	if l.Callsign != "" {
		m["flight"] = l.Callsign
	}
	if c := l.Category; c != nil {
		if c.Squawk != "" {
			m["squawk"] = c.Squawk
		}
		if c.Emergency != "" {
			m["emergency"] = c.Emergency
		}
		if c.EmitterCategory != "" {
			m["category"] = c.EmitterCategory
		}
		if c.BaroRate != 0 {
			m["baro_rate"] = c.BaroRate
		}
	}
	b, _ := json.Marshal(m)
	return b
}

// MeanLoc returns the midpoint of two Locations, used for the closest
// approach record in proximity event reports.
func MeanLoc(a, b Location) Location {
	return Location{
		Lat:     (a.Lat + b.Lat) / 2,
		Lon:     (a.Lon + b.Lon) / 2,
		AltBaro: (a.AltBaro + b.AltBaro) / 2,
		Now:     a.Now,
	}
}
