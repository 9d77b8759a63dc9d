package adsb

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFromJSON(t *testing.T) {
	line := `{"hex":"a061d9","flight":"N12345","lat":40.7635,"lon":-119.2122,"alt_baro":400,"gs":120.5,"track":270,"now":1000}`
	loc, err := FromJSON([]byte(line))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if loc.Lat != 40.7635 || loc.Lon != -119.2122 {
		t.Errorf("lat/lon = %v, %v", loc.Lat, loc.Lon)
	}
	if loc.AltBaro != 400 {
		t.Errorf("AltBaro = %d, want 400", loc.AltBaro)
	}
	if loc.Callsign != "N12345" {
		t.Errorf("Callsign = %q, want N12345", loc.Callsign)
	}
	if loc.Tail != "N12345" {
		t.Errorf("Tail = %q, want N12345 (derived from a061d9)", loc.Tail)
	}
	if loc.Now != 1000 {
		t.Errorf("Now = %v, want 1000", loc.Now)
	}
}

func TestFromJSONDefaults(t *testing.T) {
	// Wrong-typed and missing numeric fields default to zero.
	line := `{"flight":"TEST1","lat":"garbage","alt_baro":"ground","gs":null}`
	loc, err := FromJSON([]byte(line))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if loc.Lat != 0 {
		t.Errorf("Lat = %v, want 0", loc.Lat)
	}
	if loc.AltBaro != 0 {
		t.Errorf("AltBaro = %d, want 0 for ground", loc.AltBaro)
	}
	if loc.GS != 0 {
		t.Errorf("GS = %v, want 0", loc.GS)
	}
}

func TestFromJSONCategory(t *testing.T) {
	line := `{"flight":"N1","lat":1.0,"lon":2.0,"alt_baro":5000,"now":10,"squawk":"1200","emergency":"none","category":"A7","baro_rate":-500}`
	loc, err := FromJSON([]byte(line))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if loc.Category == nil {
		t.Fatal("Category = nil, want populated")
	}
	if loc.Category.Squawk != "1200" {
		t.Errorf("Squawk = %q, want 1200", loc.Category.Squawk)
	}
	if loc.Category.EmitterCategory != "A7" {
		t.Errorf("EmitterCategory = %q, want A7", loc.Category.EmitterCategory)
	}
	if loc.Category.BaroRate != -500 {
		t.Errorf("BaroRate = %v, want -500", loc.Category.BaroRate)
	}

	// Numeric squawk also accepted.
	line2 := `{"flight":"N1","squawk":7700}`
	loc2, _ := FromJSON([]byte(line2))
	if loc2.Category == nil || loc2.Category.Squawk != "7700" {
		t.Errorf("numeric squawk not normalized: %+v", loc2.Category)
	}
}

func TestFlightID(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{"tail wins", Location{Tail: "N12345", Callsign: "SWA123", Hex: "a061d9"}, "N12345"},
		{"callsign next", Location{Callsign: "SWA123", Hex: "ffffff"}, "SWA123"},
		{"n/a callsign skipped", Location{Callsign: "N/A", Hex: "ffffff"}, "ffffff"},
		{"hex last", Location{Hex: "ffffff"}, "ffffff"},
		{"empty", Location{}, ""},
	}
	for _, tt := range tests {
		if got := tt.loc.FlightID(); got != tt.want {
			t.Errorf("%s: FlightID() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDistance(t *testing.T) {
	a := Location{Lat: 40.7635, Lon: -119.2122}
	b := Location{Lat: 40.7635, Lon: -119.2122}
	if d := a.DistanceNM(b); d != 0 {
		t.Errorf("identical positions distance = %v, want 0", d)
	}

	c := Location{Lat: 41.7635, Lon: -119.2122}
	d1 := a.DistanceNM(c)
	d2 := c.DistanceNM(a)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
	if d1 < 59 || d1 > 61 {
		t.Errorf("one degree of latitude = %v nm, want ~60", d1)
	}
}

func TestToJSONRoundTrip(t *testing.T) {
	line := `{"hex":"a061d9","flight":"N12345","lat":40.7635,"lon":-119.2122,"alt_baro":600,"gs":95,"track":135,"now":1005}`
	loc, err := FromJSON([]byte(line))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	loc2, err := FromJSON(loc.ToJSON())
	if err != nil {
		t.Fatalf("FromJSON(ToJSON): %v", err)
	}
	if loc2.Lat != loc.Lat || loc2.Lon != loc.Lon {
		t.Errorf("lat/lon did not round-trip: %v vs %v", loc2, loc)
	}
	if loc2.AltBaro != loc.AltBaro {
		t.Errorf("alt_baro did not round-trip: %d vs %d", loc2.AltBaro, loc.AltBaro)
	}
	if loc2.Track != loc.Track {
		t.Errorf("track did not round-trip: %v vs %v", loc2.Track, loc.Track)
	}
	if loc2.FlightID() != loc.FlightID() {
		t.Errorf("flight id did not round-trip: %q vs %q", loc2.FlightID(), loc.FlightID())
	}

	// The wire form must itself be valid JSON.
	var m map[string]any
	if err := json.Unmarshal(loc.ToJSON(), &m); err != nil {
		t.Fatalf("ToJSON produced invalid JSON: %v", err)
	}
}

func TestIsHeartbeat(t *testing.T) {
	hb, _ := FromJSON([]byte(`{"flight":"N/A","now":5000}`))
	if !hb.IsHeartbeat() {
		t.Error("flight N/A with no hex should be a heartbeat")
	}
	real, _ := FromJSON([]byte(`{"hex":"a061d9","flight":"N12345","now":5000}`))
	if real.IsHeartbeat() {
		t.Error("real position should not be a heartbeat")
	}
}
