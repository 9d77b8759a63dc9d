package prox

import (
	"strings"
	"testing"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
)

type fakeSink struct {
	added     []Event
	finalized []Event
}

func (s *fakeSink) AddLOS(e *Event) (int64, error) {
	s.added = append(s.added, *e)
	return int64(len(s.added)), nil
}

func (s *fakeSink) UpdateLOS(e *Event) error {
	s.finalized = append(s.finalized, *e)
	return nil
}

func mkFlight(id string, lat, lon float64, alt int, now float64) *flight.Flight {
	loc := adsb.Location{Lat: lat, Lon: lon, AltBaro: alt, Now: now}
	return flight.New(id, id, loc, 0)
}

func TestLOSLifecycle(t *testing.T) {
	sink := &fakeSink{}
	e := NewEngine(sink, nil)

	f1 := mkFlight("N1", 40.76, -119.21, 5000, 100)
	f2 := mkFlight("N2", 40.77, -119.21, 5100, 100)
	e.Update(f1, f2)

	if len(sink.added) != 1 {
		t.Fatalf("AddLOS calls = %d, want 1", len(sink.added))
	}
	initial := sink.added[0]
	if initial.MinLatDist != initial.LatDist || initial.MinAltDist != initial.AltDist {
		t.Error("initial minima must equal initial distances")
	}

	// t=110: closest approach.
	f1.UpdateLoc(adsb.Location{Lat: 40.765, Lon: -119.21, AltBaro: 5000, Now: 110})
	f2.UpdateLoc(adsb.Location{Lat: 40.766, Lon: -119.21, AltBaro: 5050, Now: 110})
	e.Update(f1, f2)

	// t=120: further apart again.
	f1.UpdateLoc(adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: 120})
	f2.UpdateLoc(adsb.Location{Lat: 40.77, Lon: -119.21, AltBaro: 5100, Now: 120})
	e.Update(f1, f2)

	if e.Active() != 1 {
		t.Fatalf("Active = %d, want 1", e.Active())
	}

	e.GC(200)
	if e.Active() != 0 {
		t.Error("event should be finalized after GC past the idle window")
	}
	if len(sink.finalized) != 1 {
		t.Fatalf("UpdateLOS calls = %d, want 1", len(sink.finalized))
	}

	fin := sink.finalized[0]
	if fin.MinAltDist != 50 {
		t.Errorf("MinAltDist = %v, want 50 (the t=110 approach)", fin.MinAltDist)
	}
	if fin.CPATime != 110 {
		t.Errorf("CPATime = %v, want 110", fin.CPATime)
	}
	if fin.Loc1.Lat != 40.765 || fin.Loc2.Lat != 40.766 {
		t.Error("closest-approach locations must be the t=110 snapshots")
	}
	if fin.MinLatDist > fin.LatDist || fin.MinAltDist > fin.AltDist {
		t.Error("minima must never exceed current distances")
	}
}

func TestKeySymmetry(t *testing.T) {
	e := NewEngine(nil, nil)
	f1 := mkFlight("N2", 40.76, -119.21, 5000, 100)
	f2 := mkFlight("N1", 40.76, -119.21, 5100, 100)

	e.Update(f1, f2)
	e.Update(f2, f1)
	if e.Active() != 1 {
		t.Errorf("Active = %d, want 1: (A,B) and (B,A) must share a key", e.Active())
	}
}

func TestNoReopenAfterFinalize(t *testing.T) {
	e := NewEngine(nil, nil)
	f1 := mkFlight("N1", 40.76, -119.21, 5000, 100)
	f2 := mkFlight("N2", 40.76, -119.21, 5100, 100)

	e.Update(f1, f2)
	e.GC(200)
	if e.Active() != 0 {
		t.Fatal("expected finalization")
	}

	// A later encounter opens a fresh event.
	f1.UpdateLoc(adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: 300})
	f2.UpdateLoc(adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5100, Now: 300})
	e.Update(f1, f2)
	if e.Active() != 1 {
		t.Error("a post-finalization encounter must create a new event")
	}
}

func TestQuality(t *testing.T) {
	long := func(id string, firstNow, lastNow float64) *flight.Flight {
		f := mkFlight(id, 40.76, -119.21, 5000, firstNow)
		f.UpdateLoc(adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: lastNow})
		return f
	}

	tests := []struct {
		name       string
		ev         Event
		want       string
	}{
		{
			"short track",
			Event{Flight1: long("N1", 0, 30), Flight2: long("N2", 0, 200),
				CreateTime: 10, LastTime: 30},
			"low",
		},
		{
			"formation flight",
			Event{Flight1: long("N1", 0, 400), Flight2: long("N2", 0, 400),
				CreateTime: 100, LastTime: 300},
			"low",
		},
		{
			"medium duration",
			Event{Flight1: long("N1", 0, 400), Flight2: long("N2", 0, 400),
				CreateTime: 100, LastTime: 180},
			"medium",
		},
		{
			"very close brief",
			Event{Flight1: long("N1", 0, 400), Flight2: long("N2", 0, 400),
				CreateTime: 100, LastTime: 130, MinLatDist: 0.1, MinAltDist: 100},
			"vhigh",
		},
		{
			"brief but not close",
			Event{Flight1: long("N1", 0, 400), Flight2: long("N2", 0, 400),
				CreateTime: 100, LastTime: 130, MinLatDist: 0.5, MinAltDist: 300},
			"high",
		},
	}
	for _, tc := range tests {
		if got := tc.ev.Quality(); got != tc.want {
			t.Errorf("%s: Quality() = %q, want %q", tc.name, got, tc.want)
		}
	}

	heli := long("N1", 0, 400)
	heli.UpdateLoc(adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: 400,
		Category: &adsb.Category{EmitterCategory: "A7"}})
	ev := Event{Flight1: heli, Flight2: long("N2", 0, 400), CreateTime: 100, LastTime: 130}
	if got := ev.Quality(); got != "medium" {
		t.Errorf("helicopter event Quality() = %q, want medium", got)
	}
}

func TestCSVLine(t *testing.T) {
	f1 := mkFlight("N1", 40.76, -119.21, 5000, 100)
	f2 := mkFlight("N2", 40.77, -119.21, 5100, 100)
	ev := Event{
		ID1: "N1", ID2: "N2",
		Flight1: f1, Flight2: f2,
		Loc1: f1.LastLoc, Loc2: f2.LastLoc,
		MinLatDist: 0.25, MinAltDist: 100,
		CreateTime: 100, LastTime: 120, CPATime: 110,
	}
	line := ev.csvLine()
	if !strings.HasPrefix(line, "CSV OUTPUT FOR POSTPROCESSING: ") {
		t.Fatalf("csv line missing prefix: %q", line)
	}
	for _, frag := range []string{"N1", "N2", "0.25", "globe.adsbexchange.com"} {
		if !strings.Contains(line, frag) {
			t.Errorf("csv line missing %q: %s", frag, line)
		}
	}
}
