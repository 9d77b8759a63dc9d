package tracker

import (
	"testing"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/rules"
)

func loc(id string, alt int, now float64) adsb.Location {
	return adsb.Location{
		Lat: 40.7635, Lon: -119.2122, AltBaro: alt, Now: now,
		Callsign: id,
	}
}

func TestAddLocation(t *testing.T) {
	r := New(nil, nil)

	r.AddLocation(loc("N1", 1000, 100), nil)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	f := r.Get("N1")
	if f == nil || f.LastLoc.Now != 100 {
		t.Fatal("flight N1 not tracked")
	}

	r.AddLocation(loc("N1", 1100, 110), nil)
	if r.Len() != 1 {
		t.Errorf("Len = %d after update, want 1", r.Len())
	}
	if f.LastLoc.AltBaro != 1100 || f.FirstLoc.AltBaro != 1000 {
		t.Error("update must replace last_loc and keep first_loc")
	}
}

func TestDropUnidentified(t *testing.T) {
	r := New(nil, nil)
	ts := r.AddLocation(adsb.Location{Callsign: "N/A", Now: 500}, nil)
	if ts != 500 {
		t.Errorf("heartbeat timestamp = %v, want 500", ts)
	}
	if r.Len() != 0 {
		t.Error("heartbeat must not create a flight")
	}
}

func TestExpiry(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
rules:
  landed:
    conditions: {}
    actions:
      expire_callback: gone
`))
	if err != nil {
		t.Fatal(err)
	}
	e := rules.NewEngine(cfg, rules.Options{})
	var expired []string
	e.RegisterFlightFunc("gone", func(f *flight.Flight) { expired = append(expired, f.ID) })

	r := New(nil, nil)
	r.AddLocation(loc("N1", 1000, 100), e)
	r.AddLocation(loc("N2", 1000, 300), e)

	// N1 is 200s idle at t=300: inside the default 180s window.
	r.ExpireOld(e, 300)
	if r.Len() != 1 || r.Get("N1") != nil {
		t.Errorf("N1 should be expired, N2 kept: len=%d", r.Len())
	}
	if len(expired) != 1 || expired[0] != "N1" {
		t.Errorf("expire callbacks = %v, want [N1]", expired)
	}

	// Invariant: nothing older than now-ExpireSecs remains.
	for _, f := range r.Active() {
		if f.LastLoc.Now < 300-ExpireSecs {
			t.Errorf("stale flight %s survived expiry", f.ID)
		}
	}
}

func TestCheckProximity(t *testing.T) {
	cfg, err := rules.Parse([]byte(`
rules:
  close_call:
    conditions:
      proximity: [400, 0.3]
    actions:
      callback: los
`))
	if err != nil {
		t.Fatal(err)
	}
	e := rules.NewEngine(cfg, rules.Options{})
	fired := 0
	e.RegisterPairFunc("los", func(a, b *flight.Flight) { fired++ })

	r := New(nil, nil)
	r.AddLocation(loc("N1", 5000, 100), e)
	r.AddLocation(loc("N2", 5100, 100), e)
	r.CheckProximity(e, 100)

	if fired != 1 {
		t.Errorf("proximity callbacks = %d, want 1", fired)
	}
}
