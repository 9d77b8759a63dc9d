package resample

import (
	"testing"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/rules"
)

func raw(tail string, lat float64, alt int, now float64) adsb.Location {
	return adsb.Location{
		Lat: lat, Lon: -119.21, AltBaro: alt, Now: now,
		Tail: tail, GS: 100, Track: 90,
	}
}

func countForTail(r *Resampler, tail string, ts int64) int {
	n := 0
	for _, loc := range r.AtSecond(ts) {
		if loc.Tail == tail {
			n++
		}
	}
	return n
}

func TestInterpolation(t *testing.T) {
	r := New(Options{})
	r.AddLocation(raw("N12345", 40.70, 5000, 1000))
	r.AddLocation(raw("N12345", 40.71, 5000, 1005))
	r.AddLocation(raw("N12345", 40.78, 5000, 1040))

	total := 0
	for ts := int64(1000); ts <= 1040; ts++ {
		c := countForTail(r, "N12345", ts)
		if c != 1 {
			t.Errorf("second %d has %d entries, want 1", ts, c)
		}
		total += c
	}
	if total != 41 {
		t.Errorf("total entries = %d, want 41", total)
	}

	// Interpolated point lies strictly between the bracketing raw values.
	mid := r.AtSecond(1023)[0]
	if !(mid.Lat > 40.71 && mid.Lat < 40.78) {
		t.Errorf("lat at t=1023 = %v, want in (40.71, 40.78)", mid.Lat)
	}
	if mid.AltBaro != 5000 {
		t.Errorf("alt at t=1023 = %d, want 5000", mid.AltBaro)
	}
}

func TestGapSplitsSegment(t *testing.T) {
	r := New(Options{})
	r.AddLocation(raw("N1", 40.70, 5000, 1000))
	r.AddLocation(raw("N1", 40.71, 5000, 1100))

	if got := r.SegmentCount("N1"); got != 2 {
		t.Errorf("SegmentCount = %d after 100s gap, want 2", got)
	}
	if len(r.AtSecond(1050)) != 0 {
		t.Error("no synthesized points may bridge a gap > 60s")
	}
	if len(r.Segments("N1_1")) != 1 || len(r.Segments("N1_2")) != 1 {
		t.Error("raw points should land in separate segments")
	}
}

func TestAltitudeBandSkip(t *testing.T) {
	r := New(Options{})
	r.AddLocation(raw("N1", 40.70, 2000, 1000))  // below band
	r.AddLocation(raw("N1", 40.70, 13000, 1001)) // above band
	r.AddLocation(raw("", 40.70, 5000, 1002))    // no tail

	if _, _, ok := r.Range(); ok {
		t.Error("all positions should have been skipped")
	}
}

func TestAntiTeleport(t *testing.T) {
	r := New(Options{})
	r.AddLocation(raw("N1", 40.0, 5000, 1000))
	// 4 degrees of latitude in 60s is far beyond 600 kt.
	r.AddLocation(raw("N1", 44.0, 5000, 1060))

	seg := r.Segments("N1_1")
	if len(seg) != 2 {
		t.Fatalf("segment length = %d, want 2", len(seg))
	}
	if !seg[1].Suspicious {
		t.Error("teleporting point must be flagged suspicious")
	}
	if seg[0].Suspicious {
		t.Error("first point must not be flagged")
	}
	// Interpolated points of the segment inherit the flag.
	if pts := r.AtSecond(1030); len(pts) != 1 || !pts[0].Suspicious {
		t.Error("synthesized points must inherit the suspicious flag")
	}
}

func TestSpeedDeltaFlagging(t *testing.T) {
	r := New(Options{})
	// Two legs at 120 kt, then a leg at 240 kt: delta 120 > 100.
	r.AddLocation(raw("N1", 40.000000, 5000, 1000))
	r.AddLocation(raw("N1", 40.005556, 5000, 1010))
	r.AddLocation(raw("N1", 40.016667, 5000, 1020))

	seg := r.Segments("N1_1")
	if seg[1].Suspicious {
		t.Error("steady leg must not be flagged")
	}
	if !seg[2].Suspicious {
		t.Error("120 kt speed jump must be flagged")
	}
}

func TestResampleIdempotence(t *testing.T) {
	a := New(Options{})
	a.AddLocation(raw("N1", 40.70, 5000, 1000))
	a.AddLocation(raw("N1", 40.71, 5200, 1007))
	a.AddLocation(raw("N2", 40.80, 6000, 1003))

	// Feeding a resampler its own 1 Hz output adds nothing new.
	b := New(Options{})
	a.ForEachResampledPoint(b.AddLocation)

	aMin, aMax, _ := a.Range()
	bMin, bMax, _ := b.Range()
	if aMin != bMin || aMax != bMax {
		t.Fatalf("range (%d, %d) != (%d, %d)", bMin, bMax, aMin, aMax)
	}
	for ts := aMin; ts <= aMax; ts++ {
		for _, tail := range []string{"N1", "N2"} {
			if got, want := countForTail(b, tail, ts), countForTail(a, tail, ts); got != want {
				t.Errorf("second %d tail %s: %d entries, want %d", ts, tail, got, want)
			}
		}
	}
}

func TestForEachResampledPointOrder(t *testing.T) {
	r := New(Options{})
	r.AddLocation(raw("N1", 40.70, 5000, 1010))
	r.AddLocation(raw("N2", 40.80, 5000, 1000))

	var seen []float64
	r.ForEachResampledPoint(func(loc adsb.Location) { seen = append(seen, loc.Now) })
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("points out of order: %v", seen)
		}
	}
}

func TestDoProxChecks(t *testing.T) {
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

	r := New(Options{})
	for _, now := range []float64{1000, 1005} {
		r.AddLocation(raw("N11111", 40.70, 5000, now))
		r.AddLocation(raw("N22222", 40.70, 5100, now))
	}

	gcCalls := 0
	r.DoProxChecks(e, nil, 1, func(now float64) { gcCalls++ })

	if fired == 0 {
		t.Error("proximity pass over resampled history should fire")
	}
	if gcCalls != 6 {
		t.Errorf("gc callbacks = %d, want 6 (one per swept second)", gcCalls)
	}
}
