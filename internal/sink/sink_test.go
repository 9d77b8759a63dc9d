package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"adsb_actions/internal/adsb"
	"adsb_actions/internal/flight"
	"adsb_actions/internal/prox"
)

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "shard.jsonl.gz")

	s := NewJSONLSet()
	locs := []adsb.Location{
		{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: 1000, Callsign: "N12345"},
		{Lat: 40.77, Lon: -119.22, AltBaro: 5100, Now: 1001, Callsign: "N12345"},
	}
	for _, loc := range locs {
		if err := s.Emit(path, loc); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}

	var lines []map[string]any
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("read %d lines, want 2", len(lines))
	}
	if lines[0]["alt_baro"].(float64) != 5000 || lines[1]["now"].(float64) != 1001 {
		t.Errorf("round-trip mismatch: %v", lines)
	}
}

func TestJSONLAppendAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.jsonl.gz")

	for i := 0; i < 2; i++ {
		s := NewJSONLSet()
		if err := s.Emit(path, adsb.Location{Now: float64(i)}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	// Concatenated gzip members decode as one stream.
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		n++
	}
	if n != 2 {
		t.Errorf("read %d lines across appends, want 2", n)
	}
}

func TestLOSStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "los.db")
	store, err := OpenLOSStore(path)
	if err != nil {
		t.Fatalf("OpenLOSStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	l1 := adsb.Location{Lat: 40.76, Lon: -119.21, AltBaro: 5000, Now: 100}
	l2 := adsb.Location{Lat: 40.77, Lon: -119.21, AltBaro: 5100, Now: 100}
	ev := &prox.Event{
		ID1: "N1", ID2: "N2",
		Flight1: flight.New("N1", "N1", l1, 0),
		Flight2: flight.New("N2", "N2", l2, 0),
		Loc1:    l1, Loc2: l2,
		LatDist: 0.6, AltDist: 100,
		MinLatDist: 0.6, MinAltDist: 100,
		CreateTime: 100, LastTime: 100, CPATime: 100,
	}

	id, err := store.AddLOS(ev)
	if err != nil {
		t.Fatalf("AddLOS: %v", err)
	}
	if id == 0 {
		t.Fatal("AddLOS returned zero row id")
	}
	ev.RowID = id

	ev.LastTime = 120
	ev.CPATime = 110
	ev.MinLatDist = 0.2
	ev.MinAltDist = 50
	if err := store.UpdateLOS(ev); err != nil {
		t.Fatalf("UpdateLOS: %v", err)
	}

	r, err := store.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if r == nil {
		t.Fatal("GetByID returned nil")
	}
	if r.MinLatDist != 0.2 || r.MinAltDist != 50 || r.CPATime != 110 {
		t.Errorf("finalized record = %+v, want minima 0.2/50 at t=110", r)
	}
	if r.Quality == "" {
		t.Error("finalized record should carry a quality tag")
	}

	if n, err := store.Count(); err != nil || n != 1 {
		t.Errorf("Count = %d (%v), want 1", n, err)
	}
}
