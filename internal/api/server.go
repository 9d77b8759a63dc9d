// Package api exposes a small REST surface over the live tracker:
// process counters, the active flight list, and single-flight lookup.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"adsb_actions/internal/flight"
	"adsb_actions/internal/stats"
	"adsb_actions/internal/tracker"
)

// StatusServer serves read-only state for dashboards and debugging.
type StatusServer struct {
	reg  *tracker.Registry
	st   *stats.Counters
	port int
}

// NewStatusServer creates a server over the given registry and counters.
func NewStatusServer(reg *tracker.Registry, st *stats.Counters, port int) *StatusServer {
	if st == nil {
		st = &stats.Default
	}
	return &StatusServer{reg: reg, st: st, port: port}
}

// Run starts the HTTP server.
func (s *StatusServer) Run() error {
	addr := ":" + strconv.Itoa(s.port)
	log.Printf("Status API starting at http://localhost%s", addr)
	return http.ListenAndServe(addr, s.Router())
}

// Router returns the configured chi router for embedding or testing.
func (s *StatusServer) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/flights", s.handleFlights)
		r.Get("/flights/{id}", s.handleFlight)
	})
	return r
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"counters":       s.st.Snapshot(),
		"active_flights": s.reg.Len(),
	})
}

// flightView is the wire shape of one tracked flight.
type flightView struct {
	FlightID  string   `json:"flight_id"`
	Callsign  string   `json:"callsign,omitempty"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AltBaro   int      `json:"alt_baro"`
	GS        float64  `json:"gs"`
	Track     float64  `json:"track"`
	LastSeen  float64  `json:"last_seen"`
	Regions   []string `json:"regions"`
	TrackSecs float64  `json:"track_secs"`
}

func viewOf(f *flight.Flight) flightView {
	regions := make([]string, 0, len(f.InsideRegions))
	for _, r := range f.InsideRegions {
		if r != "" {
			regions = append(regions, r)
		}
	}
	return flightView{
		FlightID:  f.ID,
		Callsign:  f.OtherID,
		Lat:       f.LastLoc.Lat,
		Lon:       f.LastLoc.Lon,
		AltBaro:   f.LastLoc.AltBaro,
		GS:        f.LastLoc.GS,
		Track:     f.LastLoc.Track,
		LastSeen:  f.LastLoc.Now,
		Regions:   regions,
		TrackSecs: f.TrackSecs(),
	}
}

func (s *StatusServer) handleFlights(w http.ResponseWriter, _ *http.Request) {
	active := s.reg.Active()
	views := make([]flightView, 0, len(active))
	for _, f := range active {
		views = append(views, viewOf(f))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].FlightID < views[j].FlightID })
	writeJSON(w, http.StatusOK, views)
}

func (s *StatusServer) handleFlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f := s.reg.Get(id)
	if f == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "flight not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(f))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: encode response: %v", err)
	}
}
