package sink

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"adsb_actions/internal/prox"
)

// LOSRecord is a stored loss-of-separation episode.
type LOSRecord struct {
	ID         int64
	Flight1    string
	Flight2    string
	CreateTime float64
	LastTime   float64
	CPATime    float64
	MinLatDist float64
	MinAltDist float64
	Lat        float64
	Lon        float64
	Alt        int
	Quality    string
}

// LOSStore persists LOS events to SQLite. It implements the proximity
// engine's sink: AddLOS on creation, UpdateLOS with final minima on GC.
type LOSStore struct {
	db *sql.DB
}

// OpenLOSStore opens or creates the SQLite database at path.
func OpenLOSStore(path string) (*LOSStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the GC thread write while readers poke around.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createLOSSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &LOSStore{db: db}, nil
}

// Close closes the database connection.
func (s *LOSStore) Close() error {
	return s.db.Close()
}

func createLOSSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS los_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flight1 TEXT NOT NULL,
		flight2 TEXT NOT NULL,
		create_time REAL NOT NULL,
		last_time REAL NOT NULL,
		cpa_time REAL,
		min_lat_dist REAL,
		min_alt_dist REAL,
		lat REAL,
		lon REAL,
		alt INTEGER,
		quality TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_los_flight1 ON los_events(flight1);
	CREATE INDEX IF NOT EXISTS idx_los_flight2 ON los_events(flight2);
	CREATE INDEX IF NOT EXISTS idx_los_create_time ON los_events(create_time);
	`
	_, err := db.Exec(schema)
	return err
}

// AddLOS inserts a freshly opened event and returns the row id, which
// the proximity engine keeps for the finalizing update.
func (s *LOSStore) AddLOS(e *prox.Event) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO los_events (flight1, flight2, create_time, last_time, cpa_time, min_lat_dist, min_alt_dist, lat, lon, alt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID1, e.ID2, e.CreateTime, e.LastTime, e.CPATime,
		e.MinLatDist, e.MinAltDist, e.Loc1.Lat, e.Loc1.Lon, e.Loc1.AltBaro)
	if err != nil {
		return 0, fmt.Errorf("insert los event: %w", err)
	}
	return result.LastInsertId()
}

// UpdateLOS writes the final minima and closest-approach geometry for a
// finalized event.
func (s *LOSStore) UpdateLOS(e *prox.Event) error {
	if e.RowID == 0 {
		_, err := s.AddLOS(e)
		return err
	}
	_, err := s.db.Exec(`
		UPDATE los_events
		SET last_time = ?, cpa_time = ?, min_lat_dist = ?, min_alt_dist = ?,
			lat = ?, lon = ?, alt = ?, quality = ?
		WHERE id = ?
	`, e.LastTime, e.CPATime, e.MinLatDist, e.MinAltDist,
		e.Loc1.Lat, e.Loc1.Lon, e.Loc1.AltBaro, e.Quality(), e.RowID)
	if err != nil {
		return fmt.Errorf("update los event: %w", err)
	}
	return nil
}

// GetByID retrieves one stored event, or nil when absent.
func (s *LOSStore) GetByID(id int64) (*LOSRecord, error) {
	var r LOSRecord
	var cpa, minLat, minAlt, lat, lon sql.NullFloat64
	var alt sql.NullInt64
	var quality sql.NullString

	err := s.db.QueryRow(`
		SELECT id, flight1, flight2, create_time, last_time, cpa_time,
			min_lat_dist, min_alt_dist, lat, lon, alt, quality
		FROM los_events WHERE id = ?
	`, id).Scan(&r.ID, &r.Flight1, &r.Flight2, &r.CreateTime, &r.LastTime,
		&cpa, &minLat, &minAlt, &lat, &lon, &alt, &quality)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if cpa.Valid {
		r.CPATime = cpa.Float64
	}
	if minLat.Valid {
		r.MinLatDist = minLat.Float64
	}
	if minAlt.Valid {
		r.MinAltDist = minAlt.Float64
	}
	if lat.Valid {
		r.Lat = lat.Float64
	}
	if lon.Valid {
		r.Lon = lon.Float64
	}
	if alt.Valid {
		r.Alt = int(alt.Int64)
	}
	if quality.Valid {
		r.Quality = quality.String
	}
	return &r, nil
}

// Count returns the number of stored events.
func (s *LOSStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM los_events").Scan(&n)
	return n, err
}

// CountByQuality returns event counts grouped by quality tag.
func (s *LOSStore) CountByQuality() (map[string]int, error) {
	counts := make(map[string]int)
	rows, err := s.db.Query(`
		SELECT COALESCE(quality, ''), COUNT(*) FROM los_events GROUP BY quality
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var q string
		var n int
		if err := rows.Scan(&q, &n); err != nil {
			return nil, err
		}
		counts[q] = n
	}
	return counts, rows.Err()
}
