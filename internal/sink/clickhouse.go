package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"adsb_actions/internal/adsb"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// archiveBatchSize is how many positions accumulate before a flush.
const archiveBatchSize = 1000

// PositionArchive stores every ingested position in ClickHouse for
// post-hoc analysis. Writes are buffered and flushed in batches.
type PositionArchive struct {
	conn driver.Conn

	mu      sync.Mutex
	pending []adsb.Location
}

// OpenPositionArchive opens a connection to ClickHouse.
func OpenPositionArchive(ctx context.Context, cfg ClickHouseConfig) (*PositionArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &PositionArchive{conn: conn}, nil
}

// Close flushes any buffered positions and closes the connection.
func (d *PositionArchive) Close(ctx context.Context) error {
	if err := d.Flush(ctx); err != nil {
		return err
	}
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *PositionArchive) CreateSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS positions (
		event_time      DateTime64(3),
		flight_id       LowCardinality(String),
		callsign        LowCardinality(String),
		icao_hex        LowCardinality(String),
		tail            LowCardinality(String),
		latitude        Float64,
		longitude       Float64,
		altitude        Int32,
		ground_speed    Float32,
		track           Float32,
		squawk          LowCardinality(String),
		suspicious      UInt8,
		created_at      DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(event_time)
	ORDER BY (flight_id, event_time)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Add buffers one position, flushing when the batch fills.
func (d *PositionArchive) Add(ctx context.Context, loc adsb.Location) error {
	d.mu.Lock()
	d.pending = append(d.pending, loc)
	full := len(d.pending) >= archiveBatchSize
	d.mu.Unlock()

	if full {
		return d.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered positions in a single batch.
func (d *PositionArchive) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	prepared, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO positions (event_time, flight_id, callsign, icao_hex, tail, latitude, longitude, altitude, ground_speed, track, squawk, suspicious)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, loc := range batch {
		squawk := ""
		if loc.Category != nil {
			squawk = loc.Category.Squawk
		}
		suspicious := uint8(0)
		if loc.Suspicious {
			suspicious = 1
		}
		err = prepared.Append(
			time.UnixMilli(int64(loc.Now*1000)),
			loc.FlightID(), loc.Callsign, loc.Hex, loc.Tail,
			loc.Lat, loc.Lon, int32(loc.AltBaro),
			float32(loc.GS), float32(loc.Track),
			squawk, suspicious)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := prepared.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Count returns the total number of archived positions, optionally
// filtered by flight id.
func (d *PositionArchive) Count(ctx context.Context, flightID string) (uint64, error) {
	var count uint64
	var err error
	if flightID != "" {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM positions WHERE flight_id = ?", flightID)
		err = row.Scan(&count)
	} else {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM positions")
		err = row.Scan(&count)
	}
	return count, err
}

// Track retrieves the archived track for one flight in time order.
func (d *PositionArchive) Track(ctx context.Context, flightID string, limit int) ([]adsb.Location, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := d.conn.Query(ctx, `
		SELECT event_time, callsign, icao_hex, tail, latitude, longitude, altitude, ground_speed, track, suspicious
		FROM positions WHERE flight_id = ?
		ORDER BY event_time
		LIMIT ?
	`, flightID, limit)
	if err != nil {
		return nil, fmt.Errorf("query track: %w", err)
	}
	defer rows.Close()

	var track []adsb.Location
	for rows.Next() {
		var (
			ts         time.Time
			loc        adsb.Location
			alt        int32
			gs, trk    float32
			suspicious uint8
		)
		if err := rows.Scan(&ts, &loc.Callsign, &loc.Hex, &loc.Tail,
			&loc.Lat, &loc.Lon, &alt, &gs, &trk, &suspicious); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		loc.Now = float64(ts.UnixMilli()) / 1000
		loc.AltBaro = int(alt)
		loc.GS = float64(gs)
		loc.Track = float64(trk)
		loc.Suspicious = suspicious == 1
		track = append(track, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return track, nil
}
