package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adsb_actions/internal/adsb"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// OpsLog persists rule executions to PostgreSQL: one row per flight,
// one row per operation. Rule callbacks use it to record what fired and
// why.
type OpsLog struct {
	pool *pgxpool.Pool
}

// OpenOpsLog opens a connection pool to PostgreSQL.
func OpenOpsLog(ctx context.Context, cfg PostgresConfig) (*OpsLog, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &OpsLog{pool: pool}, nil
}

// Close closes the connection pool.
func (d *OpsLog) Close() {
	d.pool.Close()
}

// CreateSchema creates the PostgreSQL tables.
func (d *OpsLog) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS flights (
		id              SERIAL PRIMARY KEY,
		flight_id       TEXT NOT NULL UNIQUE,
		callsign        TEXT,
		icao_hex        TEXT,
		first_seen      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		op_count        INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_flights_flight_id ON flights(flight_id);

	CREATE TABLE IF NOT EXISTS ops (
		id              SERIAL PRIMARY KEY,
		flight_ref      INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
		rule_name       TEXT NOT NULL,
		note            TEXT,
		event_time      DOUBLE PRECISION NOT NULL,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		altitude        INTEGER,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_ops_flight_ref ON ops(flight_ref);
	CREATE INDEX IF NOT EXISTS idx_ops_rule_name ON ops(rule_name);
	CREATE INDEX IF NOT EXISTS idx_ops_event_time ON ops(event_time);
	`
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// EnsureFlight inserts or touches the flight row and returns its id as a
// string suitable for caching on the Flight's external id.
func (d *OpsLog) EnsureFlight(ctx context.Context, flightID, callsign, icaoHex string) (string, error) {
	var id int
	err := d.pool.QueryRow(ctx, `
		INSERT INTO flights (flight_id, callsign, icao_hex)
		VALUES ($1, $2, $3)
		ON CONFLICT (flight_id) DO UPDATE SET
			callsign = COALESCE(NULLIF(EXCLUDED.callsign, ''), flights.callsign),
			icao_hex = COALESCE(NULLIF(EXCLUDED.icao_hex, ''), flights.icao_hex),
			last_seen = NOW()
		RETURNING id
	`, flightID, callsign, icaoHex).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure flight %s: %w", flightID, err)
	}
	return fmt.Sprintf("%d", id), nil
}

// RecordOp stores one rule execution against a flight row.
func (d *OpsLog) RecordOp(ctx context.Context, externalID, ruleName, note string, loc adsb.Location) error {
	_, err := d.pool.Exec(ctx, `
		WITH op AS (
			INSERT INTO ops (flight_ref, rule_name, note, event_time, latitude, longitude, altitude)
			VALUES ($1::integer, $2, $3, $4, $5, $6, $7)
			RETURNING flight_ref
		)
		UPDATE flights SET op_count = op_count + 1, last_seen = NOW()
		WHERE id = (SELECT flight_ref FROM op)
	`, externalID, ruleName, note, loc.Now, loc.Lat, loc.Lon, loc.AltBaro)
	if err != nil {
		return fmt.Errorf("record op %s/%s: %w", externalID, ruleName, err)
	}
	return nil
}

// Op is one stored rule execution.
type Op struct {
	ID        int64
	FlightID  string
	RuleName  string
	Note      string
	EventTime float64
	Latitude  float64
	Longitude float64
	Altitude  int
}

// OpsForFlight retrieves the operations recorded for a flight id, newest
// first.
func (d *OpsLog) OpsForFlight(ctx context.Context, flightID string, limit int) ([]Op, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx, `
		SELECT o.id, f.flight_id, o.rule_name, COALESCE(o.note, ''),
			o.event_time, COALESCE(o.latitude, 0), COALESCE(o.longitude, 0), COALESCE(o.altitude, 0)
		FROM ops o JOIN flights f ON f.id = o.flight_ref
		WHERE f.flight_id = $1
		ORDER BY o.event_time DESC
		LIMIT $2
	`, flightID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var o Op
		if err := rows.Scan(&o.ID, &o.FlightID, &o.RuleName, &o.Note,
			&o.EventTime, &o.Latitude, &o.Longitude, &o.Altitude); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// CountByRule returns operation counts grouped by rule name.
func (d *OpsLog) CountByRule(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	rows, err := d.pool.Query(ctx, `SELECT rule_name, COUNT(*) FROM ops GROUP BY rule_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rule string
		var n int
		if err := rows.Scan(&rule, &n); err != nil {
			return nil, err
		}
		counts[rule] = n
	}
	return counts, rows.Err()
}

// GetFlightRef looks up the flight row id for a flight id, or "" when
// the flight has never been recorded.
func (d *OpsLog) GetFlightRef(ctx context.Context, flightID string) (string, error) {
	var id int
	err := d.pool.QueryRow(ctx,
		`SELECT id FROM flights WHERE flight_id = $1`, flightID).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

// Pool returns the underlying connection pool for advanced operations.
func (d *OpsLog) Pool() *pgxpool.Pool {
	return d.pool
}
