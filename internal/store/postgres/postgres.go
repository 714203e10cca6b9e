// Package postgres provides the PostgreSQL [store.Store] backend, selected
// when the hub's database config is a postgres:// DSN. All operations share a
// single [pgxpool.Pool]; the schema is ensured on connect.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*DB)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS devices (
    id           TEXT        PRIMARY KEY,
    name         TEXT        NOT NULL DEFAULT '',
    location     TEXT        NOT NULL DEFAULT '',
    capabilities JSONB       NOT NULL DEFAULT '{}',
    last_seen    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcriptions (
    id         BIGSERIAL   PRIMARY KEY,
    device_id  TEXT        NOT NULL REFERENCES devices(id),
    timestamp  TIMESTAMPTZ NOT NULL,
    text       TEXT        NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_device
    ON transcriptions (device_id, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
    id        BIGSERIAL   PRIMARY KEY,
    device_id TEXT        NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    type      TEXT        NOT NULL,
    message   TEXT        NOT NULL,
    status    TEXT        NOT NULL DEFAULT 'new'
);

CREATE INDEX IF NOT EXISTS idx_alerts_timestamp
    ON alerts (timestamp);
`

// DB is the pgx-backed store.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the PostgreSQL database at dsn, pings it, and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close implements store.Store.
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// UpsertDevice implements store.Store.
func (d *DB) UpsertDevice(ctx context.Context, dev store.Device) error {
	caps, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return fmt.Errorf("postgres: marshal capabilities: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO devices (id, name, location, capabilities, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name         = EXCLUDED.name,
			location     = EXCLUDED.location,
			capabilities = EXCLUDED.capabilities,
			last_seen    = EXCLUDED.last_seen`,
		dev.ID, dev.Name, dev.Location, caps, dev.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert device %q: %w", dev.ID, err)
	}
	return nil
}

// TouchDevice implements store.Store.
func (d *DB) TouchDevice(ctx context.Context, id string, seen time.Time) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE devices SET last_seen = $1 WHERE id = $2`, seen, id,
	); err != nil {
		return fmt.Errorf("postgres: touch device %q: %w", id, err)
	}
	return nil
}

// ListDevices implements store.Store.
func (d *DB) ListDevices(ctx context.Context) ([]store.Device, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, location, capabilities, last_seen FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list devices: %w", err)
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		var (
			dev  store.Device
			caps []byte
		)
		if err := rows.Scan(&dev.ID, &dev.Name, &dev.Location, &caps, &dev.LastSeen); err != nil {
			return nil, fmt.Errorf("postgres: scan device: %w", err)
		}
		if err := json.Unmarshal(caps, &dev.Capabilities); err != nil {
			dev.Capabilities = protocol.Capabilities{}
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

// InsertTranscript implements store.Store.
func (d *DB) InsertTranscript(ctx context.Context, t store.Transcript) (int64, error) {
	var id int64
	err := d.pool.QueryRow(ctx, `
		INSERT INTO transcriptions (device_id, timestamp, text, confidence)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		t.DeviceID, t.Timestamp, t.Text, t.Confidence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert transcript: %w", err)
	}
	return id, nil
}

// ListTranscripts implements store.Store.
func (d *DB) ListTranscripts(ctx context.Context, deviceID string, p store.Page) ([]store.Transcript, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = store.DefaultPageLimit
	}

	query := `SELECT id, device_id, timestamp, text, confidence FROM transcriptions`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2 OFFSET $3`
		args = append(args, deviceID, limit, p.Offset)
	} else {
		query += ` ORDER BY timestamp DESC, id DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, p.Offset)
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transcripts: %w", err)
	}
	defer rows.Close()

	var out []store.Transcript
	for rows.Next() {
		var t store.Transcript
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Timestamp, &t.Text, &t.Confidence); err != nil {
			return nil, fmt.Errorf("postgres: scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertAlert implements store.Store.
func (d *DB) InsertAlert(ctx context.Context, a store.Alert) (int64, error) {
	status := a.Status
	if status == "" {
		status = store.StatusNew
	}
	var id int64
	err := d.pool.QueryRow(ctx, `
		INSERT INTO alerts (device_id, timestamp, type, message, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.DeviceID, a.Timestamp, a.Type, a.Message, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert alert: %w", err)
	}
	return id, nil
}

func scanAlerts(rows pgx.Rows) ([]store.Alert, error) {
	var out []store.Alert
	for rows.Next() {
		var (
			a      store.Alert
			status string
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Timestamp, &a.Type, &a.Message, &status); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Status = store.AlertStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAlerts implements store.Store.
func (d *DB) ListAlerts(ctx context.Context, p store.Page) ([]store.Alert, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = store.DefaultPageLimit
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, device_id, timestamp, type, message, status FROM alerts
		ORDER BY timestamp DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, p.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// RecentAlerts implements store.Store.
func (d *DB) RecentAlerts(ctx context.Context, n int) ([]store.Alert, error) {
	return d.ListAlerts(ctx, store.Page{Limit: n})
}

// UpdateAlertStatus implements store.Store.
func (d *DB) UpdateAlertStatus(ctx context.Context, id int64, status store.AlertStatus) error {
	var current string
	err := d.pool.QueryRow(ctx,
		`SELECT status FROM alerts WHERE id = $1`, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: read alert %d: %w", id, err)
	}
	if !store.AlertStatus(current).CanTransition(status) {
		return fmt.Errorf("%w: %s to %s", store.ErrInvalidTransition, current, status)
	}
	if _, err := d.pool.Exec(ctx,
		`UPDATE alerts SET status = $1 WHERE id = $2`, string(status), id,
	); err != nil {
		return fmt.Errorf("postgres: update alert %d: %w", id, err)
	}
	return nil
}
