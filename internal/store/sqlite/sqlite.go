// Package sqlite provides the embedded SQLite [store.Store] backend, used
// when the hub's database config is a plain file path. The driver is pure Go
// (modernc.org/sqlite), so the hub builds without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*DB)(nil)

// busyRetryDelay is how long to wait before the single retry of a statement
// that failed because the database was locked by another writer.
const busyRetryDelay = 50 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    location     TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL DEFAULT '{}',
    last_seen    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transcriptions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id  TEXT NOT NULL REFERENCES devices(id),
    timestamp  INTEGER NOT NULL,
    text       TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_device
    ON transcriptions (device_id, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    type      TEXT NOT NULL,
    message   TEXT NOT NULL,
    status    TEXT NOT NULL DEFAULT 'new'
);

CREATE INDEX IF NOT EXISTS idx_alerts_timestamp
    ON alerts (timestamp);
`

// DB is the SQLite-backed store. Safe for concurrent use; SQLite serialises
// writers internally and busy errors get one retry.
type DB struct {
	db *sql.DB
}

// Open opens (creating if missing) the SQLite database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close implements store.Store.
func (d *DB) Close() error { return d.db.Close() }

// isBusy reports whether err looks like a transient SQLITE_BUSY/LOCKED error.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// exec runs a statement, retrying once after a short delay on a busy error.
func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if isBusy(err) {
		select {
		case <-time.After(busyRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		res, err = d.db.ExecContext(ctx, query, args...)
	}
	return res, err
}

// UpsertDevice implements store.Store.
func (d *DB) UpsertDevice(ctx context.Context, dev store.Device) error {
	caps, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return fmt.Errorf("sqlite: marshal capabilities: %w", err)
	}
	_, err = d.exec(ctx, `
		INSERT INTO devices (id, name, location, capabilities, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name         = excluded.name,
			location     = excluded.location,
			capabilities = excluded.capabilities,
			last_seen    = excluded.last_seen`,
		dev.ID, dev.Name, dev.Location, string(caps), dev.LastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert device %q: %w", dev.ID, err)
	}
	return nil
}

// TouchDevice implements store.Store.
func (d *DB) TouchDevice(ctx context.Context, id string, seen time.Time) error {
	if _, err := d.exec(ctx,
		`UPDATE devices SET last_seen = ? WHERE id = ?`,
		seen.UnixMilli(), id,
	); err != nil {
		return fmt.Errorf("sqlite: touch device %q: %w", id, err)
	}
	return nil
}

// ListDevices implements store.Store.
func (d *DB) ListDevices(ctx context.Context) ([]store.Device, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, location, capabilities, last_seen FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list devices: %w", err)
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		var (
			dev  store.Device
			caps string
			seen int64
		)
		if err := rows.Scan(&dev.ID, &dev.Name, &dev.Location, &caps, &seen); err != nil {
			return nil, fmt.Errorf("sqlite: scan device: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &dev.Capabilities); err != nil {
			dev.Capabilities = protocol.Capabilities{}
		}
		dev.LastSeen = time.UnixMilli(seen)
		out = append(out, dev)
	}
	return out, rows.Err()
}

// InsertTranscript implements store.Store.
func (d *DB) InsertTranscript(ctx context.Context, t store.Transcript) (int64, error) {
	res, err := d.exec(ctx, `
		INSERT INTO transcriptions (device_id, timestamp, text, confidence)
		VALUES (?, ?, ?, ?)`,
		t.DeviceID, t.Timestamp.UnixMilli(), t.Text, t.Confidence,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert transcript: %w", err)
	}
	return res.LastInsertId()
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
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, p.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transcripts: %w", err)
	}
	defer rows.Close()

	var out []store.Transcript
	for rows.Next() {
		var (
			t  store.Transcript
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.DeviceID, &ts, &t.Text, &t.Confidence); err != nil {
			return nil, fmt.Errorf("sqlite: scan transcript: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts)
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
	res, err := d.exec(ctx, `
		INSERT INTO alerts (device_id, timestamp, type, message, status)
		VALUES (?, ?, ?, ?, ?)`,
		a.DeviceID, a.Timestamp.UnixMilli(), a.Type, a.Message, string(status),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert alert: %w", err)
	}
	return res.LastInsertId()
}

func (d *DB) scanAlerts(rows *sql.Rows) ([]store.Alert, error) {
	var out []store.Alert
	for rows.Next() {
		var (
			a  store.Alert
			ts int64
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &ts, &a.Type, &a.Message, &a.Status); err != nil {
			return nil, fmt.Errorf("sqlite: scan alert: %w", err)
		}
		a.Timestamp = time.UnixMilli(ts)
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
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, device_id, timestamp, type, message, status FROM alerts
		ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		limit, p.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list alerts: %w", err)
	}
	defer rows.Close()
	return d.scanAlerts(rows)
}

// RecentAlerts implements store.Store.
func (d *DB) RecentAlerts(ctx context.Context, n int) ([]store.Alert, error) {
	return d.ListAlerts(ctx, store.Page{Limit: n})
}

// UpdateAlertStatus implements store.Store.
func (d *DB) UpdateAlertStatus(ctx context.Context, id int64, status store.AlertStatus) error {
	var current store.AlertStatus
	err := d.db.QueryRowContext(ctx,
		`SELECT status FROM alerts WHERE id = ?`, id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: read alert %d: %w", id, err)
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s to %s", store.ErrInvalidTransition, current, status)
	}
	if _, err := d.exec(ctx,
		`UPDATE alerts SET status = ? WHERE id = ?`, string(status), id,
	); err != nil {
		return fmt.Errorf("sqlite: update alert %d: %w", id, err)
	}
	return nil
}
