// Package store defines the persistent storage contract for the hub: devices,
// transcriptions, and alerts.
//
// Two backends implement [Store]: an embedded SQLite database
// (internal/store/sqlite, the default) and PostgreSQL
// (internal/store/postgres). The hub selects a backend from its database
// config value: a postgres:// DSN picks pgx, anything else is treated as a
// SQLite file path.
//
// All write operations are best-effort from the ingestion pipeline's point of
// view: a storage failure for one chunk is logged by the caller and must not
// abort processing of subsequent chunks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nightjarhq/nightjar/internal/protocol"
)

var (
	// ErrAlertNotFound is returned by UpdateAlertStatus for an unknown alert id.
	ErrAlertNotFound = errors.New("store: alert not found")

	// ErrInvalidTransition is returned by UpdateAlertStatus when the requested
	// status change would move an alert backwards in its lifecycle.
	ErrInvalidTransition = errors.New("store: invalid alert status transition")
)

// AlertStatus is the lifecycle status of an alert row.
type AlertStatus string

const (
	StatusNew          AlertStatus = "new"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// IsValid reports whether s is a recognised alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// rank orders statuses for the monotonicity check. Alerts only move forward.
func (s AlertStatus) rank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusAcknowledged:
		return 1
	case StatusResolved:
		return 2
	}
	return -1
}

// CanTransition reports whether an alert currently in status s may move to
// next. Transitions are monotonic; in particular nothing returns to "new".
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() > s.rank()
}

// Device is a row in the devices table. Devices are upserted on every
// registration and touched on every received audio chunk; normal operation
// never hard-deletes them.
type Device struct {
	ID           string
	Name         string
	Location     string
	Capabilities protocol.Capabilities
	LastSeen     time.Time
}

// Transcript is a row in the transcriptions table. Immutable once created.
type Transcript struct {
	ID         int64
	DeviceID   string
	Timestamp  time.Time
	Text       string
	Confidence float64
}

// Alert is a row in the alerts table.
type Alert struct {
	ID        int64
	DeviceID  string
	Timestamp time.Time
	Type      string
	Message   string
	Status    AlertStatus
}

// Page bounds a listing query. A zero Limit means the backend default.
type Page struct {
	Offset int
	Limit  int
}

// Store is the persistence contract shared by both database backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// UpsertDevice inserts or replaces the device row keyed by Device.ID.
	// Re-registering an existing id updates metadata and last-seen without
	// creating a duplicate row.
	UpsertDevice(ctx context.Context, d Device) error

	// TouchDevice updates only the last-seen timestamp of an existing device.
	// Touching an unknown id is a no-op, not an error.
	TouchDevice(ctx context.Context, id string, seen time.Time) error

	// ListDevices returns all devices ordered by id.
	ListDevices(ctx context.Context) ([]Device, error)

	// InsertTranscript stores a transcript row and returns its id.
	InsertTranscript(ctx context.Context, t Transcript) (int64, error)

	// ListTranscripts returns transcripts newest-first, optionally filtered
	// by device id (empty means all devices).
	ListTranscripts(ctx context.Context, deviceID string, p Page) ([]Transcript, error)

	// InsertAlert stores an alert row and returns its id.
	InsertAlert(ctx context.Context, a Alert) (int64, error)

	// ListAlerts returns alerts newest-first.
	ListAlerts(ctx context.Context, p Page) ([]Alert, error)

	// RecentAlerts returns the n most recent alerts, newest-first. Used for
	// the observer opt-in backlog.
	RecentAlerts(ctx context.Context, n int) ([]Alert, error)

	// UpdateAlertStatus moves the alert to status. Returns ErrAlertNotFound
	// for an unknown id and ErrInvalidTransition when the move is not
	// monotonic.
	UpdateAlertStatus(ctx context.Context, id int64, status AlertStatus) error

	// Close releases the underlying database handle.
	Close() error
}

// DefaultPageLimit is applied by backends when Page.Limit is zero or negative.
const DefaultPageLimit = 50
