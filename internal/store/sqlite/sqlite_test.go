package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
	"github.com/nightjarhq/nightjar/internal/store/sqlite"
)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "nightjar.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertDevice_Idempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	first := store.Device{
		ID:           "kitchen",
		Name:         "Kitchen Pi",
		Location:     "ground floor",
		Capabilities: protocol.Capabilities{Audio: true},
		LastSeen:     time.UnixMilli(1000),
	}
	if err := db.UpsertDevice(ctx, first); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	// Re-registering the same id must update in place, not duplicate.
	second := first
	second.Name = "Kitchen Pi 2"
	second.Capabilities.Speaker = true
	second.LastSeen = time.UnixMilli(2000)
	if err := db.UpsertDevice(ctx, second); err != nil {
		t.Fatalf("UpsertDevice (again): %v", err)
	}

	devices, err := db.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("ListDevices returned %d rows, want 1", len(devices))
	}
	got := devices[0]
	if got.Name != "Kitchen Pi 2" {
		t.Errorf("Name=%q, want %q", got.Name, "Kitchen Pi 2")
	}
	if !got.Capabilities.Speaker {
		t.Error("Capabilities.Speaker=false after re-registration, want true")
	}
	if got.LastSeen.UnixMilli() != 2000 {
		t.Errorf("LastSeen=%d, want 2000", got.LastSeen.UnixMilli())
	}
}

func TestTouchDevice_UnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	if err := db.TouchDevice(context.Background(), "ghost", time.Now()); err != nil {
		t.Fatalf("TouchDevice(unknown): %v, want nil", err)
	}
}

func TestTranscripts_FilterAndPagination(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	for _, dev := range []string{"kitchen", "porch"} {
		if err := db.UpsertDevice(ctx, store.Device{ID: dev}); err != nil {
			t.Fatalf("UpsertDevice(%s): %v", dev, err)
		}
	}
	for i := 0; i < 5; i++ {
		_, err := db.InsertTranscript(ctx, store.Transcript{
			DeviceID:   "kitchen",
			Timestamp:  time.UnixMilli(int64(1000 + i)),
			Text:       "hello",
			Confidence: 0.9,
		})
		if err != nil {
			t.Fatalf("InsertTranscript: %v", err)
		}
	}
	if _, err := db.InsertTranscript(ctx, store.Transcript{
		DeviceID: "porch", Timestamp: time.UnixMilli(9000), Text: "other",
	}); err != nil {
		t.Fatalf("InsertTranscript(porch): %v", err)
	}

	got, err := db.ListTranscripts(ctx, "kitchen", store.Page{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transcripts, want 2", len(got))
	}
	// Newest-first, offset 1 skips timestamp 1004.
	if got[0].Timestamp.UnixMilli() != 1003 || got[1].Timestamp.UnixMilli() != 1002 {
		t.Errorf("timestamps=[%d %d], want [1003 1002]",
			got[0].Timestamp.UnixMilli(), got[1].Timestamp.UnixMilli())
	}
	for _, tr := range got {
		if tr.DeviceID != "kitchen" {
			t.Errorf("DeviceID=%q, want kitchen", tr.DeviceID)
		}
	}
}

func TestAlertLifecycle(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertAlert(ctx, store.Alert{
		DeviceID:  "kitchen",
		Timestamp: time.Now(),
		Type:      "help",
		Message:   "detected phrase: help",
	})
	if err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	alerts, err := db.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Status != store.StatusNew {
		t.Fatalf("RecentAlerts=%+v, want one alert with status new", alerts)
	}

	if err := db.UpdateAlertStatus(ctx, id, store.StatusAcknowledged); err != nil {
		t.Fatalf("UpdateAlertStatus(acknowledged): %v", err)
	}

	// Backwards transition is rejected.
	err = db.UpdateAlertStatus(ctx, id, store.StatusNew)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("UpdateAlertStatus(back to new): err=%v, want ErrInvalidTransition", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "acknowledged to new") {
		t.Errorf("transition error = %q, want both statuses named", msg)
	}

	// Unknown id.
	err = db.UpdateAlertStatus(ctx, id+999, store.StatusResolved)
	if !errors.Is(err, store.ErrAlertNotFound) {
		t.Errorf("UpdateAlertStatus(unknown id): err=%v, want ErrAlertNotFound", err)
	}
}
