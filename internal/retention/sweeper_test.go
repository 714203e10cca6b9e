package retention_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nightjarhq/nightjar/internal/retention"
)

// writeAged creates a file under dataDir/audio/<device>/ with its mtime set
// age in the past.
func writeAged(t *testing.T, dataDir, device, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(dataDir, "audio", device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestSweep_RemovesOnlyExpiredFiles(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	expired := writeAged(t, dataDir, "porch-cam", "a.pcm", 100*time.Hour)
	fresh := writeAged(t, dataDir, "porch-cam", "b.pcm", time.Hour)

	s := retention.New(dataDir, 72*time.Hour, time.Hour)
	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired file should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should survive: %v", err)
	}
}

func TestSweep_RemovesEmptiedDeviceDirs(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	writeAged(t, dataDir, "old-cam", "a.pcm", 100*time.Hour)
	writeAged(t, dataDir, "old-cam", "b.pcm", 200*time.Hour)
	writeAged(t, dataDir, "live-cam", "c.pcm", time.Minute)

	s := retention.New(dataDir, 72*time.Hour, time.Hour)
	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := os.Stat(filepath.Join(dataDir, "audio", "old-cam")); !os.IsNotExist(err) {
		t.Error("emptied device dir should be removed")
	}
	if _, err := os.Stat(filepath.Join(dataDir, "audio", "live-cam")); err != nil {
		t.Errorf("non-empty device dir should survive: %v", err)
	}
}

func TestSweep_MissingAudioTreeIsNoop(t *testing.T) {
	t.Parallel()

	s := retention.New(t.TempDir(), 72*time.Hour, time.Hour)
	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestSweep_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	for i := 0; i < 5; i++ {
		writeAged(t, dataDir, "porch-cam", string(rune('a'+i))+".pcm", 100*time.Hour)
	}

	// Force a pause after every removal so cancellation has a window.
	s := retention.New(dataDir, 72*time.Hour, time.Hour,
		retention.WithBatchSize(1),
		retention.WithBatchPause(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Sweep(ctx); err == nil {
		t.Error("sweep with cancelled context should report the cancellation")
	}
}

func TestRun_SweepsAfterStartupDelay(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	expired := writeAged(t, dataDir, "porch-cam", "a.pcm", 100*time.Hour)

	s := retention.New(dataDir, 72*time.Hour, time.Hour,
		retention.WithStartupDelay(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(expired); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup sweep never removed the expired file")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
