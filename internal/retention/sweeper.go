// Package retention prunes persisted raw audio once it ages out. Transcripts
// and alerts stay in the database indefinitely; only the bulky PCM files
// under the data directory have a bounded lifetime.
package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// defaultBatchSize bounds how many files one burst removes before the
	// sweeper yields, so a large backlog does not monopolise disk IO.
	defaultBatchSize = 100

	defaultBatchPause   = 50 * time.Millisecond
	defaultStartupDelay = 30 * time.Second
)

// Sweeper deletes audio files older than the retention window. One sweep
// runs shortly after startup, then one per interval.
type Sweeper struct {
	root     string
	maxAge   time.Duration
	interval time.Duration

	batchSize    int
	batchPause   time.Duration
	startupDelay time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize overrides the per-burst deletion cap.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchPause overrides the yield between deletion bursts.
func WithBatchPause(d time.Duration) Option {
	return func(s *Sweeper) { s.batchPause = d }
}

// WithStartupDelay overrides how long Run waits before the first sweep.
func WithStartupDelay(d time.Duration) Option {
	return func(s *Sweeper) { s.startupDelay = d }
}

// New creates a Sweeper over dataDir's audio tree. Files whose modification
// time is older than maxAge are removed; emptied device directories go with
// them.
func New(dataDir string, maxAge, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		root:         filepath.Join(dataDir, "audio"),
		maxAge:       maxAge,
		interval:     interval,
		batchSize:    defaultBatchSize,
		batchPause:   defaultBatchPause,
		startupDelay: defaultStartupDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once after the startup delay and then once per interval until
// ctx is cancelled. It blocks; callers run it on its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-startup.C:
	}
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	start := time.Now()
	removed, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("retention sweep failed", "err", err)
		return
	}
	if removed > 0 {
		slog.Info("retention sweep finished",
			"removed", removed, "took", time.Since(start).Round(time.Millisecond))
	}
}

// Sweep walks the audio tree once and removes every file older than the
// retention window. Per-file failures are logged and skipped; the sweep
// continues. Returns the number of files removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	dirs, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		// No audio persisted yet.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	inBatch := 0

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		devDir := filepath.Join(s.root, dir.Name())

		files, err := os.ReadDir(devDir)
		if err != nil {
			slog.Warn("retention: device dir unreadable", "dir", devDir, "err", err)
			continue
		}

		kept := 0
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if f.IsDir() {
				kept++
				continue
			}

			info, err := f.Info()
			if err != nil {
				// Likely removed underneath us.
				if !os.IsNotExist(err) {
					slog.Warn("retention: stat failed", "file", f.Name(), "err", err)
					kept++
				}
				continue
			}
			if info.ModTime().After(cutoff) {
				kept++
				continue
			}

			path := filepath.Join(devDir, f.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("retention: remove failed", "file", path, "err", err)
				kept++
				continue
			}
			removed++
			inBatch++

			if inBatch >= s.batchSize {
				inBatch = 0
				if err := pause(ctx, s.batchPause); err != nil {
					return removed, err
				}
			}
		}

		if kept == 0 {
			// Best-effort; a chunk may land between the scan and here, and
			// ENOTEMPTY is then the correct outcome.
			if err := os.Remove(devDir); err != nil {
				slog.Debug("retention: dir remove skipped", "dir", devDir, "err", err)
			}
		}
	}
	return removed, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
