// Package ingest processes accepted audio chunks: raw persistence,
// transcription, alert analysis, storage, and observer event publication.
//
// Processing is asynchronous. The hub's read loop hands a chunk over and
// returns immediately; everything downstream runs on a goroutine owned by the
// pipeline, so a slow transcriber backend never stalls a device connection.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nightjarhq/nightjar/internal/hub"
	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
	"github.com/nightjarhq/nightjar/pkg/provider/classify"
	"github.com/nightjarhq/nightjar/pkg/provider/classify/keyword"
	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

// Compile-time assertion that Pipeline satisfies the hub's ingestion hook.
var _ hub.Ingestor = (*Pipeline)(nil)

// Pipeline is the per-chunk processing workflow. Safe for concurrent use;
// chunks from different devices process independently.
type Pipeline struct {
	store       store.Store
	transcriber transcribe.Provider
	bcast       *hub.Broadcaster
	metrics     *observe.Metrics

	classifier classify.Classifier
	fallback   *keyword.Matcher
	registry   *hub.Registry
	dataDir    string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier sets the primary analysis backend. Without one, every
// utterance goes straight to the fallback matcher.
func WithClassifier(c classify.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithFallback sets the deterministic matcher consulted when the primary
// classifier errors or returns garbage.
func WithFallback(m *keyword.Matcher) Option {
	return func(p *Pipeline) { p.fallback = m }
}

// WithRegistry enables speak pushes to speaker-capable producers on
// high-severity alerts.
func WithRegistry(r *hub.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithDataDir enables raw audio persistence under dir/audio/<device>/.
func WithDataDir(dir string) Option {
	return func(p *Pipeline) { p.dataDir = dir }
}

// New creates a Pipeline. Processing goroutines outlive the originating
// connection; call [Pipeline.Close] to drain them on shutdown. A nil metrics
// falls back to the package default instruments.
func New(st store.Store, tr transcribe.Provider, bcast *hub.Broadcaster, metrics *observe.Metrics, opts ...Option) *Pipeline {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:       st,
		transcriber: tr,
		bcast:       bcast,
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest schedules one chunk for processing and returns immediately. Chunks
// arriving after Close are dropped.
func (p *Pipeline) Ingest(_ context.Context, chunk *protocol.AudioChunk) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.process(p.ctx, chunk)
	}()
}

// SetFallback swaps the fallback matcher. Used when the alert phrase list is
// hot-reloaded from config.
func (p *Pipeline) SetFallback(m *keyword.Matcher) {
	p.mu.Lock()
	p.fallback = m
	p.mu.Unlock()
}

// Close stops accepting new chunks, waits for in-flight processing, then
// releases the pipeline context.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pipeline) process(ctx context.Context, chunk *protocol.AudioChunk) {
	ctx, span := observe.StartChunkSpan(ctx, chunk.DeviceID)
	defer span.End()

	capturedAt := chunk.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	p.persistRaw(chunk.DeviceID, capturedAt, chunk.Payload)

	start := time.Now()
	res, err := p.transcriber.Transcribe(ctx, chunk.Payload)
	p.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "transcriber", "transcribe")
		slog.Error("transcription failed", "device", chunk.DeviceID, "err", err)
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		// Silence or noise. Nothing to store or analyse.
		return
	}

	analysis := p.analyze(ctx, chunk.DeviceID, text)

	if _, err := p.store.InsertTranscript(ctx, store.Transcript{
		DeviceID:   chunk.DeviceID,
		Timestamp:  capturedAt,
		Text:       text,
		Confidence: res.Confidence,
	}); err != nil {
		slog.Error("transcript insert failed", "device", chunk.DeviceID, "err", err)
	} else {
		p.metrics.RecordTranscript(ctx, chunk.DeviceID)
		p.bcast.Publish(ctx, &protocol.TranscriptEvent{
			DeviceID:   chunk.DeviceID,
			CapturedAt: capturedAt,
			Text:       text,
		})
	}

	if analysis == nil || len(analysis.Alerts) == 0 {
		return
	}
	p.raiseAlerts(ctx, chunk.DeviceID, capturedAt, text, analysis)
}

// analyze runs the primary classifier and falls back to the keyword matcher
// on error. Returns nil when no classifier produced a usable result.
func (p *Pipeline) analyze(ctx context.Context, deviceID, text string) *classify.Analysis {
	key := "classify:" + deviceID

	if p.classifier != nil {
		start := time.Now()
		analysis, err := p.classifier.Classify(ctx, text, key)
		p.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
		if err == nil && analysis != nil {
			return analysis
		}
		p.metrics.RecordProviderError(ctx, "classifier", "classify")
		slog.Warn("classifier failed, using fallback matcher",
			"device", deviceID, "err", err)
	}

	p.mu.Lock()
	fallback := p.fallback
	p.mu.Unlock()
	if fallback == nil {
		return nil
	}
	analysis, err := fallback.Classify(ctx, text, key)
	if err != nil {
		// The matcher is deterministic and should never fail.
		slog.Error("fallback matcher failed", "device", deviceID, "err", err)
		return nil
	}
	return analysis
}

func (p *Pipeline) raiseAlerts(ctx context.Context, deviceID string, capturedAt time.Time, text string, analysis *classify.Analysis) {
	var spoke bool
	for _, a := range analysis.Alerts {
		msg := fmt.Sprintf("%s (heard: %q)", a.Phrase, text)
		if _, err := p.store.InsertAlert(ctx, store.Alert{
			DeviceID:  deviceID,
			Timestamp: capturedAt,
			Type:      string(a.Severity),
			Message:   msg,
			Status:    store.StatusNew,
		}); err != nil {
			slog.Error("alert insert failed", "device", deviceID, "err", err)
			continue
		}
		p.metrics.RecordAlert(ctx, deviceID, string(a.Severity))
		p.bcast.Publish(ctx, &protocol.AlertEvent{
			DeviceID:   deviceID,
			CapturedAt: capturedAt,
			Message:    msg,
			Severity:   string(a.Severity),
		})

		if a.Severity == classify.SeverityHigh && !spoke {
			spoke = p.pushSpeak(ctx, deviceID, a.Phrase)
		}
	}
}

// pushSpeak sends a speak request back to the originating producer when it is
// connected and declared a speaker at registration. Reports whether a request
// was sent so one chunk triggers at most one announcement.
func (p *Pipeline) pushSpeak(ctx context.Context, deviceID, phrase string) bool {
	if p.registry == nil {
		return false
	}
	conn, ok := p.registry.Producer(deviceID)
	if !ok {
		return false
	}

	devices, err := p.store.ListDevices(ctx)
	if err != nil {
		slog.Warn("device lookup for speak push failed", "device", deviceID, "err", err)
		return false
	}
	var speaker bool
	for _, d := range devices {
		if d.ID == deviceID {
			speaker = d.Capabilities.Speaker
			break
		}
	}
	if !speaker {
		return false
	}

	msg := &protocol.Speak{Text: "Alert raised: " + phrase}
	if err := conn.Send(ctx, msg); err != nil {
		slog.Warn("speak push failed", "device", deviceID, "err", err)
		return false
	}
	slog.Info("speak push sent", "device", deviceID, "phrase", phrase)
	return true
}

// persistRaw writes the chunk payload under dataDir/audio/<device>/, named by
// capture timestamp. Best-effort; failures are logged and processing
// continues.
func (p *Pipeline) persistRaw(deviceID string, capturedAt time.Time, payload []byte) {
	if p.dataDir == "" || len(payload) == 0 {
		return
	}

	dir := filepath.Join(p.dataDir, "audio", sanitizeID(deviceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("audio directory create failed", "device", deviceID, "err", err)
		return
	}

	name := capturedAt.UTC().Format("20060102T150405.000000000Z") + ".pcm"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		slog.Warn("audio write failed", "device", deviceID, "path", path, "err", err)
	}
}

// sanitizeID maps a device id onto a safe directory name.
func sanitizeID(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	// Never emit "." or ".." as a directory name.
	if strings.Trim(safe, ".") == "" {
		return "device"
	}
	return safe
}
