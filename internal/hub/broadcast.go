package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/protocol"
)

// defaultThrottleWindow is the per-event-type minimum interval between
// broadcast sends.
const defaultThrottleWindow = 500 * time.Millisecond

// Broadcaster fans event messages out to every opted-in observer. Each event
// is serialised once and written to every observer socket.
//
// Sends are throttled per event type: after a send, further events of the
// same type within the window are coalesced, latest wins, and the survivor is
// flushed when the window elapses. Roster changes and alert bursts therefore
// cost at most one frame per type per window regardless of input rate.
type Broadcaster struct {
	registry *Registry
	metrics  *observe.Metrics
	window   time.Duration

	// flushCtx is the broadcaster's own lifecycle context for deferred
	// flushes. A coalesced event must not inherit the publisher's context:
	// a producer's disconnect publish outlives its request context, and the
	// flush still has to reach every observer.
	flushCtx context.Context

	mu      sync.Mutex
	lastAt  map[protocol.Type]time.Time
	pending map[protocol.Type][]byte
	timers  map[protocol.Type]*time.Timer
}

// BroadcastOption configures a [Broadcaster].
type BroadcastOption func(*Broadcaster)

// WithThrottleWindow overrides the per-type throttle window. Zero disables
// throttling entirely.
func WithThrottleWindow(d time.Duration) BroadcastOption {
	return func(b *Broadcaster) {
		b.window = d
	}
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, metrics *observe.Metrics, opts ...BroadcastOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		metrics:  metrics,
		window:   defaultThrottleWindow,
		flushCtx: context.Background(),
		lastAt:   make(map[protocol.Type]time.Time),
		pending:  make(map[protocol.Type][]byte),
		timers:   make(map[protocol.Type]*time.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish queues msg for fan-out to all observers. It never blocks on slow
// observers; per-socket write timeouts bound each send.
func (b *Broadcaster) Publish(ctx context.Context, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("broadcast: encode failed", "type", msg.Kind(), "err", err)
		return
	}

	kind := msg.Kind()

	if b.window <= 0 {
		b.sendAll(ctx, kind, data)
		return
	}

	b.mu.Lock()
	elapsed := time.Since(b.lastAt[kind])
	if elapsed >= b.window {
		b.lastAt[kind] = time.Now()
		b.mu.Unlock()
		b.sendAll(ctx, kind, data)
		return
	}

	// Inside the window: coalesce. The newest payload replaces any pending
	// one; a timer flushes the survivor when the window elapses.
	b.pending[kind] = data
	if _, armed := b.timers[kind]; !armed {
		b.timers[kind] = time.AfterFunc(b.window-elapsed, func() {
			b.flush(kind)
		})
	}
	b.mu.Unlock()
}

// flush sends the pending payload for kind, if any survives. It runs on the
// timer goroutine under the broadcaster's own context, since the publisher's
// may be long gone.
func (b *Broadcaster) flush(kind protocol.Type) {
	b.mu.Lock()
	data, ok := b.pending[kind]
	delete(b.pending, kind)
	delete(b.timers, kind)
	if ok {
		b.lastAt[kind] = time.Now()
	}
	b.mu.Unlock()

	if ok {
		b.sendAll(b.flushCtx, kind, data)
	}
}

// sendAll writes data to every current observer. Failed observers are logged
// and left for the liveness pinger or their own read loop to clean up.
func (b *Broadcaster) sendAll(ctx context.Context, kind protocol.Type, data []byte) {
	for _, obs := range b.registry.Observers() {
		if err := obs.SendRaw(ctx, data); err != nil {
			slog.Warn("broadcast: observer send failed", "type", kind, "observer", obs.ID(), "err", err)
			continue
		}
		if b.metrics != nil {
			b.metrics.RecordBroadcast(ctx, string(kind))
		}
	}
}
