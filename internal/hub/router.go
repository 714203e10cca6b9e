package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

// defaultAlertBacklog is how many recent alerts a newly opted-in observer
// receives after the roster snapshot.
const defaultAlertBacklog = 10

// Ingestor consumes accepted audio chunks. Implementations must not block
// the caller; the connection read loop calls Ingest inline.
type Ingestor interface {
	Ingest(ctx context.Context, chunk *protocol.AudioChunk)
}

// Hub owns the connection registry and routes every inbound message to its
// handler. One HandleConn goroutine runs per connection.
type Hub struct {
	registry   *Registry
	store      store.Store
	bcast      *Broadcaster
	ingestor   Ingestor
	classifier classify.Classifier
	metrics    *observe.Metrics
	backlog    int
}

// Option configures a [Hub].
type Option func(*Hub)

// WithIngestor sets the audio chunk consumer.
func WithIngestor(in Ingestor) Option {
	return func(h *Hub) { h.ingestor = in }
}

// WithClassifier enables observer query commands backed by the given
// classifier. Without one, query commands fail gracefully.
func WithClassifier(c classify.Classifier) Option {
	return func(h *Hub) { h.classifier = c }
}

// WithAlertBacklog overrides the number of recent alerts replayed to a newly
// opted-in observer.
func WithAlertBacklog(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.backlog = n
		}
	}
}

// New creates a Hub routing over the given registry, store, and broadcaster.
func New(registry *Registry, st store.Store, bcast *Broadcaster, metrics *observe.Metrics, opts ...Option) *Hub {
	h := &Hub{
		registry: registry,
		store:    st,
		bcast:    bcast,
		metrics:  metrics,
		backlog:  defaultAlertBacklog,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the hub's connection registry for the HTTP surface and
// the liveness pinger.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcaster exposes the hub's event fan-out. The ingestion pipeline
// publishes transcript and alert events through it.
func (h *Hub) Broadcaster() *Broadcaster {
	return h.bcast
}

// HandleConn runs the read loop for one WebSocket connection until the peer
// disconnects or the context is cancelled. It blocks; callers run it on the
// connection's goroutine.
func (h *Hub) HandleConn(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ws)
	defer h.cleanup(ctx, c)

	slog.Debug("connection opened", "conn", c.ID())

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Debug("connection read ended", "conn", c.ID(), "err", err)
			}
			return
		}
		h.dispatch(ctx, c, data)
	}
}

// dispatch decodes one frame and routes it. Decode failures answer with a
// fault and drop the frame; they never terminate the connection.
func (h *Hub) dispatch(ctx context.Context, c *Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		switch {
		case errors.Is(err, protocol.ErrOversized):
			slog.Warn("dropping oversized frame", "conn", c.ID(), "bytes", len(data))
		case errors.As(err, &unknown):
			h.sendFault(ctx, c, protocol.CodeUnknownType, "unknown message type "+unknown.Type)
		default:
			h.sendFault(ctx, c, protocol.CodeMalformedMessage, "malformed message")
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.Registration:
		h.handleRegistration(ctx, c, m)
	case *protocol.AudioChunk:
		h.handleAudioChunk(ctx, c, m)
	case *protocol.ObserverOptIn:
		h.handleOptIn(ctx, c)
	case *protocol.Control:
		h.handleControl(ctx, c, m)
	default:
		// Valid protocol kinds that clients have no business sending
		// (ack, speak, roster, events). Ignore rather than fault so a
		// confused client cannot trigger a fault loop.
		slog.Debug("ignoring unexpected message", "conn", c.ID(), "type", msg.Kind())
	}
}

func (h *Hub) handleRegistration(ctx context.Context, c *Conn, reg *protocol.Registration) {
	if reg.DeviceID == "" || protocol.IsPlaceholderID(reg.DeviceID) {
		h.sendFault(ctx, c, protocol.CodeInvalidDeviceID, "device id is empty or reserved")
		return
	}

	switch c.Role() {
	case RoleObserver:
		h.sendFault(ctx, c, protocol.CodeMalformedMessage, "observer connections cannot register as producers")
		return
	case RoleProducer:
		if c.ID() != reg.DeviceID {
			h.sendFault(ctx, c, protocol.CodeInvalidDeviceID, "connection already registered as "+c.ID())
			return
		}
		// Re-registration on the same connection refreshes metadata.
		h.upsertDevice(ctx, reg)
		h.sendAck(ctx, c, "registered")
		return
	}

	c.classify(RoleProducer, reg.DeviceID)

	// New connection wins: any previous connection for this id is closed
	// without a device-down broadcast, since the device is still up.
	if old := h.registry.AddProducer(reg.DeviceID, c); old != nil {
		slog.Info("device reconnected, replacing previous connection", "device", reg.DeviceID)
		old.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	} else if h.metrics != nil {
		h.metrics.ConnectedProducers.Add(ctx, 1)
	}

	h.upsertDevice(ctx, reg)
	h.sendAck(ctx, c, "registered")

	slog.Info("device registered",
		"device", reg.DeviceID,
		"name", reg.Name,
		"location", reg.Location,
		"speaker", reg.Capabilities.Speaker,
	)

	h.bcast.Publish(ctx, &protocol.DeviceUp{
		DeviceID:     reg.DeviceID,
		Capabilities: reg.Capabilities,
	})
}

// upsertDevice persists registration metadata, stamping last-seen now.
// Registration is idempotent; a failed write is logged but does not fail the
// registration, since the connection itself is healthy.
func (h *Hub) upsertDevice(ctx context.Context, reg *protocol.Registration) {
	d := store.Device{
		ID:           reg.DeviceID,
		Name:         reg.Name,
		Location:     reg.Location,
		Capabilities: reg.Capabilities,
		LastSeen:     time.Now().UTC(),
	}
	if err := h.store.UpsertDevice(ctx, d); err != nil {
		slog.Warn("device upsert failed", "device", reg.DeviceID, "err", err)
	}
}

func (h *Hub) handleAudioChunk(ctx context.Context, c *Conn, chunk *protocol.AudioChunk) {
	if c.Role() != RoleProducer {
		h.sendFault(ctx, c, protocol.CodeDeviceNotRegistered, "audio requires registration")
		return
	}

	// The connection identity is authoritative over whatever id the frame
	// claims.
	chunk.DeviceID = c.ID()

	if h.metrics != nil {
		h.metrics.RecordChunkIngested(ctx, chunk.DeviceID)
	}
	if err := h.store.TouchDevice(ctx, chunk.DeviceID, time.Now().UTC()); err != nil {
		slog.Warn("touch device failed", "device", chunk.DeviceID, "err", err)
	}

	if h.ingestor != nil {
		h.ingestor.Ingest(ctx, chunk)
	}
}

func (h *Hub) handleOptIn(ctx context.Context, c *Conn) {
	if !c.classify(RoleObserver, "") {
		h.sendFault(ctx, c, protocol.CodeMalformedMessage, "connection already classified")
		return
	}
	h.registry.AddObserver(c)
	if h.metrics != nil {
		h.metrics.ConnectedObservers.Add(ctx, 1)
	}

	slog.Info("observer opted in", "conn", c.ID())

	if err := c.Send(ctx, h.buildRoster(ctx)); err != nil {
		slog.Warn("roster send failed", "conn", c.ID(), "err", err)
		return
	}

	// Replay recent alerts so a fresh observer has context before live
	// events start arriving.
	alerts, err := h.store.RecentAlerts(ctx, h.backlog)
	if err != nil {
		slog.Warn("recent alerts lookup failed", "err", err)
		return
	}
	for i := len(alerts) - 1; i >= 0; i-- { // oldest first
		a := alerts[i]
		evt := &protocol.AlertEvent{
			DeviceID:   a.DeviceID,
			CapturedAt: a.Timestamp,
			Message:    a.Message,
			Severity:   a.Type,
		}
		if err := c.Send(ctx, evt); err != nil {
			slog.Warn("alert backlog send failed", "conn", c.ID(), "err", err)
			return
		}
	}
}

// buildRoster snapshots the currently connected producers, enriched with
// stored metadata where available.
func (h *Hub) buildRoster(ctx context.Context) *protocol.Roster {
	known := make(map[string]store.Device)
	if devices, err := h.store.ListDevices(ctx); err != nil {
		slog.Warn("device list lookup failed", "err", err)
	} else {
		for _, d := range devices {
			known[d.ID] = d
		}
	}

	roster := &protocol.Roster{}
	for _, id := range h.registry.ProducerIDs() {
		entry := protocol.RosterEntry{DeviceID: id}
		if d, ok := known[id]; ok {
			entry.Name = d.Name
			entry.Location = d.Location
			entry.Capabilities = d.Capabilities
			entry.LastSeen = d.LastSeen
		}
		roster.Devices = append(roster.Devices, entry)
	}
	return roster
}

func (h *Hub) handleControl(ctx context.Context, c *Conn, ctl *protocol.Control) {
	if c.Role() != RoleObserver {
		h.sendFault(ctx, c, protocol.CodeMalformedMessage, "control requires observer opt-in")
		return
	}

	if ctl.Command == "query" {
		h.handleQuery(ctx, c, ctl)
		return
	}

	if ctl.TargetID == "" {
		h.sendFault(ctx, c, protocol.CodeMalformedMessage, "control requires a target device id")
		return
	}

	target, ok := h.registry.Producer(ctl.TargetID)
	if !ok {
		h.sendFault(ctx, c, protocol.CodeDeviceNotConnected, "device "+ctl.TargetID+" is not connected")
		if h.metrics != nil {
			h.metrics.RecordCommandRelayed(ctx, ctl.Command, "not_connected")
		}
		return
	}

	if err := target.Send(ctx, ctl); err != nil {
		slog.Warn("command relay failed", "device", ctl.TargetID, "command", ctl.Command, "err", err)
		h.sendFault(ctx, c, protocol.CodeDeviceNotConnected, "device "+ctl.TargetID+" is not reachable")
		if h.metrics != nil {
			h.metrics.RecordCommandRelayed(ctx, ctl.Command, "error")
		}
		return
	}

	h.sendAck(ctx, c, "command "+ctl.Command+" relayed to "+ctl.TargetID)
	if h.metrics != nil {
		h.metrics.RecordCommandRelayed(ctx, ctl.Command, "ok")
	}

	// Audit trail: every relayed command leaves an alert row. Audits are
	// born resolved so they never sit in the acknowledgment queue.
	audit := store.Alert{
		DeviceID:  ctl.TargetID,
		Timestamp: time.Now().UTC(),
		Type:      "audit",
		Message:   "command " + ctl.Command + " relayed by observer",
		Status:    store.StatusResolved,
	}
	if _, err := h.store.InsertAlert(ctx, audit); err != nil {
		slog.Warn("audit alert insert failed", "device", ctl.TargetID, "command", ctl.Command, "err", err)
	}
}

// handleQuery answers a free-form observer question using the configured
// classifier. Conversation context is kept per observer connection.
func (h *Hub) handleQuery(ctx context.Context, c *Conn, ctl *protocol.Control) {
	text, _ := ctl.Params["text"].(string)
	if text == "" {
		h.sendFault(ctx, c, protocol.CodeMalformedMessage, "query requires a text param")
		return
	}
	if h.classifier == nil {
		h.sendAck(ctx, c, "query unavailable: no classifier configured")
		return
	}

	answer, err := h.classifier.Query(ctx, text, "query:"+c.ID())
	if err != nil {
		if errors.Is(err, classify.ErrQueryNotSupported) {
			h.sendAck(ctx, c, "query unavailable: classifier does not support queries")
			return
		}
		slog.Warn("observer query failed", "conn", c.ID(), "err", err)
		h.sendAck(ctx, c, "query failed")
		return
	}
	h.sendAck(ctx, c, answer)
}

// cleanup runs when a connection's read loop exits, for any reason. Producer
// departure broadcasts device-down exactly once: only the connection still
// registered for its id removes the entry.
func (h *Hub) cleanup(ctx context.Context, c *Conn) {
	c.Close(websocket.StatusNormalClosure, "")

	switch c.Role() {
	case RoleProducer:
		id := c.ID()
		if !h.registry.RemoveProducer(id, c) {
			return // replaced by a newer connection, roster unchanged
		}
		if h.metrics != nil {
			h.metrics.ConnectedProducers.Add(ctx, -1)
		}
		if err := h.store.TouchDevice(ctx, id, time.Now().UTC()); err != nil {
			slog.Warn("touch device failed", "device", id, "err", err)
		}
		slog.Info("device disconnected", "device", id)
		h.bcast.Publish(ctx, &protocol.DeviceDown{DeviceID: id})

	case RoleObserver:
		h.registry.RemoveObserver(c)
		if h.metrics != nil {
			h.metrics.ConnectedObservers.Add(ctx, -1)
		}
		slog.Info("observer disconnected", "conn", c.ID())
	}
}

func (h *Hub) sendAck(ctx context.Context, c *Conn, msg string) {
	if err := c.Send(ctx, &protocol.Ack{Message: msg}); err != nil {
		slog.Debug("ack send failed", "conn", c.ID(), "err", err)
	}
}

func (h *Hub) sendFault(ctx context.Context, c *Conn, code protocol.FaultCode, msg string) {
	if err := c.Send(ctx, &protocol.Fault{Message: msg, Code: code}); err != nil {
		slog.Debug("fault send failed", "conn", c.ID(), "err", err)
	}
}
