package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/pkg/provider/capture"
	"github.com/nightjarhq/nightjar/pkg/provider/speech"
)

// State is the session's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrRestartRequested is returned by Run when the hub commanded a restart.
// The caller exits cleanly and lets the process supervisor bring the device
// back up.
var ErrRestartRequested = errors.New("device: restart requested by hub")

const writeTimeout = 5 * time.Second

// Session maintains the device's connection to the hub: registration,
// buffered audio upload, heartbeats, and inbound command handling. A lost
// connection reconnects with capped exponential backoff. Capture runs for
// the session's whole lifetime: audio recorded while the link is down
// accumulates in the buffer and is drained once the link returns.
type Session struct {
	configPath string
	source     capture.Source
	renderer   speech.Renderer
	buffer     *Buffer

	mu     sync.Mutex
	cfg    Config
	state  State
	active *link
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRenderer gives the device a local speech output. Its presence is what
// makes the device register the speaker capability.
func WithRenderer(r speech.Renderer) SessionOption {
	return func(s *Session) { s.renderer = r }
}

// NewSession creates a session for the given config. configPath is where
// update-config persists changes; source feeds captured audio.
func NewSession(cfg Config, configPath string, source capture.Source, opts ...SessionOption) *Session {
	s := &Session{
		configPath: configPath,
		source:     source,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		slog.Debug("session state", "from", prev, "to", st)
	}
}

func (s *Session) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run connects to the hub and keeps the session alive until ctx is
// cancelled, reconnecting as needed. Returns nil on cancellation and
// [ErrRestartRequested] when the hub commanded a restart.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosing)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.buffer = NewBuffer(s.config().BufferBytes, s.emitChunk)
	s.buffer.SetReady(s.linkReady)

	if s.source != nil {
		if err := s.source.Start(ctx, s.buffer.Append); err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
		defer func() {
			if err := s.source.Stop(); err != nil {
				slog.Warn("capture stop failed", "err", err)
			}
			s.buffer.Discard()
		}()
	}

	// The interval is re-read each tick so update-config takes effect
	// without a reconnect.
	go func() {
		for {
			if err := sleep(ctx, s.config().flushInterval()); err != nil {
				return
			}
			s.buffer.Flush()
		}
	}()

	attempt := 0
	for {
		if attempt > 0 {
			delay := s.config().Backoff(attempt)
			slog.Info("reconnecting to hub", "attempt", attempt, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil
			}
		}

		s.setState(StateConnecting)
		ws, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("hub connection failed", "server", s.config().ServerURL, "err", err)
			s.setState(StateDisconnected)
			attempt++
			continue
		}

		attempt = 0
		s.setState(StateConnected)
		slog.Info("connected to hub", "server", s.config().ServerURL, "device", s.config().DeviceID)

		err = s.runConnected(ctx, ws)
		ws.Close(websocket.StatusNormalClosure, "session over")
		s.setState(StateDisconnected)

		switch {
		case errors.Is(err, ErrRestartRequested):
			return err
		case ctx.Err() != nil:
			return nil
		}
		slog.Warn("hub connection lost", "err", err)
		attempt = 1
	}
}

// connect dials the hub and completes registration. The hub must answer the
// registration with an ack before any audio flows.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	cfg := s.config()

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(dctx, cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.ServerURL, err)
	}
	ws.SetReadLimit(protocol.ReadLimit)

	reg := &protocol.Registration{
		DeviceID: cfg.DeviceID,
		Name:     cfg.Name,
		Location: cfg.Location,
		Capabilities: protocol.Capabilities{
			Audio:   true,
			Speaker: s.renderer != nil,
		},
	}
	if err := writeMessage(dctx, ws, reg); err != nil {
		ws.Close(websocket.StatusInternalError, "registration failed")
		return nil, fmt.Errorf("send registration: %w", err)
	}

	_, data, err := ws.Read(dctx)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "registration failed")
		return nil, fmt.Errorf("await registration reply: %w", err)
	}
	reply, err := protocol.Decode(data)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "registration failed")
		return nil, fmt.Errorf("decode registration reply: %w", err)
	}
	switch m := reply.(type) {
	case *protocol.Ack:
		return ws, nil
	case *protocol.Fault:
		ws.Close(websocket.StatusNormalClosure, "registration rejected")
		return nil, fmt.Errorf("registration rejected: %s (%s)", m.Message, m.Code)
	default:
		ws.Close(websocket.StatusInternalError, "registration failed")
		return nil, fmt.Errorf("unexpected registration reply %s", m.Kind())
	}
}

// link is the per-connection plumbing shared by the reader, heartbeat, and
// chunk-sending goroutines.
type link struct {
	s    *Session
	ws   *websocket.Conn
	ctx  context.Context
	errc chan error
}

func (s *Session) runConnected(ctx context.Context, ws *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := s.config()
	l := &link{s: s, ws: ws, ctx: ctx, errc: make(chan error, 4)}

	s.mu.Lock()
	s.active = l
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	// Send whatever accumulated while the link was down.
	s.buffer.Drain()

	go l.readLoop(ctx)
	go l.heartbeat(ctx, cfg.heartbeatInterval())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-l.errc:
		return err
	}
}

// linkReady reports whether a connection is up and registered. The buffer
// emits only while this holds; otherwise audio accumulates.
func (s *Session) linkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// emitChunk sends one buffered chunk over the current link. A send failure
// clears the buffer: after a failed write the link is going down anyway, and
// regrowing on top of a wedged socket helps nobody.
func (s *Session) emitChunk(pcm []byte) {
	s.mu.Lock()
	l := s.active
	s.mu.Unlock()
	if l == nil {
		slog.Debug("dropping chunk emitted during link teardown", "bytes", len(pcm))
		return
	}
	if err := l.sendChunk(l.ctx, pcm); err != nil {
		s.buffer.Discard()
		l.fail(fmt.Errorf("send chunk: %w", err))
	}
}

// fail reports a fatal connection error without blocking.
func (l *link) fail(err error) {
	select {
	case l.errc <- err:
	default:
	}
}

func (l *link) sendChunk(ctx context.Context, pcm []byte) error {
	return writeMessage(ctx, l.ws, &protocol.AudioChunk{
		DeviceID:   l.s.config().DeviceID,
		CapturedAt: time.Now().UTC(),
		Payload:    pcm,
	})
}

func (l *link) readLoop(ctx context.Context) {
	for {
		_, data, err := l.ws.Read(ctx)
		if err != nil {
			l.fail(fmt.Errorf("read: %w", err))
			return
		}
		if err := l.handleMessage(ctx, data); err != nil {
			l.fail(err)
			return
		}
	}
}

// heartbeat pings the hub every interval. A ping that cannot round-trip
// within two intervals means the link is dead even if TCP has not noticed.
func (l *link) heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 2*interval)
			err := l.ws.Ping(pctx)
			cancel()
			if err != nil {
				l.fail(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

func (l *link) handleMessage(ctx context.Context, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("unreadable message from hub", "err", err)
		return nil
	}

	switch m := msg.(type) {
	case *protocol.Ack:
		slog.Debug("hub ack", "message", m.Message)
	case *protocol.Fault:
		slog.Warn("hub fault", "code", m.Code, "message", m.Message)
	case *protocol.Speak:
		l.speak(ctx, m.Text)
	case *protocol.Control:
		return l.handleCommand(ctx, m)
	default:
		slog.Debug("ignoring message from hub", "type", msg.Kind())
	}
	return nil
}

// speak renders text off the read loop so a slow synthesiser cannot stall
// inbound traffic.
func (l *link) speak(ctx context.Context, text string) {
	if l.s.renderer == nil {
		slog.Warn("speak request but no renderer configured")
		return
	}
	go func() {
		if err := l.s.renderer.Say(ctx, text); err != nil {
			slog.Error("speech render failed", "err", err)
		}
	}()
}

// handleCommand executes a hub command. Only restart and update-config are
// recognised; anything else is logged and ignored.
func (l *link) handleCommand(ctx context.Context, ctl *protocol.Control) error {
	switch ctl.Command {
	case "restart":
		return l.restart(ctx)
	case "update-config":
		l.updateConfig(ctl.Params)
		return nil
	default:
		slog.Warn("ignoring unknown command", "command", ctl.Command)
		return nil
	}
}

// restart stops capture, waits out the grace period so in-flight chunks can
// land, and makes Run return [ErrRestartRequested].
func (l *link) restart(ctx context.Context) error {
	slog.Info("restart commanded by hub")
	if l.s.source != nil {
		if err := l.s.source.Stop(); err != nil {
			slog.Warn("capture stop failed", "err", err)
		}
	}
	l.s.buffer.Discard()
	_ = sleep(ctx, l.s.config().restartGrace())
	return ErrRestartRequested
}

func (l *link) updateConfig(params map[string]any) {
	l.s.mu.Lock()
	changed, captureChanged, err := l.s.cfg.ApplyUpdate(params)
	cfg := l.s.cfg
	l.s.mu.Unlock()
	if err != nil {
		slog.Warn("update-config rejected", "err", err)
		return
	}
	if len(changed) == 0 {
		slog.Info("update-config changed nothing")
		return
	}

	slog.Info("config updated by hub", "fields", changed)
	if err := cfg.Save(l.s.configPath); err != nil {
		slog.Error("config persist failed", "path", l.s.configPath, "err", err)
	}

	// Capture itself keeps running; the buffer picks up the new chunk size
	// for subsequently appended audio and the flusher re-reads its interval
	// every tick.
	if captureChanged {
		l.s.buffer.setThreshold(cfg.BufferBytes)
	}
}

func writeMessage(ctx context.Context, ws *websocket.Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func sleep(ctx context.Context, d time.Duration) error {
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
