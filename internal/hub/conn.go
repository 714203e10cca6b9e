// Package hub implements the central WebSocket endpoint: the connection
// registry, the message router, broadcast fan-out to observers, and command
// relay to producers.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nightjarhq/nightjar/internal/protocol"
)

// writeTimeout bounds a single outbound frame write so one stuck client
// cannot wedge a broadcast.
const writeTimeout = 5 * time.Second

// Role is the classification of a connection. Every connection starts
// unclassified and becomes a producer on registration or an observer on
// opt-in.
type Role int

const (
	RoleUnclassified Role = iota
	RoleProducer
	RoleObserver
)

// String returns the role name for logging.
func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleObserver:
		return "observer"
	}
	return "unclassified"
}

// Conn wraps a WebSocket connection with its protocol identity. The read
// loop owns role and id transitions; writes may come from any goroutine and
// are serialised by a mutex.
type Conn struct {
	ws *websocket.Conn

	mu   sync.Mutex
	id   string // placeholder until registration assigns a device id
	role Role

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		id:     protocol.NewPlaceholderID(),
		closed: make(chan struct{}),
	}
}

// ID returns the connection's current identity: a placeholder id until
// registration, the device id afterwards.
func (c *Conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Role returns the connection's current role.
func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// classify transitions the connection from unclassified to role, adopting id
// as the new identity for producers. Returns false if already classified.
func (c *Conn) classify(role Role, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleUnclassified {
		return false
	}
	c.role = role
	if id != "" {
		c.id = id
	}
	return true
}

// Send encodes msg and writes it as one text frame. Safe for concurrent use.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("hub: encode %s: %w", msg.Kind(), err)
	}
	return c.SendRaw(ctx, data)
}

// SendRaw writes a pre-encoded frame. Used by the broadcaster, which encodes
// once per event rather than once per observer.
func (c *Conn) SendRaw(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("hub: connection %s is closed", c.ID())
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Ping sends a WebSocket ping and waits for the pong. An error means the
// peer is unresponsive and the connection should be closed.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

// Close tears the connection down. Idempotent; the first caller wins.
func (c *Conn) Close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(status, reason)
	})
}

// Done returns a channel closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
