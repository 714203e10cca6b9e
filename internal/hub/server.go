package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nightjarhq/nightjar/internal/protocol"
)

// ServeWS upgrades an HTTP request to a WebSocket connection and runs the
// hub's read loop on it. Mounted at /ws by the HTTP surface.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Devices and observer dashboards connect from arbitrary LAN hosts.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(protocol.ReadLimit)

	h.HandleConn(r.Context(), ws)
}

// RunPinger periodically pings every tracked connection and terminates the
// unresponsive ones. Blocks until ctx is cancelled; run it on its own
// goroutine.
//
// A ping waits for its pong up to the full interval, so a connection that
// misses one round is gone before the next begins.
func (h *Hub) RunPinger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range h.registry.Conns() {
				go h.pingConn(ctx, c, interval)
			}
		}
	}
}

func (h *Hub) pingConn(ctx context.Context, c *Conn, timeout time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Ping(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Info("closing unresponsive connection", "conn", c.ID(), "role", c.Role().String(), "err", err)
		c.Close(websocket.StatusGoingAway, "ping timeout")
	}
}
