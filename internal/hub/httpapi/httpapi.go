// Package httpapi mounts the hub's HTTP surface: the REST read API for
// observers, the alert acknowledgment endpoint, health and metrics probes,
// and the /ws WebSocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightjarhq/nightjar/internal/health"
	"github.com/nightjarhq/nightjar/internal/hub"
	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
)

// maxPageLimit caps the limit query parameter so a single request cannot
// drag the whole table.
const maxPageLimit = 500

// Server holds the handler dependencies.
type Server struct {
	store store.Store
	hub   *hub.Hub
}

// New creates the HTTP API server over the given store and hub.
func New(st store.Store, h *hub.Hub) *Server {
	return &Server{store: st, hub: h}
}

// Handler builds the full route table. The observability middleware wraps
// every route, so each request gets a trace span, a duration sample, and a
// completion log line.
func (s *Server) Handler(metrics *observe.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", s.listDevices)
	mux.HandleFunc("GET /api/transcripts", s.listTranscripts)
	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("PATCH /api/alerts/{id}", s.updateAlertStatus)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	hc := health.New(health.Checker{
		Name:  "database",
		Check: s.pingStore,
	})
	hc.Register(mux)

	return observe.Middleware(metrics)(mux)
}

func (s *Server) pingStore(ctx context.Context) error {
	_, err := s.store.ListDevices(ctx)
	return err
}

// deviceView is the JSON shape of one device row, annotated with live
// connection state from the registry.
type deviceView struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Location     string                `json:"location"`
	Capabilities protocol.Capabilities `json:"capabilities"`
	LastSeen     time.Time             `json:"last_seen"`
	Online       bool                  `json:"online"`
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "device listing failed")
		slog.Error("list devices failed", "err", err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		_, online := s.hub.Registry().Producer(d.ID)
		views = append(views, deviceView{
			ID:           d.ID,
			Name:         d.Name,
			Location:     d.Location,
			Capabilities: d.Capabilities,
			LastSeen:     d.LastSeen,
			Online:       online,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type transcriptView struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

func (s *Server) listTranscripts(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	deviceID := r.URL.Query().Get("device_id")

	rows, err := s.store.ListTranscripts(r.Context(), deviceID, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transcript listing failed")
		slog.Error("list transcripts failed", "device", deviceID, "err", err)
		return
	}

	views := make([]transcriptView, 0, len(rows))
	for _, t := range rows {
		views = append(views, transcriptView{
			ID:         t.ID,
			DeviceID:   t.DeviceID,
			Timestamp:  t.Timestamp,
			Text:       t.Text,
			Confidence: t.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type alertView struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	rows, err := s.store.ListAlerts(r.Context(), page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "alert listing failed")
		slog.Error("list alerts failed", "err", err)
		return
	}

	views := make([]alertView, 0, len(rows))
	for _, a := range rows {
		views = append(views, alertView{
			ID:        a.ID,
			DeviceID:  a.DeviceID,
			Timestamp: a.Timestamp,
			Type:      a.Type,
			Message:   a.Message,
			Status:    string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// updateAlertStatus moves an alert through its lifecycle. Transitions are
// monotonic; trying to move an alert backwards is rejected the same as an
// unrecognised status.
func (s *Server) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "alert id must be numeric")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a status field")
		return
	}

	status := store.AlertStatus(body.Status)
	if !status.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown status "+body.Status)
		return
	}

	switch err := s.store.UpdateAlertStatus(r.Context(), id, status); {
	case errors.Is(err, store.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "no such alert")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "alert cannot return to an earlier status")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "status update failed")
		slog.Error("alert status update failed", "alert", id, "err", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(status)})
	}
}

// parsePage reads offset/limit query parameters. Writes a 400 and returns
// ok=false on non-numeric input.
func parsePage(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	var page store.Page
	q := r.URL.Query()

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return page, false
		}
		page.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return page, false
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		page.Limit = n
	}
	return page, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
