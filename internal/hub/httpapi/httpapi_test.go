package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nightjarhq/nightjar/internal/hub"
	"github.com/nightjarhq/nightjar/internal/hub/httpapi"
	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/protocol"
	"github.com/nightjarhq/nightjar/internal/store"
	"github.com/nightjarhq/nightjar/internal/store/sqlite"
)

type testAPI struct {
	srv   *httptest.Server
	store store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := hub.NewRegistry()
	metrics := observe.DefaultMetrics()
	bcast := hub.NewBroadcaster(registry, metrics, hub.WithThrottleWindow(0))
	h := hub.New(registry, db, bcast, metrics)

	srv := httptest.NewServer(httpapi.New(db, h).Handler(metrics))
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: db}
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := a.srv.Client().Get(a.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) patch(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, a.srv.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("PATCH %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestListDevices_ReportsOnlineState(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ctx := context.Background()

	for _, id := range []string{"porch-cam", "kitchen-cam"} {
		err := a.store.UpsertDevice(ctx, store.Device{
			ID: id, Name: id, LastSeen: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed device %s: %v", id, err)
		}
	}

	// Connect porch-cam over the real /ws endpoint so the registry marks
	// it online.
	wsURL := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	reg, err := protocol.Encode(&protocol.Registration{DeviceID: "porch-cam", Name: "porch-cam"})
	if err != nil {
		t.Fatalf("encode registration: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, reg); err != nil {
		t.Fatalf("send registration: %v", err)
	}
	if _, _, err := ws.Read(ctx); err != nil { // wait for the ack
		t.Fatalf("read ack: %v", err)
	}

	var devices []struct {
		ID     string `json:"id"`
		Online bool   `json:"online"`
	}
	resp := a.get(t, "/api/devices")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	decodeInto(t, resp, &devices)

	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	online := map[string]bool{}
	for _, d := range devices {
		online[d.ID] = d.Online
	}
	if !online["porch-cam"] {
		t.Error("porch-cam should be online")
	}
	if online["kitchen-cam"] {
		t.Error("kitchen-cam should be offline")
	}
}

func TestListTranscripts_FilterAndPaging(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		_, err := a.store.InsertTranscript(ctx, store.Transcript{
			DeviceID:  "porch-cam",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Text:      fmt.Sprintf("utterance %d", i),
		})
		if err != nil {
			t.Fatalf("seed transcript: %v", err)
		}
	}
	if _, err := a.store.InsertTranscript(ctx, store.Transcript{
		DeviceID: "other", Timestamp: base, Text: "noise",
	}); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	var rows []struct {
		DeviceID string `json:"device_id"`
		Text     string `json:"text"`
	}
	resp := a.get(t, "/api/transcripts?device_id=porch-cam&offset=1&limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	decodeInto(t, resp, &rows)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Newest-first with offset 1 skips "utterance 4".
	if rows[0].Text != "utterance 3" || rows[1].Text != "utterance 2" {
		t.Errorf("rows = %q, %q; want utterance 3, utterance 2", rows[0].Text, rows[1].Text)
	}
	for _, r := range rows {
		if r.DeviceID != "porch-cam" {
			t.Errorf("device_id = %q, want porch-cam", r.DeviceID)
		}
	}
}

func TestListTranscripts_RejectsBadPaging(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	for _, q := range []string{"offset=abc", "limit=-1", "offset=-3"} {
		resp := a.get(t, "/api/transcripts?"+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAlertLifecycle(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ctx := context.Background()

	id, err := a.store.InsertAlert(ctx, store.Alert{
		DeviceID:  "porch-cam",
		Timestamp: time.Now().UTC(),
		Type:      "high",
		Message:   "glass break detected",
		Status:    store.StatusNew,
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	var alerts []struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	resp := a.get(t, "/api/alerts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	decodeInto(t, resp, &alerts)
	if len(alerts) != 1 || alerts[0].Status != "new" {
		t.Fatalf("alerts = %+v, want one new alert", alerts)
	}

	path := fmt.Sprintf("/api/alerts/%d", id)

	resp = a.patch(t, path, `{"status":"acknowledged"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack status = %d, want 200", resp.StatusCode)
	}
	var updated struct {
		Status string `json:"status"`
	}
	decodeInto(t, resp, &updated)
	if updated.Status != "acknowledged" {
		t.Errorf("status = %q, want acknowledged", updated.Status)
	}

	// Moving backwards is rejected.
	resp = a.patch(t, path, `{"status":"new"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("backwards transition status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateAlert_BadRequests(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown id", "/api/alerts/9999", `{"status":"acknowledged"}`, http.StatusNotFound},
		{"non-numeric id", "/api/alerts/abc", `{"status":"acknowledged"}`, http.StatusBadRequest},
		{"unknown status", "/api/alerts/1", `{"status":"snoozed"}`, http.StatusBadRequest},
		{"malformed body", "/api/alerts/1", `{status`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := a.patch(t, tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := a.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}
