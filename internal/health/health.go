// Package health provides the hub's HTTP health and readiness probes.
//
// /healthz is a liveness probe and always returns 200 once the process can
// serve HTTP. /readyz returns 200 only when every registered [Checker]
// passes, so orchestrators can hold traffic until the database is reachable.
// Both respond with a JSON object carrying a top-level "status" field and,
// for readiness, a "checks" map with per-checker results.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check must return nil when the
// dependency is healthy and respect context cancellation.
type Checker struct {
	// Name labels this check (e.g. "database") in the JSON response.
	Name string

	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. The checker list is
// fixed at construction time, so it is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 when every registered [Checker] passes and 503
// otherwise. Checkers run concurrently, each under a [checkTimeout] deadline
// derived from the request context; all of them run to completion so the
// response reports every failing dependency, not just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]string, len(h.checkers))
	allOK := true

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
				return err
			}
			outcomes[i] = "ok"
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		allOK = false
	}

	checks := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		checks[c.Name] = outcomes[i]
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
