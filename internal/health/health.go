// Package health serves Vigil's liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered [Checker] passes,
//     503 otherwise. The pipeline registers checkers for the camera feed,
//     the encoding store, and the speech backlog (see checkers.go).
//
// Readiness responses list each check in registration order with its
// verdict, so an operator can see which dependency is unhappy without
// grepping logs.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the
// dependency is usable.
type Checker struct {
	// Name identifies the check in the readiness response ("camera",
	// "encodings", "speech").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// checkResult is one checker's verdict in the readiness response.
type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// response is the JSON body served by both probes.
type response struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz probes. The checker list is
// fixed at construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200. A process that reached this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz evaluates every checker under a [checkTimeout] deadline derived
// from the request context and answers 503 as soon as any of them fails.
// All checks run on every request, so the response always shows the full
// picture.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, 0, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		res := checkResult{Name: c.Name, Status: "ok"}
		if err != nil {
			res.Status = "fail"
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}

	body := response{Status: "ok", Checks: results}
	status := http.StatusOK
	if !ready {
		body.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, degrading to a plain 500
// if encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
