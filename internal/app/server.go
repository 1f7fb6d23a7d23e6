package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyonix/vigil/internal/health"
	"github.com/halcyonix/vigil/internal/observe"
)

// cameraMaxFrameAge is how stale the newest frame may be before the camera
// readiness check fails.
const cameraMaxFrameAge = 30 * time.Second

// speechMaxBacklog is how many pending utterances the speech readiness check
// tolerates before reporting a stuck backend.
const speechMaxBacklog = 32

// Status is the JSON body served by /statusz.
type Status struct {
	// State is the controller state: watching, greeting, or chatting.
	State string `json:"state"`

	// Person is who the active session belongs to, empty while watching.
	Person string `json:"person,omitempty"`

	// FramesCaptured counts frames read from the camera since start.
	FramesCaptured uint64 `json:"frames_captured"`

	// FramesDropped counts frames evicted from a full buffer since start.
	FramesDropped uint64 `json:"frames_dropped"`

	// BufferLen is the number of frames currently waiting for recognition.
	BufferLen int `json:"buffer_len"`

	// Uptime is how long the app has been running.
	Uptime string `json:"uptime"`
}

// buildServer assembles the HTTP endpoint: Prometheus metrics, health
// probes, and a status snapshot, all behind the tracing middleware.
func (a *App) buildServer(addr string) *http.Server {
	checkers := []health.Checker{
		health.Camera(a.capture, cameraMaxFrameAge),
		health.SpeechBacklog(a.queue, speechMaxBacklog),
	}
	if a.store != nil {
		checkers = append(checkers, health.Encodings(a.store))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)
	mux.HandleFunc("GET /statusz", a.handleStatus)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// handleStatus serves a point-in-time snapshot of the pipeline.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{
		State:          a.controller.State().String(),
		Person:         a.controller.Current(),
		FramesCaptured: a.capture.Frames(),
		FramesDropped:  a.buffer.Dropped(),
		BufferLen:      a.buffer.Len(),
		Uptime:         time.Since(a.started).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
