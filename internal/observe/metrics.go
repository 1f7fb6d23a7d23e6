// Package observe provides application-wide observability primitives for
// Vigil: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vigil metrics.
const meterName = "github.com/halcyonix/vigil"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Vision pipeline ---

	// FramesCaptured counts frames delivered into the frame buffer.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames evicted from a full buffer.
	FramesDropped metric.Int64Counter

	// RecognitionDuration tracks face recognition latency per frame.
	RecognitionDuration metric.Float64Histogram

	// Identifications counts recognizer matches offered to the session
	// controller. Use with attributes:
	//   attribute.String("person", ...), attribute.String("outcome", ...)
	Identifications metric.Int64Counter

	// --- Sessions and speech ---

	// GreetingsSuppressed counts identifications rejected by the debounce
	// window or an active session.
	GreetingsSuppressed metric.Int64Counter

	// UtterancesSpoken counts utterances the speech queue played to the end.
	UtterancesSpoken metric.Int64Counter

	// SpeechDuration tracks playback time per utterance.
	SpeechDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live chat sessions (0 or 1 in
	// normal operation).
	ActiveSessions metric.Int64UpDownCounter

	// --- Chat router ---

	// TurnDuration tracks end-to-end latency of one conversation turn.
	TurnDuration metric.Float64Histogram

	// RouterRequests counts routed queries. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	RouterRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame recognition on the low end and LLM-backed turns on the high end.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Vision counters.
	if met.FramesCaptured, err = m.Int64Counter("vigil.frames.captured",
		metric.WithDescription("Total frames delivered into the frame buffer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vigil.frames.dropped",
		metric.WithDescription("Total frames evicted from a full frame buffer."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("vigil.recognition.duration",
		metric.WithDescription("Latency of face recognition per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("vigil.speech.duration",
		metric.WithDescription("Playback time per spoken utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("vigil.turn.duration",
		metric.WithDescription("End-to-end latency of one conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Identifications, err = m.Int64Counter("vigil.identifications",
		metric.WithDescription("Total identifications by person and outcome."),
	); err != nil {
		return nil, err
	}
	if met.GreetingsSuppressed, err = m.Int64Counter("vigil.greetings.suppressed",
		metric.WithDescription("Identifications rejected by the debounce window or an active session."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesSpoken, err = m.Int64Counter("vigil.utterances.spoken",
		metric.WithDescription("Utterances the speech queue played to the end."),
	); err != nil {
		return nil, err
	}
	if met.RouterRequests, err = m.Int64Counter("vigil.router.requests",
		metric.WithDescription("Routed queries by answer source and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vigil.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vigil.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordIdentification records one identification with its outcome
// ("accepted" or "suppressed").
func (m *Metrics) RecordIdentification(ctx context.Context, person, outcome string) {
	m.Identifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("person", person),
			attribute.String("outcome", outcome),
		),
	)
	if outcome == "suppressed" {
		m.GreetingsSuppressed.Add(ctx, 1)
	}
}

// RecordRouterRequest records a routed query with its answer source and
// status ("ok" or "error").
func (m *Metrics) RecordRouterRequest(ctx context.Context, source, status string) {
	m.RouterRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

// RecordUtterance records one completed utterance and its playback time.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.UtterancesSpoken.Add(ctx, 1)
	m.SpeechDuration.Record(ctx, seconds)
}
