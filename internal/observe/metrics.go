// Package observe provides application-wide observability primitives for the
// Nightjar hub: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all hub metrics.
const meterName = "github.com/nightjarhq/nightjar"

// Metrics holds all OpenTelemetry metric instruments for the hub.
// All fields are safe for concurrent use since the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ClassifyDuration tracks alert classification latency.
	ClassifyDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksIngested counts audio chunks accepted from producers. Use with
	// attribute: attribute.String("device_id", ...)
	ChunksIngested metric.Int64Counter

	// Transcripts counts stored transcriptions. Use with attribute:
	//   attribute.String("device_id", ...)
	Transcripts metric.Int64Counter

	// Alerts counts raised alerts. Use with attributes:
	//   attribute.String("device_id", ...), attribute.String("severity", ...)
	Alerts metric.Int64Counter

	// BroadcastSends counts event messages fanned out to observers. Use with
	// attribute: attribute.String("event_type", ...)
	BroadcastSends metric.Int64Counter

	// CommandsRelayed counts control commands relayed to devices. Use with
	// attributes: attribute.String("command", ...), attribute.String("status", ...)
	CommandsRelayed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts transcriber and classifier errors. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ConnectedProducers tracks the number of registered device connections.
	ConnectedProducers metric.Int64UpDownCounter

	// ConnectedObservers tracks the number of opted-in observer connections.
	ConnectedObservers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("nightjar.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("nightjar.classify.duration",
		metric.WithDescription("Latency of alert classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksIngested, err = m.Int64Counter("nightjar.chunks.ingested",
		metric.WithDescription("Total audio chunks accepted from producers by device ID."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("nightjar.transcripts",
		metric.WithDescription("Total stored transcriptions by device ID."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("nightjar.alerts",
		metric.WithDescription("Total raised alerts by device ID and severity."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastSends, err = m.Int64Counter("nightjar.broadcast.sends",
		metric.WithDescription("Total event messages fanned out to observers by event type."),
	); err != nil {
		return nil, err
	}
	if met.CommandsRelayed, err = m.Int64Counter("nightjar.commands.relayed",
		metric.WithDescription("Total control commands relayed to devices by command and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("nightjar.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectedProducers, err = m.Int64UpDownCounter("nightjar.connected_producers",
		metric.WithDescription("Number of registered device connections."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedObservers, err = m.Int64UpDownCounter("nightjar.connected_observers",
		metric.WithDescription("Number of opted-in observer connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("nightjar.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordChunkIngested records an accepted audio chunk.
func (m *Metrics) RecordChunkIngested(ctx context.Context, deviceID string) {
	m.ChunksIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("device_id", deviceID)),
	)
}

// RecordTranscript records a stored transcription.
func (m *Metrics) RecordTranscript(ctx context.Context, deviceID string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("device_id", deviceID)),
	)
}

// RecordAlert records a raised alert with its severity.
func (m *Metrics) RecordAlert(ctx context.Context, deviceID, severity string) {
	m.Alerts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.String("severity", severity),
		),
	)
}

// RecordBroadcast records an event message fanned out to observers.
func (m *Metrics) RecordBroadcast(ctx context.Context, eventType string) {
	m.BroadcastSends.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", eventType)),
	)
}

// RecordCommandRelayed records a relayed control command and its outcome.
func (m *Metrics) RecordCommandRelayed(ctx context.Context, command, status string) {
	m.CommandsRelayed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a transcriber or classifier error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
