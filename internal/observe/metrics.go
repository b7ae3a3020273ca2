// Package observe provides application-wide observability primitives for
// Orato: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed on
// /metrics through the Prometheus exporter bridge set up by [InitProvider].
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Orato metrics.
const meterName = "github.com/MrWong99/orato"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// FeedbackDuration tracks the round trip of one feedback request. Use with
	// attributes backend and status.
	FeedbackDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// SegmentsDispatched counts segments sent for feedback, by mode.
	SegmentsDispatched metric.Int64Counter

	// SegmentsTooShort counts segments rejected by the minimum word count.
	SegmentsTooShort metric.Int64Counter

	// StaleResults counts feedback results discarded because the session
	// moved on before they arrived.
	StaleResults metric.Int64Counter

	// SourceRestarts counts transparent recognition restarts, by source kind.
	SourceRestarts metric.Int64Counter

	// CacheLookups counts feedback cache lookups, by result (hit, miss, error).
	CacheLookups metric.Int64Counter

	// EventsPublished counts segment events by status.
	EventsPublished metric.Int64Counter

	// ActiveSessions tracks the number of connected practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, tuned for LLM round
// trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FeedbackDuration, err = m.Float64Histogram("orato.feedback.duration",
		metric.WithDescription("Latency of feedback requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("orato.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("orato.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDispatched, err = m.Int64Counter("orato.segments.dispatched",
		metric.WithDescription("Segments sent for feedback by mode."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsTooShort, err = m.Int64Counter("orato.segments.too_short",
		metric.WithDescription("Segments rejected for having too few words."),
	); err != nil {
		return nil, err
	}
	if met.StaleResults, err = m.Int64Counter("orato.feedback.stale",
		metric.WithDescription("Feedback results discarded after the session moved on."),
	); err != nil {
		return nil, err
	}
	if met.SourceRestarts, err = m.Int64Counter("orato.source.restarts",
		metric.WithDescription("Transparent recognition restarts by source kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("orato.feedback.cache.lookups",
		metric.WithDescription("Feedback cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("orato.events.published",
		metric.WithDescription("Segment events published by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("orato.active_sessions",
		metric.WithDescription("Number of connected practice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("orato.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFeedback records the latency and outcome of one feedback request.
func (m *Metrics) RecordFeedback(ctx context.Context, backend, status string, d time.Duration) {
	m.FeedbackDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordSegmentDispatched records a segment sent for feedback.
func (m *Metrics) RecordSegmentDispatched(ctx context.Context, mode string) {
	m.SegmentsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordTooShort records a segment rejected by the word-count gate.
func (m *Metrics) RecordTooShort(ctx context.Context) {
	m.SegmentsTooShort.Add(ctx, 1)
}

// RecordStaleResult records a feedback result that arrived too late.
func (m *Metrics) RecordStaleResult(ctx context.Context) {
	m.StaleResults.Add(ctx, 1)
}

// RecordSourceRestart records a transparent recognition restart.
func (m *Metrics) RecordSourceRestart(ctx context.Context, kind string) {
	m.SourceRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheLookup records a feedback cache lookup result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEventPublished records a published (or failed) segment event.
func (m *Metrics) RecordEventPublished(ctx context.Context, status string) {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
