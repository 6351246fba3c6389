// Package observe provides application-wide observability primitives for
// poise: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all poise metrics.
const meterName = "github.com/MrWong99/poise"

// Drop reasons used with [Metrics.RecordFrameDropped].
const (
	DropInvalid      = "invalid"
	DropTimestamp    = "timestamp"
	DropBackpressure = "backpressure"
	DropFinalization = "finalization"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DetectorDuration tracks face/pose detector call latency. Use with attribute:
	//   attribute.String("detector", ...)
	DetectorDuration metric.Float64Histogram

	// FinalizeDuration tracks how long report finalisation takes.
	FinalizeDuration metric.Float64Histogram

	// --- Frame counters ---

	// FramesReceived counts every frame offered to a processor.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames rejected or discarded. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// FramesAnalyzed counts frames that completed the per-frame pipeline.
	FramesAnalyzed metric.Int64Counter

	// FramesSkipped counts frames rejected by the rate sampler.
	FramesSkipped metric.Int64Counter

	// FramesErrored counts frames whose pipeline run failed.
	FramesErrored metric.Int64Counter

	// ModeTransitions counts adaptive sampling mode switches. Use with attribute:
	//   attribute.String("mode", ...)
	ModeTransitions metric.Int64Counter

	// ProviderRequests counts detector API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts detector errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks the number of recordings currently ingesting.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-frame inference latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectorDuration, err = m.Float64Histogram("poise.detector.duration",
		metric.WithDescription("Latency of face and pose detector calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("poise.finalize.duration",
		metric.WithDescription("Time spent draining and aggregating a recording at finalisation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("poise.frames.received",
		metric.WithDescription("Total frames offered for admission."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("poise.frames.dropped",
		metric.WithDescription("Total frames rejected or discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesAnalyzed, err = m.Int64Counter("poise.frames.analyzed",
		metric.WithDescription("Total frames that completed per-frame analysis."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("poise.frames.skipped",
		metric.WithDescription("Total frames skipped by the rate sampler."),
	); err != nil {
		return nil, err
	}
	if met.FramesErrored, err = m.Int64Counter("poise.frames.errored",
		metric.WithDescription("Total frames whose analysis failed."),
	); err != nil {
		return nil, err
	}
	if met.ModeTransitions, err = m.Int64Counter("poise.sampling.mode_transitions",
		metric.WithDescription("Total adaptive sampling mode switches by target mode."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("poise.provider.requests",
		metric.WithDescription("Total detector requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("poise.provider.errors",
		metric.WithDescription("Total detector errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("poise.active_recordings",
		metric.WithDescription("Number of recordings currently ingesting frames."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("poise.http.request.duration",
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

// RecordFrameDropped increments the dropped-frames counter for reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDetectorCall records the latency of one detector call and, when err
// is non-nil, a provider error for that detector.
func (m *Metrics) RecordDetectorCall(ctx context.Context, detector string, d time.Duration, err error) {
	m.DetectorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("detector", detector)),
	)
	if err != nil {
		m.RecordProviderError(ctx, detector, "detector")
	}
}

// RecordModeTransition records a switch of the adaptive sampler into mode.
func (m *Metrics) RecordModeTransition(ctx context.Context, mode string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
