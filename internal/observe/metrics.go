// Package observe provides application-wide observability primitives for
// WhisperEngine: OpenTelemetry metrics, distributed tracing, structured
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

// meterName is the instrumentation scope name used for all WhisperEngine metrics.
const meterName = "github.com/whisperengine/whisperengine"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks full message-to-reply pipeline latency.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// RetrievalDuration tracks memory and knowledge retrieval latency.
	RetrievalDuration metric.Float64Histogram

	// IntelligenceDuration tracks the parallel analysis fan-out latency.
	IntelligenceDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesProcessed counts handled messages. Use with attributes:
	//   attribute.String("character", ...), attribute.String("status", ...)
	MessagesProcessed metric.Int64Counter

	// IntelligenceTasks counts analysis task outcomes. Use with attributes:
	//   attribute.String("task", ...), attribute.String("status", ...)
	IntelligenceTasks metric.Int64Counter

	// MemoriesStored counts conversation turns persisted to the vector store.
	MemoriesStored metric.Int64Counter

	// FactsExtracted counts facts and preferences written to the knowledge store.
	FactsExtracted metric.Int64Counter

	// LeakageRedactions counts outbound redactions made by the safety scanner.
	LeakageRedactions metric.Int64Counter

	// ReplyChunks counts outbound message chunks after platform-limit
	// splitting. One reply produces at least one chunk.
	ReplyChunks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts backend errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a text pipeline that spends most of its time waiting on the LLM.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("whisperengine.turn.duration",
		metric.WithDescription("End-to-end latency from message receipt to reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("whisperengine.llm.duration",
		metric.WithDescription("Latency of chat completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("whisperengine.retrieval.duration",
		metric.WithDescription("Latency of memory and knowledge retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntelligenceDuration, err = m.Float64Histogram("whisperengine.intelligence.duration",
		metric.WithDescription("Latency of the parallel analysis fan-out."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesProcessed, err = m.Int64Counter("whisperengine.messages.processed",
		metric.WithDescription("Total messages handled by character and status."),
	); err != nil {
		return nil, err
	}
	if met.IntelligenceTasks, err = m.Int64Counter("whisperengine.intelligence.tasks",
		metric.WithDescription("Total analysis task outcomes by task and status."),
	); err != nil {
		return nil, err
	}
	if met.MemoriesStored, err = m.Int64Counter("whisperengine.memories.stored",
		metric.WithDescription("Total conversation turns persisted to the vector store."),
	); err != nil {
		return nil, err
	}
	if met.FactsExtracted, err = m.Int64Counter("whisperengine.facts.extracted",
		metric.WithDescription("Total facts and preferences written to the knowledge store."),
	); err != nil {
		return nil, err
	}
	if met.LeakageRedactions, err = m.Int64Counter("whisperengine.leakage.redactions",
		metric.WithDescription("Total outbound redactions made by the safety scanner."),
	); err != nil {
		return nil, err
	}
	if met.ReplyChunks, err = m.Int64Counter("whisperengine.reply.chunks",
		metric.WithDescription("Total outbound message chunks after platform-limit splitting."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("whisperengine.provider.errors",
		metric.WithDescription("Total backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("whisperengine.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("whisperengine.http.request.duration",
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

// RecordMessage records one handled message with the standard attribute set.
func (m *Metrics) RecordMessage(ctx context.Context, character, status string) {
	m.MessagesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("character", character),
			attribute.String("status", status),
		),
	)
}

// RecordIntelligenceTask records one analysis task outcome.
func (m *Metrics) RecordIntelligenceTask(ctx context.Context, task, status string) {
	m.IntelligenceTasks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task", task),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReplyChunks records the chunk count of one outbound reply.
func (m *Metrics) RecordReplyChunks(ctx context.Context, n int) {
	if n > 0 {
		m.ReplyChunks.Add(ctx, int64(n))
	}
}

// RecordLeakage records outbound redactions from one reply.
func (m *Metrics) RecordLeakage(ctx context.Context, n int) {
	if n > 0 {
		m.LeakageRedactions.Add(ctx, int64(n))
	}
}
