// Package observe holds the copilot's telemetry: OpenTelemetry instruments
// for every pipeline stage, spans keyed by call session, a session-aware
// slog logger and the HTTP middleware joining them.
//
// [InitProvider] exports metrics to a Prometheus registry served on
// /metrics. Code records through [DefaultMetrics]; tests build their own
// with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all copilot metrics.
const meterName = "github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000"

// Pipeline stage names used with [Metrics.RecordStage].
const (
	StageExtract      = "extract"
	StageRoute        = "route"
	StageRetrieve     = "retrieve"
	StageEmbed        = "embed"
	StageComposeCards = "compose_cards"
	StageComposeGuide = "compose_guide"
	StagePipeline     = "pipeline"
)

// Metrics holds the copilot's instruments. Safe for concurrent use.
type Metrics struct {
	// StageDuration tracks latency per pipeline stage. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// CacheLookups counts cache reads. Use with attributes:
	//   attribute.String("cache", ...), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// RetrievalFallbacks counts fallback stages taken by the retriever. Use
	// with attribute:
	//   attribute.String("kind", ...)
	RetrievalFallbacks metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts provider circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("state", ...)
	CircuitTransitions metric.Int64Counter

	// Utterances counts processed utterances. Use with attribute:
	//   attribute.String("route", ...)
	Utterances metric.Int64Counter

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets spans cached lookups (milliseconds) to LLM composition
// (seconds).
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on a meter from mp. The first creation
// error aborts.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		StageDuration: b.latency("copilot.stage.duration", "Latency of one pipeline stage.", latencyBuckets),
		LLMDuration:   b.latency("copilot.llm.duration", "Latency of LLM completions.", latencyBuckets),

		CacheLookups:       b.counter("copilot.cache.lookups", "Cache reads by cache name and result."),
		RetrievalFallbacks: b.counter("copilot.retrieval.fallbacks", "Retriever fallback stages by kind."),
		ProviderRequests:   b.counter("copilot.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:     b.counter("copilot.provider.errors", "Provider errors by provider and kind."),
		CircuitTransitions: b.counter("copilot.provider.circuit_transitions", "Provider circuit breaker transitions by provider, kind and new state."),
		Utterances:         b.counter("copilot.utterances", "Processed utterances by route."),

		ActiveSessions: b.gauge("copilot.active_sessions", "Number of live call sessions."),

		HTTPRequestDuration: b.latency("copilot.http.request.duration", "HTTP request latency by method, path and status.", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// builder creates instruments and keeps the first error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) latency(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.keep(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return g
}

func (b *builder) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: create %s: %w", name, err)
	}
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on [otel.GetMeterProvider],
// created on first use.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCacheLookup records a cache read.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
}

// RecordFallback records one retriever fallback stage.
func (m *Metrics) RecordFallback(ctx context.Context, kind string) {
	m.RetrievalFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordUtterance records a processed utterance and the route it took.
func (m *Metrics) RecordUtterance(ctx context.Context, route string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("route", route)),
	)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCircuitTransition records a provider's breaker moving to state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, provider, kind, state string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}
