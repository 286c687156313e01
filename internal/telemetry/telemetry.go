// Package telemetry wires the gateway's internal audit emissions to
// OpenTelemetry spans and Prometheus metrics, grounded on the teacher's
// internal/observability.Metrics/Tracer. Trimmed to the core's own
// concerns (turns, tool calls, model requests, subagents) from the
// teacher's much larger surface (HTTP, webhooks, channels, cost). The
// teacher wires an OTLP gRPC exporter; this core only has
// go.opentelemetry.io/otel/sdk and /trace in its dependency set (no
// otlptrace exporter appears anywhere else in the pack either), so spans
// are created against a bare TracerProvider with no configured exporter —
// useful for in-process span attributes/duration today, and a natural seam
// to attach a real exporter later without touching call sites.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the gateway's Prometheus registry surface.
type Metrics struct {
	TurnsStarted   *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	TurnOutcome    *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	ModelRequests  *prometheus.CounterVec
	ModelDuration  *prometheus.HistogramVec
	ModelTokens    *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	SubagentsTotal *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
}

// NewMetrics registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_turns_started_total",
			Help: "Turns started, by session kind.",
		}, []string{"session_kind"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchismo_turn_duration_seconds",
			Help:    "Wall-clock duration of a turn from start_turn to TurnComplete/Error.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"session_kind", "outcome"}),
		TurnOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_turn_outcome_total",
			Help: "Terminal turn outcomes, by error kind (empty for success).",
		}, []string{"outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_tool_calls_total",
			Help: "Tool dispatches, by tool name and result.",
		}, []string{"tool", "result"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchismo_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		ModelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_model_requests_total",
			Help: "Model completion calls, by provider and status.",
		}, []string{"provider", "status"}),
		ModelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchismo_model_request_duration_seconds",
			Help:    "Model completion call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "stream"}),
		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_model_tokens_total",
			Help: "Tokens consumed, by direction.",
		}, []string{"provider", "direction"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "batchismo_active_sessions",
			Help: "Sessions with a currently running turn.",
		}),
		SubagentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_subagents_total",
			Help: "Workers spawned, by terminal state once finished.",
		}, []string{"state"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchismo_events_dropped_total",
			Help: "Events dropped by a full subscriber buffer, by event type.",
		}, []string{"event_type"}),
	}
}

// Tracer wraps a bare TracerProvider, scoped to the core's span names.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer against a fresh, exporter-less TracerProvider.
// Spans still carry attributes and durations for any local consumer (a
// debug exporter can be attached later by passing sdktrace.WithSyncer to
// this provider without touching callers).
func NewTracer(serviceName string) (*Tracer, func(context.Context) error) {
	provider := sdktrace.NewTracerProvider()
	return &Tracer{tracer: provider.Tracer(serviceName)}, provider.Shutdown
}

// StartTurn opens a span covering one turn.
func (t *Tracer) StartTurn(ctx context.Context, sessionID string, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.kind", kind),
		))
}

// StartTool opens a span covering one tool dispatch.
func (t *Tracer) StartTool(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool."+toolName, trace.WithAttributes(attribute.String("tool.name", toolName)))
}

// EndWithError records err on span (if non-nil) and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Observe is a small helper for the common "time a block, record a
// histogram" pattern used throughout the gateway and agent loop.
func Observe(hist prometheus.Observer, start time.Time) {
	hist.Observe(time.Since(start).Seconds())
}
