// Package telemetry defines the logging, metrics, and tracing interfaces used
// throughout the core. Implementations typically delegate to Clue and OTEL but
// the interfaces are intentionally small so tests can supply lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used across every core component.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
	// RecordStepTelemetry records the tokens-out/latency accounting a single
	// agent step's terminal trace.Event carries,
	// tagged by agent name and phase so per-role and per-phase cost is queryable.
	RecordStepTelemetry(agent, phase string, tokensOut, latencyMs int)
}

// Tracer abstracts span creation so core code stays agnostic of the underlying
// OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	// StartStep begins a span for one traced agent step and tags it with the
	// run/step/agent identity every trace.Event carries, so a span can be
	// correlated back to the JSONL journal entries it produced.
	StartStep(ctx context.Context, runID, stepID, agent string) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
