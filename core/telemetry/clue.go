package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger emits structured logs via goa.design/clue/log. Every entry
	// produced under a step context (see ClueTracer.StartStep) carries the
	// run_id/step_id/agent identity of the step that produced it.
	ClueLogger struct{}

	// ClueMetrics records counters, timers, and gauges as OTEL instruments.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer creates OTEL spans and stamps the step identity onto the
	// context so logs and child spans inherit it.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}

	// stepIdentity is the run/step/agent triple a trace.Event carries,
	// propagated through the context from StartStep to every log line and
	// child span created inside the step.
	stepIdentity struct {
		runID  string
		stepID string
		agent  string
	}

	stepKey struct{}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
// Formatting and debug settings are read from the context (log.Context).
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider before invoking core methods.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter("cloudarch/core")}
}

// NewClueTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer("cloudarch/core")}
}

func withStep(ctx context.Context, id stepIdentity) context.Context {
	return context.WithValue(ctx, stepKey{}, id)
}

func stepFromContext(ctx context.Context) (stepIdentity, bool) {
	id, ok := ctx.Value(stepKey{}).(stepIdentity)
	return id, ok
}

func (id stepIdentity) fields() []log.Fielder {
	return []log.Fielder{
		log.KV{K: "run_id", V: id.runID},
		log.KV{K: "step_id", V: id.stepID},
		log.KV{K: "agent", V: id.agent},
	}
}

func (id stepIdentity) attrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("run_id", id.runID),
		attribute.String("step_id", id.stepID),
		attribute.String("agent", id.agent),
	}
}

// logFields assembles one entry's fielders: the message, any level-specific
// extras, the step identity stamped on ctx (when inside a step), then the
// call's own key/value pairs.
func logFields(ctx context.Context, msg string, keyvals []any, extra ...log.Fielder) []log.Fielder {
	fielders := append([]log.Fielder{log.KV{K: "msg", V: msg}}, extra...)
	if id, ok := stepFromContext(ctx); ok {
		fielders = append(fielders, id.fields()...)
	}
	return append(fielders, kvToFielders(keyvals)...)
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, logFields(ctx, msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, logFields(ctx, msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, logFields(ctx, msg, keyvals, log.KV{K: "severity", V: "warning"})...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, logFields(ctx, msg, keyvals)...)
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// histogram is the shared recording path for RecordTimer and RecordGauge.
func (m *ClueMetrics) histogram(name string, value float64, tags []string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	m.histogram(name, d.Seconds(), tags)
}

// RecordGauge records a gauge-like value. OTEL has no synchronous gauge
// instrument, so this uses a histogram suffixed "_gauge".
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.histogram(name+"_gauge", value, tags)
}

// RecordStepTelemetry records one agent step's tokens_out and latency_ms
// as two histograms tagged by agent and
// phase, so "p95 latency for the Security reviewer at end" is a queryable
// OTEL metric rather than something only visible by grepping the journal.
func (m *ClueMetrics) RecordStepTelemetry(agent, phase string, tokensOut, latencyMs int) {
	tags := []string{"agent", agent, "phase", phase}
	m.RecordGauge("agentrunner_tokens_out", float64(tokensOut), tags...)
	m.RecordTimer("agentrunner_step_latency", time.Duration(latencyMs)*time.Millisecond, tags...)
}

// Start creates a span under name. When ctx carries a step identity the span
// is tagged with it, so spans opened inside a step correlate back to the
// run/step/agent that triggered them.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	if id, ok := stepFromContext(ctx); ok {
		opts = append(opts, trace.WithAttributes(id.attrs()...))
	}
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

// StartStep begins a span named after agent, attaches the run_id/step_id/
// agent attributes, and stamps the identity onto the returned context so
// every log line and child span created inside the step inherits it.
func (t *ClueTracer) StartStep(ctx context.Context, runID, stepID, agent string) (context.Context, Span) {
	id := stepIdentity{runID: runID, stepID: stepID, agent: agent}
	newCtx, span := t.tracer.Start(ctx, "agent_step."+agent, trace.WithAttributes(id.attrs()...))
	return withStep(newCtx, id), &clueSpan{span: span}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func kvToFielders(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
