// Package agentrunner executes one role-agent as a single step of a run:
// it translates the provider-agnostic model.Chunk stream into trace.Events,
// emits heartbeats during long silences, falls back to a blocking call when
// streaming yields no text, and redacts/truncates the result before handing
// it back to the team workflow.
package agentrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultTruncateLimit     = 25000
)

// Config describes a single agent invocation.
type Config struct {
	RunID     run.ID
	StepID    run.StepID
	Total     int
	AgentName string
	Handle    model.AgentHandle
	Input     []*model.Message
	Tools     []*model.ToolDefinition
	// Meta is attached verbatim to every emitted trace.Event (waf_pillar,
	// parallel_group, aggregator, ...).
	Meta map[string]any
}

// Options configures a Runner.
type Options struct {
	// HeartbeatInterval is the wall-clock silence threshold before a
	// synthetic "thinking" event is emitted. Defaults to 5s.
	HeartbeatInterval time.Duration
	// TruncateLimit caps the redacted result length. Defaults to 25,000.
	TruncateLimit int
	// Guidance holds literal authored-guidance blocks to redact from the
	// step result before it is returned. Delta events published during the
	// step are not redacted.
	Guidance *GuidanceRegistry
	Logger   telemetry.Logger
	Tracer   telemetry.Tracer
	Metrics  telemetry.Metrics
}

// Runner executes role-agent steps against a shared trace.Bus.
type Runner struct {
	bus  *trace.Bus
	opts Options
}

// New constructs a Runner publishing events to bus.
func New(bus *trace.Bus, opts Options) *Runner {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.TruncateLimit <= 0 {
		opts.TruncateLimit = defaultTruncateLimit
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Guidance == nil {
		opts.Guidance = NewGuidanceRegistry()
	}
	return &Runner{bus: bus, opts: opts}
}

// Guidance returns the Runner's GuidanceRegistry so callers assembling a team
// (which own the authored-guidance literals embedded in role prompts) can
// register them for redaction after construction.
func (r *Runner) Guidance() *GuidanceRegistry {
	return r.opts.Guidance
}

// chunkRecv bundles a received chunk with its terminal error, if any, so a
// single channel can carry both into the runner's select loop.
type chunkRecv struct {
	chunk model.Chunk
	err   error
}

// Run executes cfg as one traced step. It always emits exactly one start
// event and exactly one terminal (end or error) event for (cfg.RunID,
// cfg.StepID).
func (r *Runner) Run(ctx context.Context, cfg Config) (string, error) {
	if cfg.Handle == nil {
		err := fmt.Errorf("agentrunner: %s: agent handle is nil", cfg.AgentName)
		r.emit(cfg, trace.PhaseStart, 0, 0, "", "", "")
		r.emit(cfg, trace.PhaseError, 0, 0, "", "", err.Error())
		return "", err
	}
	start := time.Now()
	ctx, span := r.opts.Tracer.StartStep(ctx, string(cfg.RunID), fmt.Sprint(cfg.StepID), cfg.AgentName)
	defer span.End()

	r.emit(cfg, trace.PhaseStart, 0, time.Since(start), "", "", "")

	text, tokensOut, err := r.stream(ctx, cfg, start)
	if err != nil {
		span.RecordError(err)
		r.opts.Logger.Warn(ctx, "agent step failed", "error", err.Error())
		r.emit(cfg, trace.PhaseError, tokensOut, time.Since(start), "", "", err.Error())
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		r.opts.Logger.Debug(ctx, "stream produced no text, falling back to blocking call")
		fallback, ferr := r.fallback(ctx, cfg, start)
		if ferr != nil {
			span.RecordError(ferr)
			r.emit(cfg, trace.PhaseError, tokensOut, time.Since(start), "", "", ferr.Error())
			return "", ferr
		}
		text = fallback
		tokensOut += wordCount(text)
		r.emit(cfg, trace.PhaseDelta, tokensOut, time.Since(start), text, "", "")
	}

	text = redact(text, r.opts.Guidance, r.opts.TruncateLimit)
	r.emit(cfg, trace.PhaseEnd, tokensOut, time.Since(start), "", fmt.Sprintf("%s completed", cfg.AgentName), "")
	return text, nil
}

// stream drains cfg.Handle's streaming response, emitting delta/thinking
// events as it goes. It returns the concatenation of every text delta
// observed; an empty return with a nil error means the caller should use the
// blocking fallback.
func (r *Runner) stream(ctx context.Context, cfg Config, start time.Time) (string, int, error) {
	streamer, err := cfg.Handle.Stream(ctx, cfg.Input, cfg.Tools)
	if err != nil {
		if errors.Is(err, model.ErrStreamingUnsupported) {
			return "", 0, nil
		}
		return "", 0, err
	}
	defer streamer.Close()

	recvCh := make(chan chunkRecv, 1)
	go func() {
		for {
			c, err := streamer.Recv()
			recvCh <- chunkRecv{chunk: c, err: err}
			if err != nil {
				return
			}
		}
	}()

	var buf strings.Builder
	tokensOut := 0
	heartbeat := time.NewTimer(r.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return buf.String(), tokensOut, ctx.Err()

		case <-heartbeat.C:
			r.emit(cfg, trace.PhaseThinking, tokensOut, time.Since(start), fmt.Sprintf("[%s is analyzing and reasoning...]", cfg.AgentName), "", "")
			heartbeat.Reset(r.opts.HeartbeatInterval)

		case rc := <-recvCh:
			if rc.err != nil {
				if errors.Is(rc.err, io.EOF) {
					return buf.String(), tokensOut, nil
				}
				return buf.String(), tokensOut, rc.err
			}
			text, thinking := extractDelta(rc.chunk)
			if text == "" {
				continue
			}
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(r.opts.HeartbeatInterval)

			if thinking {
				r.emit(cfg, trace.PhaseThinking, tokensOut, time.Since(start), text, "", "")
				continue
			}
			buf.WriteString(text)
			tokensOut += wordCount(text)
			r.emit(cfg, trace.PhaseDelta, tokensOut, time.Since(start), text, "", "")
		}
	}
}

// fallback invokes the agent's blocking Run when streaming produced no text.
func (r *Runner) fallback(ctx context.Context, cfg Config, start time.Time) (string, error) {
	resp, err := cfg.Handle.Run(ctx, cfg.Input, cfg.Tools)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, msg := range resp.Content {
		if t := model.TextOf(msg); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// extractDelta pulls the text payload out of a normalized model.Chunk and
// reports whether it is a "thinking" (reasoning) delta rather than visible
// text.
func extractDelta(c model.Chunk) (text string, thinking bool) {
	switch c.Type {
	case model.ChunkTypeText:
		if c.Message != nil {
			return model.TextOf(*c.Message), false
		}
		return "", false
	case model.ChunkTypeThinking:
		return c.Thinking, true
	default:
		return "", false
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func (r *Runner) emit(cfg Config, phase trace.Phase, tokensOut int, elapsed time.Duration, delta, summary, errMsg string) {
	ev := trace.Event{
		RunID:     cfg.RunID,
		StepID:    cfg.StepID,
		Agent:     cfg.AgentName,
		Phase:     phase,
		TS:        float64(time.Now().UnixNano()) / 1e9,
		Meta:      cfg.Meta,
		Progress:  trace.Progress{Current: int(cfg.StepID), Total: cfg.Total},
		Telemetry: trace.Telemetry{TokensOut: tokensOut, LatencyMs: int(elapsed.Milliseconds())},
	}
	switch phase {
	case trace.PhaseDelta, trace.PhaseThinking:
		ev.MessageDelta = delta
	case trace.PhaseEnd:
		ev.Summary = summary
		r.opts.Metrics.RecordStepTelemetry(cfg.AgentName, string(phase), tokensOut, int(elapsed.Milliseconds()))
	case trace.PhaseError:
		ev.Error = errMsg
		r.opts.Metrics.RecordStepTelemetry(cfg.AgentName, string(phase), tokensOut, int(elapsed.Milliseconds()))
	}
	r.bus.Emit(ev)
}

// redact strips registered authored-guidance literals and truncates text
// past limit bytes.
func redact(text string, registry *GuidanceRegistry, limit int) string {
	if registry != nil {
		text = registry.Redact(text)
	}
	if limit > 0 && len(text) > limit {
		text = text[:limit] + "\n\n[... output truncated ...]"
	}
	return text
}
