package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

// Bridge forwards a run's trace.Events from the Trace Bus to a transport
// sink. Transport code (HTTP handler, WebSocket upgrade) owns the socket;
// Bridge owns only the replay-then-live-forward sequencing.
type Bridge struct {
	bus *trace.Bus
}

// New constructs a Bridge over bus.
func New(bus *trace.Bus) *Bridge {
	return &Bridge{bus: bus}
}

// ServeSSE writes the `GET /runs/{run_id}/events` response body:
//  1. replay the journal as `data: <event_json>\n\n` lines;
//  2. if the run is still active, attach live and keep forwarding until the
//     terminal sentinel;
//  3. if the run was never seen at all (no journal, not active), emit a
//     single `event: end\ndata: {}\n\n` frame and close.
//
// w is flushed after every frame via flush, since SSE delivery depends on the
// caller disabling response buffering for chunked streaming responses.
func (b *Bridge) ServeSSE(ctx context.Context, w *bufio.Writer, flush func(), id run.ID) error {
	persisted := b.bus.ReadPersisted(id)
	for _, ev := range persisted {
		if err := writeSSEEvent(w, ev); err != nil {
			return err
		}
		flush()
	}

	if b.bus.IsActive(id) {
		return b.bus.Stream(ctx, id, func(ev trace.Event) error {
			if err := writeSSEEvent(w, ev); err != nil {
				return err
			}
			flush()
			return nil
		})
	}

	if len(persisted) == 0 {
		if _, err := w.WriteString("event: end\ndata: {}\n\n"); err != nil {
			return err
		}
		flush()
	}
	return nil
}

func writeSSEEvent(w *bufio.Writer, ev trace.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: marshal trace event: %w", err)
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = w.WriteString("\n\n")
	return err
}

// FrameSink is the minimal surface a WebSocket connection needs to expose for
// ForwardWS to push JSON frames without this package depending on a
// concrete WebSocket library; actual socket wiring belongs to the embedding
// transport.
type FrameSink interface {
	Send(frame any) error
}

// ForwardWS drives the WebSocket half of the Subscriber Bridge for one
// `subscribe_run`: announce the mode, then always replay the
// journal first before either returning (finished run) or continuing into
// a live forward (active run) — same replay-then-live sequencing as
// ServeSSE, just framed for a multiplexed socket instead of an HTTP response
// body.
func (b *Bridge) ForwardWS(ctx context.Context, sink FrameSink, id run.ID) error {
	if b.bus.IsActive(id) {
		if err := sink.Send(ModeFrame{Type: FrameModeLive, Mode: "live"}); err != nil {
			return err
		}
		for _, ev := range b.bus.ReadPersisted(id) {
			if err := sendTraceFrame(sink, ev); err != nil {
				return err
			}
		}
		return b.bus.Stream(ctx, id, func(ev trace.Event) error {
			return sendTraceFrame(sink, ev)
		})
	}

	if err := sink.Send(ModeFrame{Type: FrameModeReplay, Mode: "replay"}); err != nil {
		return err
	}
	for _, ev := range b.bus.ReadPersisted(id) {
		if err := sendTraceFrame(sink, ev); err != nil {
			return err
		}
	}
	return nil
}

func sendTraceFrame(sink FrameSink, ev trace.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: marshal trace event: %w", err)
	}
	return sink.Send(TraceEventFrame{Type: FrameTraceEvent, Event: raw})
}
