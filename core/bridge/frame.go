// Package bridge forwards trace.Events from the trace bus to live transport
// sinks: one SSE consumer per HTTP request, zero or more WebSocket consumers
// per run, replaying the journal first and then live-streaming. Actual
// socket/HTTP plumbing (accepting connections, upgrading to WebSocket)
// belongs to the embedding transport; this package exposes the forwarding
// logic transport code calls into.
package bridge

import (
	"encoding/json"

	"github.com/error505/azure-cloud-ai-visualizer/core/artifact"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
)

// FrameType discriminates the WebSocket JSON frame shapes.
type FrameType string

const (
	FrameSubscribeRun    FrameType = "subscribe_run"
	FrameTeamStreamChat  FrameType = "team_stream_chat"
	FrameRunStarted      FrameType = "run_started"
	FrameTraceEvent      FrameType = "trace_event"
	FrameTeamFinal       FrameType = "team_final"
	FrameRunCompleted    FrameType = "run_completed"
	FrameModeLive        FrameType = "mode_live"
	FrameModeReplay      FrameType = "mode_replay"
)

// SubscribeRunFrame is sent by a WebSocket client to attach to an existing
// or in-flight run.
type SubscribeRunFrame struct {
	Type           FrameType `json:"type"`
	RunID          run.ID    `json:"run_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// TeamStreamChatFrame is sent by a WebSocket client to start a team run over
// the socket. AgentConfig and IntegrationSettings carry the raw
// boolean flags from the wire; unknown keys are ignored and omitted keys
// default to false, which the map representation gives for free.
type TeamStreamChatFrame struct {
	Type                FrameType                `json:"type"`
	Prompt              string                   `json:"prompt"`
	AgentConfig         map[string]bool          `json:"agent_config,omitempty"`
	IntegrationSettings IntegrationSettingsFrame `json:"integration_settings,omitempty"`
	Parallel            bool                     `json:"parallel,omitempty"`
}

// IntegrationSettingsFrame carries the optional-capability gates from the
// run-start envelope.
type IntegrationSettingsFrame struct {
	MCP map[string]bool `json:"mcp,omitempty"`
}

// ModeFrame announces whether the subscriber is about to receive a live
// forward or a journal replay.
type ModeFrame struct {
	Type FrameType `json:"type"`
	Mode string    `json:"mode"`
}

// RunStartedFrame acknowledges a team_stream_chat request synchronously.
type RunStartedFrame struct {
	Type  FrameType `json:"type"`
	RunID run.ID    `json:"run_id"`
}

// TraceEventFrame mirrors the SSE payload one-for-one over WebSocket.
type TraceEventFrame struct {
	Type  FrameType       `json:"type"`
	Event json.RawMessage `json:"event"`
}

// TeamFinalFrame carries the completed run's artifact bundle.
type TeamFinalFrame struct {
	Type         FrameType             `json:"type"`
	FinalText    string                `json:"final_text"`
	Diagram      *artifact.DiagramGraph `json:"diagram,omitempty"`
	DiagramRaw   string                `json:"diagram_raw,omitempty"`
	IaC          artifact.IaCBundle    `json:"iac"`
	RunID        run.ID                `json:"run_id"`
}

// RunCompletedFrame closes out a WebSocket-driven run.
type RunCompletedFrame struct {
	Type  FrameType `json:"type"`
	RunID run.ID    `json:"run_id"`
}

// NewTeamFinalFrame builds a TeamFinalFrame from a completed RunArtifact.
func NewTeamFinalFrame(a artifact.RunArtifact) TeamFinalFrame {
	return TeamFinalFrame{
		Type:       FrameTeamFinal,
		FinalText:  a.FinalText,
		Diagram:    a.Diagram,
		DiagramRaw: a.DiagramRawJSON,
		IaC:        a.IaC,
		RunID:      a.RunID,
	}
}
