// Package trace implements the per-run trace bus: a publish/subscribe event
// fan-out with best-effort JSONL journaling and late-joiner replay. Journal
// durability is best-effort by design; live delivery never depends on it.
package trace

import (
	"encoding/json"

	"github.com/error505/azure-cloud-ai-visualizer/core/run"
)

// Phase is the lifecycle phase of a single agent step.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseDelta    Phase = "delta"
	PhaseThinking Phase = "thinking"
	PhaseEnd      Phase = "end"
	PhaseError    Phase = "error"
)

// Progress reports a step's position within the run's total step count.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Telemetry captures per-event token and latency accounting.
type Telemetry struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
	LatencyMs int `json:"latency_ms"`
}

// Event is an immutable record emitted by the agent runner through the Bus.
// For a given (RunID, StepID) the sequence begins
// with exactly one start, contains zero or more delta/thinking, and ends with
// exactly one end or error; TS is non-decreasing within that sequence.
type Event struct {
	RunID        run.ID         `json:"run_id"`
	StepID       run.StepID     `json:"step_id"`
	Agent        string         `json:"agent"`
	Phase        Phase          `json:"phase"`
	TS           float64        `json:"ts"`
	Meta         map[string]any `json:"meta,omitempty"`
	Progress     Progress       `json:"progress"`
	Telemetry    Telemetry      `json:"telemetry"`
	MessageDelta string         `json:"message_delta,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// MarshalJSONLine encodes the event as a single JSONL line including the
// trailing newline.
func (e Event) MarshalJSONLine() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
