package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/error505/azure-cloud-ai-visualizer/core/agentrunner"
	"github.com/error505/azure-cloud-ai-visualizer/core/bridge"
	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

const finalEditorText = "Final architecture narrative.\n\nDiagram JSON\n```json\n" +
	`{"nodes":[{"id":"vnet1","type":"vnet","position":{"x":0,"y":0}}],"edges":[]}` +
	"\n```\n"

// cannedText is each stub agent's deterministic output, keyed by the name the
// service binds the agent under.
func cannedText(name string) string {
	switch name {
	case "FinalEditor":
		return finalEditorText
	case "BicepGenerator":
		return `{"bicep_code":"targetScope = 'subscription'","parameters":{"env":"prod"}}`
	case "TerraformGenerator":
		return `{"terraform_code":"provider \"azurerm\" {}","parameters":{"provider":"azurerm"}}`
	case "DiagramCartographer":
		return `{"nodes":[{"id":"sub1","type":"subscription","position":{"x":0,"y":0}}],"edges":[]}`
	default:
		return fmt.Sprintf("%s notes", name)
	}
}

type stubStreamer struct {
	text string
	sent bool
}

func (s *stubStreamer) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{}, io.EOF
	}
	s.sent = true
	return model.Chunk{
		Type:    model.ChunkTypeText,
		Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: s.text}}},
	}, nil
}
func (s *stubStreamer) Close() error             { return nil }
func (s *stubStreamer) Metadata() map[string]any { return nil }

type stubHandle struct {
	name string
	fail bool
}

func (h *stubHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	if h.fail {
		return nil, errors.New("backend unavailable")
	}
	return &model.Response{Content: []model.Message{{
		Role:  model.RoleAssistant,
		Parts: []model.Part{model.TextPart{Text: cannedText(h.name)}},
	}}}, nil
}

func (h *stubHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	if h.fail {
		return nil, errors.New("backend unavailable")
	}
	return &stubStreamer{text: cannedText(h.name)}, nil
}

type stubClient struct {
	failFor string
}

func (c stubClient) CreateAgent(ctx context.Context, name, instructions string, tools []*model.ToolDefinition) (model.AgentHandle, error) {
	return &stubHandle{name: name, fail: name == c.failFor}, nil
}

func newTestService(t *testing.T, client model.Client) *Service {
	t.Helper()
	bus := trace.New(trace.Options{})
	runner := agentrunner.New(bus, agentrunner.Options{})
	svc, err := New(Options{Client: client, Bus: bus, Runner: runner})
	require.NoError(t, err)
	return svc
}

func awaitOutcome(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("run did not complete")
		return Outcome{}
	}
}

func TestStartSequentialDeliversArtifact(t *testing.T) {
	svc := newTestService(t, stubClient{})

	id, out, err := svc.Start(context.Background(), Envelope{
		Topology:    TopologySequential,
		Prompt:      "Design a minimal landing zone",
		AgentConfig: AgentSelection{Architect: true, Security: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	o := awaitOutcome(t, out)
	require.NoError(t, o.Err)
	require.Equal(t, id, o.Artifact.RunID)
	require.Contains(t, o.Artifact.FinalText, "Diagram JSON")
	require.NotNil(t, o.Artifact.Diagram)
	require.NotEmpty(t, o.Artifact.Diagram.Nodes)
	require.NotNil(t, o.Artifact.IaC.Bicep)
	require.Equal(t, "targetScope = 'subscription'", o.Artifact.IaC.Bicep.Code)
	require.NotNil(t, o.Artifact.IaC.Terraform)
	require.Equal(t, `provider "azurerm" {}`, o.Artifact.IaC.Terraform.Code)
}

func TestRunParallelTopology(t *testing.T) {
	svc := newTestService(t, stubClient{})

	art, err := svc.Run(context.Background(), Envelope{
		Topology:    TopologyParallel,
		Prompt:      "Ingest-only data platform",
		AgentConfig: AgentSelection{Architect: true, Reliability: true, Cost: true},
	})
	require.NoError(t, err)
	require.NotNil(t, art.Diagram)
	require.NotEmpty(t, art.RunID)
}

func TestStartRejectsUnknownTopology(t *testing.T) {
	svc := newTestService(t, stubClient{})
	_, _, err := svc.Start(context.Background(), Envelope{Topology: "ring", Prompt: "x"})
	require.Error(t, err)
}

func TestStartDefaultsToSequentialTopology(t *testing.T) {
	svc := newTestService(t, stubClient{})
	_, out, err := svc.Start(context.Background(), Envelope{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, awaitOutcome(t, out).Err)
}

func TestRunWorkflowFailureStillReturnsArtifact(t *testing.T) {
	svc := newTestService(t, stubClient{failFor: "Security"})

	art, err := svc.Run(context.Background(), Envelope{
		Topology:    TopologySequential,
		Prompt:      "x",
		AgentConfig: AgentSelection{Architect: true, Security: true},
	})
	require.Error(t, err)
	require.NotEmpty(t, art.RunID)
	require.Nil(t, art.Diagram)
}

type frameSink struct {
	frames []any
}

func (s *frameSink) Send(frame any) error {
	s.frames = append(s.frames, frame)
	return nil
}

func TestStreamTeamChatFrameSequencing(t *testing.T) {
	svc := newTestService(t, stubClient{})
	sink := &frameSink{}

	err := svc.StreamTeamChat(context.Background(), sink, bridge.TeamStreamChatFrame{
		Type:        bridge.FrameTeamStreamChat,
		Prompt:      "Design a minimal landing zone",
		AgentConfig: map[string]bool{"security": true},
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(sink.frames), 4)

	started, ok := sink.frames[0].(bridge.RunStartedFrame)
	require.True(t, ok)
	require.NotEmpty(t, started.RunID)

	var traceFrames int
	for _, f := range sink.frames[1 : len(sink.frames)-2] {
		_, ok := f.(bridge.TraceEventFrame)
		require.True(t, ok, "unexpected mid-stream frame %T", f)
		traceFrames++
	}
	require.Greater(t, traceFrames, 0)

	final, ok := sink.frames[len(sink.frames)-2].(bridge.TeamFinalFrame)
	require.True(t, ok)
	require.Equal(t, started.RunID, final.RunID)
	require.NotNil(t, final.Diagram)

	completed, ok := sink.frames[len(sink.frames)-1].(bridge.RunCompletedFrame)
	require.True(t, ok)
	require.Equal(t, started.RunID, completed.RunID)
}

func TestStreamTeamChatFirstTraceFrameIsStepOneStart(t *testing.T) {
	svc := newTestService(t, stubClient{})
	sink := &frameSink{}

	err := svc.StreamTeamChat(context.Background(), sink, bridge.TeamStreamChatFrame{
		Type:   bridge.FrameTeamStreamChat,
		Prompt: "x",
	})
	require.NoError(t, err)

	tf, ok := sink.frames[1].(bridge.TraceEventFrame)
	require.True(t, ok)
	var ev trace.Event
	require.NoError(t, json.Unmarshal(tf.Event, &ev))
	require.Equal(t, trace.PhaseStart, ev.Phase)
	require.Equal(t, 1, ev.Progress.Current)
}

func TestEnvelopeJSONIgnoresUnknownKeys(t *testing.T) {
	raw := `{
		"topology": "parallel",
		"prompt": "p",
		"agent_config": {"architect": true, "dataStorage": true, "quantum": true},
		"integration_settings": {"mcp": {"terraform": true, "helm": true}},
		"session_id": "ignored"
	}`
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	require.Equal(t, TopologyParallel, env.Topology)
	require.True(t, env.AgentConfig.DataStorage)
	require.False(t, env.AgentConfig.Security)
	require.True(t, env.IntegrationSettings.MCP.Terraform)
	require.False(t, env.IntegrationSettings.MCP.Bicep)
}

func TestEnvelopeFromFrameMapsFlags(t *testing.T) {
	env := EnvelopeFromFrame(bridge.TeamStreamChatFrame{
		Prompt:      "p",
		Parallel:    true,
		AgentConfig: map[string]bool{"reliability": true, "dataStorage": true, "unknown": true},
		IntegrationSettings: bridge.IntegrationSettingsFrame{
			MCP: map[string]bool{"bicep": true},
		},
	})
	require.Equal(t, TopologyParallel, env.Topology)
	require.True(t, env.AgentConfig.Architect)
	require.True(t, env.AgentConfig.Reliability)
	require.True(t, env.AgentConfig.DataStorage)
	require.False(t, env.AgentConfig.Cost)
	require.True(t, env.IntegrationSettings.MCP.Bicep)
	require.False(t, env.IntegrationSettings.MCP.Docs)
}
