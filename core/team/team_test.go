package team

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/error505/azure-cloud-ai-visualizer/core/agentrunner"
	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

// stubStreamer yields exactly one text chunk then io.EOF.
type stubStreamer struct {
	text string
	sent bool
}

func (s *stubStreamer) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{}, io.EOF
	}
	s.sent = true
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: s.text}}}}, nil
}
func (s *stubStreamer) Close() error             { return nil }
func (s *stubStreamer) Metadata() map[string]any { return nil }

// stubHandle echoes a deterministic transform of its input so assertions can
// verify step ordering and fan-out merging without a real model backend.
type stubHandle struct {
	name string
}

func (h *stubHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	text := fmt.Sprintf("%s(%s)", h.name, lastText(messages))
	return &model.Response{Content: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}}}, nil
}

func (h *stubHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	return &stubStreamer{text: fmt.Sprintf("%s(%s)", h.name, lastText(messages))}, nil
}

func lastText(messages []*model.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return model.TextOf(*messages[len(messages)-1])
}

type stubClient struct{}

func (stubClient) CreateAgent(ctx context.Context, name, instructions string, tools []*model.ToolDefinition) (model.AgentHandle, error) {
	return &stubHandle{name: name}, nil
}

func newTestTeam(t *testing.T, cfg AgentConfig) (*Team, *trace.Bus) {
	t.Helper()
	bus := trace.New(trace.Options{})
	runner := agentrunner.New(bus, agentrunner.Options{})
	tm, err := New(context.Background(), Options{Client: stubClient{}, Bus: bus, Runner: runner, Config: cfg})
	require.NoError(t, err)
	return tm, bus
}

func TestRunSequentialAllEnabled(t *testing.T) {
	cfg := AgentConfig{Security: true, Identity: true, Naming: true, Reliability: true, Cost: true, Compliance: true}
	tm, _ := newTestTeam(t, cfg)

	res, err := tm.RunSequential(context.Background(), "Design a minimal landing zone")
	require.NoError(t, err)
	require.Contains(t, res.FinalText, "FinalEditor(")
	// every enabled role's name should appear somewhere in the nested echo chain
	for _, role := range []Role{RoleArchitect, RoleSecurity, RoleIdentity, RoleNaming, RoleReliability, RoleCost, RoleCompliance} {
		require.Contains(t, res.FinalText, string(role))
	}
}

func TestRunSequentialSkipsDisabledRoles(t *testing.T) {
	tm, _ := newTestTeam(t, AgentConfig{})
	res, err := tm.RunSequential(context.Background(), "Ingest-only data platform")
	require.NoError(t, err)
	require.Equal(t, "FinalEditor(Architect(Ingest-only data platform))", res.FinalText)
}

func TestRunParallelPassMergesReviewers(t *testing.T) {
	cfg := AgentConfig{Reliability: true, Cost: true, Observability: true, DataStorage: true}
	tm, _ := newTestTeam(t, cfg)

	res, err := tm.RunParallelPass(context.Background(), "Ingest-only data platform")
	require.NoError(t, err)
	for _, role := range []Role{RoleReliability, RoleCost, RoleObservability, RoleDataStorage} {
		require.Contains(t, res.FinalText, string(role))
	}
	require.NotContains(t, res.FinalText, string(RoleNetworking))
}

func TestRunParallelPassDegeneratesWithNoReviewers(t *testing.T) {
	tm, _ := newTestTeam(t, AgentConfig{})
	res, err := tm.RunParallelPass(context.Background(), "bare prompt")
	require.NoError(t, err)
	require.Equal(t, "FinalEditor(Architect(bare prompt))", res.FinalText)
}

// echoingHandle returns a fixed text verbatim regardless of input, letting
// tests observe exactly what the runner's redaction pass did to it.
type echoingHandle struct {
	text string
}

func (h *echoingHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	return &model.Response{Content: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: h.text}}}}}, nil
}

func (h *echoingHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

// TestNewRegistersStructuredDiagramGuidanceForRedaction guards the wiring
// between team.New and the shared agentrunner.Runner: the FinalEditor's
// instructions embed StructuredDiagramGuidance verbatim, so if an agent ever
// echoes that block back, the runner must redact it before returning.
func TestNewRegistersStructuredDiagramGuidanceForRedaction(t *testing.T) {
	bus := trace.New(trace.Options{})
	runner := agentrunner.New(bus, agentrunner.Options{})
	tm, err := New(context.Background(), Options{Client: stubClient{}, Bus: bus, Runner: runner, Config: AgentConfig{}})
	require.NoError(t, err)
	tm.handles[RoleFinalEditor] = &echoingHandle{text: "Final narrative.\n\n" + StructuredDiagramGuidance}

	res, err := tm.RunSequential(context.Background(), "bare prompt")
	require.NoError(t, err)
	require.NotContains(t, res.FinalText, StructuredDiagramGuidance)
	require.Contains(t, res.FinalText, "[structured diagram guidance omitted]")
}
