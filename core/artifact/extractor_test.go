package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
)

// scriptedHandle returns a fixed response text regardless of input, letting
// tests drive the extractor's parse/reconciliation logic deterministically.
type scriptedHandle struct {
	text string
	err  error
}

func (h *scriptedHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &model.Response{Content: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: h.text}}}}}, nil
}

func (h *scriptedHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func producerWith(codeField, text string) *Producer {
	return &Producer{CodeField: codeField, Handle: &scriptedHandle{text: text}}
}

// capturingHandle records the prompt it was invoked with, so tests can
// assert on which branch of Producer.buildPrompt a call took.
type capturingHandle struct {
	text       string
	lastPrompt string
}

func (h *capturingHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	if len(messages) > 0 {
		h.lastPrompt = model.TextOf(*messages[0])
	}
	return &model.Response{Content: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: h.text}}}}}, nil
}

func (h *capturingHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

const sampleDiagramJSON = `{"nodes":[{"id":"n1","type":"vnet","position":{"x":0,"y":0},"data":{}}],"edges":[]}`

func TestExtractParsesDiagramFromTranscript(t *testing.T) {
	transcript := "Architecture narrative.\n\nDiagram JSON\n```json\n" + sampleDiagramJSON + "\n```\n"
	ex := &Extractor{
		Bicep:     producerWith("bicep_code", `{"bicep_code":"param x string","parameters":{}}`),
		Terraform: producerWith("terraform_code", `{"terraform_code":"resource x {}","parameters":{"provider":"azurerm"}}`),
	}
	art := ex.Extract(context.Background(), transcript, run.ID("r1"))
	require.NotNil(t, art.Diagram)
	require.Len(t, art.Diagram.Nodes, 1)
	require.Equal(t, "n1", art.Diagram.Nodes[0].ID)
	require.False(t, art.IaC.Bicep.Empty())
	require.False(t, art.IaC.Terraform.Empty())
}

func TestExtractReportsErrorMarkerOnMalformedIaC(t *testing.T) {
	transcript := "Architecture narrative.\n\nDiagram JSON\n```json\n" + sampleDiagramJSON + "\n```\n"
	ex := &Extractor{
		Bicep:     producerWith("bicep_code", `not json at all`),
		Terraform: producerWith("terraform_code", `{"terraform_code":"resource x {}"}`),
	}
	art := ex.Extract(context.Background(), transcript, run.ID("r2"))
	require.True(t, art.IaC.Bicep.Empty())
	errMsg, _ := art.IaC.Bicep.Parameters["error"].(string)
	require.Contains(t, errMsg, "unparseable")
	require.False(t, art.IaC.Terraform.Empty())
}

func TestExtractDerivesDiagramFromIaCWhenTranscriptHasNone(t *testing.T) {
	transcript := "Architecture narrative with no diagram section."
	ex := &Extractor{
		Bicep:     producerWith("bicep_code", `{"bicep_code":"param x string","parameters":{}}`),
		Terraform: producerWith("terraform_code", `{"terraform_code":"","parameters":{}}`),
		Architect: &scriptedHandle{text: sampleDiagramJSON},
	}
	art := ex.Extract(context.Background(), transcript, run.ID("r3"))
	require.NotNil(t, art.Diagram)
	require.NotEmpty(t, art.DiagramRawJSON)
	require.Contains(t, art.FinalText, "Diagram JSON")
}

func TestExtractLeavesDiagramNilWhenBothLanesFail(t *testing.T) {
	transcript := "Architecture narrative with no diagram section."
	ex := &Extractor{
		Bicep:     producerWith("bicep_code", `{"bicep_code":"","parameters":{"error":"x"}}`),
		Terraform: producerWith("terraform_code", `{"terraform_code":"","parameters":{"error":"y"}}`),
	}
	art := ex.Extract(context.Background(), transcript, run.ID("r4"))
	require.Nil(t, art.Diagram)
	require.True(t, art.IaC.Bicep.Empty())
	require.True(t, art.IaC.Terraform.Empty())
}

func TestExtractFallsBackToTranscriptWhenNoDiagramExtracted(t *testing.T) {
	transcript := "Architecture narrative with no diagram section at all."
	bicepHandle := &capturingHandle{text: `{"bicep_code":"param x string","parameters":{}}`}
	terraformHandle := &capturingHandle{text: `{"terraform_code":"resource x {}","parameters":{"provider":"azurerm"}}`}
	ex := &Extractor{
		Bicep:     &Producer{Kind: "bicep", CodeField: "bicep_code", Handle: bicepHandle},
		Terraform: &Producer{Kind: "terraform", CodeField: "terraform_code", Handle: terraformHandle},
	}
	_ = ex.Extract(context.Background(), transcript, run.ID("r5"))

	require.Contains(t, bicepHandle.lastPrompt, "Transcript:")
	require.Contains(t, bicepHandle.lastPrompt, transcript)
	require.NotContains(t, bicepHandle.lastPrompt, "Diagram Data:")
	require.Contains(t, terraformHandle.lastPrompt, "Transcript:")
	require.Contains(t, terraformHandle.lastPrompt, transcript)
	require.NotContains(t, terraformHandle.lastPrompt, "Diagram Data:")
}

func TestParseTolerantJSONHandlesTrailingCommentaryAndControlChars(t *testing.T) {
	noisy := "Sure, here you go:\n{\"bicep_code\":\"line1\\n\x01line2\",\"parameters\":{}}\nHope that helps!"
	m := parseTolerantJSON(noisy)
	require.NotNil(t, m)
	require.Equal(t, "line1\nline2", m["bicep_code"])
}

func TestInjectDiagramSectionReplacesExisting(t *testing.T) {
	original := "Text\n\nDiagram JSON\n```json\n{\"nodes\":[]}\n```\nTrailer"
	out := injectDiagramSection(original, `{"nodes":[{"id":"n1"}]}`)
	require.Contains(t, out, `{"nodes":[{"id":"n1"}]}`)
	require.Contains(t, out, "Trailer")
	require.Equal(t, 1, len(diagramSectionRegex.FindAllString(out, -1)))
}
