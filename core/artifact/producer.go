package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/error505/azure-cloud-ai-visualizer/core/mcp"
	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
)

// Producer is one of the two concurrent IaC generators. It never
// synthesizes a template on failure: a failed or malformed model response
// becomes an empty IaCArtifact carrying an error marker in Parameters, so a
// broken generation is visible rather than papered over with a stub.
type Producer struct {
	// Kind selects the MCP schema endpoint this producer prefers when
	// enabled (mcp.KindBicep or mcp.KindTerraform).
	Kind mcp.Kind
	// CodeField is the JSON key the model is asked to return the template
	// under ("bicep_code" or "terraform_code").
	CodeField string
	// Handle generates the template. Created once per run with the
	// producer's system instructions.
	Handle model.AgentHandle
	// MCP resolves schema/docs tool sessions. May be nil.
	MCP *mcp.Registry
	// MCPEnabled gates whether this producer's own schema kind may be
	// looked up (integration_settings.mcp.bicep / .terraform).
	MCPEnabled bool
	// DocsEnabled additionally attaches the docs tool's content when
	// available (integration_settings.mcp.docs).
	DocsEnabled bool
	Logger      telemetry.Logger
}

// Generate drives one IaC producer over a diagram (preferred) or the whole
// transcript text.
func (p *Producer) Generate(ctx context.Context, diagram map[string]any, finalText string) IaCArtifact {
	logger := p.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	var schemaContext string
	if p.MCPEnabled && p.MCP != nil {
		if tool := p.MCP.Get(ctx, p.Kind); tool != nil {
			if res, err := tool.CallTool(ctx, "get_schema", map[string]any{"kind": string(p.Kind)}); err == nil {
				schemaContext = renderToolResult(res)
			} else {
				logger.Warn(ctx, "artifact: schema tool call failed, falling back to plain model path", "kind", string(p.Kind), "error", err.Error())
			}
		}
	}
	if p.DocsEnabled && p.MCP != nil {
		if docs := p.MCP.Get(ctx, mcp.KindDocs); docs != nil {
			if res, err := docs.CallTool(ctx, "search", map[string]any{"query": string(p.Kind) + " azure reference"}); err == nil {
				if text := renderToolResult(res); text != "" {
					schemaContext = strings.TrimSpace(schemaContext + "\n\n" + text)
				}
			}
		}
	}

	prompt := p.buildPrompt(diagram, finalText, schemaContext)
	resp, err := p.Handle.Run(ctx, []*model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: prompt}}}}, nil)
	if err != nil {
		return errorArtifact(fmt.Sprintf("%s generation failed: %v", p.Kind, err))
	}

	var text string
	for _, msg := range resp.Content {
		if t := model.TextOf(msg); t != "" {
			text += t
		}
	}

	parsed := parseTolerantJSON(text)
	if parsed == nil {
		return errorArtifact(fmt.Sprintf("%s: model returned unparseable output", p.Kind))
	}
	code, _ := parsed[p.CodeField].(string)
	if code == "" {
		return errorArtifact(fmt.Sprintf("%s: model response had no %s", p.Kind, p.CodeField))
	}
	params, _ := parsed["parameters"].(map[string]any)
	return IaCArtifact{Code: code, Parameters: params}
}

func (p *Producer) buildPrompt(diagram map[string]any, finalText, schemaContext string) string {
	var b strings.Builder
	switch p.Kind {
	case mcp.KindBicep:
		b.WriteString("You are an Azure Cloud Infrastructure as Code generator. Given the diagram JSON, " +
			"author a subscription-scoped Bicep template that can stand up the described landing zone. " +
			"Start with `targetScope = 'subscription'`, map every service to a concrete Azure resource type, " +
			"wire dependencies, and provide useful outputs. Return ONLY a JSON object with keys `bicep_code` " +
			"(string) and `parameters` (object). No markdown, no commentary.\n\n")
	case mcp.KindTerraform:
		b.WriteString("Generate comprehensive Terraform HCL configuration (azurerm provider) for the diagram " +
			"JSON below. Include all resource configurations, variables, outputs, and dependencies. Return " +
			"ONLY a JSON object with keys `terraform_code` (string) and `parameters` (object, including at " +
			"least `provider`). No markdown, no commentary.\n\n")
	}
	if schemaContext != "" {
		b.WriteString("Reference schema/documentation:\n")
		b.WriteString(schemaContext)
		b.WriteString("\n\n")
	}
	if diagram != nil {
		raw, _ := marshalCompact(diagram)
		b.WriteString("Diagram Data: ")
		b.WriteString(raw)
	} else {
		b.WriteString("Transcript:\n")
		b.WriteString(finalText)
	}
	return b.String()
}

func errorArtifact(msg string) IaCArtifact {
	return IaCArtifact{Code: "", Parameters: map[string]any{"error": msg}}
}

func renderToolResult(res any) string {
	if res == nil {
		return ""
	}
	return fmt.Sprintf("%v", res)
}
