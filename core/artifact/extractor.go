package artifact

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
)

// Extractor parses the final transcript for a `Diagram JSON` block, drives
// the Bicep/Terraform producers in parallel, and reconciles diagram <-> IaC
// when one lane is missing.
type Extractor struct {
	Bicep     *Producer
	Terraform *Producer
	// Architect performs the single-shot IaC-to-diagram re-derivation call
	// when the transcript has no diagram but at least one IaC template
	// succeeded. May be nil, in which case
	// re-derivation is skipped.
	Architect model.AgentHandle
	Logger    telemetry.Logger
	Tracer    telemetry.Tracer
}

// Extract derives the RunArtifact for a completed run's final_text.
func (e *Extractor) Extract(ctx context.Context, finalText string, runID run.ID) RunArtifact {
	logger := e.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := e.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	ctx, span := tracer.Start(ctx, "artifact.extract")
	defer span.End()

	var diagram *DiagramGraph
	var diagramRaw string
	if section := extractDiagramSection(finalText); section != "" {
		if m := parseTolerantJSON(section); m != nil {
			diagram, diagramRaw, _ = decodeDiagram(m)
		} else {
			logger.Warn(ctx, "artifact: transcript diagram block failed to parse")
		}
	}
	diagramMap := diagramToMap(diagram)

	var bicepArt, terraformArt IaCArtifact
	var g errgroup.Group
	if e.Bicep != nil {
		g.Go(func() error {
			bicepArt = e.Bicep.Generate(ctx, diagramMap, finalText)
			return nil
		})
	} else {
		bicepArt = errorArtifact("bicep producer not configured")
	}
	if e.Terraform != nil {
		g.Go(func() error {
			terraformArt = e.Terraform.Generate(ctx, diagramMap, finalText)
			return nil
		})
	} else {
		terraformArt = errorArtifact("terraform producer not configured")
	}
	_ = g.Wait()

	if diagram == nil && (!bicepArt.Empty() || !terraformArt.Empty()) && e.Architect != nil {
		if derived, rawJSON, ok := e.deriveDiagramFromIaC(ctx, bicepArt, terraformArt); ok {
			diagram = derived
			diagramRaw = rawJSON
			finalText = injectDiagramSection(finalText, rawJSON)
		}
	}

	return RunArtifact{
		FinalText:      finalText,
		Diagram:        diagram,
		DiagramRawJSON: diagramRaw,
		IaC:            IaCBundle{Bicep: &bicepArt, Terraform: &terraformArt},
		RunID:          runID,
	}
}

// deriveDiagramFromIaC asks the Architect to convert a successful IaC
// template back into the canonical diagram schema. Bicep is preferred when
// both lanes succeeded.
func (e *Extractor) deriveDiagramFromIaC(ctx context.Context, bicep, terraform IaCArtifact) (*DiagramGraph, string, bool) {
	source, language := bicep.Code, "bicep"
	if source == "" {
		source, language = terraform.Code, "terraform"
	}
	if source == "" {
		return nil, "", false
	}

	prompt := fmt.Sprintf(
		"You are an Azure architecture cartographer. Convert the following %s template into the "+
			"structured Diagram JSON schema (nodes, edges, groups). Return ONLY the JSON object, no "+
			"commentary.\n\nThe IaC template:\n```%s\n%s\n```",
		language, language, source,
	)
	resp, err := e.Architect.Run(ctx, []*model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: prompt}}}}, nil)
	if err != nil {
		return nil, "", false
	}
	var text string
	for _, msg := range resp.Content {
		if t := model.TextOf(msg); t != "" {
			text += t
		}
	}
	parsed := parseTolerantJSON(text)
	if parsed == nil {
		return nil, "", false
	}
	graph, raw, ok := decodeDiagram(parsed)
	return graph, raw, ok
}
