// Package artifact derives the structured outputs of a finished run: it
// locates the `Diagram JSON` block in the final transcript, drives the Bicep
// and Terraform producers in parallel, reconciles diagram <-> IaC when one
// lane is missing, and returns the resulting RunArtifact bundle.
package artifact

import (
	"encoding/json"

	"github.com/error505/azure-cloud-ai-visualizer/core/run"
)

// DiagramGraph is the canonical cloud-resource graph embedded in a
// transcript's `Diagram JSON` section.
type DiagramGraph struct {
	Nodes  []DiagramNode  `json:"nodes"`
	Edges  []DiagramEdge  `json:"edges"`
	Groups []DiagramGroup `json:"groups,omitempty"`
}

// DiagramNode is one resource in the graph.
type DiagramNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position DiagramPoint   `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// DiagramPoint is a node's canvas position.
type DiagramPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DiagramEdge connects two nodes.
type DiagramEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
	Style  string `json:"style,omitempty"`
}

// DiagramGroup expresses one level of the management-group -> subscription
// -> landing-zone -> vnet -> subnet -> service hierarchy over node ids.
type DiagramGroup struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Children []DiagramGroup `json:"children,omitempty"`
}

// IaCArtifact is a single generator's output: either a non-empty template or
// an error marker in Parameters["error"]; producers never synthesize a
// template on failure.
type IaCArtifact struct {
	Code       string         `json:"code"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Empty reports whether this artifact carries no usable template.
func (a IaCArtifact) Empty() bool { return a.Code == "" }

// IaCBundle is the pair of generated IaC artifacts for a run.
type IaCBundle struct {
	Bicep     *IaCArtifact `json:"bicep"`
	Terraform *IaCArtifact `json:"terraform"`
}

// RunArtifact is the team run's final output.
type RunArtifact struct {
	FinalText      string        `json:"final_text"`
	Diagram        *DiagramGraph `json:"diagram,omitempty"`
	DiagramRawJSON string        `json:"diagram_raw_json,omitempty"`
	IaC            IaCBundle     `json:"iac"`
	RunID          run.ID        `json:"run_id"`
}

// diagramToMap round-trips a DiagramGraph through JSON into a plain
// map[string]any, the shape the IaC producers' prompts embed verbatim. A nil
// graph returns nil so Producer.Generate falls back to the whole transcript
// instead of an empty diagram.
func diagramToMap(d *DiagramGraph) map[string]any {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// marshalCompact renders v as compact JSON for prompt embedding.
func marshalCompact(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
