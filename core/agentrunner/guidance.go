package agentrunner

import "strings"

// GuidanceRegistry holds the set of known large authored-guidance literals
// (for example, a structured-diagram prompt block echoed back by the
// FinalEditor) that are replaced with a short placeholder in a step's result
// before the Runner returns it. Redaction runs once on the complete result;
// the delta events published while the step streams carry the text as
// received. Keeping the literal strings in one registry avoids scattering
// them across the codebase.
type GuidanceRegistry struct {
	literals map[string]string
}

// NewGuidanceRegistry returns an empty registry.
func NewGuidanceRegistry() *GuidanceRegistry {
	return &GuidanceRegistry{literals: make(map[string]string)}
}

// Register associates a literal guidance block with the placeholder that
// should replace it wherever it appears verbatim in a result.
func (g *GuidanceRegistry) Register(literal, placeholder string) {
	if literal == "" {
		return
	}
	g.literals[literal] = placeholder
}

// Redact replaces every registered literal found in text with its
// placeholder. Unregistered text is returned unchanged.
func (g *GuidanceRegistry) Redact(text string) string {
	if g == nil || len(g.literals) == 0 {
		return text
	}
	out := text
	for literal, placeholder := range g.literals {
		if literal == "" {
			continue
		}
		out = strings.ReplaceAll(out, literal, placeholder)
	}
	return out
}
