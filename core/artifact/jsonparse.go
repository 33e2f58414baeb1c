package artifact

import (
	"encoding/json"
	"regexp"
	"strings"
)

// diagramSectionRegex locates the canonical `Diagram JSON` fenced block in
// a transcript.
var diagramSectionRegex = regexp.MustCompile(`(?is)Diagram JSON\s*` + "```" + `json\s*(\{.*?\})\s*` + "```")

// extractDiagramSection returns the raw JSON text inside the transcript's
// `Diagram JSON` block, or "" if none is present.
func extractDiagramSection(text string) string {
	m := diagramSectionRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// injectDiagramSection replaces an existing `Diagram JSON` block with one
// built from rawJSON, or appends a new one if none exists.
func injectDiagramSection(report, rawJSON string) string {
	payload := "Diagram JSON\n```json\n" + rawJSON + "\n```"
	if diagramSectionRegex.MatchString(report) {
		return diagramSectionRegex.ReplaceAllString(report, escapeReplacement(payload))
	}
	return strings.TrimRight(report, " \t\n") + "\n\n" + payload
}

// escapeReplacement escapes regexp.ReplaceAll's `$` metacharacter in a
// literal replacement string.
func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// parseTolerantJSON is a three-tier
// tolerant parser: a strict parse, then the outermost balanced `{...}`
// region, then a retry after stripping control characters. Returns nil if
// no tier succeeds.
func parseTolerantJSON(text string) map[string]any {
	if m, ok := tryParseObject(text); ok {
		return m
	}
	if blob := outermostBalancedObject(text); blob != "" {
		if m, ok := tryParseObject(blob); ok {
			return m
		}
		if m, ok := tryParseObject(stripControlChars(blob)); ok {
			return m
		}
	}
	if m, ok := tryParseObject(stripControlChars(text)); ok {
		return m
	}
	return nil
}

func tryParseObject(text string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &m); err != nil {
		return nil, false
	}
	return m, true
}

// outermostBalancedObject returns the text between the first `{` and its
// matching closing `}` (brace-depth balanced), or "" if unbalanced.
func outermostBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripControlChars removes U+0000..U+001F (except whitespace json.Unmarshal
// already tolerates) to recover from models that emit literal control bytes
// inside string values.
func stripControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 0x00 && r <= 0x1f && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		if r >= 0x7f && r <= 0x9f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decodeDiagram(m map[string]any) (*DiagramGraph, string, bool) {
	if m == nil {
		return nil, "", false
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, "", false
	}
	var d DiagramGraph
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", false
	}
	pretty, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		pretty = raw
	}
	return &d, string(pretty), true
}
