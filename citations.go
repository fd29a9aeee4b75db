package research

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/research/tools"
)

// Citation is a unique source referenced by a report
type Citation struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// CollectSources flattens the sources of every research question in
// question order, then discovery order
func CollectSources(state *State) []tools.Source {
	var out []tools.Source
	for _, q := range state.ResearchQuestions {
		out = append(out, state.Sources[q]...)
	}
	return out
}

// UniqueCitations keeps the first occurrence of each source identifier.
// Sources with no identifier are skipped. Content is left empty.
func UniqueCitations(sources []tools.Source) []Citation {
	citations := make([]Citation, 0, len(sources))
	for _, src := range sources {
		citations = append(citations, Citation{Source: src.Identifier()})
	}
	return DedupeCitations(citations)
}

// DedupeCitations removes citations with an empty or repeated source,
// preserving first-occurrence order
func DedupeCitations(citations []Citation) []Citation {
	seen := make(map[string]struct{}, len(citations))
	out := make([]Citation, 0, len(citations))
	for _, c := range citations {
		if c.Source == "" {
			continue
		}
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		out = append(out, c)
	}
	return out
}

// BuildDigest renders findings grouped by question with their aligned
// source identifiers, in question order
func BuildDigest(state *State) string {
	var b strings.Builder
	for i, q := range state.ResearchQuestions {
		fmt.Fprintf(&b, "Research Question %d: %s\n\n", i+1, q)
		sources := state.Sources[q]
		for j, finding := range state.Findings[q] {
			source := ""
			if j < len(sources) {
				source = sources[j].Identifier()
			}
			if source == "" {
				source = "Not available"
			}
			fmt.Fprintf(&b, "Finding: %s\nSource: %s\n\n", finding, source)
		}
		b.WriteString("---\n\n")
	}
	return b.String()
}

func renderMemories(records []string) string {
	if len(records) == 0 {
		return "No relevant memories found."
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r))
	}
	return strings.TrimRight(b.String(), "\n")
}
