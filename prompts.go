package research

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompts holds the templates rendered for each completion call. Templates
// use text/template syntax over PromptData.
type Prompts struct {
	PlannerSystem    string `yaml:"planner_system"`
	PlannerUser      string `yaml:"planner_user"`
	RouterSystem     string `yaml:"router_system"`
	RouterUser       string `yaml:"router_user"`
	CritiqueSystem   string `yaml:"critique_system"`
	CritiqueUser     string `yaml:"critique_user"`
	SummarizerSystem string `yaml:"summarizer_system"`
	SummarizerUser   string `yaml:"summarizer_user"`
}

// PromptData is the template input
type PromptData struct {
	Query    string
	Question string
	Memories string
	Context  string
	Tools    string
}

// DefaultPrompts returns the built-in prompt set
func DefaultPrompts() *Prompts {
	return &Prompts{
		PlannerSystem: `You are an expert research planner. Your goal is to create a step-by-step research plan to answer the user's query. Generate a list of 3 to 6 specific, answerable questions that, when combined, will provide a comprehensive answer.

You have also been provided with a list of relevant memories from past research. Use these memories to create a more focused and advanced research plan. Do not generate questions that are already answered in the provided memories. Instead, focus on questions that will uncover new information or go deeper into the topic.

Respond with ONLY a JSON object of the form {"questions": ["first question", "second question"]}.

--- RELEVANT MEMORIES ---
{{.Memories}}
--- END MEMORIES ---`,
		PlannerUser: `Based on the provided memories, create a research plan for the following query: {{.Query}}`,
		RouterSystem: `You are an expert at routing a user's question to the best data source.
You must choose from the following tools. Respond with ONLY the tool name.

== TOOLS ==
{{.Tools}}
== EXAMPLES ==
Question: 'What are the specs of the new ASUS ROG laptop?'
Tool: web_search

Question: 'Who was the first emperor of Rome?'
Tool: wikipedia_search

Question: 'What are recent papers on transformer model optimization?'
Tool: arxiv_search`,
		RouterUser: "Question: {{.Question}}\nTool:",
		CritiqueSystem: `You are a pragmatic project manager. Your only job is to decide if the research findings are 'good enough' to write a helpful summary for the user. The goal is not a perfect, exhaustive report.

1. If the findings contain concrete facts, names, numbers, or relevant information that can answer the user's query, you MUST respond with the single word: CONCLUDE

2. If the findings are empty, contain only errors (like 'No results found'), or are completely irrelevant, you MUST respond with the single word: INSUFFICIENT

Do not explain your reasoning. Respond with only one word.`,
		CritiqueUser: `Original Query: '{{.Query}}'

--- RESEARCH FINDINGS ---
{{.Context}}
--- END FINDINGS ---

Decision (CONCLUDE or INSUFFICIENT):`,
		SummarizerSystem: `You are an expert research analyst. Your goal is to synthesize research findings into a comprehensive report.
You have been given a user's query, a collection of research findings organized by sub-question, and a list of relevant memories from past research.
Write a detailed, well-structured report that directly answers the user's query.
For each piece of information you use, you MUST cite the source using markdown footnotes. For example: 'This is a fact from a source.[^1]'.
At the end of the report, you MUST include a 'Citations' section that lists all the sources used. The relevant memories do not need to be cited.

--- BEGIN RESEARCH MATERIAL ---
{{.Context}}--- END RESEARCH MATERIAL ---

--- RELEVANT MEMORIES ---
{{.Memories}}
--- END MEMORIES ---`,
		SummarizerUser: `My original query was: '{{.Query}}'. Now, please generate the full report based on the provided research material and previous memories.`,
	}
}

// LoadPrompts reads a YAML file and overlays any non-empty template onto
// the defaults
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	var overrides Prompts
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	prompts := DefaultPrompts()
	prompts.merge(&overrides)
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	return prompts, nil
}

func (p *Prompts) merge(o *Prompts) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&p.PlannerSystem, o.PlannerSystem)
	set(&p.PlannerUser, o.PlannerUser)
	set(&p.RouterSystem, o.RouterSystem)
	set(&p.RouterUser, o.RouterUser)
	set(&p.CritiqueSystem, o.CritiqueSystem)
	set(&p.CritiqueUser, o.CritiqueUser)
	set(&p.SummarizerSystem, o.SummarizerSystem)
	set(&p.SummarizerUser, o.SummarizerUser)
}

// Validate checks that every template parses
func (p *Prompts) Validate() error {
	for name, text := range p.templates() {
		if _, err := template.New(name).Parse(text); err != nil {
			return fmt.Errorf("invalid %s prompt: %w", name, err)
		}
	}
	return nil
}

func (p *Prompts) templates() map[string]string {
	return map[string]string{
		"planner_system":    p.PlannerSystem,
		"planner_user":      p.PlannerUser,
		"router_system":     p.RouterSystem,
		"router_user":       p.RouterUser,
		"critique_system":   p.CritiqueSystem,
		"critique_user":     p.CritiqueUser,
		"summarizer_system": p.SummarizerSystem,
		"summarizer_user":   p.SummarizerUser,
	}
}

func renderPrompt(name, text string, data PromptData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid %s prompt: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
