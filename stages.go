package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/research/llm"
	"github.com/deepnoodle-ai/research/memory"
	"github.com/deepnoodle-ai/research/tools"
)

// SummarizationFailedReport is stored as the final report when the
// summarizer cannot produce one
const SummarizationFailedReport = "Error during summarization. The research material may have been too long for the language model to process."

const defaultMemoryLimit = 5

// Stages holds the collaborators shared by every task. Each stage method
// transforms a task's state and calls at most one kind of collaborator.
type Stages struct {
	Tools       *tools.Registry
	Memory      memory.Store
	Prompts     *Prompts
	MemoryLimit int
}

// Transition is the result of the critique stage
type Transition struct {
	Next      Stage
	Remaining []string
}

// Suspension is the payload published when a task waits for approval
type Suspension struct {
	Stage     Stage    `json:"stage"`
	Questions []string `json:"questions"`
}

func (s *Stages) prompts() *Prompts {
	if s.Prompts == nil {
		return DefaultPrompts()
	}
	return s.Prompts
}

func (s *Stages) memoryLimit() int {
	if s.MemoryLimit <= 0 {
		return defaultMemoryLimit
	}
	return s.MemoryLimit
}

// Plan retrieves relevant memories and replaces the research questions
// with a fresh plan
func (s *Stages) Plan(ctx context.Context, completer llm.Completer, state *State) error {
	logger := loggerFrom(ctx)

	state.Memories = s.searchMemories(ctx, state)
	texts := make([]string, len(state.Memories))
	for i, m := range state.Memories {
		texts[i] = m.Text
	}

	data := PromptData{Query: state.OriginalQuery, Memories: renderMemories(texts)}
	system, err := renderPrompt("planner_system", s.prompts().PlannerSystem, data)
	if err != nil {
		return err
	}
	user, err := renderPrompt("planner_user", s.prompts().PlannerUser, data)
	if err != nil {
		return err
	}
	response, err := completer.Complete(ctx, llm.Prompt{System: system, User: user, JSON: true})
	if err != nil {
		return fmt.Errorf("planner completion failed: %w", err)
	}
	questions := ParseQuestions(response)
	if len(questions) == 0 {
		return errors.New("planner returned no research questions")
	}

	state.ResearchQuestions = questions
	state.Findings = map[string][]string{}
	state.Sources = map[string][]tools.Source{}
	for _, q := range questions {
		state.ensureQuestion(q)
	}
	logger.Info("research plan created", "questions", len(questions), "memories", len(state.Memories))
	return nil
}

func (s *Stages) searchMemories(ctx context.Context, state *State) []memory.Record {
	if s.Memory == nil {
		return nil
	}
	records, err := s.Memory.Search(ctx, state.OriginalQuery, memoryScope(state.UserID), s.memoryLimit())
	if err != nil {
		loggerFrom(ctx).Warn("memory search failed", "error", err)
		return nil
	}
	return records
}

// RequestApproval is the first half of the approval stage: it publishes
// the planned questions for review
func RequestApproval(state *State) Suspension {
	return Suspension{
		Stage:     StageHumanApproval,
		Questions: append([]string(nil), state.ResearchQuestions...),
	}
}

// ApplyApproval is the second half of the approval stage: the approved
// questions replace the plan. Findings already recorded for retained
// questions are kept; findings for dropped questions are discarded.
func ApplyApproval(state *State, questions []string) error {
	approved, err := NormalizeQuestions(questions)
	if err != nil {
		return err
	}
	findings := make(map[string][]string, len(approved))
	sources := make(map[string][]tools.Source, len(approved))
	for _, q := range approved {
		if f, ok := state.Findings[q]; ok && f != nil {
			findings[q] = f
		}
		if src, ok := state.Sources[q]; ok && src != nil {
			sources[q] = src
		}
	}
	state.ResearchQuestions = approved
	state.Findings = findings
	state.Sources = sources
	for _, q := range approved {
		state.ensureQuestion(q)
	}
	return nil
}

// NormalizeQuestions trims questions and rejects an empty list, blank
// entries and duplicates
func NormalizeQuestions(questions []string) ([]string, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", ErrInvalidQuestions)
	}
	out := make([]string, 0, len(questions))
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, fmt.Errorf("%w: question %d is blank", ErrInvalidQuestions, i+1)
		}
		if _, dup := seen[q]; dup {
			return nil, fmt.Errorf("%w: duplicate question %q", ErrInvalidQuestions, q)
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out, nil
}

// Research routes each question without findings to one tool and records
// the results. When only is non-nil, questions outside it are left alone.
// Questions that already have findings are skipped, so the stage can be
// re-run safely.
func (s *Stages) Research(ctx context.Context, completer llm.Completer, state *State, only []string) error {
	logger := loggerFrom(ctx)
	for _, q := range state.ResearchQuestions {
		if only != nil && !slices.Contains(only, q) {
			continue
		}
		state.ensureQuestion(q)
		if len(state.Findings[q]) > 0 {
			logger.Debug("skipping question with findings", "question", q)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name, err := s.route(ctx, completer, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("tool routing failed", "question", q, "error", err)
			state.addFinding(q, fmt.Sprintf("An error occurred during tool routing: %v", err), nil)
			continue
		}
		tool, ok := s.lookup(name)
		if !ok {
			logger.Warn("router selected unknown tool", "question", q, "tool", name)
			state.addFinding(q, fmt.Sprintf("Error: Tool '%s' not found.", name), nil)
			continue
		}

		var docs []tools.Document
		for doc := range tool.Search(ctx, q) {
			docs = append(docs, doc)
		}
		// A cancelled search leaves the question unanswered so it is
		// retried when the task is recovered
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, doc := range docs {
			state.addFinding(q, doc.Content, doc.Source.Clone())
		}
		logger.Info("researched question", "question", q, "tool", name, "findings", len(docs))
	}
	return nil
}

func (s *Stages) lookup(name string) (tools.Tool, bool) {
	if s.Tools == nil {
		return nil, false
	}
	return s.Tools.Lookup(name)
}

func (s *Stages) route(ctx context.Context, completer llm.Completer, question string) (string, error) {
	describe := ""
	if s.Tools != nil {
		describe = s.Tools.Describe()
	}
	data := PromptData{Question: question, Tools: describe}
	system, err := renderPrompt("router_system", s.prompts().RouterSystem, data)
	if err != nil {
		return "", err
	}
	user, err := renderPrompt("router_user", s.prompts().RouterUser, data)
	if err != nil {
		return "", err
	}
	response, err := completer.Complete(ctx, llm.Prompt{System: system, User: user})
	if err != nil {
		return "", err
	}
	return ParseToolName(response), nil
}

var decisionPattern = regexp.MustCompile(`(?i)\b(conclude|insufficient)\b`)

// Critique decides whether the findings are enough to summarize. Any
// usable finding forces a conclude decision.
func (s *Stages) Critique(ctx context.Context, completer llm.Completer, state *State) Transition {
	logger := loggerFrom(ctx)

	decision := DecisionInsufficient
	response, err := s.critique(ctx, completer, state)
	if err != nil {
		logger.Warn("critique completion failed", "error", err)
	} else {
		decision = ParseDecision(response)
	}
	if decision != DecisionConclude && state.hasUsableFinding() {
		decision = DecisionConclude
	}
	state.Decision = decision
	state.Iterations++

	if decision == DecisionConclude {
		return Transition{Next: StageSummarizer}
	}
	return Transition{Next: StageResearcher, Remaining: state.Unanswered()}
}

func (s *Stages) critique(ctx context.Context, completer llm.Completer, state *State) (string, error) {
	data := PromptData{Query: state.OriginalQuery, Context: BuildDigest(state)}
	system, err := renderPrompt("critique_system", s.prompts().CritiqueSystem, data)
	if err != nil {
		return "", err
	}
	user, err := renderPrompt("critique_user", s.prompts().CritiqueUser, data)
	if err != nil {
		return "", err
	}
	return completer.Complete(ctx, llm.Prompt{System: system, User: user})
}

// Summarize writes the final report. Failures are stored as a fixed,
// readable report instead of being returned.
func (s *Stages) Summarize(ctx context.Context, completer llm.Completer, state *State) {
	if state.FinalReport != "" {
		return
	}
	report, err := s.summarize(ctx, completer, state)
	if err == nil && strings.TrimSpace(report) == "" {
		err = errors.New("empty report")
	}
	if err != nil {
		loggerFrom(ctx).Error("summarization failed", "error", err)
		state.FinalReport = SummarizationFailedReport
		return
	}
	state.FinalReport = report
}

func (s *Stages) summarize(ctx context.Context, completer llm.Completer, state *State) (report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	texts := make([]string, len(state.Memories))
	for i, m := range state.Memories {
		texts[i] = m.Text
	}
	data := PromptData{
		Query:    state.OriginalQuery,
		Context:  BuildDigest(state),
		Memories: renderMemories(texts),
	}
	system, err := renderPrompt("summarizer_system", s.prompts().SummarizerSystem, data)
	if err != nil {
		return "", err
	}
	user, err := renderPrompt("summarizer_user", s.prompts().SummarizerUser, data)
	if err != nil {
		return "", err
	}
	return completer.Complete(ctx, llm.Prompt{System: system, User: user})
}

// Memorize stores the finished report for future tasks of the same user
func (s *Stages) Memorize(ctx context.Context, state *State) error {
	if s.Memory == nil || state.FinalReport == "" || state.FinalReport == SummarizationFailedReport {
		return nil
	}
	text := fmt.Sprintf("Research query: %s\n\n%s", state.OriginalQuery, state.FinalReport)
	if _, err := s.Memory.Add(ctx, text, memoryScope(state.UserID)); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

func memoryScope(userID string) string {
	if userID == "" {
		return memory.DefaultScope
	}
	return userID
}

// ParseQuestions extracts research questions from a planner response. It
// accepts a {"questions": [...]} object, a bare JSON array, either wrapped
// in a code fence, or a plain list with one question per line.
func ParseQuestions(response string) []string {
	text := strings.TrimSpace(response)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var plan struct {
			Questions []string `json:"questions"`
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err == nil && len(plan.Questions) > 0 {
			return cleanQuestions(plan.Questions)
		}
	}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		var list []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &list); err == nil && len(list) > 0 {
			return cleanQuestions(list)
		}
	}

	var lines, asked []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = listMarker.ReplaceAllString(line, "")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if strings.HasSuffix(line, "?") {
			asked = append(asked, line)
		}
	}
	if len(asked) > 0 {
		return cleanQuestions(asked)
	}
	return cleanQuestions(lines)
}

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

func cleanQuestions(questions []string) []string {
	seen := make(map[string]struct{}, len(questions))
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// ParseToolName normalizes a router response to a bare tool name
func ParseToolName(response string) string {
	text := strings.TrimSpace(response)
	if i := strings.LastIndex(strings.ToLower(text), "tool:"); i >= 0 {
		text = text[i+len("tool:"):]
	}
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.Trim(text, " \t`'\"*.")
	return strings.ToLower(text)
}

// ParseDecision maps a critique response to a decision. Responses that
// mention neither keyword count as insufficient.
func ParseDecision(response string) Decision {
	match := decisionPattern.FindStringSubmatch(response)
	if match == nil {
		return DecisionInsufficient
	}
	return Decision(strings.ToLower(match[1]))
}
