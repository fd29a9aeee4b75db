package research

import (
	"github.com/deepnoodle-ai/research/memory"
	"github.com/deepnoodle-ai/research/tools"
)

// Stage names a node in the fixed research topology
type Stage string

const (
	StagePlanner       Stage = "planner"
	StageHumanApproval Stage = "human_approval"
	StageResearcher    Stage = "researcher"
	StageCritique      Stage = "critique"
	StageSummarizer    Stage = "summarizer"
	StageMemorizer     Stage = "memorizer"
	StageDone          Stage = "done"
)

// Decision is the outcome of the critique stage
type Decision string

const (
	DecisionUnset        Decision = ""
	DecisionConclude     Decision = "conclude"
	DecisionInsufficient Decision = "insufficient"
)

// State is the persisted unit of a research task
type State struct {
	TaskID            string                    `json:"task_id"`
	OriginalQuery     string                    `json:"original_query"`
	UserID            string                    `json:"user_id,omitempty"`
	ResearchQuestions []string                  `json:"research_questions"`
	Findings          map[string][]string       `json:"findings"`
	Sources           map[string][]tools.Source `json:"sources"`
	Decision          Decision                  `json:"decision,omitempty"`
	FinalReport       string                    `json:"final_report,omitempty"`
	Memories          []memory.Record           `json:"memories,omitempty"`
	Iterations        int                       `json:"iterations,omitempty"`
}

// NewState returns the initial state for a query
func NewState(taskID, query, userID string) *State {
	return &State{
		TaskID:        taskID,
		OriginalQuery: query,
		UserID:        userID,
		Findings:      map[string][]string{},
		Sources:       map[string][]tools.Source{},
	}
}

// Clone returns a deep copy of the state
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.ResearchQuestions = append([]string(nil), s.ResearchQuestions...)
	c.Findings = make(map[string][]string, len(s.Findings))
	for q, f := range s.Findings {
		c.Findings[q] = append([]string(nil), f...)
	}
	c.Sources = make(map[string][]tools.Source, len(s.Sources))
	for q, sources := range s.Sources {
		copied := make([]tools.Source, len(sources))
		for i, src := range sources {
			copied[i] = src.Clone()
		}
		c.Sources[q] = copied
	}
	c.Memories = append([]memory.Record(nil), s.Memories...)
	return &c
}

// ensureQuestion makes sure a question has entries in both maps
func (s *State) ensureQuestion(q string) {
	if s.Findings == nil {
		s.Findings = map[string][]string{}
	}
	if s.Sources == nil {
		s.Sources = map[string][]tools.Source{}
	}
	if _, ok := s.Findings[q]; !ok {
		s.Findings[q] = []string{}
	}
	if _, ok := s.Sources[q]; !ok {
		s.Sources[q] = []tools.Source{}
	}
}

// addFinding appends a finding and its aligned source
func (s *State) addFinding(q, content string, source tools.Source) {
	s.ensureQuestion(q)
	if source == nil {
		source = tools.Source{}
	}
	s.Findings[q] = append(s.Findings[q], content)
	s.Sources[q] = append(s.Sources[q], source)
}

// Aligned reports whether every question has as many sources as findings
func (s *State) Aligned() bool {
	for q, f := range s.Findings {
		if len(s.Sources[q]) != len(f) {
			return false
		}
	}
	for q, src := range s.Sources {
		if len(s.Findings[q]) != len(src) {
			return false
		}
	}
	return true
}

// Unanswered returns the research questions that have no findings yet
func (s *State) Unanswered() []string {
	var out []string
	for _, q := range s.ResearchQuestions {
		if len(s.Findings[q]) == 0 {
			out = append(out, q)
		}
	}
	return out
}

// hasUsableFinding reports whether any finding holds real content
func (s *State) hasUsableFinding() bool {
	for _, q := range s.ResearchQuestions {
		for _, f := range s.Findings[q] {
			if f != "" && !tools.IsErrorContent(f) {
				return true
			}
		}
	}
	return false
}
