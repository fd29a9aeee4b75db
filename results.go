package research

import (
	"context"
	"sync"
	"time"
)

// Result is the terminal record of a task, kept apart from checkpoints
type Result struct {
	TaskID      string    `json:"task_id"`
	Status      Status    `json:"status"`
	Report      *Report   `json:"report,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Report is the payload returned for a completed task
type Report struct {
	OriginalQuery string         `json:"original_query"`
	Summary       string         `json:"summary"`
	Findings      []FindingGroup `json:"findings"`
	Citations     []Citation     `json:"citations"`
}

// FindingGroup holds the findings for one research question
type FindingGroup struct {
	Question string   `json:"question"`
	Results  []string `json:"results"`
}

// BuildReport assembles the report for a state with a final report
func BuildReport(state *State) *Report {
	findings := make([]FindingGroup, 0, len(state.ResearchQuestions))
	for _, q := range state.ResearchQuestions {
		results := append([]string{}, state.Findings[q]...)
		findings = append(findings, FindingGroup{Question: q, Results: results})
	}
	return &Report{
		OriginalQuery: state.OriginalQuery,
		Summary:       state.FinalReport,
		Findings:      findings,
		Citations:     UniqueCitations(CollectSources(state)),
	}
}

// NewCompletedResult returns the result for a finished state
func NewCompletedResult(state *State) *Result {
	return &Result{
		TaskID:      state.TaskID,
		Status:      StatusComplete,
		Report:      BuildReport(state),
		CompletedAt: time.Now().UTC(),
	}
}

// NewFailedResult returns the result for a task that failed
func NewFailedResult(taskID string, err error) *Result {
	return &Result{
		TaskID:      taskID,
		Status:      StatusFailed,
		Error:       err.Error(),
		CompletedAt: time.Now().UTC(),
	}
}

// ResultStore keeps terminal results by task id
type ResultStore interface {
	PutResult(ctx context.Context, result *Result) error
	// GetResult returns ErrNotFound when no result is recorded
	GetResult(ctx context.Context, taskID string) (*Result, error)
	DeleteResult(ctx context.Context, taskID string) error
}

// MemoryResultStore keeps results in process
type MemoryResultStore struct {
	mutex   sync.RWMutex
	results map[string]*Result
}

// NewMemoryResultStore returns an empty store
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: map[string]*Result{}}
}

func (s *MemoryResultStore) PutResult(ctx context.Context, result *Result) error {
	copied := *result
	s.mutex.Lock()
	s.results[result.TaskID] = &copied
	s.mutex.Unlock()
	return nil
}

func (s *MemoryResultStore) GetResult(ctx context.Context, taskID string) (*Result, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result, ok := s.results[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *result
	return &copied, nil
}

func (s *MemoryResultStore) DeleteResult(ctx context.Context, taskID string) error {
	s.mutex.Lock()
	delete(s.results, taskID)
	s.mutex.Unlock()
	return nil
}
