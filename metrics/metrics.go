// Package metrics exports Prometheus metrics for research tasks
package metrics

import (
	"context"
	"errors"

	"github.com/deepnoodle-ai/research"
	"github.com/deepnoodle-ai/research/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stage executions by outcome
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_stage_executions_total",
			Help: "Total number of stage executions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_stage_duration_seconds",
			Help:    "Duration of stage executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Task runs by the status they ended in
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_task_runs_total",
			Help: "Total number of engine runs by resulting status",
		},
		[]string{"status"},
	)

	Suspensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_suspensions_total",
			Help: "Number of tasks suspended for question approval",
		},
	)

	CritiqueLoops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_critique_loops_total",
			Help: "Number of times critique sent a task back to research",
		},
	)

	ToolSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_tool_searches_total",
			Help: "Total number of searches by tool",
		},
		[]string{"tool"},
	)

	ToolDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_tool_documents_total",
			Help: "Total number of documents returned by tool",
		},
		[]string{"tool"},
	)
)

// RecordToolSearch records a completed search. It satisfies tools.Observer.
func RecordToolSearch(name tools.Name, docs int) {
	ToolSearches.WithLabelValues(string(name)).Inc()
	ToolDocuments.WithLabelValues(string(name)).Add(float64(docs))
}

// Callbacks records engine events as metrics
type Callbacks struct {
	research.BaseExecutionCallbacks
}

// NewCallbacks returns callbacks that update the package metrics
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

func (c *Callbacks) AfterStageExecution(ctx context.Context, event *research.StageExecutionEvent) {
	StageExecutions.WithLabelValues(string(event.Stage), outcome(event.Error)).Inc()
	StageDuration.WithLabelValues(string(event.Stage)).Observe(event.Duration.Seconds())
	if event.Stage == research.StageCritique && event.Next == research.StageResearcher {
		CritiqueLoops.Inc()
	}
}

func (c *Callbacks) AfterTaskExecution(ctx context.Context, event *research.TaskExecutionEvent) {
	TaskRuns.WithLabelValues(string(event.Status)).Inc()
}

func (c *Callbacks) OnSuspend(ctx context.Context, event *research.SuspendEvent) {
	Suspensions.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
