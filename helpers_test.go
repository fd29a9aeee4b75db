package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/deepnoodle-ai/research/llm"
	"github.com/deepnoodle-ai/research/memory"
	"github.com/deepnoodle-ai/research/tools"
	"github.com/stretchr/testify/require"
)

// stubLLM answers each kind of prompt from fixed values
type stubLLM struct {
	mutex     sync.Mutex
	plan      string
	planErr   error
	route     func(question string) string
	decision  string
	summarize func(prompt llm.Prompt) (string, error)
	prompts   []llm.Prompt
}

func newStubLLM() *stubLLM {
	return &stubLLM{
		plan: `{"questions": ["What is entanglement?", "Who discovered it?", "How is it measured?"]}`,
		route: func(string) string {
			return "web_search"
		},
		decision: "CONCLUDE",
	}
}

func (s *stubLLM) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	s.mutex.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mutex.Unlock()

	switch {
	case strings.Contains(prompt.System, "research planner"):
		return s.plan, s.planErr
	case strings.Contains(prompt.System, "expert at routing"):
		question := strings.TrimSuffix(strings.TrimPrefix(prompt.User, "Question: "), "\nTool:")
		return s.route(question), nil
	case strings.Contains(prompt.System, "project manager"):
		return s.decision, nil
	case strings.Contains(prompt.System, "research analyst"):
		if s.summarize != nil {
			return s.summarize(prompt)
		}
		return "REPORT\n" + prompt.System, nil
	}
	return "", errors.New("unexpected prompt")
}

func (s *stubLLM) count(marker string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p.System, marker) {
			n++
		}
	}
	return n
}

// searchLog records the questions a stub tool was asked
type searchLog struct {
	mutex     sync.Mutex
	questions []string
}

func (l *searchLog) add(q string) {
	l.mutex.Lock()
	l.questions = append(l.questions, q)
	l.mutex.Unlock()
}

func (l *searchLog) all() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.questions...)
}

func stubTool(name tools.Name, log *searchLog, docs ...tools.Document) tools.Tool {
	return tools.Func(name, func(ctx context.Context, query string) ([]tools.Document, error) {
		if log != nil {
			log.add(query)
		}
		return docs, nil
	})
}

type testEnv struct {
	engine       *Engine
	checkpointer Checkpointer
	llm          *stubLLM
	searches     *searchLog
	memory       *memory.InMemoryStore
}

func newTestEnv(t *testing.T, configure ...func(*EngineOptions)) *testEnv {
	t.Helper()
	env := &testEnv{
		checkpointer: NewMemoryCheckpointer(),
		llm:          newStubLLM(),
		searches:     &searchLog{},
		memory:       memory.NewInMemoryStore(),
	}
	registry, err := tools.NewRegistry(
		stubTool(tools.WebSearch, env.searches, tools.Document{Content: "X", Source: tools.Source{"source": "http://a"}}),
	)
	require.NoError(t, err)

	opts := EngineOptions{
		Checkpointer: env.checkpointer,
		Stages: &Stages{
			Tools:  registry,
			Memory: env.memory,
		},
		CompleterFactory: func(ctx context.Context, cfg TaskConfig) (llm.Completer, error) {
			return env.llm, nil
		},
	}
	for _, fn := range configure {
		fn(&opts)
	}
	env.checkpointer = opts.Checkpointer
	env.engine, err = NewEngine(opts)
	require.NoError(t, err)
	return env
}
