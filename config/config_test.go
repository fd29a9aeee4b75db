package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/research/llm"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Server.Addr)
	require.Equal(t, "groq", cfg.LLM.Provider)
	require.Equal(t, "file", cfg.Store.Backend)
	require.Equal(t, 2, cfg.Workflow.MaxCritiqueIterations)
	require.EqualValues(t, 4, cfg.Workflow.MaxConcurrentRuns)
	require.Equal(t, 30*time.Second, cfg.Workflow.ResultsWaitCap)
	require.Equal(t, 500*time.Millisecond, cfg.Workflow.PollInterval)
	require.False(t, cfg.Workflow.Critique)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
store:
  backend: sqlite
  path: /tmp/research.db
workflow:
  critique: true
  results_wait_cap: 10s
llm:
  keys:
    google: g-key
`), 0644))
	t.Setenv("RESEARCH_SERVER_ADDR", ":9100")
	t.Setenv("RESEARCH_LLM_API_KEY", "groq-key")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.True(t, cfg.Workflow.Critique)
	require.Equal(t, 10*time.Second, cfg.Workflow.ResultsWaitCap)

	require.Equal(t, "groq-key", cfg.LLM.KeyFor(llm.Groq))
	require.Equal(t, "g-key", cfg.LLM.KeyFor(llm.Google))
	require.Empty(t, cfg.LLM.KeyFor(llm.OpenRouter))
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESEARCH_STORE_BACKEND", "mongo")
	t.Setenv("RESEARCH_LLM_PROVIDER", "nope")

	_, err := NewLoader().Load()
	require.ErrorContains(t, err, "store.backend")
	require.ErrorContains(t, err, "llm.provider")
}
