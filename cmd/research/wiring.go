package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/deepnoodle-ai/research"
	"github.com/deepnoodle-ai/research/config"
	"github.com/deepnoodle-ai/research/llm"
	"github.com/deepnoodle-ai/research/memory"
	"github.com/deepnoodle-ai/research/metrics"
	"github.com/deepnoodle-ai/research/postgres"
	"github.com/deepnoodle-ai/research/redisstore"
	"github.com/deepnoodle-ai/research/sqlite"
	"github.com/deepnoodle-ai/research/tools"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// app holds everything a command needs and the resources to release
type app struct {
	engine     *research.Engine
	supervisor *research.Supervisor
	store      research.Checkpointer
	closers    []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, results, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store

	mem, err := a.openMemory(cfg.Memory)
	if err != nil {
		return nil, err
	}

	registry, err := newRegistry(cfg.Tools)
	if err != nil {
		return nil, err
	}

	prompts := research.DefaultPrompts()
	if cfg.Prompts.File != "" {
		if prompts, err = research.LoadPrompts(cfg.Prompts.File); err != nil {
			return nil, err
		}
	}

	var stageLogger research.StageLogger
	if cfg.Logs.Dir != "" {
		stageLogger = research.NewFileStageLogger(cfg.Logs.Dir)
	}

	a.engine, err = research.NewEngine(research.EngineOptions{
		Checkpointer: store,
		Stages: &research.Stages{
			Tools:   registry,
			Memory:  mem,
			Prompts: prompts,
		},
		CompleterFactory:      completerFactory(cfg.LLM),
		Callbacks:             metrics.NewCallbacks(),
		StageLogger:           stageLogger,
		Logger:                logger,
		Critique:              cfg.Workflow.Critique,
		MaxCritiqueIterations: cfg.Workflow.MaxCritiqueIterations,
	})
	if err != nil {
		return nil, err
	}

	a.supervisor, err = research.NewSupervisor(research.SupervisorOptions{
		Engine:            a.engine,
		Results:           results,
		MaxConcurrentRuns: cfg.Workflow.MaxConcurrentRuns,
		PollInterval:      cfg.Workflow.PollInterval,
		MaxWait:           cfg.Workflow.ResultsWaitCap,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context, c config.StoreConfig) (research.Checkpointer, research.ResultStore, error) {
	switch c.Backend {
	case "memory":
		return research.NewMemoryCheckpointer(), research.NewMemoryResultStore(), nil
	case "file":
		store, err := research.NewFileCheckpointer(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, research.NewMemoryResultStore(), nil
	case "sqlite":
		store, err := sqlite.Open(c.Path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store)
		return store, store, nil
	case "postgres":
		store, err := postgres.Connect(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		a.closers = append(a.closers, client)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
		}
		store := redisstore.New(client, redisstore.WithResultTTL(c.ResultTTL))
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}
}

func (a *app) openMemory(c config.MemoryConfig) (memory.Store, error) {
	if c.Backend == "memory" {
		return memory.NewInMemoryStore(), nil
	}
	store, err := memory.NewSQLiteStore(c.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func newRegistry(c config.ToolsConfig) (*tools.Registry, error) {
	var opts []tools.HTTPOption
	if c.MaxResults > 0 {
		opts = append(opts, tools.WithMaxResults(c.MaxResults))
	}
	all := []tools.Tool{
		tools.NewTavily(c.TavilyAPIKey, opts...),
		tools.NewWikipedia(opts...),
		tools.NewArxiv(opts...),
	}
	for i, tool := range all {
		if c.RateLimit > 0 {
			tool = tools.RateLimited(tool, rate.NewLimiter(rate.Limit(c.RateLimit), 1))
		}
		all[i] = tools.Observed(tool, metrics.RecordToolSearch)
	}
	return tools.NewRegistry(all...)
}

// completerFactory fills in configured defaults for anything a task
// leaves unset
func completerFactory(c config.LLMConfig) research.CompleterFactory {
	return func(ctx context.Context, task research.TaskConfig) (llm.Completer, error) {
		provider := task.Provider
		if provider == "" {
			provider = llm.Provider(c.Provider)
		}
		model := task.Model
		if model == "" && provider == llm.Provider(c.Provider) {
			model = c.Model
		}
		key := task.APIKey
		if key == "" {
			key = c.KeyFor(provider)
		}
		return llm.New(ctx, llm.Config{
			Provider: provider,
			Model:    model,
			APIKey:   key,
			BaseURL:  c.BaseURL,
		})
	}
}
