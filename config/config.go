// Package config loads research settings from defaults, a YAML file,
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepnoodle-ai/research/llm"
	"github.com/spf13/viper"
)

// Config is the complete configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Store    StoreConfig    `mapstructure:"store"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
	Logs     LogsConfig     `mapstructure:"logs"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is text, json or auto
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Addr string   `mapstructure:"addr"`
	CORS []string `mapstructure:"cors"`
}

// LLMConfig holds the defaults used when a request names no provider
// or key. Keys holds per-provider API keys.
type LLMConfig struct {
	Provider string            `mapstructure:"provider"`
	Model    string            `mapstructure:"model"`
	APIKey   string            `mapstructure:"api_key"`
	BaseURL  string            `mapstructure:"base_url"`
	Keys     map[string]string `mapstructure:"keys"`
}

type ToolsConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	// RateLimit is searches per second per tool; zero disables limiting
	RateLimit  float64 `mapstructure:"rate_limit"`
	MaxResults int     `mapstructure:"max_results"`
}

type StoreConfig struct {
	// Backend is memory, file, sqlite, postgres or redis
	Backend   string        `mapstructure:"backend"`
	Path      string        `mapstructure:"path"`
	DSN       string        `mapstructure:"dsn"`
	RedisAddr string        `mapstructure:"redis_addr"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

type MemoryConfig struct {
	// Backend is memory or sqlite
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type WorkflowConfig struct {
	Critique              bool          `mapstructure:"critique"`
	MaxCritiqueIterations int           `mapstructure:"max_critique_iterations"`
	MaxConcurrentRuns     int64         `mapstructure:"max_concurrent_runs"`
	ResultsWaitCap        time.Duration `mapstructure:"results_wait_cap"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
}

type PromptsConfig struct {
	File string `mapstructure:"file"`
}

type LogsConfig struct {
	// Dir enables per-task stage logs when set
	Dir string `mapstructure:"dir"`
}

// KeyFor returns the API key configured for a provider, falling back to
// the general key when the provider is the default one
func (c LLMConfig) KeyFor(provider llm.Provider) string {
	if key := c.Keys[string(provider)]; key != "" {
		return key
	}
	if c.Provider == "" || llm.Provider(strings.ToLower(c.Provider)) == provider {
		return c.APIKey
	}
	return ""
}

var (
	storeBackends  = []string{"memory", "file", "sqlite", "postgres", "redis"}
	memoryBackends = []string{"memory", "sqlite"}
)

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Provider != "" {
		if _, err := llm.ParseProvider(c.LLM.Provider); err != nil {
			errs = append(errs, fmt.Errorf("llm.provider: %w", err))
		}
	}
	if !contains(storeBackends, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn: required for the postgres backend"))
	}
	if !contains(memoryBackends, c.Memory.Backend) {
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}
	if c.Workflow.MaxCritiqueIterations < 0 {
		errs = append(errs, errors.New("workflow.max_critique_iterations: must not be negative"))
	}
	if c.Workflow.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("workflow.max_concurrent_runs: must be at least 1"))
	}
	if c.Tools.RateLimit < 0 {
		errs = append(errs, errors.New("tools.rate_limit: must not be negative"))
	}
	return errors.Join(errs...)
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// Loader handles configuration loading from multiple sources
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// command-line flags can be bound to it
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "RESEARCH"}
}

// WithConfigFile sets an explicit config file path
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags
// 2. Environment variables (RESEARCH_*)
// 3. Project config (.research.yaml in the current directory)
// 4. User config (~/.config/research/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".research")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "research"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.addr", ":8000")
	l.v.SetDefault("server.cors", []string{"*"})

	l.v.SetDefault("llm.provider", string(llm.Groq))
	l.v.SetDefault("llm.model", "")
	l.v.SetDefault("llm.api_key", "")
	l.v.SetDefault("llm.base_url", "")

	l.v.SetDefault("tools.tavily_api_key", "")
	l.v.SetDefault("tools.rate_limit", 2.0)
	l.v.SetDefault("tools.max_results", 0)

	l.v.SetDefault("store.backend", "file")
	l.v.SetDefault("store.path", filepath.Join(".research", "checkpoints"))
	l.v.SetDefault("store.dsn", "")
	l.v.SetDefault("store.redis_addr", "localhost:6379")
	l.v.SetDefault("store.result_ttl", "0s")

	l.v.SetDefault("memory.backend", "sqlite")
	l.v.SetDefault("memory.path", filepath.Join(".research", "memory.db"))

	l.v.SetDefault("workflow.critique", false)
	l.v.SetDefault("workflow.max_critique_iterations", 2)
	l.v.SetDefault("workflow.max_concurrent_runs", 4)
	l.v.SetDefault("workflow.results_wait_cap", "30s")
	l.v.SetDefault("workflow.poll_interval", "500ms")

	l.v.SetDefault("prompts.file", "")
	l.v.SetDefault("logs.dir", "")
}
