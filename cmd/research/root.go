package main

import (
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/research"
	"github.com/deepnoodle-ai/research/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Resumable deep-research workflows with human approval",
	Long: `research plans a set of questions for a query, waits for a human to
approve or edit them, answers each one with web search, Wikipedia or arXiv,
and writes a cited summary report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: .research.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "auto", "log format (text, json, auto)")
	flags.String("provider", "", "default LLM provider")
	flags.String("model", "", "default LLM model")
	flags.String("store", "", "checkpoint backend (memory, file, sqlite, postgres, redis)")
	flags.String("logs-dir", "", "directory for per-task stage logs")

	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")
	bindFlag("llm.provider", "provider")
	bindFlag("llm.model", "model")
	bindFlag("store.backend", "store")
	bindFlag("logs.dir", "logs-dir")

	rootCmd.AddCommand(serveCmd, runCmd, checkpointsCmd)
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func initConfig() error {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = loaded
	logger = setupLogger(cfg.Log)
	return nil
}

func setupLogger(c config.LogConfig) *slog.Logger {
	level := research.ParseLevel(c.Level)
	if c.Format == "json" {
		return research.NewJSONLogger(level)
	}
	return research.NewLogger(level)
}
