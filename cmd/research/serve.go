package main

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/research/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the research API. Tasks whose questions were approved but never
finished are resumed from their checkpoints on startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	if err := v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	recovered, err := a.supervisor.Recover(ctx)
	if err != nil {
		logger.Warn("recovering tasks failed", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered interrupted tasks", "count", recovered)
	}

	srv := server.New(a.supervisor,
		server.WithLogger(logger),
		server.WithAllowedOrigins(cfg.Server.CORS))
	serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("background runs did not finish", "error", err)
	}
	return serveErr
}
