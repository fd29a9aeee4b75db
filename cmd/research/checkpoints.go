package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/deepnoodle-ai/research"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List or remove saved task checkpoints",
	RunE:  runListCheckpoints,
}

var deleteCheckpointCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteCheckpoint,
}

var checkpointsJSON bool

func init() {
	checkpointsCmd.Flags().BoolVar(&checkpointsJSON, "json", false, "print checkpoints as JSON")
	checkpointsCmd.AddCommand(deleteCheckpointCmd)
}

func runListCheckpoints(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lister, ok := a.store.(research.CheckpointLister)
	if !ok {
		return errors.New("the configured store cannot list checkpoints")
	}
	summaries, err := lister.ListCheckpoints(cmd.Context())
	if err != nil {
		return err
	}

	if checkpointsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	if len(summaries) == 0 {
		color.Yellow("No checkpoints found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tSTAGE\tUPDATED\tQUERY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.TaskID, statusColor(s.Status), s.Stage,
			s.CheckpointAt.Local().Format(time.DateTime), truncateQuery(s.Query, 60))
	}
	return w.Flush()
}

func runDeleteCheckpoint(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteCheckpoint(cmd.Context(), args[0]); err != nil {
		return err
	}
	color.Green("Deleted checkpoint %s", args[0])
	return nil
}

func statusColor(status research.Status) string {
	switch status {
	case research.StatusComplete:
		return color.GreenString(string(status))
	case research.StatusFailed:
		return color.RedString(string(status))
	case research.StatusAwaitingInput:
		return color.YellowString(string(status))
	default:
		return color.CyanString(string(status))
	}
}

func truncateQuery(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
