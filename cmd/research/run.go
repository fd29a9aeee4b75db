package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/deepnoodle-ai/research"
	"github.com/deepnoodle-ai/research/llm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Research a query interactively in the terminal",
	Long: `Plan research questions for the query, let you accept or edit them,
then run the research and print the report.`,
	Args: cobra.ExactArgs(1),
	RunE: runResearch,
}

var runOpts struct {
	apiKey string
	userID string
	yes    bool
	raw    bool
	width  int
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.apiKey, "api-key", "", "API key for the LLM provider")
	f.StringVar(&runOpts.userID, "user", "", "user id used to scope long-term memory")
	f.BoolVarP(&runOpts.yes, "yes", "y", false, "accept the planned questions without prompting")
	f.BoolVar(&runOpts.raw, "raw", false, "print the report as plain markdown")
	f.IntVar(&runOpts.width, "width", 100, "word wrap width for the rendered report")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	taskCfg := research.TaskConfig{Model: cfg.LLM.Model, APIKey: runOpts.apiKey}
	if cfg.LLM.Provider != "" {
		provider, err := llm.ParseProvider(cfg.LLM.Provider)
		if err != nil {
			return err
		}
		taskCfg.Provider = provider
	}

	color.Blue("Planning research for: %s", args[0])
	snap, err := a.engine.Start(ctx, research.StartRequest{
		Query:  args[0],
		UserID: runOpts.userID,
		Config: taskCfg,
	})
	if err != nil {
		return err
	}
	if snap.Status == research.StatusFailed {
		return fmt.Errorf("planning failed: %s", snap.Error)
	}
	color.Cyan("Task: %s", snap.TaskID)

	questions := snap.Pending
	if !runOpts.yes {
		questions, err = reviewQuestions(os.Stdin, os.Stdout, snap.Pending)
		if err != nil {
			return err
		}
	}

	color.Blue("Researching %d questions...", len(questions))
	snap, err = a.engine.Resume(ctx, snap.TaskID, questions)
	if err != nil {
		return err
	}
	if snap.Status == research.StatusFailed {
		color.Red("Research failed: %s", snap.Error)
		color.Yellow("Retry later with the checkpoint for task %s", snap.TaskID)
		return fmt.Errorf("task %s failed", snap.TaskID)
	}
	return printReport(os.Stdout, research.BuildReport(snap.State))
}

// reviewQuestions shows the planned questions and reads edits. An empty
// line accepts them; "e" asks for a replacement list, one per line,
// ended by an empty line.
func reviewQuestions(in io.Reader, out io.Writer, planned []string) ([]string, error) {
	color.New(color.Bold).Fprintln(out, "\nPlanned research questions:")
	for i, q := range planned {
		fmt.Fprintf(out, "  %d. %s\n", i+1, q)
	}
	fmt.Fprint(out, "\nPress Enter to accept, or type 'e' to edit: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return planned, scanner.Err()
	}
	if !strings.EqualFold(strings.TrimSpace(scanner.Text()), "e") {
		return planned, nil
	}

	fmt.Fprintln(out, "Enter one question per line, then an empty line:")
	var edited []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		edited = append(edited, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(edited) == 0 {
		color.Yellow("No questions entered, keeping the planned ones")
		return planned, nil
	}
	return edited, nil
}

func printReport(out io.Writer, report *research.Report) error {
	md := reportMarkdown(report)
	if runOpts.raw {
		_, err := fmt.Fprint(out, md)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(runOpts.width),
	)
	if err != nil {
		return err
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}

func reportMarkdown(report *research.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", report.OriginalQuery, report.Summary)
	if len(report.Citations) > 0 {
		b.WriteString("\n## Sources\n\n")
		for i, c := range report.Citations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c.Source)
		}
	}
	return b.String()
}
