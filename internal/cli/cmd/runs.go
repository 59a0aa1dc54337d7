package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
)

func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List pipeline runs, oldest first",
		Run:   runRuns,
	}
	cmd.Flags().StringP("name", "n", "", "Only runs of this pipeline")
	return cmd
}

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Show the steps and logs of one run",
		Run:   runRun,
	}
	cmd.Flags().StringP("id", "i", "", "Run ID (required)")
	cmd.Flags().BoolP("logs", "l", false, "Print the run log")
	cmd.Flags().BoolP("output", "o", false, "Print the captured output of every step")
	cmd.MarkFlagRequired("id")
	return cmd
}

func NewCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending or running run",
		Run:   runCancel,
	}
	cmd.Flags().StringP("id", "i", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func runRuns(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	name, _ := cmd.Flags().GetString("name")

	path := "/runs"
	if name != "" {
		path += "?pipeline=" + url.QueryEscape(name)
	}
	var runs []api.RunBrief
	if err := client.Call(http.MethodGet, path, nil, &runs); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tTRIGGER\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.PipelineName, r.Status, r.TriggerType, r.StartTime.Local().Format(time.DateTime))
	}
	w.Flush()
}

func runRun(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	id, _ := cmd.Flags().GetString("id")
	showLogs, _ := cmd.Flags().GetBool("logs")
	showOutput, _ := cmd.Flags().GetBool("output")

	var run runner.PipelineRun
	if err := client.Call(http.MethodGet, "/runs/"+url.PathEscape(id), nil, &run); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	PrintRun(out, &run, showLogs, showOutput)
}

func runCancel(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	id, _ := cmd.Flags().GetString("id")

	var brief api.RunBrief
	if err := client.Call(http.MethodPost, "/runs/"+url.PathEscape(id)+"/cancel", nil, &brief); err != nil {
		fmt.Fprintf(out, "Cancel failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Run %s is %s\n", brief.ID, brief.Status)
}

// PrintRun writes a step table for run, optionally followed by step output and the run log.
func PrintRun(out io.Writer, run *runner.PipelineRun, showLogs, showOutput bool) {
	fmt.Fprintf(out, "Run %s of %s: %s (%s)\n", run.ID, run.PipelineName, run.Status, run.Trigger.Type)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tEXIT\tDURATION\tERROR")
	for _, s := range run.Steps {
		exit := "-"
		if s.ExitCode != nil {
			exit = fmt.Sprint(*s.ExitCode)
		}
		duration := "-"
		if s.StartTime != nil && s.EndTime != nil {
			duration = s.EndTime.Sub(*s.StartTime).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Status, exit, duration, s.Error)
	}
	w.Flush()

	if showOutput {
		for _, s := range run.Steps {
			if s.Output == "" {
				continue
			}
			fmt.Fprintf(out, "\n--- %s ---\n%s", s.Name, s.Output)
		}
	}
	if showLogs {
		fmt.Fprintln(out)
		for _, entry := range run.Logs {
			step := ""
			if entry.Step != "" {
				step = "[" + entry.Step + "] "
			}
			fmt.Fprintf(out, "%s %-5s %s%s\n", entry.Timestamp.Local().Format(time.TimeOnly), entry.Level, step, entry.Message)
		}
	}
}
