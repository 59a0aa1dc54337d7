package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
)

// NewTriggerCommand creates the trigger command
func NewTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a run of a stored pipeline",
		Run:   runTrigger,
	}

	cmd.Flags().StringP("name", "n", "", "Pipeline to trigger (required)")
	cmd.Flags().StringP("branch", "b", "", "Branch recorded with the trigger")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	name, _ := cmd.Flags().GetString("name")
	branch, _ := cmd.Flags().GetString("branch")

	jsonData, err := json.Marshal(api.TriggerRequest{PipelineName: name, Branch: branch})
	if err != nil {
		fmt.Fprintf(out, "Error: Failed to serialize data - %v\n", err)
		return
	}

	var triggerResp api.TriggerResponse
	if err := client.Call(http.MethodPost, "/trigger", bytes.NewBuffer(jsonData), &triggerResp); err != nil {
		fmt.Fprintf(out, "Trigger failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Successfully triggered pipeline %s, run ID %s\n", name, triggerResp.RunID)
}
