package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
)

func NewCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new pipeline from a YAML file",
		Run:   runCreateCommand,
	}
	cmd.Flags().StringP("yaml_file", "f", "", "YAML file path (required)")
	cmd.MarkFlagRequired("yaml_file")
	return cmd
}

func NewUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Store a new version of a pipeline",
		Run:   runUpdateCommand,
	}
	cmd.Flags().StringP("name", "n", "", "Pipeline name (required)")
	cmd.Flags().StringP("yaml_file", "f", "", "YAML file path (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("yaml_file")
	return cmd
}

func runCreateCommand(cmd *cobra.Command, args []string) {
	yamlFile, _ := cmd.Flags().GetString("yaml_file")
	upload(cmd, "/pipeline/create", yamlFile, "Create")
}

func runUpdateCommand(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	yamlFile, _ := cmd.Flags().GetString("yaml_file")
	upload(cmd, "/pipeline/update/"+url.PathEscape(name), yamlFile, "Update")
}

func upload(cmd *cobra.Command, path, yamlFile, action string) {
	out := cmd.OutOrStdout()
	fileContent, err := os.ReadFile(yamlFile)
	if err != nil {
		fmt.Fprintln(out, "Error reading YAML file:", err)
		return
	}

	var brief api.PipelineBrief
	if err := client.CallFile(http.MethodPost, path, bytes.NewBuffer(fileContent), &brief); err != nil {
		fmt.Fprintf(out, "%s pipeline failed: %v\n", action, err)
		return
	}
	fmt.Fprintf(out, "Pipeline %s stored as version %d\n", brief.Name, brief.LatestVersion)
}
