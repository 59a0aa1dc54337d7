package cmd

import (
	"fmt"
	"strings"

	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/scheduler"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/spf13/cobra"
)

// NewValidateCommand checks a definition locally without contacting the server.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline definition and print its execution order",
		Run:   runValidate,
	}
	cmd.Flags().StringP("yaml_file", "f", "", "YAML file path")
	cmd.Flags().StringP("workspace", "w", ".", "Repository to search for a pipeline file when --yaml_file is not set")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	yamlFile, _ := cmd.Flags().GetString("yaml_file")
	workspace, _ := cmd.Flags().GetString("workspace")

	var (
		def *pipeline.Definition
		err error
	)
	if yamlFile != "" {
		def, err = pipeline.LoadFile(yamlFile)
	} else {
		def, err = pipeline.LoadFromWorkspace(workspace)
	}
	if err != nil {
		fmt.Fprintf(out, "Invalid pipeline: %v\n", err)
		return
	}

	groups, err := scheduler.Schedule(def.Steps)
	if err != nil {
		fmt.Fprintf(out, "Invalid pipeline: %v\n", err)
		return
	}

	fmt.Fprintf(out, "Pipeline %s is valid\n", def.Name)
	for i, names := range scheduler.GroupNames(groups) {
		fmt.Fprintf(out, "  group %d: %s\n", i+1, strings.Join(names, ", "))
	}
}
