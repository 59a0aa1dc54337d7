package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RegisterCommands adds all available commands to the root command
func RegisterCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(NewLoginCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewCreateCommand())
	rootCmd.AddCommand(NewUpdateCommand())
	rootCmd.AddCommand(NewTriggerCommand())
	rootCmd.AddCommand(NewRunsCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewCancelCommand())
	rootCmd.AddCommand(NewValidateCommand())
}

func printJSON(w io.Writer, v any) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "Error: Failed to format output - %v\n", err)
		return
	}
	fmt.Fprintln(w, string(formatted))
}
