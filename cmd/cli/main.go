package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/cmd"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cicada",
		Short: "Command line client for the CicadaCI server",
		Run: func(cmd *cobra.Command, args []string) {
			startInteractiveMode(cmd)
		},
	}

	cmd.RegisterCommands(rootCmd)

	// With arguments behave like a plain CLI, without them open the prompt.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startInteractiveMode(rootCmd *cobra.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("CicadaCI CLI - Type 'help' to show help, 'exit' or 'quit' to quit")
	fmt.Print(">> ")

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			fmt.Print(">> ")
			continue
		}

		if input == "help" {
			rootCmd.Help()
			fmt.Print(">> ")
			continue
		}

		args := strings.Fields(input)
		sub, _, err := rootCmd.Find(args)
		if err != nil || sub == nil || sub == rootCmd {
			if err := executeShellCommand(args[0], args[1:]); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			fmt.Print(">> ")
			continue
		}
		resetFlags(sub)
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Print(">> ")
	}
}

// resetFlags restores defaults so values from the previous line do not leak
// into the next invocation of the same command.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func executeShellCommand(cmdName string, cmdArgs []string) error {
	shell := exec.Command(cmdName, cmdArgs...)
	shell.Stdout = os.Stdout
	shell.Stderr = os.Stderr
	return shell.Run()
}
