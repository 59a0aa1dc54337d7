package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	clicmd "github.com/Kshitijknk07/CicadaCI/internal/cli/cmd"
	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/container"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/docker"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/shell"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	workspace      string
	file           string
	executor       string
	maxConcurrency int
	verbose        bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "cicada-run",
		Short:         "Run a pipeline definition against a local checkout",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", ".", "Checkout the steps run in")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Pipeline file (default: looked up in the workspace)")
	cmd.Flags().StringVarP(&opts.executor, "executor", "e", "docker", "Step executor: docker or shell")
	cmd.Flags().IntVarP(&opts.maxConcurrency, "max-concurrency", "c", 0, "Maximum steps running at once, 0 for unbounded")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print the run log and step output")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	common.InitConf()
	config := common.GetConfig()
	common.InitLog(config)
	logger := common.GetLogger()
	defer logger.Sync()

	workspace, err := filepath.Abs(opts.workspace)
	if err != nil {
		return err
	}

	var def *pipeline.Definition
	if opts.file != "" {
		def, err = pipeline.LoadFile(opts.file)
	} else {
		def, err = pipeline.LoadFromWorkspace(workspace)
	}
	if err != nil {
		return err
	}

	var executor container.Executor
	switch opts.executor {
	case "docker":
		dockerClient, err := docker.NewDockerClient(config.DockerHost)
		if err != nil {
			return fmt.Errorf("create docker client: %w", err)
		}
		defer dockerClient.Close()
		executor = dockerClient
	case "shell":
		executor = shell.NewExecutor()
	default:
		return fmt.Errorf("unknown executor %q, want docker or shell", opts.executor)
	}

	engine := runner.NewEngine(executor, nil, opts.maxConcurrency, func(u *runner.StatusUpdate) {
		if u.Step == "" {
			fmt.Printf("pipeline %s: %s\n", u.PipelineName, u.Status)
			return
		}
		if u.Error != "" {
			fmt.Printf("  %-20s %s (%s)\n", u.Step, u.Status, u.Error)
			return
		}
		fmt.Printf("  %-20s %s\n", u.Step, u.Status)
	})

	runID, err := engine.ExecutePipeline(def, workspace, runner.Trigger{
		Type:    runner.TriggerLocal,
		Payload: map[string]any{"workspace": workspace},
	})
	if err != nil {
		return err
	}
	logger.Debug("local run started", zap.String("run_id", runID), zap.String("executor", opts.executor))

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// No-op once the run is terminal, so the deferred stop is harmless.
	go func() {
		<-sigCtx.Done()
		engine.CancelRun(runID)
	}()

	result, err := engine.Wait(context.Background(), runID)
	if err != nil {
		return err
	}
	if opts.verbose {
		fmt.Println()
		clicmd.PrintRun(os.Stdout, result, true, true)
	}
	if result.Status != runner.RunCompleted {
		return fmt.Errorf("run %s %s", runID, result.Status)
	}
	return nil
}
