// Package shell runs pipeline commands directly on the host. The image is
// ignored, so it is meant for local runs and tests.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/container"
	"go.uber.org/zap"
)

// waitDelay bounds how long a killed command may keep its output pipes open
// through orphaned children.
const waitDelay = 2 * time.Second

type Executor struct {
	// InheritEnv passes the host environment through before the step's own.
	InheritEnv bool
}

func NewExecutor() *Executor {
	return &Executor{InheritEnv: true}
}

func (e *Executor) Run(ctx context.Context, image string, command []string, opts container.Options) (*container.Result, error) {
	if len(command) == 0 {
		return nil, &container.RuntimeError{ExitCode: -1, Err: errors.New("empty command")}
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = workDir(opts)
	cmd.WaitDelay = waitDelay
	if e.InheritEnv {
		cmd.Env = append(os.Environ(), container.EnvList(opts.Environment)...)
	} else {
		cmd.Env = container.EnvList(opts.Environment)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	common.GetLogger().Debug("running host command", zap.String("image", image), zap.Strings("cmd", command), zap.String("dir", cmd.Dir))
	err := cmd.Run()

	result := &container.Result{Output: out.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		return result, fmt.Errorf("%w: %v", container.ErrCancelled, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return result, &container.TimeoutError{Timeout: opts.Timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &container.RuntimeError{ExitCode: exitErr.ExitCode()}
	}
	return result, &container.RuntimeError{ExitCode: -1, Err: err}
}

func workDir(opts container.Options) string {
	switch {
	case opts.WorkingDir == "":
		return opts.Workspace
	case filepath.IsAbs(opts.WorkingDir) || opts.Workspace == "":
		return opts.WorkingDir
	default:
		return filepath.Join(opts.Workspace, opts.WorkingDir)
	}
}
