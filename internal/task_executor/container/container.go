// Package container defines the capability the run engine uses to execute a
// single command inside an image, and the error kinds every implementation
// reports.
package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// WorkspaceMount is where implementations that isolate the filesystem expose
// the checkout.
const WorkspaceMount = "/workspace"

// ErrCancelled is returned when the caller's context ends before the command does.
var ErrCancelled = errors.New("container execution cancelled")

// Options tunes a single command execution.
type Options struct {
	// WorkingDir is a path inside the execution environment. Relative paths
	// resolve against the workspace.
	WorkingDir string
	// Workspace is the host path of the repository checkout.
	Workspace   string
	Environment map[string]string
	// Timeout bounds the whole invocation, image pull excluded. Zero means none.
	Timeout time.Duration
}

type Result struct {
	Output   string
	ExitCode int
}

// Executor runs one command in one image. Implementations must return once
// the command finished, failed, timed out or ctx ended.
type Executor interface {
	Run(ctx context.Context, image string, command []string, opts Options) (*Result, error)
}

type PullError struct {
	Image string
	Err   error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("pull image %s: %v", e.Image, e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }

// RuntimeError covers create/start failures and non-zero exits. ExitCode is -1
// when the command never produced one.
type RuntimeError struct {
	ExitCode int
	Err      error
}

func (e *RuntimeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("command exited with code %d", e.ExitCode)
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command exited with code %d: %v", e.ExitCode, e.Err)
	}
	return e.Err.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Timeout)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExitCode extracts the exit status carried by err, if any.
func ExitCode(err error) (int, bool) {
	var re *RuntimeError
	if errors.As(err, &re) && re.ExitCode >= 0 {
		return re.ExitCode, true
	}
	return 0, false
}

// CommandFor wraps a pipeline command string for execution by a POSIX shell.
func CommandFor(cmd string) []string {
	return []string{"/bin/sh", "-c", cmd}
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
