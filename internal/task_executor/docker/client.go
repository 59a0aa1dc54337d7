package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/container"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// cleanupTimeout bounds container removal, which runs on a fresh context so
// it still happens after the step context expired.
const cleanupTimeout = 30 * time.Second

// DockerClient runs pipeline commands as one-shot containers.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects to the engine at host, or to the environment's
// DOCKER_HOST when host is empty.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &DockerClient{cli: cli}, nil
}

func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// Run pulls image when missing, then runs command to completion in a fresh
// container. Output holds interleaved stdout and stderr and is returned even
// when the command fails.
func (d *DockerClient) Run(ctx context.Context, img string, command []string, opts container.Options) (*container.Result, error) {
	logger := common.GetLogger().With(zap.String("image", img))

	if err := d.ensureImage(ctx, img); err != nil {
		return nil, err
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	hostConfig := &dockercontainer.HostConfig{}
	if opts.Workspace != "" {
		hostConfig.Binds = []string{opts.Workspace + ":" + container.WorkspaceMount}
	}

	resp, err := d.cli.ContainerCreate(
		runCtx,
		&dockercontainer.Config{
			Image:      img,
			Cmd:        command,
			Env:        container.EnvList(opts.Environment),
			WorkingDir: containerWorkDir(opts),
			Tty:        false,
		},
		hostConfig,
		nil, nil, "",
	)
	if err != nil {
		return nil, classify(ctx, runCtx, opts.Timeout, &container.RuntimeError{ExitCode: -1, Err: fmt.Errorf("create container: %w", err)})
	}
	containerID := resp.ID

	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := d.cli.ContainerRemove(rmCtx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
			logger.Warn("fail to remove container", zap.String("container_id", containerID), zap.Error(err))
		}
	}()

	if err := d.cli.ContainerStart(runCtx, containerID, dockercontainer.StartOptions{}); err != nil {
		return nil, classify(ctx, runCtx, opts.Timeout, &container.RuntimeError{ExitCode: -1, Err: fmt.Errorf("start container: %w", err)})
	}
	logger.Debug("container started", zap.String("container_id", containerID), zap.Strings("cmd", command))

	exitCode := -1
	var waitErr error
	statusCh, errCh := d.cli.ContainerWait(runCtx, containerID, dockercontainer.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			waitErr = errors.New(status.Error.Message)
		}
	}

	// Logs are read on a fresh context so a timed out command still reports
	// what it printed.
	output, logErr := d.collectLogs(containerID)
	if logErr != nil {
		logger.Warn("fail to get container logs", zap.String("container_id", containerID), zap.Error(logErr))
	}
	result := &container.Result{Output: output, ExitCode: exitCode}

	if waitErr != nil {
		return result, classify(ctx, runCtx, opts.Timeout, &container.RuntimeError{ExitCode: -1, Err: fmt.Errorf("wait container: %w", waitErr)})
	}
	logger.Debug("container exited", zap.String("container_id", containerID), zap.Int("exit_code", exitCode))
	if exitCode != 0 {
		return result, &container.RuntimeError{ExitCode: exitCode}
	}
	return result, nil
}

func (d *DockerClient) ensureImage(ctx context.Context, img string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return &container.PullError{Image: img, Err: err}
	}

	common.GetLogger().Info("pulling image", zap.String("image", img))
	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return &container.PullError{Image: img, Err: err}
	}
	defer reader.Close()

	// The pull only finishes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &container.PullError{Image: img, Err: err}
	}
	return nil
}

func (d *DockerClient) collectLogs(containerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	out, err := d.cli.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

// classify turns context expiry into the timeout or cancellation error the
// engine expects, and passes any other failure through.
func classify(parent, runCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", container.ErrCancelled, parent.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &container.TimeoutError{Timeout: timeout}
	}
	return err
}

// containerWorkDir maps the requested working directory into the container,
// where the workspace is mounted at container.WorkspaceMount.
func containerWorkDir(opts container.Options) string {
	wd := opts.WorkingDir
	if wd == "" {
		return container.WorkspaceMount
	}
	if opts.Workspace != "" {
		if rel, err := filepath.Rel(opts.Workspace, wd); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return path.Join(container.WorkspaceMount, filepath.ToSlash(rel))
		}
	}
	if !path.IsAbs(wd) {
		return path.Join(container.WorkspaceMount, wd)
	}
	return wd
}
