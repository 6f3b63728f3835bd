package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerRuntime creates workspaces as containers on a Docker engine.
type DockerRuntime struct {
	cli *client.Client
	log *zap.Logger
}

// NewDockerRuntime connects to the engine from the environment
// (DOCKER_HOST et al) and negotiates the API version.
func NewDockerRuntime(log *zap.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DockerRuntime{cli: cli, log: log}, nil
}

// Open pulls the image if needed and starts a container idling on sleep,
// sized by the workspace options. Commands run through Exec.
func (d *DockerRuntime) Open(ctx context.Context, opts WorkspaceOptions) (Workspace, error) {
	rc, err := d.cli.ImagePull(ctx, opts.Image, image.PullOptions{})
	if err == nil {
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	} else {
		// A locally built image may not be pullable; create decides.
		d.log.Debug("image pull failed, trying local", zap.String("image", opts.Image), zap.Error(err))
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   opts.MemoryLimitMB * 1024 * 1024,
			NanoCPUs: int64(opts.CPULimit * 1e9),
		},
	}
	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: opts.Image,
		Cmd:   []string{"sleep", "infinity"},
	}, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}
	return &dockerWorkspace{cli: d.cli, id: created.ID, log: d.log}, nil
}

type dockerWorkspace struct {
	cli *client.Client
	id  string
	log *zap.Logger
}

func (w *dockerWorkspace) Exec(ctx context.Context, name, command string, timeout time.Duration) (StepResult, error) {
	sr := StepResult{Name: name, Command: command}
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()

	created, err := w.cli.ContainerExecCreate(execCtx, w.id, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-lc", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return sr, fmt.Errorf("exec create: %w", err)
	}
	att, err := w.cli.ContainerExecAttach(execCtx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return sr, fmt.Errorf("exec attach: %w", err)
	}
	defer att.Close()

	var out bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, cerr := stdcopy.StdCopy(&out, &out, att.Reader)
		copyDone <- cerr
	}()

	select {
	case <-execCtx.Done():
		// Force-kill the whole container; a wedged step must not leave a
		// process running against the next step.
		killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = w.cli.ContainerKill(killCtx, w.id, "KILL")
		sr.TimedOut = true
		sr.ExitCode = -1
		sr.DurationMS = time.Since(start).Milliseconds()
		sr.Output = out.String()
		if ctx.Err() != nil {
			return sr, ctx.Err()
		}
		return sr, nil
	case cerr := <-copyDone:
		if cerr != nil && execCtx.Err() == nil {
			return sr, fmt.Errorf("exec read: %w", cerr)
		}
	}

	insp, err := w.cli.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return sr, fmt.Errorf("exec inspect: %w", err)
	}
	sr.ExitCode = insp.ExitCode
	sr.DurationMS = time.Since(start).Milliseconds()
	sr.Output = out.String()
	return sr, nil
}

func (w *dockerWorkspace) WriteFile(ctx context.Context, dst string, content []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: strings.TrimPrefix(dst, "/"),
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}
	err := w.cli.CopyToContainer(ctx, w.id, "/", &buf, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("copy %s: %w", path.Base(dst), err)
	}
	return nil
}

func (w *dockerWorkspace) DisableNetwork(ctx context.Context) error {
	if err := w.cli.NetworkDisconnect(ctx, "bridge", w.id, true); err != nil {
		return fmt.Errorf("network disconnect: %w", err)
	}
	return nil
}

func (w *dockerWorkspace) Close(ctx context.Context) error {
	if err := w.cli.ContainerRemove(ctx, w.id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}
