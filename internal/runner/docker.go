package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Container paths for the workspace and cargo caches.
const (
	containerWorkspace   = "/workspace"
	containerCargoHome   = "/tmp/crank-cargo-home"
	containerCargoTarget = "/tmp/crank-cargo-target"
)

// DockerClient wraps the Docker SDK client with the operations recipes need.
type DockerClient struct {
	client *client.Client
}

// NewDockerClient creates a new Docker client and verifies the daemon is accessible.
func NewDockerClient() (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	// Fail fast when the daemon is down
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &DockerClient{client: cli}, nil
}

// Close closes the Docker client.
func (d *DockerClient) Close() error {
	return d.client.Close()
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return true, nil
			}
		}
	}

	return false, nil
}

// PullImage pulls an image from a registry.
func (d *DockerClient) PullImage(ctx context.Context, imageName string) error {
	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	// Consume the output to wait for completion
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}

	return nil
}

// EnsureImage ensures an image is available locally, pulling if necessary.
func (d *DockerClient) EnsureImage(ctx context.Context, imageName string, autoPull bool) error {
	exists, err := d.ImageExists(ctx, imageName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !autoPull {
		return fmt.Errorf("image %s not found locally and auto-pull is disabled", imageName)
	}
	return d.PullImage(ctx, imageName)
}

// ContainerConfig holds configuration for creating a container.
type ContainerConfig struct {
	Image        string
	WorkspaceDir string
	Name         string
	User         string
	Env          []string
	Mounts       []mount.Mount
}

// CreateContainer creates a long-lived container with the workspace mounted
// at /workspace.
func (d *DockerClient) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
		User:       cfg.User,
		Env:        cfg.Env,
		WorkingDir: containerWorkspace,
	}

	hostCfg := &container.HostConfig{
		Mounts: append([]mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: cfg.WorkspaceDir,
				Target: containerWorkspace,
			},
		}, cfg.Mounts...),
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	return resp.ID, nil
}

// StartContainer starts a container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Exec executes a command in a running container, streaming output to out.
// A zero timeout means no limit beyond ctx.
func (d *DockerClient) Exec(ctx context.Context, containerID string, cmd []string, workdir string, out io.Writer, maxOutput int, timeout time.Duration) (*ExecResult, error) {
	start := time.Now()

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execResp, err := d.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attachResp, err := d.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}

	capture := newTailBuffer(maxOutput)
	var w io.Writer = capture
	if out != nil {
		w = io.MultiWriter(out, capture)
	}

	// stdcopy.StdCopy blocks until EOF and ignores ctx, so it runs in its
	// own goroutine and the connection is closed on cancellation.
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(w, w, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		attachResp.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-execCtx.Done():
		attachResp.Close()
		<-copyDone
		res := &ExecResult{
			ExitCode:  -1,
			Combined:  capture.String(),
			Truncated: capture.Truncated(),
			Duration:  time.Since(start),
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("step timed out after %v", timeout)
	}

	// Fresh context: execCtx may be close to expiring
	inspectCtx, inspectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer inspectCancel()

	for {
		inspectResp, err := d.client.ContainerExecInspect(inspectCtx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspectResp.Running {
			return &ExecResult{
				ExitCode:  inspectResp.ExitCode,
				Combined:  capture.String(),
				Truncated: capture.Truncated(),
				Duration:  time.Since(start),
			}, nil
		}

		select {
		case <-inspectCtx.Done():
			return &ExecResult{
				ExitCode:  -1,
				Combined:  capture.String(),
				Truncated: capture.Truncated(),
				Duration:  time.Since(start),
			}, fmt.Errorf("timeout waiting for exec exit code")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// cacheMounts creates the cargo cache directories below cacheDir and returns
// their bind mounts plus the environment that points cargo at them. The cache
// is safe to delete at any time.
func cacheMounts(cacheDir string) ([]mount.Mount, []string, error) {
	var mounts []mount.Mount

	ensureMount := func(hostRel, containerPath string) error {
		hostAbs, err := filepath.Abs(hostRel)
		if err != nil {
			return fmt.Errorf("resolving cache dir %s: %w", hostRel, err)
		}
		if err := os.MkdirAll(hostAbs, 0755); err != nil {
			return fmt.Errorf("creating cache dir %s: %w", hostAbs, err)
		}
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: hostAbs,
			Target: containerPath,
		})
		return nil
	}

	if err := ensureMount(filepath.Join(cacheDir, "cargo-home"), containerCargoHome); err != nil {
		return nil, nil, err
	}
	if err := ensureMount(filepath.Join(cacheDir, "cargo-target"), containerCargoTarget); err != nil {
		return nil, nil, err
	}

	env := []string{
		"HOME=/tmp",
		"CARGO_HOME=" + containerCargoHome,
		"CARGO_TARGET_DIR=" + containerCargoTarget,
	}
	return mounts, env, nil
}

// ContainerExecutor runs step commands inside one long-lived container.
type ContainerExecutor struct {
	docker         *DockerClient
	id             string
	maxOutputBytes int
}

// ContainerOptions configures StartContainerExecutor.
type ContainerOptions struct {
	Image          string
	AutoPull       bool
	WorkspaceDir   string
	CacheDir       string
	Name           string
	MaxOutputBytes int
}

// StartContainerExecutor pulls the image if needed, then creates and starts
// a container with the workspace and cargo caches mounted.
func StartContainerExecutor(ctx context.Context, opts ContainerOptions) (*ContainerExecutor, error) {
	docker, err := NewDockerClient()
	if err != nil {
		return nil, err
	}

	if err := docker.EnsureImage(ctx, opts.Image, opts.AutoPull); err != nil {
		_ = docker.Close()
		return nil, fmt.Errorf("ensuring image: %w", err)
	}

	mounts, env, err := cacheMounts(opts.CacheDir)
	if err != nil {
		_ = docker.Close()
		return nil, err
	}

	id, err := docker.CreateContainer(ctx, ContainerConfig{
		Image:        opts.Image,
		WorkspaceDir: opts.WorkspaceDir,
		Name:         opts.Name,
		User:         fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Env:          env,
		Mounts:       mounts,
	})
	if err != nil {
		_ = docker.Close()
		return nil, err
	}

	e := &ContainerExecutor{docker: docker, id: id, maxOutputBytes: opts.MaxOutputBytes}
	if err := docker.StartContainer(ctx, id); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Exec implements Executor.
func (e *ContainerExecutor) Exec(ctx context.Context, args []string, out io.Writer, timeout time.Duration) (*ExecResult, error) {
	return e.docker.Exec(ctx, e.id, args, containerWorkspace, out, e.maxOutputBytes, timeout)
}

// Close removes the container and closes the client.
func (e *ContainerExecutor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rmErr := e.docker.RemoveContainer(ctx, e.id, true)
	if err := e.docker.Close(); err != nil && rmErr == nil {
		return err
	}
	return rmErr
}
