// Package runtime wraps containerd with the narrow set of operations the
// Container Supervisor needs: create, start, stop, restart, delete, and
// status. It has no notion of healing policy — that lives in pkg/healer.
package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/fleetcore/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace fleetcore operates in.
	DefaultNamespace = "fleetcore"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultStopTimeout bounds how long StopContainer waits for a graceful
	// exit before sending SIGKILL.
	DefaultStopTimeout = 10 * time.Second
)

// Runtime is the container lifecycle surface the Supervisor depends on.
type Runtime interface {
	CreateContainer(ctx context.Context, id string, opts types.CreateOptions) error
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RestartContainer(ctx context.Context, id string) error
	DeleteContainer(ctx context.Context, id string) error
	GetContainerStatus(ctx context.Context, id string) (types.ContainerState, error)
	ListContainers(ctx context.Context) ([]string, error)
}

// ContainerdRuntime implements Runtime over a containerd client.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd: %w", err)
	}

	return &ContainerdRuntime{client: client, namespace: DefaultNamespace}, nil
}

func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// CreateContainer pulls opts.Image if needed and creates (but does not
// start) a container. The Supervisor calls StartContainer separately so a
// recreate can be retried without re-pulling on every attempt.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, id string, opts types.CreateOptions) error {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, opts.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, opts.Image, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("pulling image %s: %w", opts.Image, err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(opts.Env),
	}

	_, err = r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", id, err)
	}
	return nil
}

func (r *ContainerdRuntime) StartContainer(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("creating task for %s: %w", id, err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("starting task for %s: %w", id, err)
	}
	return nil
}

// StopContainer sends SIGTERM and waits up to timeout before escalating to
// SIGKILL, then deletes the task. The container itself survives; callers
// wanting a full teardown call DeleteContainer afterward.
func (r *ContainerdRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task: container is already stopped.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to %s: %w", id, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("waiting for task %s to exit: %w", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force-killing task %s: %w", id, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// RestartContainer stops and restarts the task in place, without deleting
// and recreating the container. This is the Supervisor's "restart" primitive
// (vs. "recreate", which goes through DeleteContainer + CreateContainer).
func (r *ContainerdRuntime) RestartContainer(ctx context.Context, id string) error {
	if err := r.StopContainer(ctx, id, DefaultStopTimeout); err != nil {
		return fmt.Errorf("stopping container %s before restart: %w", id, err)
	}
	if err := r.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("starting container %s after restart: %w", id, err)
	}
	return nil
}

func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, id, DefaultStopTimeout); err != nil {
		return fmt.Errorf("stopping container %s before delete: %w", id, err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("deleting container %s: %w", id, err)
	}
	return nil
}

func (r *ContainerdRuntime) GetContainerStatus(ctx context.Context, id string) (types.ContainerState, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return types.ContainerStateRemoved, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ContainerStateCreated, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerStateDead, fmt.Errorf("getting task status for %s: %w", id, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return types.ContainerStateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.ContainerStateRemoved, nil
		}
		return types.ContainerStateDead, nil
	default:
		return types.ContainerStateCreated, nil
	}
}

func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = r.ctx(ctx)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
