// Package engine is the local container engine collaborator the
// Convergence Agent drives to make running containers match an
// Application's desired image, environment, ports and mounted volume.
// Talks to containerd directly: same client, same namespace-per-task
// shape as a typical containerd-backed runtime layer, generalized to
// model.Application/model.ObservedContainer instead of an ad hoc task
// spec.
package engine

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/model"
)

// Namespace is the containerd namespace all flocker-managed containers
// live under.
const Namespace = "flocker"

// StopGracePeriod is how long Stop waits for SIGTERM before escalating to
// SIGKILL.
const StopGracePeriod = 10 * time.Second

// Engine drives a containerd daemon on behalf of the Convergence Agent.
type Engine struct {
	client *containerd.Client
}

// New connects to the containerd daemon listening on socketPath.
func New(socketPath string) (*Engine, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("engine: connect to containerd at %s: %w", socketPath, err)
	}
	return &Engine{client: client}, nil
}

// Close releases the underlying containerd client connection.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Engine) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// Start pulls app's image if needed, creates a container named app.Name
// with its environment, resource limits and, if app has an attached
// volume, a bind mount at the volume's mountpoint, then starts its task.
// Start is idempotent: a container already present under app.Name is
// left alone, whether or not its task is running.
func (e *Engine) Start(ctx context.Context, app model.Application) error {
	ctx = e.ctx(ctx)

	if _, err := e.client.LoadContainer(ctx, app.Name); err == nil {
		return nil
	}

	image, err := e.client.GetImage(ctx, app.Image)
	if err != nil {
		image, err = e.client.Pull(ctx, app.Image, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("engine: pull image %s: %w", app.Image, err)
		}
	}

	env := make([]string, 0, len(app.Environment))
	for _, kv := range app.Environment {
		env = append(env, kv.Key+"="+kv.Value)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if app.Limits.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(app.Limits.MemoryBytes)))
	}
	if app.Limits.CPUShares > 0 {
		opts = append(opts, oci.WithCPUShares(uint64(app.Limits.CPUShares)))
	}
	if app.Volume != nil {
		opts = append(opts, oci.WithMounts([]specs.Mount{{
			Source:      app.Volume.Mountpoint,
			Destination: "/data",
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		}}))
	}

	container, err := e.client.NewContainer(
		ctx,
		app.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(app.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("engine: create container %s: %w", app.Name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("engine: create task for %s: %w", app.Name, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("engine: start task for %s: %w", app.Name, err)
	}
	return nil
}

// Stop sends SIGTERM to name's task, escalating to SIGKILL after
// StopGracePeriod, then deletes the task and the container with its
// snapshot. Stop on an already-absent container is a no-op.
func (e *Engine) Stop(ctx context.Context, name string) error {
	ctx = e.ctx(ctx)

	container, err := e.client.LoadContainer(ctx, name)
	if err != nil {
		return nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return container.Delete(ctx, containerd.WithSnapshotCleanup)
	}

	stopCtx, cancel := context.WithTimeout(ctx, StopGracePeriod)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		logging.WithComponent("engine").Warn().Str("container", name).Err(err).Msg("SIGTERM delivery failed")
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("engine: wait for task %s: %w", name, err)
	}
	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("engine: force kill task %s: %w", name, err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil {
		logging.WithComponent("engine").Warn().Str("container", name).Err(err).Msg("task delete failed")
	}
	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

// Observe returns the ObservedContainer for every container in the
// flocker namespace. Used by the agent's local-observation loop to build
// the NodeState it reports to the control service.
func (e *Engine) Observe(ctx context.Context) ([]model.ObservedContainer, error) {
	ctx = e.ctx(ctx)

	containers, err := e.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: list containers: %w", err)
	}

	observed := make([]model.ObservedContainer, 0, len(containers))
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}

		state := model.ContainerExited
		task, err := c.Task(ctx, nil)
		if err == nil {
			status, err := task.Status(ctx)
			if err == nil {
				switch status.Status {
				case containerd.Running, containerd.Paused:
					state = model.ContainerRunning
				case containerd.Stopped:
					if status.ExitStatus != 0 {
						state = model.ContainerFailed
					} else {
						state = model.ContainerExited
					}
				}
			}
		}

		observed = append(observed, model.ObservedContainer{
			Name:        c.ID(),
			Image:       info.Image,
			State:       state,
			ContainerID: c.ID(),
		})
	}
	return observed, nil
}
