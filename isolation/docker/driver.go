// Package docker implements isolation.Driver against the Docker Engine
// API, grounded on the teacher's executor/runtime package (container
// lifecycle calls) and its reaper package (listing/inspecting containers
// by label, the exact mechanism this driver's Recover uses).
package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/models"
	"github.com/mesosagent/agentd/wire"
)

// Driver is the production isolation.Driver. One container per executor
// run; the container's entrypoint is the executor's Command.
type Driver struct {
	client dockerclient.CommonAPIClient

	mu        sync.Mutex
	callbacks isolation.Callbacks
	// containers maps "frameworkID/executorID" to the docker container id
	// launched for it, so KillExecutor and ResourcesChanged don't need to
	// re-query the daemon by label on every call.
	containers map[string]string

	reapInterval time.Duration
	cancelReap   context.CancelFunc
}

// New creates a Driver against an already-constructed docker client,
// mirroring the teacher's pattern of taking a *client.Client built once at
// startup (see executor/runtime/docker) rather than dialing per call.
func New(client dockerclient.CommonAPIClient, reapInterval time.Duration) *Driver {
	return &Driver{
		client:       client,
		containers:   make(map[string]string),
		reapInterval: reapInterval,
	}
}

func (d *Driver) Initialize(ctx context.Context, _ wire.Resources, _ bool, _ string, callbacks isolation.Callbacks) error {
	d.mu.Lock()
	d.callbacks = callbacks
	d.mu.Unlock()

	reapCtx, cancel := context.WithCancel(ctx)
	d.cancelReap = cancel
	go d.reapLoop(reapCtx)
	return nil
}

func (d *Driver) LaunchExecutor(ctx context.Context, agentID ids.AgentID, frameworkID ids.FrameworkID, _ wire.FrameworkInfo, executorInfo wire.ExecutorInfo, runUUID ids.RunUUID, workDir string, resources wire.Resources) error {
	labels := map[string]string{
		models.AgentIDLabel:      string(agentID),
		models.FrameworkIDLabel:  string(frameworkID),
		models.ExecutorIDLabel:   string(executorInfo.ExecutorID),
		models.RunUUIDLabel:      string(runUUID),
	}

	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Entrypoint: []string{"/bin/sh", "-c", executorInfo.Command},
		Labels:     labels,
	}, &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(resources.CPUs * 1e9),
			Memory:   int64(resources.MemMB) * 1024 * 1024,
		},
		Binds: []string{workDir + ":" + workDir},
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("launching executor %s: %w", executorInfo.ExecutorID, err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("starting executor %s: %w", executorInfo.ExecutorID, err)
	}

	d.mu.Lock()
	d.containers[key(frameworkID, executorInfo.ExecutorID)] = resp.ID
	d.mu.Unlock()

	go d.waitForExit(context.Background(), frameworkID, executorInfo.ExecutorID, resp.ID)
	return nil
}

func (d *Driver) waitForExit(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, containerID string) {
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		d.mu.Lock()
		delete(d.containers, key(frameworkID, executorID))
		cb := d.callbacks
		d.mu.Unlock()
		if cb != nil {
			errMsg := ""
			if status.Error != nil {
				errMsg = status.Error.Message
			}
			cb.ExecutorTerminated(frameworkID, executorID, int(status.StatusCode), false, errMsg)
		}
	case err := <-errCh:
		logger.G(ctx).WithError(err).Warn("error waiting on executor container")
	}
}

func (d *Driver) ResourcesChanged(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, resources wire.Resources) error {
	containerID, ok := d.lookupContainer(frameworkID, executorID)
	if !ok {
		return &agenterrors.UnknownExecutor{ExecutorID: string(executorID)}
	}
	memBytes := int64(resources.MemMB) * 1024 * 1024
	nanoCPUs := int64(resources.CPUs * 1e9)
	_, err := d.client.ContainerUpdate(ctx, containerID, container.UpdateConfig{
		Resources: container.Resources{Memory: memBytes, NanoCPUs: nanoCPUs},
	})
	return err
}

func (d *Driver) KillExecutor(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID) error {
	containerID, ok := d.lookupContainer(frameworkID, executorID)
	if !ok {
		return nil
	}
	timeout := 10 * time.Second
	if err := d.client.ContainerStop(ctx, containerID, &timeout); err != nil {
		return fmt.Errorf("stopping executor %s: %w", executorID, err)
	}
	return nil
}

func (d *Driver) Recover(ctx context.Context, state *isolation.RecoveredIsolationState) error {
	containers, err := d.listOwnedContainers(ctx)
	if err != nil {
		return err
	}

	live := make(map[string]bool)
	if state != nil {
		for _, ref := range state.Executors {
			live[key(ref.FrameworkID, ref.ExecutorID)] = true
		}
	}

	for _, c := range containers {
		frameworkID := ids.FrameworkID(c.Labels[models.FrameworkIDLabel])
		executorID := ids.ExecutorID(c.Labels[models.ExecutorIDLabel])
		k := key(frameworkID, executorID)
		if live[k] {
			d.mu.Lock()
			d.containers[k] = c.ID
			d.mu.Unlock()
			continue
		}
		// Not part of recovered state (or state is nil, meaning no
		// checkpoint was found at all): this is a stale isolate from a
		// previous agent lifetime. Sweep it.
		timeout := 10 * time.Second
		_ = d.client.ContainerStop(ctx, c.ID, &timeout)
		_ = d.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	}
	return nil
}

func (d *Driver) Terminate(ctx context.Context) error {
	if d.cancelReap != nil {
		d.cancelReap()
	}
	return nil
}

// reapLoop is the second line of defense described in SPEC_FULL.md §4.5:
// an independent periodic sweep against the Docker API for containers
// carrying this agent's labels but no longer tracked in d.containers,
// catching leaks from a crash window between ExecutorTerminated and GC.
func (d *Driver) reapLoop(ctx context.Context) {
	if d.reapInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOnce(ctx)
		}
	}
}

func (d *Driver) reapOnce(ctx context.Context) {
	containers, err := d.listOwnedContainers(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("reap: failed to list containers")
		return
	}
	d.mu.Lock()
	tracked := make(map[string]bool, len(d.containers))
	for _, id := range d.containers {
		tracked[id] = true
	}
	d.mu.Unlock()

	for _, c := range containers {
		if tracked[c.ID] {
			continue
		}
		if time.Since(time.Unix(c.Created, 0)) < 5*time.Minute {
			continue // give a freshly-created, not-yet-tracked container time to register
		}
		logger.G(ctx).WithField("container", c.ID).Info("reap: removing untracked container")
		timeout := 10 * time.Second
		_ = d.client.ContainerStop(ctx, c.ID, &timeout)
		_ = d.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	}
}

func (d *Driver) listOwnedContainers(ctx context.Context) ([]types.Container, error) {
	f := filters.NewArgs()
	f.Add("label", models.AgentIDLabel)
	return d.client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f})
}

func (d *Driver) lookupContainer(frameworkID ids.FrameworkID, executorID ids.ExecutorID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.containers[key(frameworkID, executorID)]
	return id, ok
}

func key(frameworkID ids.FrameworkID, executorID ids.ExecutorID) string {
	return string(frameworkID) + "/" + string(executorID)
}

var _ isolation.Driver = (*Driver)(nil)
