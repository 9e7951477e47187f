// Package mock implements a test double for isolation.Driver: an in-memory
// fake that records every call it receives and lets tests drive
// termination callbacks synchronously, instead of talking to a real
// container runtime. Grounded on the teacher's executor/mock package,
// which plays the same "fake executor, recorded calls, synthetic
// completions" role for its own executor/runner.Runner test harness.
package mock

import (
	"context"
	"sync"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation"
	"github.com/mesosagent/agentd/wire"
)

// LaunchCall records one LaunchExecutor invocation.
type LaunchCall struct {
	AgentID       ids.AgentID
	FrameworkID   ids.FrameworkID
	FrameworkInfo wire.FrameworkInfo
	ExecutorInfo  wire.ExecutorInfo
	RunUUID       ids.RunUUID
	WorkDir       string
	Resources     wire.Resources
}

// Driver is a fully in-memory isolation.Driver. FailLaunch, if set, is
// returned by every LaunchExecutor call instead of recording it.
type Driver struct {
	mu sync.Mutex

	callbacks isolation.Callbacks

	Launches      []LaunchCall
	Killed        map[string]bool // "frameworkID/executorID"
	ResourceCalls []wire.Resources
	Terminated    bool
	Recovered     []*isolation.RecoveredIsolationState

	FailLaunch error
	FailKill   error
}

// New creates an empty mock Driver.
func New() *Driver {
	return &Driver{Killed: make(map[string]bool)}
}

func (d *Driver) Initialize(_ context.Context, _ wire.Resources, _ bool, _ string, callbacks isolation.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = callbacks
	return nil
}

func (d *Driver) LaunchExecutor(_ context.Context, agentID ids.AgentID, frameworkID ids.FrameworkID, frameworkInfo wire.FrameworkInfo, executorInfo wire.ExecutorInfo, runUUID ids.RunUUID, workDir string, resources wire.Resources) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailLaunch != nil {
		return d.FailLaunch
	}
	d.Launches = append(d.Launches, LaunchCall{
		AgentID: agentID, FrameworkID: frameworkID, FrameworkInfo: frameworkInfo,
		ExecutorInfo: executorInfo, RunUUID: runUUID, WorkDir: workDir, Resources: resources,
	})
	return nil
}

func (d *Driver) ResourcesChanged(_ context.Context, _ ids.FrameworkID, _ ids.ExecutorID, resources wire.Resources) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResourceCalls = append(d.ResourceCalls, resources)
	return nil
}

func (d *Driver) KillExecutor(_ context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailKill != nil {
		return d.FailKill
	}
	d.Killed[key(frameworkID, executorID)] = true
	return nil
}

func (d *Driver) Recover(_ context.Context, state *isolation.RecoveredIsolationState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Recovered = append(d.Recovered, state)
	return nil
}

func (d *Driver) Terminate(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Terminated = true
	return nil
}

// SimulateTermination lets a test drive the ExecutorTerminated callback as
// if the real process/container had exited.
func (d *Driver) SimulateTermination(frameworkID ids.FrameworkID, executorID ids.ExecutorID, exitStatus int, destroyed bool, message string) {
	d.mu.Lock()
	cb := d.callbacks
	d.mu.Unlock()
	if cb != nil {
		cb.ExecutorTerminated(frameworkID, executorID, exitStatus, destroyed, message)
	}
}

// WasKilled reports whether KillExecutor was called for (frameworkID, executorID).
func (d *Driver) WasKilled(frameworkID ids.FrameworkID, executorID ids.ExecutorID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Killed[key(frameworkID, executorID)]
}

func key(frameworkID ids.FrameworkID, executorID ids.ExecutorID) string {
	return string(frameworkID) + "/" + string(executorID)
}

var _ isolation.Driver = (*Driver)(nil)
