// Package isolation defines the abstract contract the Agent Actor (C8)
// uses to launch, resource-adjust, kill, and recover executor processes
// (C3), plus the concrete drivers: docker (production) and mock (tests).
package isolation

import (
	"context"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// Callbacks is the set of events a Driver reports back to its owner. The
// Agent Actor implements it; tests can substitute a recording stub.
type Callbacks interface {
	ExecutorTerminated(frameworkID ids.FrameworkID, executorID ids.ExecutorID, exitStatus int, destroyed bool, message string)
}

// Driver is the polymorphic capability spec.md §4.3 describes: a process
// isolation layer the agent dispatches to and receives termination
// callbacks from. Every method returns once the operation has been
// dispatched, not once it has completed — completion arrives later via
// Callbacks.ExecutorTerminated or is synchronous where the spec allows it
// (Initialize, Terminate).
type Driver interface {
	// Initialize wires the driver to its owning agent's resources and pid,
	// and to the Callbacks it should report terminations to.
	Initialize(ctx context.Context, agentResources wire.Resources, local bool, agentPid string, callbacks Callbacks) error

	// LaunchExecutor starts one executor run under workDir with resources.
	LaunchExecutor(ctx context.Context, agentID ids.AgentID, frameworkID ids.FrameworkID, frameworkInfo wire.FrameworkInfo, executorInfo wire.ExecutorInfo, runUUID ids.RunUUID, workDir string, resources wire.Resources) error

	// ResourcesChanged informs the driver of a new aggregate resource
	// allotment for a running executor (e.g. cgroup limits).
	ResourcesChanged(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, resources wire.Resources) error

	// KillExecutor asks the driver to terminate an executor run.
	KillExecutor(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID) error

	// Recover reconciles the driver's live processes against recovered
	// agent state. A nil state means "no checkpointed state was found":
	// sweep and kill anything this driver can see that looks like a stale
	// isolate from a previous agent lifetime.
	Recover(ctx context.Context, state *RecoveredIsolationState) error

	// Terminate shuts the driver down. Called at most once, from agent
	// shutdown, and only when no frameworks remain at that moment.
	Terminate(ctx context.Context) error
}

// RecoveredIsolationState is the subset of checkpoint.RecoveredState a
// Driver needs to reconcile live processes against: which (framework,
// executor, run) tuples the agent believes are still live, and the pid it
// last knew for each.
type RecoveredIsolationState struct {
	Executors []RecoveredExecutorRef
}

// RecoveredExecutorRef names one executor run the agent wants the driver
// to reconcile against its own process/container view.
type RecoveredExecutorRef struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	RunUUID     ids.RunUUID
	Pid         string
}
