// Package wire defines the messages exchanged between the coordinator, this
// agent, and the per-framework executors it supervises, plus the resource
// and status-update shapes that get checkpointed to disk. The message shapes
// mirror github.com/mesos/mesos-go/mesosproto's TaskInfo/TaskStatus/
// FrameworkInfo/ExecutorInfo/SlaveInfo family: this agent is the
// coordinator-facing peer of the executor driver the teacher package
// (executor/drivers/mesos) implements as a client.
package wire

import (
	"time"

	"github.com/mesosagent/agentd/ids"
)

// Resources is the quantity of each resource dimension an agent, executor,
// or task holds or requires.
type Resources struct {
	CPUs  float64
	MemMB float64
	DiskMB float64
	Ports []uint32
}

// Add returns the element-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUs:   r.CPUs + other.CPUs,
		MemMB:  r.MemMB + other.MemMB,
		DiskMB: r.DiskMB + other.DiskMB,
		Ports:  append(append([]uint32{}, r.Ports...), other.Ports...),
	}
}

// AgentInfo describes this agent to the coordinator.
type AgentInfo struct {
	AgentID         ids.AgentID
	Hostname        string
	WebUIHostname   string
	Resources       Resources
	Attributes      map[string]string
	CheckpointEnabled bool
}

// FrameworkInfo describes a registered workload producer.
type FrameworkInfo struct {
	FrameworkID       ids.FrameworkID
	User              string
	Name              string
	Pid               string
	CheckpointEnabled bool
	FailoverTimeout   time.Duration
}

// ExecutorInfo describes one executor a framework wants launched.
type ExecutorInfo struct {
	ExecutorID  ids.ExecutorID
	FrameworkID ids.FrameworkID
	Command     string
	Resources   Resources
	Source      string
}

// TaskInfo describes one unit of work a framework wants scheduled.
type TaskInfo struct {
	TaskID      ids.TaskID
	ExecutorID  ids.ExecutorID
	FrameworkID ids.FrameworkID
	Resources   Resources
	Checkpoint  bool
	// Command is the task's own command line. A task with an empty
	// ExecutorID is a "command task": its executor is synthesized at
	// placement time with ExecutorID == TaskID and runs the launcher (see
	// state.Framework.GetExecutorInfo), whether or not Command is set.
	Command string
}

// TaskStatus is the body of a StatusUpdate.
type TaskStatus struct {
	State     TaskState
	Timestamp time.Time
	Source    string
	Reason    string
	Message   string
}

// StatusUpdate is the unit of at-least-once delivery from this agent to the
// coordinator, and the ACK correlation key is UUID.
type StatusUpdate struct {
	FrameworkID ids.FrameworkID
	AgentID     ids.AgentID
	ExecutorID  ids.ExecutorID
	TaskID      ids.TaskID
	UUID        ids.UpdateUUID
	Status      TaskStatus
}

// Coordinator -> Agent messages.

// NewCoordinatorDetected announces a (re)elected coordinator pid.
type NewCoordinatorDetected struct{ Pid string }

// NoCoordinatorDetected announces the agent has lost touch with any coordinator.
type NoCoordinatorDetected struct{}

// AgentRegistered acknowledges RegisterAgent.
type AgentRegistered struct{ AgentID ids.AgentID }

// AgentReregistered acknowledges ReregisterAgent.
type AgentReregistered struct{ AgentID ids.AgentID }

// RunTask instructs the agent to place a task.
type RunTask struct {
	FrameworkInfo  FrameworkInfo
	FrameworkID    ids.FrameworkID
	CoordinatorPid string
	Task           TaskInfo
}

// KillTask instructs the agent to kill a task.
type KillTask struct {
	FrameworkID ids.FrameworkID
	TaskID      ids.TaskID
}

// ShutdownFramework instructs the agent to tear a framework down.
type ShutdownFramework struct{ FrameworkID ids.FrameworkID }

// FrameworkToExecutor relays an opaque payload from framework to executor.
type FrameworkToExecutor struct {
	AgentID     ids.AgentID
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	Data        []byte
}

// UpdateFramework updates the pid the agent should address framework
// messages to.
type UpdateFramework struct {
	FrameworkID ids.FrameworkID
	Pid         string
}

// StatusUpdateAck acknowledges one StatusUpdate.
type StatusUpdateAck struct {
	AgentID     ids.AgentID
	FrameworkID ids.FrameworkID
	TaskID      ids.TaskID
	UUID        ids.UpdateUUID
}

// Shutdown instructs the agent to shut down entirely.
type Shutdown struct{}

// Ping is a liveness probe; the agent replies with Pong.
type Ping struct{}

// Agent -> Coordinator messages.

// RegisterAgent is sent on first contact with a coordinator.
type RegisterAgent struct{ AgentInfo AgentInfo }

// ReregisterAgent is sent after a crash-restart that recovered checkpointed state.
type ReregisterAgent struct {
	AgentID       ids.AgentID
	AgentInfo     AgentInfo
	ExecutorInfos []ExecutorInfo
	Tasks         []TaskInfo
}

// ExitedExecutor reports a non-command executor's termination.
type ExitedExecutor struct {
	AgentID     ids.AgentID
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	ExitStatus  int
}

// ExecutorToFramework relays an opaque payload from executor to framework.
type ExecutorToFramework struct {
	AgentID     ids.AgentID
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	Data        []byte
}

// Pong answers Ping.
type Pong struct{}

// Executor -> Agent messages.

// RegisterExecutor registers a freshly launched executor process.
type RegisterExecutor struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
}

// ReregisterExecutor registers an executor surviving an agent crash.
type ReregisterExecutor struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	Tasks       []TaskInfo
	Updates     []StatusUpdate
}

// Agent -> Executor messages.

// ExecutorRegistered acknowledges RegisterExecutor.
type ExecutorRegistered struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	AgentInfo   AgentInfo
}

// ExecutorReregistered acknowledges ReregisterExecutor.
type ExecutorReregistered struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	AgentInfo   AgentInfo
}

// ShutdownExecutor instructs an executor to terminate all tasks and exit.
type ShutdownExecutor struct{}

// ReconnectExecutor asks a recovered executor to reregister.
type ReconnectExecutor struct{ AgentID ids.AgentID }
