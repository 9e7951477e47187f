package state

import (
	"fmt"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// ExecutorState is the lifecycle state of one Executor run.
type ExecutorState int

const (
	ExecutorRegistering ExecutorState = iota
	ExecutorRunning
	ExecutorTerminating
	ExecutorTerminated
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorRegistering:
		return "REGISTERING"
	case ExecutorRunning:
		return "RUNNING"
	case ExecutorTerminating:
		return "TERMINATING"
	case ExecutorTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Executor is the in-memory state machine for one executor run: its queued
// and launched tasks, its completed-task ring, and the set of status-update
// uuids still awaiting coordinator ACK.
type Executor struct {
	Info      wire.ExecutorInfo
	RunUUID   ids.RunUUID
	WorkDir   string
	Pid       string // empty means "no pid" (I7: non-empty iff state in {RUNNING, TERMINATING})
	State     ExecutorState

	QueuedTasks  map[ids.TaskID]*Task
	LaunchedTasks map[ids.TaskID]*Task
	CompletedTasks []*Task // bounded ring, oldest evicted first (I3/P5)

	// Updates tracks, per task, the set of StatusUpdate uuids this executor
	// has contributed that are still awaiting coordinator ACK.
	Updates map[ids.TaskID]map[ids.UpdateUUID]struct{}

	CheckpointEnabled bool

	// AggregateResources caches Info.Resources plus the sum of
	// LaunchedTasks resources (I5); recomputed on every AddTask/RemoveTask.
	AggregateResources wire.Resources
}

// NewExecutor creates a fresh Executor in REGISTERING state (§3 lifecycle).
func NewExecutor(info wire.ExecutorInfo, runUUID ids.RunUUID, workDir string, checkpointEnabled bool) *Executor {
	e := &Executor{
		Info:              info,
		RunUUID:           runUUID,
		WorkDir:           workDir,
		State:             ExecutorRegistering,
		QueuedTasks:       make(map[ids.TaskID]*Task),
		LaunchedTasks:     make(map[ids.TaskID]*Task),
		Updates:           make(map[ids.TaskID]map[ids.UpdateUUID]struct{}),
		CheckpointEnabled: checkpointEnabled,
	}
	e.AggregateResources = info.Resources
	return e
}

// HasTask reports whether taskID is already queued or launched (I1 guard).
func (e *Executor) HasTask(taskID ids.TaskID) bool {
	if _, ok := e.QueuedTasks[taskID]; ok {
		return true
	}
	_, ok := e.LaunchedTasks[taskID]
	return ok
}

// AddTask enforces I1 (no duplicate ids across queued+launched) and adds the
// task directly to LaunchedTasks, updating AggregateResources per I5. The
// agent actor is responsible for routing newly-placed tasks through
// QueuedTasks first while the executor is still REGISTERING (§4.8).
func (e *Executor) AddTask(info wire.TaskInfo) (*Task, error) {
	if e.HasTask(info.TaskID) {
		return nil, fmt.Errorf("task %s already present on executor %s", info.TaskID, e.Info.ExecutorID)
	}
	t := newTask(info)
	e.LaunchedTasks[t.TaskID] = t
	e.AggregateResources = e.AggregateResources.Add(t.Resources)
	return t, nil
}

// Enqueue places a task in QueuedTasks without affecting resource accounting
// (queued tasks are not yet running and are accounted for only once they
// move into LaunchedTasks via FlushQueued).
func (e *Executor) Enqueue(info wire.TaskInfo) *Task {
	t := newTask(info)
	e.QueuedTasks[t.TaskID] = t
	return t
}

// FlushQueued moves every queued task into LaunchedTasks (I5 accounting
// applied per task) and returns them in no particular order, then clears
// QueuedTasks. Called once the executor finishes REGISTERING.
func (e *Executor) FlushQueued() []*Task {
	flushed := make([]*Task, 0, len(e.QueuedTasks))
	for id, t := range e.QueuedTasks {
		e.LaunchedTasks[id] = t
		e.AggregateResources = e.AggregateResources.Add(t.Resources)
		flushed = append(flushed, t)
	}
	e.QueuedTasks = make(map[ids.TaskID]*Task)
	return flushed
}

// RemoveTask drops taskID from queued or launched, pushes it onto the
// completed ring (I3 scoped to tasks, P5-bounded), and updates
// AggregateResources per I5. Returns the removed task, or nil if not found.
func (e *Executor) RemoveTask(taskID ids.TaskID) *Task {
	if t, ok := e.QueuedTasks[taskID]; ok {
		delete(e.QueuedTasks, taskID)
		e.pushCompleted(t)
		return t
	}
	t, ok := e.LaunchedTasks[taskID]
	if !ok {
		return nil
	}
	delete(e.LaunchedTasks, taskID)
	e.AggregateResources.CPUs -= t.Resources.CPUs
	e.AggregateResources.MemMB -= t.Resources.MemMB
	e.AggregateResources.DiskMB -= t.Resources.DiskMB
	e.pushCompleted(t)
	return t
}

func (e *Executor) pushCompleted(t *Task) {
	e.CompletedTasks = append(e.CompletedTasks, t)
	if len(e.CompletedTasks) > MaxCompletedTasksPerExecutor {
		e.CompletedTasks = e.CompletedTasks[len(e.CompletedTasks)-MaxCompletedTasksPerExecutor:]
	}
}

// UpdateTaskState applies a status update to a launched or queued task and,
// if the new state is terminal, removes it from LaunchedTasks per I6. It
// returns the task (possibly already removed from Launched) or nil if
// taskID is unknown.
func (e *Executor) UpdateTaskState(taskID ids.TaskID, status wire.TaskStatus) *Task {
	t, ok := e.LaunchedTasks[taskID]
	if !ok {
		t, ok = e.QueuedTasks[taskID]
		if !ok {
			return nil
		}
	}
	t.applyStatus(status)
	if status.State.IsTerminal() {
		e.RemoveTask(taskID)
	}
	return t
}

// SetPid transitions the executor to RUNNING and records its pid, enforcing
// I7 (pid present iff RUNNING or TERMINATING).
func (e *Executor) SetPid(pid string) {
	e.Pid = pid
	e.State = ExecutorRunning
}

// BeginTerminating transitions to TERMINATING; pid (if any) is retained (I7).
func (e *Executor) BeginTerminating() {
	e.State = ExecutorTerminating
}

// MarkTerminated transitions to TERMINATED and clears pid, since TERMINATED
// is not in {RUNNING, TERMINATING} (I7).
func (e *Executor) MarkTerminated() {
	e.State = ExecutorTerminated
	e.Pid = ""
}

// Removable reports I3: a TERMINATED executor with no pending ACKs is
// eligible for removal into the owning Framework's completed ring.
func (e *Executor) Removable() bool {
	if e.State != ExecutorTerminated {
		return false
	}
	for _, pending := range e.Updates {
		if len(pending) > 0 {
			return false
		}
	}
	return true
}

// ShouldCheckpointTask reports whether the executor has checkpointing
// enabled; actual I/O is done by the caller (the agent actor) through the
// checkpoint store — this method only gates on the flag so
// callers have one place to check before paying for a write.
func (e *Executor) ShouldCheckpointTask() bool {
	return e.CheckpointEnabled
}
