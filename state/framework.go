package state

import (
	"path/filepath"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// FrameworkState is the lifecycle state of a Framework registration.
// INITIALIZING is reserved per the spec's design notes: the transition
// machinery exists (see FrameworkInitializing below) but nothing in this
// agent ever sets it — new frameworks go straight to RUNNING.
type FrameworkState int

const (
	FrameworkInitializing FrameworkState = iota
	FrameworkRunning
	FrameworkTerminating
)

func (s FrameworkState) String() string {
	switch s {
	case FrameworkInitializing:
		return "INITIALIZING"
	case FrameworkRunning:
		return "RUNNING"
	case FrameworkTerminating:
		return "TERMINATING"
	default:
		return "UNKNOWN"
	}
}

// Framework is the in-memory state of one framework registration: its live
// executors (uniquely owned, I2) and a bounded ring of completed executors
// (I3, P5).
type Framework struct {
	Info  wire.FrameworkInfo
	State FrameworkState

	Executors map[ids.ExecutorID]*Executor
	CompletedExecutors []*Executor

	// Pending holds tasks queued while the framework sits in INITIALIZING.
	// Never populated today (INITIALIZING is never entered) but kept so the
	// transition machinery has somewhere to drain into.
	Pending []wire.TaskInfo

	WorkDir string // <agent work_dir>/frameworks/<framework_id>
}

// NewFramework creates a Framework in RUNNING state, rooted at workDir.
func NewFramework(info wire.FrameworkInfo, agentWorkDir string) *Framework {
	return &Framework{
		Info:      info,
		State:     FrameworkRunning,
		Executors: make(map[ids.ExecutorID]*Executor),
		WorkDir:   filepath.Join(agentWorkDir, "frameworks", string(info.FrameworkID)),
	}
}

// GetExecutorInfo returns the ExecutorInfo a task should run under. If the
// task carries no ExecutorID (a "command task"), one is synthesized: its
// ExecutorID equals the TaskID and its Command is resolvedLauncherPath, or,
// if resolution failed, a shell command that echoes resolveErr to stderr
// and exits 1. The task's own Command field is not used.
func (f *Framework) GetExecutorInfo(task wire.TaskInfo, resolvedLauncherPath string, resolveErr error) wire.ExecutorInfo {
	if task.ExecutorID != "" {
		return wire.ExecutorInfo{
			ExecutorID:  task.ExecutorID,
			FrameworkID: f.Info.FrameworkID,
			Resources:   task.Resources,
		}
	}

	command := resolvedLauncherPath
	if resolveErr != nil {
		command = "echo '" + resolveErr.Error() + "' 1>&2; exit 1"
	}
	return wire.ExecutorInfo{
		ExecutorID:  ids.ExecutorID(task.TaskID),
		FrameworkID: f.Info.FrameworkID,
		Command:     command,
		Resources:   task.Resources,
		Source:      "command-task",
	}
}

// CreateExecutor assigns a fresh RunUUID, creates the work directory layout
// name, and registers the Executor under f.Executors.
func (f *Framework) CreateExecutor(info wire.ExecutorInfo) *Executor {
	runUUID := ids.NewRunUUID()
	workDir := filepath.Join(f.WorkDir, "executors", string(info.ExecutorID), "runs", string(runUUID))
	e := NewExecutor(info, runUUID, workDir, f.Info.CheckpointEnabled)
	f.Executors[info.ExecutorID] = e
	return e
}

// DestroyExecutor moves executorID out of the live map and onto the
// completed ring (I3, P5-bounded).
func (f *Framework) DestroyExecutor(executorID ids.ExecutorID) {
	e, ok := f.Executors[executorID]
	if !ok {
		return
	}
	delete(f.Executors, executorID)
	f.CompletedExecutors = append(f.CompletedExecutors, e)
	if len(f.CompletedExecutors) > MaxCompletedExecutorsPerFramework {
		f.CompletedExecutors = f.CompletedExecutors[len(f.CompletedExecutors)-MaxCompletedExecutorsPerFramework:]
	}
}

// GetExecutor looks up a live executor by id.
func (f *Framework) GetExecutor(executorID ids.ExecutorID) (*Executor, bool) {
	e, ok := f.Executors[executorID]
	return e, ok
}

// GetExecutorForTask searches every live executor's queued, launched, and
// pending-update sets for taskID (C7's "get_executor(TaskId)").
func (f *Framework) GetExecutorForTask(taskID ids.TaskID) (*Executor, bool) {
	for _, e := range f.Executors {
		if e.HasTask(taskID) {
			return e, true
		}
		if _, ok := e.Updates[taskID]; ok {
			return e, true
		}
	}
	return nil, false
}

// HasLiveExecutors reports whether any executor remains in f.Executors (I4 guard).
func (f *Framework) HasLiveExecutors() bool {
	return len(f.Executors) > 0
}
