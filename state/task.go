package state

import (
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// Task is the in-memory record of one unit of work. It is created in
// TaskStaging by Executor.AddTask and thereafter only moves forward through
// status updates (I6): reaching a terminal TaskState removes it from the
// owning Executor's launched set, though its updates entry lives on until
// the coordinator ACKs.
type Task struct {
	TaskID      ids.TaskID
	ExecutorID  ids.ExecutorID
	FrameworkID ids.FrameworkID
	State       wire.TaskState
	Statuses    []wire.TaskStatus
	Resources   wire.Resources
}

func newTask(info wire.TaskInfo) *Task {
	return &Task{
		TaskID:      info.TaskID,
		ExecutorID:  info.ExecutorID,
		FrameworkID: info.FrameworkID,
		State:       wire.TaskStaging,
		Resources:   info.Resources,
	}
}

// applyStatus appends a status and advances State; it does not enforce
// terminal-state irreversibility (the caller, Executor.UpdateTaskState, is
// the single place that enforces I6 by removing terminal tasks from
// launched_tasks).
func (t *Task) applyStatus(status wire.TaskStatus) {
	t.Statuses = append(t.Statuses, status)
	t.State = status.State
}
