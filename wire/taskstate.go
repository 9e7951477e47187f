package wire

import "strconv"

// TaskState is the lifecycle state of a Task, mirroring the TaskState enum of
// github.com/mesos/mesos-go/mesosproto that this agent speaks on the wire,
// extended with the additional terminal states this system distinguishes.
type TaskState uint32

// Task states. Order matches the non-terminal-then-terminal grouping used
// throughout the component design.
const (
	TaskStaging TaskState = iota
	TaskStarting
	TaskRunning
	TaskKilling
	TaskFinished
	TaskKilled
	TaskFailed
	TaskLost
	TaskError
	TaskDropped
	TaskGone
	TaskGoneByOperator
	TaskUnreachable
	TaskUnknown
)

func (s TaskState) String() string {
	switch s {
	case TaskStaging:
		return "TASK_STAGING"
	case TaskStarting:
		return "TASK_STARTING"
	case TaskRunning:
		return "TASK_RUNNING"
	case TaskKilling:
		return "TASK_KILLING"
	case TaskFinished:
		return "TASK_FINISHED"
	case TaskKilled:
		return "TASK_KILLED"
	case TaskFailed:
		return "TASK_FAILED"
	case TaskLost:
		return "TASK_LOST"
	case TaskError:
		return "TASK_ERROR"
	case TaskDropped:
		return "TASK_DROPPED"
	case TaskGone:
		return "TASK_GONE"
	case TaskGoneByOperator:
		return "TASK_GONE_BY_OPERATOR"
	case TaskUnreachable:
		return "TASK_UNREACHABLE"
	case TaskUnknown:
		return "TASK_UNKNOWN"
	default:
		return strconv.FormatUint(uint64(s), 10)
	}
}

// IsTerminal reports whether no further transitions occur from this state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskFinished, TaskKilled, TaskFailed, TaskLost, TaskError, TaskDropped,
		TaskGone, TaskGoneByOperator, TaskUnreachable, TaskUnknown:
		return true
	default:
		return false
	}
}
