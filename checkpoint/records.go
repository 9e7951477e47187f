package checkpoint

import "github.com/mesosagent/agentd/wire"

// These are the record bodies written to the paths computed by Layout.
// Each is JSON-encoded independently; the file name (via Layout) carries
// the record kind, so no envelope/tag is needed on the wire.

// AgentInfoRecord is the body of slave.info.
type AgentInfoRecord struct {
	Info wire.AgentInfo `json:"info"`
}

// FrameworkInfoRecord is the body of framework.info.
type FrameworkInfoRecord struct {
	Info wire.FrameworkInfo `json:"info"`
}

// FrameworkPidRecord is the body of framework.pid.
type FrameworkPidRecord struct {
	Pid string `json:"pid"`
}

// ExecutorInfoRecord is the body of executor.info.
type ExecutorInfoRecord struct {
	Info wire.ExecutorInfo `json:"info"`
}

// PidRecord is the body of libprocess.pid / forked.pid.
type PidRecord struct {
	Pid string `json:"pid"`
}

// TaskInfoRecord is the body of task.info.
type TaskInfoRecord struct {
	Info wire.TaskInfo `json:"info"`
}

// UpdateRecord is one line appended to a task's updates log.
type UpdateRecord struct {
	Status wire.TaskStatus `json:"status"`
}
