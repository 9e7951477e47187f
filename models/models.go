// Package models holds the container label keys the docker isolation
// driver stamps onto every container it launches, and that the same
// driver's Recover and reaper sweep read back to recognize containers this
// agent owns.
// Adapted from the teacher's models package, which plays the identical
// role for its own container labeling scheme.
package models

const (
	// AgentIDLabel carries the owning agent's id.
	AgentIDLabel = "agentd.agent_id"
	// FrameworkIDLabel carries the owning framework's id.
	FrameworkIDLabel = "agentd.framework_id"
	// ExecutorIDLabel carries the executor's id.
	ExecutorIDLabel = "agentd.executor_id"
	// RunUUIDLabel carries the run uuid of the executor that launched the container.
	RunUUIDLabel = "agentd.run_uuid"
)
