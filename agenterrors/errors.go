// Package agenterrors defines the typed error kinds the agent distinguishes,
// per the propagation policy: fatal kinds abort the process, the rest are
// logged and counted. Modeled on the teacher's use of small sentinel error
// types (see cache.PreResolveError / PostResolveError) generalized into a
// single per-kind type set instead of one-off wrapper types.
package agenterrors

import "fmt"

// CheckpointIOError wraps a failed checkpoint write or atomic rename. Fatal.
type CheckpointIOError struct {
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint write to %s failed: %v", e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error { return e.Err }

// RecoveryParseError wraps a corrupt checkpoint record found during recovery. Fatal.
type RecoveryParseError struct {
	Path string
	Err  error
}

func (e *RecoveryParseError) Error() string {
	return fmt.Sprintf("corrupt checkpoint record at %s: %v", e.Path, e.Err)
}

func (e *RecoveryParseError) Unwrap() error { return e.Err }

// IncompatibleAgentInfo is returned when a reconnect-mode recovery finds a
// checkpointed AgentInfo that does not match the agent's current
// configuration. Fatal, carries an upgrade hint.
type IncompatibleAgentInfo struct {
	Reason string
}

func (e *IncompatibleAgentInfo) Error() string {
	return fmt.Sprintf("recovered agent info is incompatible with current configuration: %s; "+
		"if this is expected (e.g. an agent resource change), restart with --recover=cleanup "+
		"or --safe=false", e.Reason)
}

// AckOutOfOrder is returned when an acknowledgement's uuid does not match the
// head of its stream. Logged and dropped; the update is retried.
type AckOutOfOrder struct {
	Expected string
	Got      string
}

func (e *AckOutOfOrder) Error() string {
	return fmt.Sprintf("ack out of order: expected uuid %s, got %s", e.Expected, e.Got)
}

// UnknownFramework is returned when a message names a framework the agent
// has no record of.
type UnknownFramework struct {
	FrameworkID string
}

func (e *UnknownFramework) Error() string {
	return fmt.Sprintf("unknown framework %s", e.FrameworkID)
}

// UnknownExecutor is returned when a message names an executor the agent
// has no record of.
type UnknownExecutor struct {
	ExecutorID string
}

func (e *UnknownExecutor) Error() string {
	return fmt.Sprintf("unknown executor %s", e.ExecutorID)
}

// ExecutorNotRunning is returned when a message is routed to an executor
// still in REGISTERING state.
type ExecutorNotRunning struct {
	ExecutorID string
}

func (e *ExecutorNotRunning) Error() string {
	return fmt.Sprintf("executor %s is not yet running", e.ExecutorID)
}

// StaleTimer is returned when a timer fires for a run_uuid that is no longer
// current. Silently ignored by callers.
type StaleTimer struct {
	RunUUID string
}

func (e *StaleTimer) Error() string {
	return fmt.Sprintf("stale timer for run %s", e.RunUUID)
}

// FilesystemSampleError wraps a disk usage sampling failure. Logged, loop reschedules.
type FilesystemSampleError struct {
	Path string
	Err  error
}

func (e *FilesystemSampleError) Error() string {
	return fmt.Sprintf("failed to sample disk usage at %s: %v", e.Path, e.Err)
}

func (e *FilesystemSampleError) Unwrap() error { return e.Err }
