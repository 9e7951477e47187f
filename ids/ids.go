// Package ids defines the opaque identifier types shared across the agent.
package ids

import "github.com/google/uuid"

// AgentID identifies this agent process to the coordinator. Its value comes
// from configuration (or a recovered checkpoint) at boot; no registration
// reply from the coordinator changes it.
type AgentID string

// FrameworkID identifies a workload producer registered with the coordinator.
type FrameworkID string

// ExecutorID identifies one executor run-set within a framework.
type ExecutorID string

// TaskID identifies a unit of work within an executor.
type TaskID string

// RunUUID uniquely tags one executor run; a new run gets a new RunUUID even
// if it reuses the same ExecutorID.
type RunUUID string

// NewRunUUID generates a fresh RunUUID.
func NewRunUUID() RunUUID {
	return RunUUID(uuid.New().String())
}

// UpdateUUID is the ACK correlation key for one status update.
type UpdateUUID string

// NewUpdateUUID generates a fresh UpdateUUID.
func NewUpdateUUID() UpdateUUID {
	return UpdateUUID(uuid.New().String())
}

func (i AgentID) String() string      { return string(i) }
func (i FrameworkID) String() string  { return string(i) }
func (i ExecutorID) String() string   { return string(i) }
func (i TaskID) String() string       { return string(i) }
func (i RunUUID) String() string      { return string(i) }
func (i UpdateUUID) String() string   { return string(i) }
