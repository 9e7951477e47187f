package state

import "time"

// Bounds on the completed-history rings (P5). Named after the spec's K_EX /
// K_FW / K_AG budgets.
const (
	MaxCompletedTasksPerExecutor    = 200
	MaxCompletedExecutorsPerFramework = 150
	MaxCompletedFrameworks          = 50
)

// EXECUTOR_REREGISTER_TIMEOUT bounds how long recovery waits for a recovered
// executor to reregister before giving up on it.
const ExecutorReregisterTimeout = 2 * time.Minute

// Resource defaults applied when a framework omits a dimension.
const (
	DefaultCPUs  = 0.1
	DefaultMemMB = 32.0
	DefaultDiskMB = 0.0
)

// DefaultPorts is the empty port range default.
var DefaultPorts = []uint32{}
