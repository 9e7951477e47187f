package state

import (
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// Agent is the top-level in-memory state owned by the agent actor (C8):
// its own identity, every live Framework, and the process-wide bounded
// ring of Frameworks that have terminated (I4, P5, K_AG =
// MaxCompletedFrameworks).
type Agent struct {
	Info wire.AgentInfo

	Frameworks          map[ids.FrameworkID]*Framework
	CompletedFrameworks []*Framework

	WorkDir string
	Halting bool
}

// NewAgent creates an Agent with no frameworks yet.
func NewAgent(info wire.AgentInfo, workDir string) *Agent {
	return &Agent{
		Info:       info,
		Frameworks: make(map[ids.FrameworkID]*Framework),
		WorkDir:    workDir,
	}
}

// GetOrCreateFramework returns the live Framework for frameworkID,
// creating one in RUNNING state if none exists yet.
func (a *Agent) GetOrCreateFramework(info wire.FrameworkInfo) *Framework {
	if f, ok := a.Frameworks[info.FrameworkID]; ok {
		return f
	}
	f := NewFramework(info, a.WorkDir)
	a.Frameworks[info.FrameworkID] = f
	return f
}

// GetFramework looks up a live framework by id.
func (a *Agent) GetFramework(frameworkID ids.FrameworkID) (*Framework, bool) {
	f, ok := a.Frameworks[frameworkID]
	return f, ok
}

// RemoveFrameworkIfIdle removes frameworkID from the live map and onto
// the bounded completed ring, if it has no live executors (I4). Returns
// true if the framework was removed.
func (a *Agent) RemoveFrameworkIfIdle(frameworkID ids.FrameworkID) bool {
	f, ok := a.Frameworks[frameworkID]
	if !ok || f.HasLiveExecutors() {
		return false
	}
	delete(a.Frameworks, frameworkID)
	a.CompletedFrameworks = append(a.CompletedFrameworks, f)
	if len(a.CompletedFrameworks) > MaxCompletedFrameworks {
		a.CompletedFrameworks = a.CompletedFrameworks[len(a.CompletedFrameworks)-MaxCompletedFrameworks:]
	}
	return true
}

// AllFrameworksTerminated reports whether every live framework is in the
// TERMINATING state (used by the "cleanup" agent mode's shutdown check).
func (a *Agent) AllFrameworksTerminated() bool {
	for _, f := range a.Frameworks {
		if f.State != FrameworkTerminating {
			return false
		}
	}
	return true
}
