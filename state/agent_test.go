package state

import (
	"fmt"
	"testing"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/assert"
)

func TestRemoveFrameworkIfIdleRequiresNoLiveExecutors(t *testing.T) {
	a := NewAgent(wire.AgentInfo{AgentID: "agent-1"}, "/var/lib/agent")
	f := a.GetOrCreateFramework(wire.FrameworkInfo{FrameworkID: "fw-1"})
	f.CreateExecutor(wire.ExecutorInfo{ExecutorID: "ex-1"})

	assert.False(t, a.RemoveFrameworkIfIdle("fw-1"), "framework with a live executor must not be removed")

	f.DestroyExecutor("ex-1")
	assert.True(t, a.RemoveFrameworkIfIdle("fw-1"), "I4: idle framework is removed")
	_, ok := a.GetFramework("fw-1")
	assert.False(t, ok)
	assert.Len(t, a.CompletedFrameworks, 1)
}

func TestCompletedFrameworksRingBounded(t *testing.T) {
	a := NewAgent(wire.AgentInfo{AgentID: "agent-1"}, "/var/lib/agent")
	for i := 0; i < MaxCompletedFrameworks+5; i++ {
		fwID := ids.FrameworkID(fmt.Sprintf("fw-%d", i))
		a.GetOrCreateFramework(wire.FrameworkInfo{FrameworkID: fwID})
		a.RemoveFrameworkIfIdle(fwID)
	}
	assert.LessOrEqual(t, len(a.CompletedFrameworks), MaxCompletedFrameworks)
}
