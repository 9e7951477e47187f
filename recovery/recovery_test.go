package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/isolation/mock"
	"github.com/mesosagent/agentd/updates"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSender struct{}

func (noopSender) Send(context.Context, string, wire.StatusUpdate) error { return nil }

func TestRecoverEmptyRootYieldsFreshAgent(t *testing.T) {
	dir := t.TempDir()
	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)

	driver := mock.New()
	updateMgr := updates.New(noopSender{}, store, time.Millisecond, 5*time.Millisecond)

	result, err := Recover(context.Background(), store, layout, driver, updateMgr, Reconnect, true, wire.AgentInfo{AgentID: "agent-1"}, dir)
	require.NoError(t, err)
	assert.Empty(t, result.Agent.Frameworks)
	assert.Len(t, driver.Recovered, 1)
}

func TestRecoverReplaysCheckpointedTree(t *testing.T) {
	dir := t.TempDir()
	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Checkpoint(ctx, layout.AgentInfoPath(), checkpoint.AgentInfoRecord{Info: wire.AgentInfo{AgentID: "agent-1"}}))
	require.NoError(t, store.Checkpoint(ctx, layout.FrameworkInfoPath("fw-1"), checkpoint.FrameworkInfoRecord{Info: wire.FrameworkInfo{FrameworkID: "fw-1"}}))
	require.NoError(t, store.Checkpoint(ctx, layout.ExecutorInfoPath("fw-1", "ex-1"), checkpoint.ExecutorInfoRecord{Info: wire.ExecutorInfo{ExecutorID: "ex-1", FrameworkID: "fw-1"}}))
	require.NoError(t, store.Checkpoint(ctx, layout.TaskInfoPath("fw-1", "ex-1", "run-1", "task-1"), checkpoint.TaskInfoRecord{Info: wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"}}))
	require.NoError(t, store.Checkpoint(ctx, layout.LibprocessPidPath("fw-1", "ex-1", "run-1"), checkpoint.PidRecord{Pid: "libprocess://executor@host:1234"}))
	require.NoError(t, store.AppendUpdate(layout.UpdatesLogPath("fw-1", "ex-1", "run-1", "task-1"), checkpoint.UpdateRecord{Status: wire.TaskStatus{State: wire.TaskRunning}}))
	require.NoError(t, store.UpdateLatestLink(layout.LatestRunLink("fw-1", "ex-1"), "run-1"))

	driver := mock.New()
	updateMgr := updates.New(noopSender{}, store, time.Millisecond, 5*time.Millisecond)

	result, err := Recover(ctx, store, layout, driver, updateMgr, Reconnect, true, wire.AgentInfo{AgentID: "agent-1"}, dir)
	require.NoError(t, err)

	fw, ok := result.Agent.GetFramework("fw-1")
	require.True(t, ok)
	ex, ok := fw.GetExecutor("ex-1")
	require.True(t, ok)
	assert.Equal(t, "libprocess://executor@host:1234", ex.Pid)
	_, hasTask := ex.LaunchedTasks["task-1"]
	assert.True(t, hasTask)
	require.Len(t, result.Reconnected, 1)
	assert.Equal(t, "libprocess://executor@host:1234", result.Reconnected[0].Pid)
}

func TestRecoverRejectsIncompatibleAgentInfoInSafeMode(t *testing.T) {
	dir := t.TempDir()
	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Checkpoint(ctx, layout.AgentInfoPath(), checkpoint.AgentInfoRecord{Info: wire.AgentInfo{AgentID: "agent-OLD"}}))

	driver := mock.New()
	updateMgr := updates.New(noopSender{}, store, time.Millisecond, 5*time.Millisecond)

	_, err = Recover(ctx, store, layout, driver, updateMgr, Reconnect, true, wire.AgentInfo{AgentID: "agent-NEW"}, dir)
	assert.Error(t, err)
}

func TestRecoverCleanupModeSkipsReplay(t *testing.T) {
	dir := t.TempDir()
	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Checkpoint(ctx, layout.AgentInfoPath(), checkpoint.AgentInfoRecord{Info: wire.AgentInfo{AgentID: "agent-OLD"}}))

	driver := mock.New()
	updateMgr := updates.New(noopSender{}, store, time.Millisecond, 5*time.Millisecond)

	result, err := Recover(ctx, store, layout, driver, updateMgr, Cleanup, true, wire.AgentInfo{AgentID: "agent-NEW"}, dir)
	require.NoError(t, err)
	assert.Equal(t, "agent-NEW", string(result.Agent.Info.AgentID))
}
