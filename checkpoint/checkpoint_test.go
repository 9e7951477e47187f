package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *Layout) {
	t.Helper()
	dir, err := os.MkdirTemp("", "agentd-checkpoint-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	layout := NewLayout(dir, "agent-1")
	store, err := NewStore(layout)
	require.NoError(t, err)
	return store, layout
}

func TestCheckpointRoundTrip(t *testing.T) {
	store, layout := newTestStore(t)
	ctx := context.Background()

	want := AgentInfoRecord{Info: wire.AgentInfo{AgentID: "agent-1", Hostname: "host-1"}}
	require.NoError(t, store.Checkpoint(ctx, layout.AgentInfoPath(), want))

	var got AgentInfoRecord
	require.NoError(t, store.ReadInto(layout.AgentInfoPath(), &got))
	assert.Equal(t, want, got)
}

func TestAppendUpdatePreservesOrder(t *testing.T) {
	store, layout := newTestStore(t)
	path := layout.UpdatesLogPath("fw-1", "ex-1", "run-1", "task-1")

	require.NoError(t, store.AppendUpdate(path, UpdateRecord{Status: wire.TaskStatus{State: wire.TaskStaging}}))
	require.NoError(t, store.AppendUpdate(path, UpdateRecord{Status: wire.TaskStatus{State: wire.TaskRunning}}))
	require.NoError(t, store.AppendUpdate(path, UpdateRecord{Status: wire.TaskStatus{State: wire.TaskFinished}}))

	recs, err := store.ReadUpdates(path)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, wire.TaskStaging, recs[0].Status.State)
	assert.Equal(t, wire.TaskRunning, recs[1].Status.State)
	assert.Equal(t, wire.TaskFinished, recs[2].Status.State)
}

func TestReadUpdatesOnMissingFileIsEmptyNotError(t *testing.T) {
	store, layout := newTestStore(t)
	recs, err := store.ReadUpdates(layout.UpdatesLogPath("fw-1", "ex-1", "run-1", "no-such-task"))
	assert.NoError(t, err)
	assert.Nil(t, recs)
}

func TestRecoverEmptyRootIsNotAnError(t *testing.T) {
	store, layout := newTestStore(t)
	state, err := Recover(store, layout)
	require.NoError(t, err)
	assert.False(t, state.HasAgentInfo)
	assert.Empty(t, state.Frameworks)
}

func TestRecoverWalksFullTree(t *testing.T) {
	store, layout := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Checkpoint(ctx, layout.AgentInfoPath(),
		AgentInfoRecord{Info: wire.AgentInfo{AgentID: "agent-1"}}))

	fwID := ids.FrameworkID("fw-1")
	exID := ids.ExecutorID("ex-1")
	runID := ids.RunUUID("run-1")
	taskID := ids.TaskID("task-1")

	require.NoError(t, store.Checkpoint(ctx, layout.FrameworkInfoPath(fwID),
		FrameworkInfoRecord{Info: wire.FrameworkInfo{FrameworkID: fwID}}))
	require.NoError(t, store.Checkpoint(ctx, layout.ExecutorInfoPath(fwID, exID),
		ExecutorInfoRecord{Info: wire.ExecutorInfo{ExecutorID: exID, FrameworkID: fwID}}))
	require.NoError(t, store.Checkpoint(ctx, layout.TaskInfoPath(fwID, exID, runID, taskID),
		TaskInfoRecord{Info: wire.TaskInfo{TaskID: taskID, ExecutorID: exID, FrameworkID: fwID}}))
	require.NoError(t, store.AppendUpdate(layout.UpdatesLogPath(fwID, exID, runID, taskID),
		UpdateRecord{Status: wire.TaskStatus{State: wire.TaskRunning}}))

	runDir := filepath.Join(layout.Root, "slaves", "agent-1", "frameworks", string(fwID),
		"executors", string(exID), "runs", string(runID))
	require.NoError(t, store.UpdateLatestLink(layout.LatestRunLink(fwID, exID), runDir))

	state, err := Recover(store, layout)
	require.NoError(t, err)
	assert.True(t, state.HasAgentInfo)

	fw, ok := state.Frameworks[fwID]
	require.True(t, ok)
	ex, ok := fw.Executors[exID]
	require.True(t, ok)
	require.NotNil(t, ex.LatestRun)
	assert.Empty(t, ex.OtherRuns)
	require.Len(t, ex.LatestRun.Tasks, 1)
	assert.Equal(t, taskID, ex.LatestRun.Tasks[0].Info.TaskID)
	require.Len(t, ex.LatestRun.Tasks[0].Updates, 1)
	assert.Equal(t, wire.TaskRunning, ex.LatestRun.Tasks[0].Updates[0].State)
}
