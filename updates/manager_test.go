package updates

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu  sync.Mutex
	got []wire.StatusUpdate
}

func (r *recordingSender) Send(_ context.Context, _ string, update wire.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, update)
	return nil
}

func (r *recordingSender) sent() []wire.StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.StatusUpdate, len(r.got))
	copy(out, r.got)
	return out
}

func newTestManager(t *testing.T, sender Sender) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "agentd-updates-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)
	return New(sender, store, 10*time.Millisecond, 50*time.Millisecond)
}

func TestUpdateRetriesUntilAcked(t *testing.T) {
	sender := &recordingSender{}
	m := newTestManager(t, sender)
	m.NewCoordinator("coordinator-1")

	u := wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "uuid-1", Status: wire.TaskStatus{State: wire.TaskRunning}}
	require.NoError(t, m.Update(context.Background(), u, false, ""))

	require.Eventually(t, func() bool { return len(sender.sent()) >= 2 }, time.Second, 5*time.Millisecond,
		"update must be retried while unacked")

	require.NoError(t, m.Acknowledgement("fw-1", "task-1", "uuid-1"))
	assert.Equal(t, 0, m.Pending("fw-1", "task-1"))
}

func TestAcknowledgementOutOfOrderIsRejected(t *testing.T) {
	m := newTestManager(t, &recordingSender{})
	u := wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "uuid-1"}
	require.NoError(t, m.Update(context.Background(), u, false, ""))

	err := m.Acknowledgement("fw-1", "task-1", "wrong-uuid")
	assert.Error(t, err)
	assert.Equal(t, 1, m.Pending("fw-1", "task-1"))
}

func TestFIFOOrderWithinOneTask(t *testing.T) {
	sender := &recordingSender{}
	m := newTestManager(t, sender)
	m.NewCoordinator("coordinator-1")

	u1 := wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "uuid-1"}
	u2 := wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "uuid-2"}
	require.NoError(t, m.Update(context.Background(), u1, false, ""))
	require.NoError(t, m.Update(context.Background(), u2, false, ""))

	require.Eventually(t, func() bool { return len(sender.sent()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "uuid-1", string(sender.sent()[0].UUID), "head of stream is always uuid-1 until acked")

	require.NoError(t, m.Acknowledgement("fw-1", "task-1", "uuid-1"))
	require.Eventually(t, func() bool {
		sent := sender.sent()
		return len(sent) > 0 && string(sent[len(sent)-1].UUID) == "uuid-2"
	}, time.Second, 5*time.Millisecond)
}

func TestCleanupDropsFrameworkStreams(t *testing.T) {
	m := newTestManager(t, &recordingSender{})
	require.NoError(t, m.Update(context.Background(), wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "u1"}, false, ""))
	m.Cleanup("fw-1")
	assert.Equal(t, 0, m.Pending("fw-1", "task-1"))
}

func TestUpdateAppendsToCheckpointLogWhenEnabled(t *testing.T) {
	sender := &recordingSender{}
	m := newTestManager(t, sender)

	dir, err := os.MkdirTemp("", "agentd-updates-log-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := dir + "/updates"

	u := wire.StatusUpdate{FrameworkID: "fw-1", TaskID: "task-1", UUID: "uuid-1", Status: wire.TaskStatus{State: wire.TaskStaging}}
	require.NoError(t, m.Update(context.Background(), u, true, path))

	recs, err := m.store.ReadUpdates(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, wire.TaskStaging, recs[0].Status.State)
}
