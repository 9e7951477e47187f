package agent

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/config"
	"github.com/mesosagent/agentd/gc"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation/mock"
	"github.com/mesosagent/agentd/recovery"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/updates"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu          sync.Mutex
	toCoord     []interface{}
	toExecutor  []interface{}
}

func (f *fakeTransport) SendToCoordinator(_ context.Context, _ string, msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toCoord = append(f.toCoord, msg)
	return nil
}

func (f *fakeTransport) SendToExecutor(_ context.Context, _ string, msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toExecutor = append(f.toExecutor, msg)
	return nil
}

func (f *fakeTransport) coordMessages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.toCoord))
	copy(out, f.toCoord)
	return out
}

// fakeSender records every status update the Update Manager's retry loop
// hands it, mirroring updates/manager_test.go's recordingSender so tests in
// this package can inspect what would have gone out over the wire.
type fakeSender struct {
	mu  sync.Mutex
	got []wire.StatusUpdate
}

func (f *fakeSender) Send(_ context.Context, _ string, update wire.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, update)
	return nil
}

func (f *fakeSender) sent() []wire.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.StatusUpdate, len(f.got))
	copy(out, f.got)
	return out
}

// fakeReporter records every counter increment, for tests asserting on the
// invalid/ack-out-of-order metrics spec.md §7 requires.
type fakeReporter struct {
	mu       sync.Mutex
	counters map[string]int
}

func newFakeReporter() *fakeReporter { return &fakeReporter{counters: make(map[string]int)} }

func (r *fakeReporter) Counter(name string, value int, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}
func (r *fakeReporter) Gauge(string, int, map[string]string)          {}
func (r *fakeReporter) Timer(string, time.Duration, map[string]string) {}
func (r *fakeReporter) Flush()                                         {}

func (r *fakeReporter) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func newTestAgent(t *testing.T) (*Agent, *mock.Driver, *fakeTransport) {
	t.Helper()
	a, driver, transport, _ := newTestAgentFull(t)
	return a, driver, transport
}

func newTestAgentFull(t *testing.T) (*Agent, *mock.Driver, *fakeTransport, *fakeSender) {
	t.Helper()
	dir := t.TempDir()

	cfg, _ := config.NewConfig()
	cfg.WorkDir = dir
	cfg.ExecutorRegistrationTimeout = 0
	cfg.ExecutorShutdownGracePeriod = 0
	cfg.GCDelay = 10 * time.Millisecond
	cfg.DiskWatchInterval = time.Hour

	layout := checkpoint.NewLayout(dir, "agent-1")
	store, err := checkpoint.NewStore(layout)
	require.NoError(t, err)

	st := state.NewAgent(wire.AgentInfo{AgentID: "agent-1"}, dir)
	driver := mock.New()
	collector := gc.New()
	sender := &fakeSender{}
	updateMgr := updates.New(sender, store, time.Millisecond, 5*time.Millisecond)
	transport := &fakeTransport{}

	a := New(cfg, st, driver, store, layout, collector, updateMgr, transport, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Start(ctx)
	a.BeginRecovery(ctx, nil, recovery.Cleanup)
	return a, driver, transport, sender
}

func TestRunTaskLaunchesExecutorAndStagesTask(t *testing.T) {
	a, driver, _ := newTestAgent(t)
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})

	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "ex-1", string(driver.Launches[0].ExecutorInfo.ExecutorID))

	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		if !ok {
			return false
		}
		ex, ok := fw.GetExecutor("ex-1")
		return ok && len(ex.Updates["task-1"]) > 0
	}, time.Second, 5*time.Millisecond, "staging update must be recorded as pending ack")
}

func TestRunTaskDuplicateTaskIDIsRejected(t *testing.T) {
	a, driver, _ := newTestAgent(t)
	ctx := context.Background()

	task := wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"}
	a.RunTask(ctx, wire.RunTask{FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"}, FrameworkID: "fw-1", Task: task})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	a.RunTask(ctx, wire.RunTask{FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"}, FrameworkID: "fw-1", Task: task})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, len(driver.Launches), "duplicate task must not trigger a second launch")
}

func TestExecutorTerminationSchedulesGCAndRetiresIdleFramework(t *testing.T) {
	a, driver, _ := newTestAgent(t)
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	// task-1's STAGING update is still awaiting an ack, and an executor is
	// only retired once its pending updates are acked, so ack it first.
	var uuid ids.UpdateUUID
	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		if !ok {
			return false
		}
		ex, ok := fw.GetExecutor("ex-1")
		if !ok {
			return false
		}
		for u := range ex.Updates["task-1"] {
			uuid = u
		}
		return uuid != ""
	}, time.Second, 5*time.Millisecond)
	a.StatusUpdateAck(ctx, wire.StatusUpdateAck{FrameworkID: "fw-1", TaskID: "task-1", UUID: uuid})

	driver.SimulateTermination("fw-1", "ex-1", 0, false, "exited")

	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		return !ok || !fw.HasLiveExecutors()
	}, time.Second, 5*time.Millisecond)

	_, err := os.Stat(a.cfg.WorkDir)
	require.NoError(t, err, "agent work dir itself must remain (only the run dir is GC'd)")
}

func TestShutdownFrameworkWithNoExecutorsRemovesImmediately(t *testing.T) {
	a, _, _ := newTestAgent(t)
	ctx := context.Background()

	a.state.GetOrCreateFramework(wire.FrameworkInfo{FrameworkID: "fw-1"})
	a.ShutdownFramework(ctx, wire.ShutdownFramework{FrameworkID: "fw-1"})

	require.Eventually(t, func() bool {
		_, ok := a.state.GetFramework("fw-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterExecutorFlushesQueuedTasks(t *testing.T) {
	a, driver, transport := newTestAgent(t)
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	a.RegisterExecutor(ctx, wire.RegisterExecutor{FrameworkID: "fw-1", ExecutorID: "ex-1"}, "executor-pid-1")

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.toExecutor) >= 1
	}, time.Second, 5*time.Millisecond)

	fw, ok := a.state.GetFramework("fw-1")
	require.True(t, ok)
	ex, ok := fw.GetExecutor("ex-1")
	require.True(t, ok)
	require.Equal(t, "executor-pid-1", ex.Pid)
}

func TestStatusUpdateAckClearsPendingUUID(t *testing.T) {
	a, driver, _ := newTestAgent(t)
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	var uuid ids.UpdateUUID
	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		if !ok {
			return false
		}
		ex, ok := fw.GetExecutor("ex-1")
		if !ok {
			return false
		}
		pending, ok := ex.Updates["task-1"]
		if !ok || len(pending) == 0 {
			return false
		}
		for u := range pending {
			uuid = u
		}
		return true
	}, time.Second, 5*time.Millisecond)

	a.StatusUpdateAck(ctx, wire.StatusUpdateAck{FrameworkID: "fw-1", TaskID: "task-1", UUID: uuid})

	require.Eventually(t, func() bool {
		fw, _ := a.state.GetFramework("fw-1")
		ex, _ := fw.GetExecutor("ex-1")
		pending := ex.Updates["task-1"]
		return len(pending) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunTaskWithCheckpointMismatchSynthesizesTaskLostAndSkipsLaunch(t *testing.T) {
	a, driver, transport, sender := newTestAgentFull(t)
	ctx := context.Background()

	a.NewCoordinatorDetected(ctx, wire.NewCoordinatorDetected{Pid: "coordinator-1"})

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1", CheckpointEnabled: true},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})

	require.Eventually(t, func() bool { return len(sender.sent()) >= 1 }, time.Second, 5*time.Millisecond)

	sent := sender.sent()
	require.Equal(t, wire.TaskLost, sent[0].Status.State)
	require.Contains(t, sent[0].Status.Reason, "checkpoint")

	time.Sleep(20 * time.Millisecond)
	for _, u := range sender.sent() {
		require.Equal(t, sent[0].UUID, u.UUID, "only the one TASK_LOST update is sent; retries resend it unchanged")
	}
	require.Empty(t, driver.Launches, "checkpoint mismatch must not launch an executor")
	_, ok := a.state.Frameworks["fw-1"].Executors["ex-1"]
	require.False(t, ok, "checkpoint mismatch must not create an executor")
	require.Empty(t, transport.toExecutor)
}

func TestReregisterExecutorSkipsKnownUpdateAndResendsMissingTask(t *testing.T) {
	a, driver, transport := newTestAgent(t)
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	a.RegisterExecutor(ctx, wire.RegisterExecutor{FrameworkID: "fw-1", ExecutorID: "ex-1"}, "executor-pid-1")
	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		return ok && fw.Executors["ex-1"].Pid == "executor-pid-1"
	}, time.Second, 5*time.Millisecond)

	// A second task is added directly to the RUNNING executor's state, so
	// the agent knows task-2 as launched and still STAGING; the executor's
	// reregistration below does not report it, so the agent must resend it.
	fw, _ := a.state.GetFramework("fw-1")
	ex, _ := fw.GetExecutor("ex-1")
	_, err := ex.AddTask(wire.TaskInfo{TaskID: "task-2", ExecutorID: "ex-1", FrameworkID: "fw-1"})
	require.NoError(t, err)

	var known ids.UpdateUUID
	for u := range ex.Updates["task-1"] {
		known = u
	}
	require.NotEmpty(t, known, "precondition: task-1 must already have a pending update")

	transport.mu.Lock()
	transport.toExecutor = nil
	transport.mu.Unlock()

	a.ReregisterExecutor(ctx, wire.ReregisterExecutor{
		FrameworkID: "fw-1",
		ExecutorID:  "ex-1",
		Tasks:       []wire.TaskInfo{{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"}},
		Updates: []wire.StatusUpdate{{
			FrameworkID: "fw-1", ExecutorID: "ex-1", TaskID: "task-1", UUID: known,
			Status: wire.TaskStatus{State: wire.TaskRunning},
		}},
	}, "executor-pid-2")

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		for _, m := range transport.toExecutor {
			if rt, ok := m.(wire.RunTask); ok && rt.Task.TaskID == "task-2" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "task-2, absent from the executor's report, must be resent as RunTask")

	require.Equal(t, 1, len(ex.Updates["task-1"]), "replaying an already-tracked update must not add a duplicate")
}

func TestBeginRecoverySendsReconnectAndGatesRegistrationUntilReregistered(t *testing.T) {
	a, _, transport := newTestAgent(t)
	ctx := context.Background()

	// newTestAgent already ran BeginRecovery(cleanup); start over with a
	// fresh recovered gate so registration is held back again.
	a.recovered = make(chan struct{})
	a.recoveredOnce = sync.Once{}
	a.pendingReconnect = make(map[reconnectKey]struct{})

	fw := a.state.GetOrCreateFramework(wire.FrameworkInfo{FrameworkID: "fw-1"})
	ex := fw.CreateExecutor(wire.ExecutorInfo{ExecutorID: "ex-1", FrameworkID: "fw-1"})
	ex.SetPid("executor-pid-1")

	a.BeginRecovery(ctx, []recovery.ExecutorRef{
		{FrameworkID: "fw-1", ExecutorID: "ex-1", RunUUID: ex.RunUUID, Pid: "executor-pid-1"},
	}, recovery.Reconnect)

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		for _, m := range transport.toExecutor {
			if _, ok := m.(wire.ReconnectExecutor); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	a.NewCoordinatorDetected(ctx, wire.NewCoordinatorDetected{Pid: "coordinator-1"})
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, transport.toCoord, "registration must not be sent while reconnect is still outstanding")

	a.ReregisterExecutor(ctx, wire.ReregisterExecutor{FrameworkID: "fw-1", ExecutorID: "ex-1"}, "executor-pid-1")

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.toCoord) >= 1
	}, time.Second, 5*time.Millisecond, "registration must proceed once every recovered executor has reregistered")
}

func TestShutdownFrameworkKillsExecutorOnlyAfterGracePeriodExpires(t *testing.T) {
	a, driver, transport := newTestAgent(t)
	a.cfg.ExecutorShutdownGracePeriod = 30 * time.Millisecond
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	a.RegisterExecutor(ctx, wire.RegisterExecutor{FrameworkID: "fw-1", ExecutorID: "ex-1"}, "executor-pid-1")
	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.toExecutor) >= 1
	}, time.Second, 5*time.Millisecond)

	a.ShutdownFramework(ctx, wire.ShutdownFramework{FrameworkID: "fw-1"})

	time.Sleep(10 * time.Millisecond)
	require.False(t, driver.WasKilled("fw-1", "ex-1"), "an executor that hasn't ignored ShutdownExecutor long enough must not be killed yet")

	require.Eventually(t, func() bool { return driver.WasKilled("fw-1", "ex-1") }, time.Second, 5*time.Millisecond,
		"grace period expiry must force a kill of an executor that never reported termination")
}

func TestStatusUpdateAckTwiceIncrementsAckOutOfOrderCounter(t *testing.T) {
	a, driver, _ := newTestAgent(t)
	reporter := newFakeReporter()
	a.reporter = reporter
	ctx := context.Background()

	a.RunTask(ctx, wire.RunTask{
		FrameworkInfo: wire.FrameworkInfo{FrameworkID: "fw-1"},
		FrameworkID:   "fw-1",
		Task:          wire.TaskInfo{TaskID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1"},
	})
	require.Eventually(t, func() bool { return len(driver.Launches) == 1 }, time.Second, 5*time.Millisecond)

	var uuid ids.UpdateUUID
	require.Eventually(t, func() bool {
		fw, ok := a.state.GetFramework("fw-1")
		if !ok {
			return false
		}
		ex, ok := fw.GetExecutor("ex-1")
		if !ok {
			return false
		}
		pending, ok := ex.Updates["task-1"]
		if !ok || len(pending) == 0 {
			return false
		}
		for u := range pending {
			uuid = u
		}
		return true
	}, time.Second, 5*time.Millisecond)

	a.StatusUpdateAck(ctx, wire.StatusUpdateAck{FrameworkID: "fw-1", TaskID: "task-1", UUID: uuid})
	require.Eventually(t, func() bool {
		fw, _ := a.state.GetFramework("fw-1")
		ex, _ := fw.GetExecutor("ex-1")
		return len(ex.Updates["task-1"]) == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, reporter.count("agent.ackOutOfOrder"))

	a.StatusUpdateAck(ctx, wire.StatusUpdateAck{FrameworkID: "fw-1", TaskID: "task-1", UUID: uuid})

	require.Eventually(t, func() bool { return reporter.count("agent.ackOutOfOrder") == 1 }, time.Second, 5*time.Millisecond,
		"a duplicate ack must return AckOutOfOrder and increment the counter, with no further state change")
}
