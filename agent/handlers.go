package agent

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/monitor"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/tag"
	"github.com/mesosagent/agentd/wire"
)

// metricTags merges the process-wide default tags with call-specific
// dimensions, matching the teacher's pattern of tagging every metric with
// tag.Defaults plus whatever the call site knows.
func metricTags(extra map[string]string) map[string]string {
	out := make(map[string]string, len(tag.Defaults)+len(extra))
	for k, v := range tag.Defaults {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// NewCoordinatorDetected updates which pid status updates and registration
// traffic address, and (re)registers if this is the agent's first contact.
func (a *Agent) NewCoordinatorDetected(ctx context.Context, msg wire.NewCoordinatorDetected) {
	a.enqueue(ctx, func(ctx context.Context) {
		a.mu.Lock()
		a.coordinatorPid = msg.Pid
		alreadyRegistered := a.registered
		a.mu.Unlock()

		a.updates.NewCoordinator(msg.Pid)
		if !alreadyRegistered {
			a.register(ctx)
		}
	})
}

// NoCoordinatorDetected marks the agent as unregistered; it will
// re-register against whichever coordinator is detected next.
func (a *Agent) NoCoordinatorDetected(ctx context.Context) {
	a.enqueue(ctx, func(ctx context.Context) {
		a.mu.Lock()
		a.registered = false
		a.mu.Unlock()
	})
}

func (a *Agent) register(ctx context.Context) {
	a.mu.Lock()
	pid := a.coordinatorPid
	a.mu.Unlock()
	if pid == "" {
		return
	}
	select {
	case <-a.recovered:
	default:
		// Recovery's reconnect phase hasn't finished yet (§4.8 step 2-3);
		// finishRecovery retries this call once it closes a.recovered.
		return
	}

	if len(a.state.Frameworks) == 0 && len(a.state.CompletedFrameworks) == 0 {
		_ = a.transport.SendToCoordinator(ctx, pid, wire.RegisterAgent{AgentInfo: a.state.Info})
	} else {
		var executorInfos []wire.ExecutorInfo
		var tasks []wire.TaskInfo
		for _, fw := range a.state.Frameworks {
			for _, ex := range fw.Executors {
				executorInfos = append(executorInfos, ex.Info)
				for _, t := range ex.LaunchedTasks {
					tasks = append(tasks, wire.TaskInfo{TaskID: t.TaskID, ExecutorID: t.ExecutorID, FrameworkID: t.FrameworkID, Resources: t.Resources})
				}
			}
		}
		_ = a.transport.SendToCoordinator(ctx, pid, wire.ReregisterAgent{
			AgentID:       a.state.Info.AgentID,
			AgentInfo:     a.state.Info,
			ExecutorInfos: executorInfos,
			Tasks:         tasks,
		})
	}
	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()
}

// RunTask places one task (spec.md §4.8's "run_task"): it resolves (or
// synthesizes, for command tasks) the owning ExecutorInfo, creates the
// executor if this is its first task, enforces I1 via Executor.AddTask,
// and either launches the executor (REGISTERING) or forwards the task
// directly (RUNNING). A duplicate TaskID is rejected with a TASK_ERROR
// status update rather than silently dropped.
func (a *Agent) RunTask(ctx context.Context, msg wire.RunTask) {
	a.enqueue(ctx, func(ctx context.Context) { a.handleRunTask(ctx, msg) })
}

func (a *Agent) handleRunTask(ctx context.Context, msg wire.RunTask) {
	if !a.cfg.Checkpoint && (msg.FrameworkInfo.CheckpointEnabled || msg.Task.Checkpoint) {
		fw := a.state.GetOrCreateFramework(msg.FrameworkInfo)
		a.sendStatusUpdate(ctx, fw, msg.Task.FrameworkID, msg.Task.ExecutorID, msg.Task.TaskID, wire.TaskStatus{
			State: wire.TaskLost, Timestamp: time.Now(), Reason: "checkpointing requested but agent started with checkpointing disabled",
		})
		return
	}

	if a.lowOnDisk() {
		fw := a.state.GetOrCreateFramework(msg.FrameworkInfo)
		a.sendStatusUpdate(ctx, fw, msg.Task.FrameworkID, msg.Task.ExecutorID, msg.Task.TaskID, wire.TaskStatus{
			State: wire.TaskLost, Timestamp: time.Now(), Reason: "agent is low on disk space",
		})
		return
	}

	fw := a.state.GetOrCreateFramework(msg.FrameworkInfo)
	fw.Info.Pid = msg.FrameworkInfo.Pid

	if a.cfg.Checkpoint && msg.FrameworkInfo.CheckpointEnabled {
		_ = a.store.Checkpoint(ctx, a.layout.FrameworkInfoPath(fw.Info.FrameworkID), checkpoint.FrameworkInfoRecord{Info: fw.Info})
		_ = a.store.Checkpoint(ctx, a.layout.FrameworkPidPath(fw.Info.FrameworkID), checkpoint.FrameworkPidRecord{Pid: fw.Info.Pid})
	}

	if existing, ok := fw.GetExecutorForTask(msg.Task.TaskID); ok {
		logger.G(ctx).WithField("task", msg.Task.TaskID).WithField("executor", existing.Info.ExecutorID).
			Warn("run_task: duplicate task id, rejecting")
		a.sendStatusUpdate(ctx, fw, msg.Task.FrameworkID, msg.Task.ExecutorID, msg.Task.TaskID, wire.TaskStatus{
			State: wire.TaskError, Timestamp: time.Now(), Reason: "duplicate task id",
		})
		return
	}

	launcherPath, resolveErr := resolveLauncher(a.cfg.LauncherDir)
	execInfo := fw.GetExecutorInfo(msg.Task, launcherPath, resolveErr)

	ex, existed := fw.GetExecutor(execInfo.ExecutorID)
	if !existed {
		ex = fw.CreateExecutor(execInfo)
	}

	switch ex.State {
	case state.ExecutorRegistering:
		ex.Enqueue(msg.Task)
	default:
		if _, err := ex.AddTask(msg.Task); err != nil {
			logger.G(ctx).WithError(err).Warn("run_task: failed to add task")
			a.sendStatusUpdate(ctx, fw, msg.Task.FrameworkID, ex.Info.ExecutorID, msg.Task.TaskID, wire.TaskStatus{
				State: wire.TaskError, Timestamp: time.Now(), Reason: err.Error(),
			})
			return
		}
	}

	a.checkpointExecutorAndTask(ctx, fw, ex, msg.Task)

	if !existed {
		if err := a.driver.LaunchExecutor(ctx, a.state.Info.AgentID, fw.Info.FrameworkID, fw.Info, execInfo, ex.RunUUID, ex.WorkDir, ex.AggregateResources); err != nil {
			logger.G(ctx).WithError(err).Warn("run_task: launch failed")
			a.failExecutorLaunch(ctx, fw, ex, err)
			return
		}
		a.armRegistrationTimeout(ctx, fw.Info.FrameworkID, ex.Info.ExecutorID, ex.RunUUID)
	} else if ex.State == state.ExecutorRunning {
		_ = a.driver.ResourcesChanged(ctx, fw.Info.FrameworkID, ex.Info.ExecutorID, ex.AggregateResources)
		if a.transport != nil && ex.Pid != "" {
			_ = a.transport.SendToExecutor(ctx, ex.Pid, msg.Task)
		}
	}

	a.reporter.Counter("agent.task.launched", 1, metricTags(map[string]string{"framework": string(fw.Info.FrameworkID)}))
	a.sendStatusUpdate(ctx, fw, msg.Task.FrameworkID, ex.Info.ExecutorID, msg.Task.TaskID, wire.TaskStatus{
		State: wire.TaskStaging, Timestamp: time.Now(),
	})
}

func (a *Agent) checkpointExecutorAndTask(ctx context.Context, fw *state.Framework, ex *state.Executor, task wire.TaskInfo) {
	if !a.cfg.Checkpoint || !ex.ShouldCheckpointTask() {
		return
	}
	_ = a.store.Checkpoint(ctx, a.layout.ExecutorInfoPath(fw.Info.FrameworkID, ex.Info.ExecutorID), checkpoint.ExecutorInfoRecord{Info: ex.Info})
	_ = a.store.Checkpoint(ctx, a.layout.TaskInfoPath(fw.Info.FrameworkID, ex.Info.ExecutorID, ex.RunUUID, task.TaskID), checkpoint.TaskInfoRecord{Info: task})
}

func (a *Agent) failExecutorLaunch(ctx context.Context, fw *state.Framework, ex *state.Executor, err error) {
	for taskID := range ex.QueuedTasks {
		a.sendStatusUpdate(ctx, fw, fw.Info.FrameworkID, ex.Info.ExecutorID, taskID, wire.TaskStatus{
			State: wire.TaskFailed, Timestamp: time.Now(), Reason: err.Error(),
		})
	}
	fw.DestroyExecutor(ex.Info.ExecutorID)
	a.maybeRemoveFramework(ctx, fw.Info.FrameworkID)
}

// KillTask asks the executor owning taskID to stop it. If the task is
// still only queued (the executor hasn't finished registering), it is
// dropped immediately with a TASK_KILLED update rather than forwarded.
func (a *Agent) KillTask(ctx context.Context, msg wire.KillTask) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			return
		}
		ex, ok := fw.GetExecutorForTask(msg.TaskID)
		if !ok {
			return
		}
		if _, queued := ex.QueuedTasks[msg.TaskID]; queued {
			ex.RemoveTask(msg.TaskID)
			a.sendStatusUpdate(ctx, fw, msg.FrameworkID, ex.Info.ExecutorID, msg.TaskID, wire.TaskStatus{
				State: wire.TaskKilled, Timestamp: time.Now(), Reason: "killed before executor finished registering",
			})
			return
		}
		if ex.Pid != "" && a.transport != nil {
			_ = a.transport.SendToExecutor(ctx, ex.Pid, msg)
			return
		}
		_ = a.driver.KillExecutor(ctx, msg.FrameworkID, ex.Info.ExecutorID)
	})
}

// RegisterExecutor completes an executor's REGISTERING->RUNNING
// transition: records its pid (I7), flushes any tasks queued while it was
// still starting, and checkpoints the pid; the registration timeout for
// this run is left armed and does nothing when it fires, because it only
// acts on an executor still REGISTERING. Per spec.md §4.8, an unknown framework/executor or
// one not currently REGISTERING gets told to shut down rather than being
// silently re-pid'd.
func (a *Agent) RegisterExecutor(ctx context.Context, msg wire.RegisterExecutor, executorPid string) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownFramework{FrameworkID: string(msg.FrameworkID)}).Warn("register_executor")
			a.reporter.Counter("agent.invalidFramework", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			a.shutdownUnknownExecutor(ctx, executorPid)
			return
		}
		ex, ok := fw.GetExecutor(msg.ExecutorID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownExecutor{ExecutorID: string(msg.ExecutorID)}).Warn("register_executor")
			a.reporter.Counter("agent.invalidExecutor", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			a.shutdownUnknownExecutor(ctx, executorPid)
			return
		}
		if ex.State != state.ExecutorRegistering {
			logger.G(ctx).WithField("executor", msg.ExecutorID).WithField("state", ex.State.String()).
				Warn("register_executor: not REGISTERING, shutting it down")
			a.shutdownUnknownExecutor(ctx, executorPid)
			return
		}

		ex.SetPid(executorPid)
		if a.cfg.Checkpoint && ex.ShouldCheckpointTask() {
			_ = a.store.Checkpoint(ctx, a.layout.LibprocessPidPath(fw.Info.FrameworkID, ex.Info.ExecutorID, ex.RunUUID), checkpoint.PidRecord{Pid: executorPid})
		}

		if a.transport != nil {
			_ = a.transport.SendToExecutor(ctx, executorPid, wire.ExecutorRegistered{
				FrameworkID: msg.FrameworkID, ExecutorID: msg.ExecutorID, AgentInfo: a.state.Info,
			})
		}

		for _, t := range ex.FlushQueued() {
			if a.transport != nil {
				_ = a.transport.SendToExecutor(ctx, executorPid, wire.TaskInfo{
					TaskID: t.TaskID, ExecutorID: t.ExecutorID, FrameworkID: t.FrameworkID, Resources: t.Resources,
				})
			}
		}
		a.monitor.Watch(ctx, fw.Info.FrameworkID, ex.Info.ExecutorID, ex.Info, a.cfg.ResourceMonitoringInterval)
	})
}

// ReregisterExecutor handles an executor that survived an agent crash and
// is reconnecting; its self-reported Tasks and Updates replace this
// agent's best guess from the checkpoint replay, since the executor's own
// view of what it was running is authoritative. Per spec.md §4.8: replay
// each reported update unless (task_id, uuid) is already in
// executor.updates, and resend RunTask for any locally-known launched task
// still in STAGING that the executor didn't report back.
func (a *Agent) ReregisterExecutor(ctx context.Context, msg wire.ReregisterExecutor, executorPid string) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownFramework{FrameworkID: string(msg.FrameworkID)}).Warn("reregister_executor")
			a.reporter.Counter("agent.invalidFramework", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			return
		}
		ex, ok := fw.GetExecutor(msg.ExecutorID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownExecutor{ExecutorID: string(msg.ExecutorID)}).Warn("reregister_executor")
			a.reporter.Counter("agent.invalidExecutor", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			return
		}
		ex.SetPid(executorPid)

		reported := make(map[ids.TaskID]struct{}, len(msg.Tasks))
		for _, t := range msg.Tasks {
			reported[t.TaskID] = struct{}{}
			if !ex.HasTask(t.TaskID) {
				_, _ = ex.AddTask(t)
			}
		}

		if a.transport != nil {
			_ = a.transport.SendToExecutor(ctx, executorPid, wire.ExecutorReregistered{
				FrameworkID: msg.FrameworkID, ExecutorID: msg.ExecutorID, AgentInfo: a.state.Info,
			})
		}

		for _, u := range msg.Updates {
			if pending, ok := ex.Updates[u.TaskID]; ok {
				if _, already := pending[u.UUID]; already {
					continue
				}
			}
			a.forwardStatusUpdate(ctx, fw, ex, u)
		}

		for taskID, t := range ex.LaunchedTasks {
			if _, ok := reported[taskID]; ok {
				continue
			}
			if t.State != wire.TaskStaging {
				continue
			}
			if a.transport != nil && executorPid != "" {
				_ = a.transport.SendToExecutor(ctx, executorPid, wire.RunTask{
					FrameworkInfo: fw.Info,
					FrameworkID:   msg.FrameworkID,
					Task: wire.TaskInfo{
						TaskID: t.TaskID, ExecutorID: t.ExecutorID, FrameworkID: t.FrameworkID, Resources: t.Resources,
					},
				})
			}
		}

		a.finishReconnect(ctx, msg.FrameworkID, msg.ExecutorID)
		a.monitor.Watch(ctx, fw.Info.FrameworkID, ex.Info.ExecutorID, ex.Info, a.cfg.ResourceMonitoringInterval)
	})
}

// TaskStatusUpdate is how an executor reports a task's state transition.
// It is the counterpart of RunTask on the return path: apply I6, generate
// an UpdateUUID, hand the StatusUpdate to the Update Manager for
// at-least-once delivery, and if the task's terminal, check whether its
// executor (and in turn its framework) has become idle.
func (a *Agent) TaskStatusUpdate(ctx context.Context, frameworkID ids.FrameworkID, taskID ids.TaskID, status wire.TaskStatus) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(frameworkID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownFramework{FrameworkID: string(frameworkID)}).Warn("status_update")
			a.reporter.Counter("agent.invalidFramework", 1, metricTags(map[string]string{"framework": string(frameworkID)}))
			u := wire.StatusUpdate{
				FrameworkID: frameworkID, AgentID: a.state.Info.AgentID,
				TaskID: taskID, UUID: ids.NewUpdateUUID(), Status: status,
			}
			_ = a.updates.Update(ctx, u, false, "")
			return
		}
		ex, ok := fw.GetExecutorForTask(taskID)
		if !ok {
			logger.G(ctx).WithError(&agenterrors.UnknownExecutor{ExecutorID: string(taskID)}).Warn("status_update")
			a.reporter.Counter("agent.invalidExecutor", 1, metricTags(map[string]string{"framework": string(frameworkID)}))
			a.sendStatusUpdate(ctx, fw, frameworkID, "", taskID, status)
			return
		}
		ex.UpdateTaskState(taskID, status)
		a.reporter.Gauge("agent.task.state", int(status.State), metricTags(map[string]string{"framework": string(frameworkID)}))
		u := wire.StatusUpdate{
			FrameworkID: frameworkID, AgentID: a.state.Info.AgentID, ExecutorID: ex.Info.ExecutorID,
			TaskID: taskID, UUID: ids.NewUpdateUUID(), Status: status,
		}
		a.forwardStatusUpdate(ctx, fw, ex, u)

		if status.State.IsTerminal() {
			a.maybeRetireExecutor(ctx, fw, ex)
		}
	})
}

func (a *Agent) sendStatusUpdate(ctx context.Context, fw *state.Framework, frameworkID ids.FrameworkID, executorID ids.ExecutorID, taskID ids.TaskID, status wire.TaskStatus) {
	ex, ok := fw.GetExecutor(executorID)
	u := wire.StatusUpdate{
		FrameworkID: frameworkID, AgentID: a.state.Info.AgentID, ExecutorID: executorID,
		TaskID: taskID, UUID: ids.NewUpdateUUID(), Status: status,
	}
	if ok {
		a.forwardStatusUpdate(ctx, fw, ex, u)
	} else {
		_ = a.updates.Update(ctx, u, false, "")
	}
}

func (a *Agent) forwardStatusUpdate(ctx context.Context, fw *state.Framework, ex *state.Executor, u wire.StatusUpdate) {
	if ex.Updates[u.TaskID] == nil {
		ex.Updates[u.TaskID] = make(map[ids.UpdateUUID]struct{})
	}
	ex.Updates[u.TaskID][u.UUID] = struct{}{}

	path := ""
	if a.cfg.Checkpoint && ex.ShouldCheckpointTask() {
		path = a.layout.UpdatesLogPath(fw.Info.FrameworkID, ex.Info.ExecutorID, ex.RunUUID, u.TaskID)
	}
	_ = a.updates.Update(ctx, u, path != "", path)
}

// StatusUpdateAck processes a coordinator's acknowledgement: it advances
// the Update Manager's stream and clears the uuid from the owning
// Executor's pending-ack set (I3's "no pending acks" removal guard).
func (a *Agent) StatusUpdateAck(ctx context.Context, msg wire.StatusUpdateAck) {
	a.enqueue(ctx, func(ctx context.Context) {
		if err := a.updates.Acknowledgement(msg.FrameworkID, msg.TaskID, msg.UUID); err != nil {
			logger.G(ctx).WithError(err).Warn("status_update_ack")
			var outOfOrder *agenterrors.AckOutOfOrder
			if errors.As(err, &outOfOrder) {
				a.reporter.Counter("agent.ackOutOfOrder", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			}
			return
		}
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			return
		}
		ex, ok := fw.GetExecutorForTask(msg.TaskID)
		if !ok {
			return
		}
		if pending, ok := ex.Updates[msg.TaskID]; ok {
			delete(pending, msg.UUID)
			if len(pending) == 0 {
				delete(ex.Updates, msg.TaskID)
			}
		}
		if ex.State == state.ExecutorTerminated && ex.Removable() {
			fw.DestroyExecutor(ex.Info.ExecutorID)
			a.maybeRemoveFramework(ctx, msg.FrameworkID)
		}
	})
}

// ExecutorTerminated's actor-side handler: tears down monitoring, marks
// the executor terminated, schedules its run directory for GC after
// GCDelay, reports ExitedExecutor upstream for non-command executors, and
// retires the executor immediately if no acks are outstanding (I3).
func (a *Agent) handleExecutorTerminated(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, exitStatus int, destroyed bool, message string) {
	fw, ok := a.state.GetFramework(frameworkID)
	if !ok {
		return
	}
	ex, ok := fw.GetExecutor(executorID)
	if !ok {
		return
	}

	a.monitor.Unwatch(frameworkID, executorID)
	ex.MarkTerminated()
	a.reporter.Counter("agent.executor.terminated", 1, metricTags(map[string]string{"framework": string(frameworkID), "destroyed": boolTag(destroyed)}))

	now := time.Now()
	for taskID := range ex.LaunchedTasks {
		a.TaskStatusUpdate(ctx, frameworkID, taskID, wire.TaskStatus{
			State: terminalStateFor(destroyed), Timestamp: now, Message: message,
		})
	}

	if ex.Info.Source != "command-task" {
		a.mu.Lock()
		pid := a.coordinatorPid
		a.mu.Unlock()
		if pid != "" {
			_ = a.transport.SendToCoordinator(ctx, pid, wire.ExitedExecutor{
				AgentID: a.state.Info.AgentID, FrameworkID: frameworkID, ExecutorID: executorID, ExitStatus: exitStatus,
			})
		}
	}

	runDir := ex.WorkDir
	a.collector.Schedule(ctx, a.cfg.GCDelay, runDir)

	a.maybeRetireExecutor(ctx, fw, ex)
}

// handleResourceSample records a Resource Monitor reading against its
// executor's AggregateResources (I5 override: the monitor's measured
// usage is the source of truth once an executor is RUNNING, superseding
// the sum-of-task-resources estimate used before launch). Sample.Err
// readings are logged and otherwise ignored, matching spec.md §4.4.
func (a *Agent) handleResourceSample(ctx context.Context, s monitor.Sample) {
	fw, ok := a.state.GetFramework(s.FrameworkID)
	if !ok {
		return
	}
	ex, ok := fw.GetExecutor(s.ExecutorID)
	if !ok {
		return
	}
	if s.Err != nil {
		logger.G(ctx).WithError(s.Err).WithField("executor", s.ExecutorID).Warn("resource sample failed")
		return
	}
	ex.AggregateResources = s.Usage
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func terminalStateFor(destroyed bool) wire.TaskState {
	if destroyed {
		return wire.TaskKilled
	}
	return wire.TaskFailed
}

func (a *Agent) maybeRetireExecutor(ctx context.Context, fw *state.Framework, ex *state.Executor) {
	if ex.State != state.ExecutorTerminated {
		return
	}
	if len(ex.LaunchedTasks) > 0 {
		return
	}
	if !ex.Removable() {
		return
	}
	fw.DestroyExecutor(ex.Info.ExecutorID)
	a.maybeRemoveFramework(ctx, fw.Info.FrameworkID)
}

func (a *Agent) maybeRemoveFramework(ctx context.Context, frameworkID ids.FrameworkID) {
	fw, ok := a.state.GetFramework(frameworkID)
	if !ok {
		return
	}
	if fw.State != state.FrameworkTerminating {
		return
	}
	if a.state.RemoveFrameworkIfIdle(frameworkID) {
		a.updates.Cleanup(frameworkID)
	}
}

// ShutdownFramework begins a framework's teardown: it moves to
// TERMINATING and is removed at once if it has no executors. Otherwise each
// executor moves to TERMINATING and is sent ShutdownExecutor if it has a
// pid (the driver is asked to kill it if not), a shutdown grace timer is
// armed for it, and ExecutorTerminated callbacks eventually retire them into
// CompletedFrameworks (I4).
func (a *Agent) ShutdownFramework(ctx context.Context, msg wire.ShutdownFramework) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			return
		}
		fw.State = state.FrameworkTerminating
		if !fw.HasLiveExecutors() {
			a.state.RemoveFrameworkIfIdle(msg.FrameworkID)
			a.updates.Cleanup(msg.FrameworkID)
			return
		}
		for _, ex := range fw.Executors {
			ex.BeginTerminating()
			if ex.Pid != "" && a.transport != nil {
				_ = a.transport.SendToExecutor(ctx, ex.Pid, wire.ShutdownExecutor{})
			} else {
				_ = a.driver.KillExecutor(ctx, msg.FrameworkID, ex.Info.ExecutorID)
			}
			a.armShutdownGracePeriod(ctx, msg.FrameworkID, ex.Info.ExecutorID, ex.RunUUID)
		}
	})
}

// UpdateFramework records a new pid to address a framework's scheduler
// traffic to (the framework's scheduler process restarted or migrated).
func (a *Agent) UpdateFramework(ctx context.Context, msg wire.UpdateFramework) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			return
		}
		fw.Info.Pid = msg.Pid
		if a.cfg.Checkpoint && fw.Info.CheckpointEnabled {
			_ = a.store.Checkpoint(ctx, a.layout.FrameworkPidPath(msg.FrameworkID), checkpoint.FrameworkPidRecord{Pid: msg.Pid})
		}
	})
}

// FrameworkToExecutor relays an opaque scheduler->executor payload.
// spec.md §4.8: unknown framework/executor increments an invalid counter;
// an executor still REGISTERING drops the payload with a warning.
func (a *Agent) FrameworkToExecutor(ctx context.Context, msg wire.FrameworkToExecutor) {
	a.enqueue(ctx, func(ctx context.Context) {
		fw, ok := a.state.GetFramework(msg.FrameworkID)
		if !ok {
			a.reporter.Counter("agent.invalidFramework", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			return
		}
		ex, ok := fw.GetExecutor(msg.ExecutorID)
		if !ok {
			a.reporter.Counter("agent.invalidExecutor", 1, metricTags(map[string]string{"framework": string(msg.FrameworkID)}))
			return
		}
		if ex.State == state.ExecutorRegistering {
			logger.G(ctx).WithField("executor", msg.ExecutorID).Warn("scheduler_message: executor still registering, dropping")
			return
		}
		if ex.Pid == "" || a.transport == nil {
			return
		}
		_ = a.transport.SendToExecutor(ctx, ex.Pid, msg)
	})
}

// ExecutorMessage relays an opaque executor->scheduler payload upstream,
// wrapping it as ExecutorToFramework the way the coordinator expects.
func (a *Agent) ExecutorMessage(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, data []byte) {
	a.enqueue(ctx, func(ctx context.Context) {
		if _, ok := a.state.GetFramework(frameworkID); !ok {
			a.reporter.Counter("agent.invalidFramework", 1, metricTags(map[string]string{"framework": string(frameworkID)}))
			return
		}
		a.mu.Lock()
		pid := a.coordinatorPid
		a.mu.Unlock()
		if pid == "" {
			return
		}
		_ = a.transport.SendToCoordinator(ctx, pid, wire.ExecutorToFramework{
			AgentID: a.state.Info.AgentID, FrameworkID: frameworkID, ExecutorID: executorID, Data: data,
		})
	})
}

// Ping answers a coordinator liveness probe.
func (a *Agent) Ping(ctx context.Context) {
	a.enqueue(ctx, func(ctx context.Context) {
		a.mu.Lock()
		pid := a.coordinatorPid
		a.mu.Unlock()
		if pid != "" {
			_ = a.transport.SendToCoordinator(ctx, pid, wire.Pong{})
		}
	})
}

// Shutdown tears the whole agent down: the agent is marked halting and
// every framework is shut down. The driver is terminated here only when the
// agent has no frameworks at that moment; when frameworks remain, nothing
// terminates the driver after they drain. Matches spec.md §4.8's
// agent-level shutdown, reusing ShutdownFramework per framework rather
// than duplicating its teardown logic.
func (a *Agent) Shutdown(ctx context.Context) {
	a.enqueue(ctx, func(ctx context.Context) {
		a.state.Halting = true
		for fwID := range a.state.Frameworks {
			a.ShutdownFramework(ctx, wire.ShutdownFramework{FrameworkID: fwID})
		}
		if len(a.state.Frameworks) == 0 {
			_ = a.driver.Terminate(ctx)
		}
	})
}

// resolveLauncher locates the per-task launcher binary command tasks run
// under. A missing launcherDir is not fatal: callers fall back to the
// inline error-reporting command Framework.GetExecutorInfo synthesizes.
func resolveLauncher(launcherDir string) (string, error) {
	if launcherDir == "" {
		return "", errLauncherDirUnset
	}
	return filepath.Join(launcherDir, "launch"), nil
}

var errLauncherDirUnset = errors.New("launcher_dir is not configured")

// shutdownUnknownExecutor tells a pid the agent cannot place (unknown
// framework/executor, or an executor past REGISTERING) to shut itself down,
// per spec.md §4.8's "Executor registration" clause.
func (a *Agent) shutdownUnknownExecutor(ctx context.Context, executorPid string) {
	if a.transport != nil && executorPid != "" {
		_ = a.transport.SendToExecutor(ctx, executorPid, wire.ShutdownExecutor{})
	}
}
