package agent

import (
	"context"
	"time"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/wire"
)

// armRegistrationTimeout schedules a check, ExecutorRegistrationTimeout
// after launch, that kills an executor run still stuck REGISTERING. The
// runUUID captured at arm time guards against a stale timer firing after
// the executor has already been retried under a new run.
func (a *Agent) armRegistrationTimeout(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, runUUID ids.RunUUID) {
	timeout := a.cfg.ExecutorRegistrationTimeout
	if timeout <= 0 {
		return
	}
	time.AfterFunc(timeout, func() {
		a.enqueue(ctx, func(ctx context.Context) {
			a.checkRegistrationTimeout(ctx, frameworkID, executorID, runUUID)
		})
	})
}

func (a *Agent) checkRegistrationTimeout(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, runUUID ids.RunUUID) {
	fw, ok := a.state.GetFramework(frameworkID)
	if !ok {
		return
	}
	ex, ok := fw.GetExecutor(executorID)
	if !ok || ex.RunUUID != runUUID || ex.State != state.ExecutorRegistering {
		return
	}
	logger.G(ctx).WithField("executor", executorID).WithField("run", runUUID).
		Warn("executor registration timed out")
	_ = a.driver.KillExecutor(ctx, frameworkID, executorID)
	for taskID := range ex.QueuedTasks {
		a.sendStatusUpdate(ctx, fw, frameworkID, executorID, taskID, wire.TaskStatus{
			State: wire.TaskFailed, Timestamp: time.Now(), Reason: "executor registration timeout",
		})
	}
}

// armShutdownGracePeriod schedules a forced kill, ExecutorShutdownGracePeriod
// after a ShutdownExecutor/kill was sent, for an executor that has not yet
// reported termination.
func (a *Agent) armShutdownGracePeriod(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, runUUID ids.RunUUID) {
	grace := a.cfg.ExecutorShutdownGracePeriod
	if grace <= 0 {
		return
	}
	time.AfterFunc(grace, func() {
		a.enqueue(ctx, func(ctx context.Context) {
			a.checkShutdownGracePeriod(ctx, frameworkID, executorID, runUUID)
		})
	})
}

func (a *Agent) checkShutdownGracePeriod(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, runUUID ids.RunUUID) {
	fw, ok := a.state.GetFramework(frameworkID)
	if !ok {
		return
	}
	ex, ok := fw.GetExecutor(executorID)
	if !ok || ex.RunUUID != runUUID || ex.State != state.ExecutorTerminating {
		return
	}
	logger.G(ctx).WithField("executor", executorID).Warn("executor shutdown grace period expired, forcing kill")
	_ = a.driver.KillExecutor(ctx, frameworkID, executorID)
}
