package agent

import (
	"context"
	"time"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/recovery"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/wire"
)

// reconnectKey identifies one recovered executor run still awaiting
// reregister_executor.
type reconnectKey struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
}

// BeginRecovery implements spec.md §4.9's reconnect phase: every recovered
// executor with a live pid is sent ReconnectExecutor and tracked until it
// either reregisters or EXECUTOR_REREGISTER_TIMEOUT fires. Only then does
// the "recovered" one-shot signal fire, unblocking the registration that
// the startup protocol (§4.8 steps 2-3) holds back until recovery settles.
// Cleanup mode, or a reconnect with nothing recovered, has nothing to wait
// for and sets the signal immediately.
func (a *Agent) BeginRecovery(ctx context.Context, reconnected []recovery.ExecutorRef, mode recovery.Mode) {
	if mode != recovery.Reconnect || len(reconnected) == 0 {
		a.finishRecovery(ctx)
		return
	}

	a.mu.Lock()
	for _, ref := range reconnected {
		a.pendingReconnect[reconnectKey{FrameworkID: ref.FrameworkID, ExecutorID: ref.ExecutorID}] = struct{}{}
	}
	a.mu.Unlock()

	for _, ref := range reconnected {
		if ref.Pid == "" {
			logger.G(ctx).WithField("executor", ref.ExecutorID).Warn("recovery: recovered executor has no pid, will not reconnect")
			continue
		}
		if a.transport != nil {
			_ = a.transport.SendToExecutor(ctx, ref.Pid, wire.ReconnectExecutor{AgentID: a.state.Info.AgentID})
		}
	}

	timeout := state.ExecutorReregisterTimeout
	time.AfterFunc(timeout, func() {
		a.enqueue(ctx, func(ctx context.Context) { a.reregisterTimeoutFired(ctx) })
	})
}

// reregisterTimeoutFired implements EXECUTOR_REREGISTER_TIMEOUT: any
// recovered executor that never reregistered is killed, then recovery
// finishes regardless of what's still outstanding.
func (a *Agent) reregisterTimeoutFired(ctx context.Context) {
	a.mu.Lock()
	stillPending := make([]reconnectKey, 0, len(a.pendingReconnect))
	for k := range a.pendingReconnect {
		stillPending = append(stillPending, k)
	}
	a.mu.Unlock()

	for _, k := range stillPending {
		logger.G(ctx).WithField("framework", k.FrameworkID).WithField("executor", k.ExecutorID).
			Warn("recovery: executor never reregistered before timeout, killing")
		_ = a.driver.KillExecutor(ctx, k.FrameworkID, k.ExecutorID)
	}

	a.finishRecovery(ctx)
}

// finishReconnect marks one recovered executor as having successfully
// reregistered. Recovery finishes once every recovered executor has.
func (a *Agent) finishReconnect(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID) {
	a.mu.Lock()
	delete(a.pendingReconnect, reconnectKey{FrameworkID: frameworkID, ExecutorID: executorID})
	remaining := len(a.pendingReconnect)
	a.mu.Unlock()

	if remaining == 0 {
		a.finishRecovery(ctx)
	}
}

// finishRecovery closes the recovered signal exactly once and retries the
// registration register() deferred while recovery was outstanding.
func (a *Agent) finishRecovery(ctx context.Context) {
	a.recoveredOnce.Do(func() { close(a.recovered) })
	a.enqueue(ctx, func(ctx context.Context) {
		a.mu.Lock()
		alreadyRegistered := a.registered
		a.mu.Unlock()
		if !alreadyRegistered {
			a.register(ctx)
		}
	})
}
