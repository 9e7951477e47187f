// Package recovery implements the Recovery Engine (C9): replaying a
// checkpoint.RecoveredState into live state.Agent/state.Framework/
// state.Executor/state.Task objects, reconciling the isolation driver's
// live processes against what was recovered, and deciding whether a
// mismatched AgentInfo is fatal. Grounded on the teacher's executor
// reconnect/recover path (executor/runner.Runner's recovery of
// forked-pid/libprocess-pid state across a restart), generalized here to
// cover the whole agent tree instead of a single executor.
package recovery

import (
	"context"

	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/updates"
	"github.com/mesosagent/agentd/wire"
)

// Mode mirrors config.RecoverMode without importing the config package,
// keeping this package usable independent of CLI wiring.
type Mode string

const (
	Reconnect Mode = "reconnect"
	Cleanup   Mode = "cleanup"
)

// Result is what Recover hands back to the caller (cmd/agentd's startup
// path) to finish wiring the agent before Start.
type Result struct {
	Agent *state.Agent
	// Reconnected lists every (framework, executor) whose latest recovered
	// run has a checkpointed libprocess or forked pid, for the caller to
	// send ReconnectExecutor to once a transport exists.
	Reconnected []ExecutorRef
}

// ExecutorRef names one recovered executor run.
type ExecutorRef struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	RunUUID     ids.RunUUID
	Pid         string
}

// Recover runs the full recovery procedure: checkpoint.Recover's tree
// walk, the AgentInfo compatibility check (fatal in reconnect+safe mode on
// mismatch), replay into a fresh state.Agent, driver reconciliation, and
// replay of still-outstanding status updates into the Update Manager.
//
// A missing checkpoint root (first boot, or --recover=cleanup having
// wiped it beforehand) is not an error: it produces an empty, freshly
// identified agent.
func Recover(ctx context.Context, store *checkpoint.Store, layout *checkpoint.Layout, driver isolation.Driver, updateMgr *updates.Manager, mode Mode, safe bool, currentInfo wire.AgentInfo, workDir string) (*Result, error) {
	unlock, err := store.LockMetaRoot()
	if err != nil {
		return nil, err
	}
	defer unlock.Unlock()

	recovered, err := checkpoint.Recover(store, layout)
	if err != nil {
		return nil, err
	}

	if mode == Cleanup {
		st := state.NewAgent(currentInfo, workDir)
		if err := driver.Recover(ctx, nil); err != nil {
			logger.G(ctx).WithError(err).Warn("recovery: driver sweep failed in cleanup mode")
		}
		return &Result{Agent: st}, nil
	}

	agentInfo := currentInfo
	if recovered.HasAgentInfo {
		if err := checkCompatible(recovered.AgentInfo, currentInfo, safe); err != nil {
			return nil, err
		}
		agentInfo = recovered.AgentInfo
	}

	st := state.NewAgent(agentInfo, workDir)
	result := &Result{Agent: st}

	var isolationRefs []isolation.RecoveredExecutorRef
	var outstanding []wire.StatusUpdate

	for fwID, rfw := range recovered.Frameworks {
		fw := st.GetOrCreateFramework(rfw.Info)
		fw.Info.Pid = rfw.Pid

		for exID, rex := range rfw.Executors {
			if rex.LatestRun == nil {
				continue
			}
			run := rex.LatestRun
			ex := fw.CreateExecutor(rex.Info)
			// CreateExecutor assigns a fresh RunUUID; overwrite it with the
			// recovered one so later checkpoint paths keep landing in the
			// same run directory instead of starting a new one.
			ex.RunUUID = run.RunUUID

			pid := run.LibprocessPid
			if pid == "" {
				pid = run.ForkedPid
			}

			for _, rt := range run.Tasks {
				t, addErr := ex.AddTask(rt.Info)
				if addErr != nil {
					continue
				}
				for _, status := range rt.Updates {
					t.Statuses = append(t.Statuses, status)
					t.State = status.State
				}
				if len(rt.Updates) > 0 {
					last := rt.Updates[len(rt.Updates)-1]
					if !last.State.IsTerminal() {
						outstanding = append(outstanding, wire.StatusUpdate{
							FrameworkID: fwID, AgentID: agentInfo.AgentID, ExecutorID: exID,
							TaskID: rt.Info.TaskID, UUID: ids.NewUpdateUUID(), Status: last,
						})
					}
				}
			}

			if pid != "" {
				ex.SetPid(pid)
				result.Reconnected = append(result.Reconnected, ExecutorRef{
					FrameworkID: fwID, ExecutorID: exID, RunUUID: run.RunUUID, Pid: pid,
				})
			}

			isolationRefs = append(isolationRefs, isolation.RecoveredExecutorRef{
				FrameworkID: fwID, ExecutorID: exID, RunUUID: run.RunUUID, Pid: pid,
			})
		}
	}

	if err := driver.Recover(ctx, &isolation.RecoveredIsolationState{Executors: isolationRefs}); err != nil {
		logger.G(ctx).WithError(err).Warn("recovery: driver reconciliation failed")
	}

	updateMgr.Recover(ctx, outstanding)

	return result, nil
}

// checkCompatible enforces that a recovered AgentInfo agrees with the
// agent's current configuration for resuming in place. Only the agent id
// is compared; resources and other AgentInfo fields are not checked. A
// mismatch is fatal when safe is true (the --safe flag, which defaults to
// false), matching the spec's "abort rather than silently resume under a
// changed identity" recovery policy; with safe false it is accepted and
// recovery proceeds with the recovered identity.
func checkCompatible(recovered, current wire.AgentInfo, safe bool) error {
	if recovered.AgentID == current.AgentID {
		return nil
	}
	if !safe {
		return nil
	}
	return &agenterrors.IncompatibleAgentInfo{
		Reason: "recovered agent id " + string(recovered.AgentID) + " does not match configured agent id " + string(current.AgentID),
	}
}
