package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
)

// RecoveredTask pairs a checkpointed TaskInfo with its replayed update log.
type RecoveredTask struct {
	Info    wire.TaskInfo
	Updates []wire.TaskStatus
}

// RecoveredRun is one run directory under an executor: its pids (if any)
// and the tasks checkpointed under it.
type RecoveredRun struct {
	RunUUID         ids.RunUUID
	LibprocessPid   string
	ForkedPid       string
	Tasks           []RecoveredTask
}

// RecoveredExecutor is one executor directory under a framework, with its
// latest run (the "latest" symlink target) distinguished from the rest.
type RecoveredExecutor struct {
	Info       wire.ExecutorInfo
	LatestRun  *RecoveredRun
	OtherRuns  []RecoveredRun
}

// RecoveredFramework is one framework directory under the agent root.
type RecoveredFramework struct {
	Info      wire.FrameworkInfo
	Pid       string
	Executors map[ids.ExecutorID]*RecoveredExecutor
}

// RecoveredState is the full tree rebuilt from one agent's meta root,
// ready to be replayed into state.Framework/state.Executor/state.Task by
// the recovery package (C9).
type RecoveredState struct {
	AgentInfo  wire.AgentInfo
	HasAgentInfo bool
	Frameworks map[ids.FrameworkID]*RecoveredFramework
}

// Recover walks layout.Root and rebuilds a RecoveredState. A missing meta
// root (first boot) is not an error: it yields an empty RecoveredState.
func Recover(s *Store, layout *Layout) (*RecoveredState, error) {
	out := &RecoveredState{Frameworks: make(map[ids.FrameworkID]*RecoveredFramework)}

	agentInfoPath := layout.AgentInfoPath()
	if _, err := os.Stat(agentInfoPath); err == nil {
		var rec AgentInfoRecord
		if err := s.ReadInto(agentInfoPath, &rec); err != nil {
			return nil, err
		}
		out.AgentInfo = rec.Info
		out.HasAgentInfo = true
	} else if !os.IsNotExist(err) {
		return nil, &agenterrors.RecoveryParseError{Path: agentInfoPath, Err: err}
	}

	frameworksRoot := filepath.Join(layout.Root, "slaves", string(layout.AgentID), "frameworks")
	fwDirs, err := readDirNames(frameworksRoot)
	if err != nil {
		return nil, err
	}
	for _, fwID := range fwDirs {
		fw, err := recoverFramework(s, layout, ids.FrameworkID(fwID))
		if err != nil {
			return nil, err
		}
		out.Frameworks[ids.FrameworkID(fwID)] = fw
	}
	return out, nil
}

func recoverFramework(s *Store, layout *Layout, fwID ids.FrameworkID) (*RecoveredFramework, error) {
	fw := &RecoveredFramework{Executors: make(map[ids.ExecutorID]*RecoveredExecutor)}

	infoPath := layout.FrameworkInfoPath(fwID)
	var infoRec FrameworkInfoRecord
	if err := s.ReadInto(infoPath, &infoRec); err != nil {
		return nil, err
	}
	fw.Info = infoRec.Info

	pidPath := layout.FrameworkPidPath(fwID)
	if _, err := os.Stat(pidPath); err == nil {
		var pidRec FrameworkPidRecord
		if err := s.ReadInto(pidPath, &pidRec); err != nil {
			return nil, err
		}
		fw.Pid = pidRec.Pid
	} else if !os.IsNotExist(err) {
		return nil, &agenterrors.RecoveryParseError{Path: pidPath, Err: err}
	}

	executorsRoot := filepath.Join(layout.Root, "slaves", string(layout.AgentID), "frameworks", string(fwID), "executors")
	exDirs, err := readDirNames(executorsRoot)
	if err != nil {
		return nil, err
	}
	for _, exID := range exDirs {
		ex, err := recoverExecutor(s, layout, fwID, ids.ExecutorID(exID))
		if err != nil {
			return nil, err
		}
		fw.Executors[ids.ExecutorID(exID)] = ex
	}
	return fw, nil
}

func recoverExecutor(s *Store, layout *Layout, fwID ids.FrameworkID, exID ids.ExecutorID) (*RecoveredExecutor, error) {
	ex := &RecoveredExecutor{}

	infoPath := layout.ExecutorInfoPath(fwID, exID)
	var infoRec ExecutorInfoRecord
	if err := s.ReadInto(infoPath, &infoRec); err != nil {
		return nil, err
	}
	ex.Info = infoRec.Info

	latestTarget, latestErr := os.Readlink(layout.LatestRunLink(fwID, exID))

	runsRoot := filepath.Join(layout.Root, "slaves", string(layout.AgentID), "frameworks", string(fwID), "executors", string(exID), "runs")
	runDirs, err := readDirNames(runsRoot)
	if err != nil {
		return nil, err
	}
	for _, runID := range runDirs {
		if runID == "latest" {
			continue
		}
		run, err := recoverRun(s, layout, fwID, exID, ids.RunUUID(runID))
		if err != nil {
			return nil, err
		}
		if latestErr == nil && filepath.Base(latestTarget) == runID {
			ex.LatestRun = run
		} else {
			ex.OtherRuns = append(ex.OtherRuns, *run)
		}
	}
	return ex, nil
}

func recoverRun(s *Store, layout *Layout, fwID ids.FrameworkID, exID ids.ExecutorID, runID ids.RunUUID) (*RecoveredRun, error) {
	run := &RecoveredRun{RunUUID: runID}

	if _, err := os.Stat(layout.LibprocessPidPath(fwID, exID, runID)); err == nil {
		var rec PidRecord
		if err := s.ReadInto(layout.LibprocessPidPath(fwID, exID, runID), &rec); err != nil {
			return nil, err
		}
		run.LibprocessPid = rec.Pid
	}
	if _, err := os.Stat(layout.ForkedPidPath(fwID, exID, runID)); err == nil {
		var rec PidRecord
		if err := s.ReadInto(layout.ForkedPidPath(fwID, exID, runID), &rec); err != nil {
			return nil, err
		}
		run.ForkedPid = rec.Pid
	}

	tasksRoot := filepath.Join(layout.Root, "slaves", string(layout.AgentID), "frameworks", string(fwID),
		"executors", string(exID), "runs", string(runID), "tasks")
	taskDirs, err := readDirNames(tasksRoot)
	if err != nil {
		return nil, err
	}
	for _, taskID := range taskDirs {
		rt, err := recoverTask(s, layout, fwID, exID, runID, ids.TaskID(taskID))
		if err != nil {
			return nil, err
		}
		run.Tasks = append(run.Tasks, *rt)
	}
	return run, nil
}

func recoverTask(s *Store, layout *Layout, fwID ids.FrameworkID, exID ids.ExecutorID, runID ids.RunUUID, taskID ids.TaskID) (*RecoveredTask, error) {
	var infoRec TaskInfoRecord
	if err := s.ReadInto(layout.TaskInfoPath(fwID, exID, runID, taskID), &infoRec); err != nil {
		return nil, err
	}
	updates, err := s.ReadUpdates(layout.UpdatesLogPath(fwID, exID, runID, taskID))
	if err != nil {
		return nil, err
	}
	rt := &RecoveredTask{Info: infoRec.Info}
	for _, u := range updates {
		rt.Updates = append(rt.Updates, u.Status)
	}
	return rt, nil
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &agenterrors.RecoveryParseError{Path: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Type()&os.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
