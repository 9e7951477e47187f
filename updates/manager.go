// Package updates implements the Update Manager (C2): one FIFO stream of
// status updates per (framework, task), each retried with exponential
// backoff until acknowledged, with durable append via checkpoint.Store.
// Grounded on the teacher's retry-with-backoff idiom used for framework
// registration/reconnect attempts, generalized from "retry a single RPC"
// to "retry the head of a per-task queue".
package updates

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/wire"
)

// Sender delivers one StatusUpdate to the current coordinator pid.
// Returning an error does not stop the retry loop; it merely logs.
type Sender interface {
	Send(ctx context.Context, pid string, update wire.StatusUpdate) error
}

type streamKey struct {
	FrameworkID ids.FrameworkID
	TaskID      ids.TaskID
}

// stream is the FIFO for one (framework, task). Only the head is ever
// in flight; everything else waits.
type stream struct {
	pending  *list.List // of wire.StatusUpdate
	retrying bool
	cancel   context.CancelFunc
}

// Manager is the Update Manager. R and RMax bound the retry backoff per
// spec.md §4.2; both default to sane values if left zero via New.
type Manager struct {
	mu      sync.Mutex
	streams map[streamKey]*stream

	sender        Sender
	coordinatorPid string

	r    time.Duration
	rMax time.Duration

	store *checkpoint.Store
}

// New creates a Manager. r is the initial retry delay, rMax the backoff
// cap (spec.md's R and R_max).
func New(sender Sender, store *checkpoint.Store, r, rMax time.Duration) *Manager {
	if r <= 0 {
		r = time.Second
	}
	if rMax <= 0 {
		rMax = time.Minute
	}
	return &Manager{
		streams: make(map[streamKey]*stream),
		sender:  sender,
		store:   store,
		r:       r,
		rMax:    rMax,
	}
}

// NewCoordinator redirects all future sends to pid.
func (m *Manager) NewCoordinator(pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinatorPid = pid
}

// Update enqueues u onto its (framework, task) stream, optionally
// appending it to path first. It starts the retry loop if the stream had
// no in-flight send.
func (m *Manager) Update(ctx context.Context, u wire.StatusUpdate, checkpointEnabled bool, path string) error {
	if checkpointEnabled && path != "" {
		if err := m.store.AppendUpdate(path, checkpoint.UpdateRecord{Status: u.Status}); err != nil {
			return err
		}
	}

	k := streamKey{FrameworkID: u.FrameworkID, TaskID: u.TaskID}

	m.mu.Lock()
	s, ok := m.streams[k]
	if !ok {
		s = &stream{pending: list.New()}
		m.streams[k] = s
	}
	s.pending.PushBack(u)
	startRetry := !s.retrying
	if startRetry {
		s.retrying = true
	}
	m.mu.Unlock()

	if startRetry {
		go m.retryLoop(ctx, k)
	}
	return nil
}

func (m *Manager) retryLoop(ctx context.Context, k streamKey) {
	backoff := m.r
	for {
		m.mu.Lock()
		s, ok := m.streams[k]
		if !ok || s.pending.Len() == 0 {
			if ok {
				s.retrying = false
			}
			m.mu.Unlock()
			return
		}
		head := s.pending.Front().Value.(wire.StatusUpdate)
		pid := m.coordinatorPid
		m.mu.Unlock()

		if pid != "" {
			if err := m.sender.Send(ctx, pid, head); err != nil {
				logger.G(ctx).WithError(err).WithField("task", head.TaskID).Warn("status update send failed, will retry")
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > m.rMax {
			backoff = m.rMax
		}
	}
}

// Acknowledgement pops the head of (frameworkID, taskID)'s stream if uuid
// matches it, advancing the stream. AckOutOfOrder is returned otherwise.
func (m *Manager) Acknowledgement(frameworkID ids.FrameworkID, taskID ids.TaskID, uuid ids.UpdateUUID) error {
	k := streamKey{FrameworkID: frameworkID, TaskID: taskID}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[k]
	if !ok || s.pending.Len() == 0 {
		return &agenterrors.AckOutOfOrder{Expected: "", Got: string(uuid)}
	}
	front := s.pending.Front()
	head := front.Value.(wire.StatusUpdate)
	if head.UUID != uuid {
		return &agenterrors.AckOutOfOrder{Expected: string(head.UUID), Got: string(uuid)}
	}
	s.pending.Remove(front)
	if s.pending.Len() == 0 {
		delete(m.streams, k)
	}
	return nil
}

// Cleanup drops every stream belonging to frameworkID (framework shutdown).
func (m *Manager) Cleanup(frameworkID ids.FrameworkID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.streams {
		if k.FrameworkID == frameworkID {
			delete(m.streams, k)
		}
	}
}

// Recover replays per-task updates found in a checkpoint.RecoveredState,
// reconstructing streams. Acks already recorded on disk are not
// replayable from the update log alone (the log only records what this
// agent sent, not what was acked) — callers are expected to reconcile
// against executor.Updates (ack-pending uuids) before calling Recover, and
// pass only the updates still genuinely outstanding.
func (m *Manager) Recover(ctx context.Context, outstanding []wire.StatusUpdate) {
	for _, u := range outstanding {
		_ = m.Update(ctx, u, false, "")
	}
}

// Pending reports the number of updates still queued for (frameworkID,
// taskID), for tests.
func (m *Manager) Pending(frameworkID ids.FrameworkID, taskID ids.TaskID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamKey{FrameworkID: frameworkID, TaskID: taskID}]
	if !ok {
		return 0
	}
	return s.pending.Len()
}
