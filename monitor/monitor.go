// Package monitor implements the Resource Monitor (C4): periodic
// sampling of an executor's resource usage, reported asynchronously to
// the Agent Actor. Grounded on the teacher's ticker-driven sampling loop
// pattern in reaper.watchLoop (a ticker that fires a sampling cycle and
// reschedules itself), generalized from "sweep all containers" to
// "sample one executor".
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/logger"
	"github.com/mesosagent/agentd/wire"
)

// Sample is one resource usage reading for an executor.
type Sample struct {
	FrameworkID ids.FrameworkID
	ExecutorID  ids.ExecutorID
	Usage       wire.Resources
	Err         error
}

// Sampler samples one executor's current resource usage. Implementations
// talk to the isolation driver (e.g. docker stats); failures are reported
// through Sample.Err rather than as a Go error, matching spec.md §4.4's
// "failures are logged, not propagated".
type Sampler interface {
	Sample(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, info wire.ExecutorInfo) (wire.Resources, error)
}

// Monitor tracks one goroutine per watched executor, each on its own
// ticker, reporting Samples onto a shared channel the Agent Actor drains.
type Monitor struct {
	sampler Sampler
	results chan Sample

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Monitor. results is the channel samples are delivered on;
// the caller (the agent actor) is expected to select on it alongside its
// other inputs.
func New(sampler Sampler, results chan Sample) *Monitor {
	return &Monitor{sampler: sampler, results: results, cancels: make(map[string]context.CancelFunc)}
}

// Watch starts periodic sampling of one executor every interval. A second
// Watch for the same (frameworkID, executorID) replaces the first. A
// non-positive interval registers the watch but takes no samples.
func (m *Monitor) Watch(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, info wire.ExecutorInfo, interval time.Duration) {
	m.Unwatch(frameworkID, executorID)

	watchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[key(frameworkID, executorID)] = cancel
	m.mu.Unlock()

	go m.loop(watchCtx, frameworkID, executorID, info, interval)
}

// Unwatch stops sampling an executor, if it was being watched.
func (m *Monitor) Unwatch(frameworkID ids.FrameworkID, executorID ids.ExecutorID) {
	m.mu.Lock()
	cancel, ok := m.cancels[key(frameworkID, executorID)]
	if ok {
		delete(m.cancels, key(frameworkID, executorID))
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Monitor) loop(ctx context.Context, frameworkID ids.FrameworkID, executorID ids.ExecutorID, info wire.ExecutorInfo, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := m.sampler.Sample(ctx, frameworkID, executorID, info)
			if err != nil {
				logger.G(ctx).WithError(err).WithField("executor", executorID).Warn("resource sample failed")
			}
			select {
			case m.results <- Sample{FrameworkID: frameworkID, ExecutorID: executorID, Usage: usage, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func key(frameworkID ids.FrameworkID, executorID ids.ExecutorID) string {
	return string(frameworkID) + "/" + string(executorID)
}
