// Package gc implements the Garbage Collector (C5): scheduled deletion of
// per-run working directories after a delay, with pruning driven by disk
// pressure. Grounded on the teacher's reaper package's "sweep and remove"
// idiom (reaper.processContainer's stop-then-remove pair), generalized
// from containers to filesystem paths.
package gc

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/mesosagent/agentd/logger"
)

// entry is one scheduled deletion.
type entry struct {
	path     string
	deadline time.Time
	timer    *time.Timer
	done     chan struct{}
}

// Collector schedules and prunes path deletions. Safe for concurrent use,
// though in practice every call arrives from the single agent actor
// goroutine (§5).
type Collector struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{entries: make(map[string]*entry)}
}

// Schedule arranges for path to be recursively removed after delay. The
// returned channel is closed once the deletion has run (successfully or
// not — deletion errors are logged, matching the "best effort" cleanup
// policy used throughout the agent actor).
func (c *Collector) Schedule(ctx context.Context, delay time.Duration, path string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[path]; ok {
		existing.timer.Stop()
	}

	done := make(chan struct{})
	e := &entry{path: path, deadline: time.Now().Add(delay), done: done}
	e.timer = time.AfterFunc(delay, func() { c.run(ctx, path) })
	c.entries[path] = e
	return done
}

func (c *Collector) run(ctx context.Context, path string) {
	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		delete(c.entries, path)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := os.RemoveAll(path); err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Warn("gc: failed to remove path")
	}
	close(e.done)
}

// Prune immediately runs every scheduled entry whose remaining delay is
// at most maxRemaining, ahead of its own timer — the mechanism
// spec.md §4.5's disk-usage loop uses to accelerate collection under
// pressure.
func (c *Collector) Prune(ctx context.Context, maxRemaining time.Duration) {
	cutoff := time.Now().Add(maxRemaining)

	c.mu.Lock()
	var due []string
	for path, e := range c.entries {
		if e.deadline.Before(cutoff) || e.deadline.Equal(cutoff) {
			e.timer.Stop()
			due = append(due, path)
		}
	}
	c.mu.Unlock()

	for _, path := range due {
		c.run(ctx, path)
	}
}

// Pending reports how many deletions are still scheduled (test/diagnostic use).
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
