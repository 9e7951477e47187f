// Package agent implements the Agent Actor (C8): the single goroutine that
// owns all in-memory state.Agent mutations. Every public method on Agent
// enqueues a closure onto the actor's mailbox instead of touching state
// directly, so callers (a transport layer, timers, the resource monitor,
// the isolation driver's callbacks) never race with the actor loop.
// Grounded on the teacher's executor/runner.Runner: a goroutine draining a
// buffered channel fed by updateChan/killChan, generalized here from "one
// channel per message kind" to "one channel of closures", since the
// message surface here is considerably larger than the teacher's.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/config"
	"github.com/mesosagent/agentd/gc"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation"
	"github.com/mesosagent/agentd/monitor"
	"github.com/mesosagent/agentd/state"
	"github.com/mesosagent/agentd/updates"
	"github.com/mesosagent/agentd/wire"
)

// Transport is how the actor reaches peers outside its own process. A
// production binary backs this with a real libprocess-style mailbox
// client; tests back it with a recording fake.
type Transport interface {
	SendToCoordinator(ctx context.Context, pid string, msg interface{}) error
	SendToExecutor(ctx context.Context, pid string, msg interface{}) error
}

// mailboxDepth bounds the actor's closure queue. Sized generously since a
// full mailbox means a sender blocks, and blocking a caller that is itself
// the isolation driver's callback goroutine would stall termination
// delivery.
const mailboxDepth = 4096

// Agent is the actor: one state.Agent, the collaborators it drives, and
// the mailbox every mutation flows through.
type Agent struct {
	cfg *config.Config

	state   *state.Agent
	driver  isolation.Driver
	store   *checkpoint.Store
	layout  *checkpoint.Layout
	collector *gc.Collector
	monitor *monitor.Monitor
	updates *updates.Manager
	transport Transport
	reporter  metrics.Reporter

	mailbox chan func(context.Context)

	mu             sync.Mutex
	coordinatorPid string
	registered     bool

	// recovered is closed once the Recovery Engine's reconnect phase (C9)
	// has either succeeded for every recovered executor or timed out;
	// register() will not contact the coordinator before then (§4.8 step
	// 2-3, §4.9). pendingReconnect tracks which recovered executors are
	// still outstanding; recoveredOnce guards against closing recovered
	// twice (the reregister-timeout goroutine and a fully-drained
	// pendingReconnect map can both try).
	recovered        chan struct{}
	recoveredOnce    sync.Once
	pendingReconnect map[reconnectKey]struct{}

	samples chan monitor.Sample

	stopOnce sync.Once
	stopped  chan struct{}
}

// New assembles an Agent. The caller is responsible for having already run
// recovery (recovery.Recover) before calling Start, if --recover is not
// "cleanup".
func New(cfg *config.Config, st *state.Agent, driver isolation.Driver, store *checkpoint.Store, layout *checkpoint.Layout, collector *gc.Collector, updateMgr *updates.Manager, transport Transport, reporter metrics.Reporter) *Agent {
	if reporter == nil {
		reporter = metrics.Discard
	}
	a := &Agent{
		cfg:              cfg,
		state:            st,
		driver:           driver,
		store:            store,
		layout:           layout,
		collector:        collector,
		updates:          updateMgr,
		transport:        transport,
		reporter:         reporter,
		mailbox:          make(chan func(context.Context), mailboxDepth),
		samples:          make(chan monitor.Sample, 256),
		stopped:          make(chan struct{}),
		recovered:        make(chan struct{}),
		pendingReconnect: make(map[reconnectKey]struct{}),
	}
	a.monitor = monitor.New(&driverSampler{driver: driver}, a.samples)
	return a
}

// Start runs the actor loop, the resource-sample drain loop, and the
// disk-usage/GC-pressure loop, each on its own goroutine, until ctx is
// done or Stop is called.
func (a *Agent) Start(ctx context.Context) {
	_ = a.driver.Initialize(ctx, a.state.Info.Resources, true, string(a.state.Info.AgentID), a)
	go a.run(ctx)
	go a.drainSamples(ctx)
	go a.diskUsageLoop(ctx)
}

// Stop closes the actor down. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopped) })
}

func (a *Agent) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case fn := <-a.mailbox:
			fn(ctx)
		}
	}
}

// enqueue places fn on the mailbox, blocking if it is full. Every public
// Agent method is a thin wrapper around enqueue so no caller ever touches
// a.state directly.
func (a *Agent) enqueue(ctx context.Context, fn func(context.Context)) {
	select {
	case a.mailbox <- fn:
	case <-ctx.Done():
	case <-a.stopped:
	}
}

func (a *Agent) drainSamples(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case s := <-a.samples:
			sample := s
			a.enqueue(ctx, func(ctx context.Context) { a.handleResourceSample(ctx, sample) })
		}
	}
}

// diskUsageLoop implements spec.md §4.5's disk-usage loop: every
// DiskWatchInterval, sample work_dir's filesystem usage and pull the GC
// collector's pruning window proportionally closer, so a fuller disk
// collects more aggressively. At usage=0 nothing not already due is
// pruned; at usage=1 everything due within a full GCDelay of now is
// pruned immediately, the same as if the whole delay had already elapsed.
func (a *Agent) diskUsageLoop(ctx context.Context) {
	interval := a.cfg.DiskWatchInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case <-ticker.C:
			usage, ok := a.diskUsageFraction()
			if !ok {
				continue
			}
			pruneWindow := time.Duration(usage * float64(a.cfg.GCDelay))
			a.collector.Prune(ctx, pruneWindow)
		}
	}
}

// driverSampler adapts an isolation.Driver's ResourcesChanged-adjacent
// capability into a monitor.Sampler. Docker-backed drivers expose stats
// via the Engine API's container stats endpoint; since isolation.Driver's
// interface does not carry a stats method (spec.md scopes resource
// sampling to the monitor package, not the driver), this default sampler
// reports the executor's declared Info.Resources as its usage and lets a
// driver-specific Sampler be supplied
// to monitor.New instead when real sampling is needed.
type driverSampler struct {
	driver isolation.Driver
}

func (s *driverSampler) Sample(_ context.Context, _ ids.FrameworkID, _ ids.ExecutorID, info wire.ExecutorInfo) (wire.Resources, error) {
	return info.Resources, nil
}

// ExecutorTerminated implements isolation.Callbacks: the isolation driver
// reports a termination, and the actor processes it on the actor
// goroutine like every other state mutation.
func (a *Agent) ExecutorTerminated(frameworkID ids.FrameworkID, executorID ids.ExecutorID, exitStatus int, destroyed bool, message string) {
	ctx := context.Background()
	a.enqueue(ctx, func(ctx context.Context) {
		a.handleExecutorTerminated(ctx, frameworkID, executorID, exitStatus, destroyed, message)
	})
}
