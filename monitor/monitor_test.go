package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okSampler struct {
	usage wire.Resources
	err   error
}

func (s *okSampler) Sample(_ context.Context, _ ids.FrameworkID, _ ids.ExecutorID, _ wire.ExecutorInfo) (wire.Resources, error) {
	return s.usage, s.err
}

var _ Sampler = (*okSampler)(nil)

func TestWatchDeliversSamples(t *testing.T) {
	results := make(chan Sample, 4)
	m := New(&okSampler{usage: wire.Resources{CPUs: 1.5}}, results)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "fw-1", "ex-1", wire.ExecutorInfo{}, 5*time.Millisecond)

	select {
	case s := <-results:
		assert.Equal(t, wire.Resources{CPUs: 1.5}, s.Usage)
		assert.NoError(t, s.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
	m.Unwatch("fw-1", "ex-1")
}

func TestUnwatchStopsSampling(t *testing.T) {
	results := make(chan Sample, 16)
	m := New(&okSampler{}, results)

	ctx := context.Background()
	m.Watch(ctx, "fw-1", "ex-1", wire.ExecutorInfo{}, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	m.Unwatch("fw-1", "ex-1")

	drained := 0
loop:
	for {
		select {
		case <-results:
			drained++
		case <-time.After(30 * time.Millisecond):
			break loop
		}
	}
	require.GreaterOrEqual(t, drained, 1)

	before := len(results)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, len(results), "no further samples after Unwatch")
}

func TestSampleErrorIsReportedNotPropagated(t *testing.T) {
	results := make(chan Sample, 4)
	m := New(&okSampler{err: errors.New("boom")}, results)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, "fw-1", "ex-1", wire.ExecutorInfo{}, 5*time.Millisecond)

	select {
	case s := <-results:
		assert.Error(t, s.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
}
