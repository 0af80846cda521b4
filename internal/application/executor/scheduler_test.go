package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(kind string, priority int) *ScheduledTask {
	return &ScheduledTask{
		NodeID:   uuid.New(),
		Kind:     kind,
		Priority: priority,
	}
}

func TestScheduler_AcquireRelease_GlobalCap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrent: 1})

	release1, err := s.Acquire(context.Background(), newTestTask("agent", 0))
	require.NoError(t, err)
	assert.Equal(t, 1, s.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, newTestTask("agent", 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()
	assert.Equal(t, 0, s.InFlight())

	release2, err := s.Acquire(context.Background(), newTestTask("agent", 0))
	require.NoError(t, err)
	release2()
}

func TestScheduler_PerKindCap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		MaxConcurrent: 10,
		MaxPerKind:    map[string]int{"agent": 1},
	})

	releaseAgent, err := s.Acquire(context.Background(), newTestTask("agent", 0))
	require.NoError(t, err)

	releaseTool, err := s.Acquire(context.Background(), newTestTask("tool", 0))
	require.NoError(t, err)
	releaseTool()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, newTestTask("agent", 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	releaseAgent()
}

func TestScheduler_PerAgentCap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		MaxConcurrent: 10,
		MaxPerAgent:   map[string]int{"agent-1": 1},
	})

	task1 := newTestTask("agent", 0)
	task1.AgentID = "agent-1"
	release1, err := s.Acquire(context.Background(), task1)
	require.NoError(t, err)

	task2 := newTestTask("agent", 0)
	task2.AgentID = "agent-1"
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, task2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()

	release2, err := s.Acquire(context.Background(), task2)
	require.NoError(t, err)
	release2()
}

func TestScheduler_HigherPriorityAdmittedFirst(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrent: 1})

	releaseHolder, err := s.Acquire(context.Background(), newTestTask("agent", 0))
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for _, p := range []int{1, 5, 3} {
		wg.Add(1)
		go func(priority int) {
			defer wg.Done()
			release, err := s.Acquire(context.Background(), newTestTask("agent", priority))
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, priority)
			mu.Unlock()
			release()
		}(p)
		time.Sleep(10 * time.Millisecond) // ensure enqueue order is deterministic
	}

	time.Sleep(20 * time.Millisecond)
	releaseHolder()
	wg.Wait()

	require.Len(t, order, 3)
	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestScheduler_RateLimitBucketBlocksUntilRefill(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		MaxConcurrent: 10,
		RateLimits: map[string]RateLimitConfig{
			"throttled": {Capacity: 1, RefillPerInterval: 1, Interval: 200 * time.Millisecond},
		},
	})

	task1 := newTestTask("any", 0)
	task1.ResourceKey = "throttled"
	release1, err := s.Acquire(context.Background(), task1)
	require.NoError(t, err)
	release1()

	task2 := newTestTask("any", 0)
	task2.ResourceKey = "throttled"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, task2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	task3 := newTestTask("any", 0)
	task3.ResourceKey = "throttled"
	release3, err := s.Acquire(context.Background(), task3)
	require.NoError(t, err)
	release3()
}

func TestScheduler_QueueDepthTracksWaiters(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrent: 1})

	release, err := s.Acquire(context.Background(), newTestTask("agent", 0))
	require.NoError(t, err)
	assert.Equal(t, 0, s.QueueDepth())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = s.Acquire(ctx, newTestTask("agent", 0))
		close(done)
	}()

	require.Eventually(t, func() bool { return s.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	release()
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	b := NewTokenBucket(1, 1, 100*time.Millisecond)
	require.True(t, b.Allow())
	assert.False(t, b.Allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, b.Allow())
}
