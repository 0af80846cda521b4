package executor

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenBucket is a lazily-refilling token bucket rate limiter: tokens accrue
// continuously at refillPerInterval/interval and are capped at capacity.
// Grounded on the combined token-bucket/sliding-window limiter pattern used
// elsewhere in the ecosystem for per-resource throttling, trimmed to the
// token-bucket half since the scheduler's per-kind/per-agent caps already
// cover burst fairness.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	available  float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that holds at most capacity tokens and
// refills at refillPerInterval tokens every interval.
func NewTokenBucket(capacity int, refillPerInterval float64, interval time.Duration) *TokenBucket {
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		refillRate: refillPerInterval / interval.Seconds(),
		available:  float64(capacity),
		lastRefill: time.Now(),
	}
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * b.refillRate
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
}

// Allow attempts to consume one token, returning false if none is available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.available >= 1 {
		b.available--
		return true
	}
	return false
}

// ReserveAfter returns the duration until one token will next be available.
func (b *TokenBucket) ReserveAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.available >= 1 {
		return 0
	}
	shortfall := 1 - b.available
	if b.refillRate <= 0 {
		return time.Hour
	}
	return time.Duration(shortfall / b.refillRate * float64(time.Second))
}

// RateLimitConfig parameterizes a TokenBucket keyed by resource.
type RateLimitConfig struct {
	Capacity          int
	RefillPerInterval float64
	Interval          time.Duration
}

// ScheduledTask describes one unit of dispatchable work: a node execution
// waiting for a scheduler slot.
type ScheduledTask struct {
	NodeID      uuid.UUID
	Kind        string // domain.NodeType of the node, used for per-kind caps
	AgentID     string // resource owner for per-agent caps, empty if none
	ResourceKey string // rate limiter bucket key, defaults to Kind if empty
	Priority    int    // higher runs first
	EnqueuedAt  time.Time

	index int // heap bookkeeping
}

type taskHeap []*ScheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// SchedulerConfig bounds concurrency three ways: a global cap, a per-node-kind
// cap, and a per-agent cap, plus optional per-resource-key rate limiting.
type SchedulerConfig struct {
	MaxConcurrent int
	MaxPerKind    map[string]int
	MaxPerAgent   map[string]int
	RateLimits    map[string]RateLimitConfig
}

// DefaultSchedulerConfig returns a scheduler with a modest global cap and no
// per-kind/per-agent/rate-limit restrictions.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent: 10,
		MaxPerKind:    map[string]int{},
		MaxPerAgent:   map[string]int{},
		RateLimits:    map[string]RateLimitConfig{},
	}
}

// Scheduler is a priority-queue-backed admission controller for node
// dispatch: Acquire blocks a caller until a slot satisfying the global,
// per-kind, per-agent, and rate-limit constraints is available, then reserves
// it; the returned release function must be called exactly once when the
// node finishes executing.
type Scheduler struct {
	mu sync.Mutex

	maxConcurrent int
	maxPerKind    map[string]int
	maxPerAgent   map[string]int

	inFlight     int
	inFlightKind map[string]int
	inFlightAgt  map[string]int

	buckets map[string]*TokenBucket

	queue  taskHeap
	waitCh chan struct{} // closed and replaced whenever a slot frees up
}

// NewScheduler constructs a Scheduler from config, defaulting MaxConcurrent
// to 1 if unset so the scheduler never admits unbounded concurrency by
// accident.
func NewScheduler(config SchedulerConfig) *Scheduler {
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	buckets := make(map[string]*TokenBucket, len(config.RateLimits))
	for key, rl := range config.RateLimits {
		buckets[key] = NewTokenBucket(rl.Capacity, rl.RefillPerInterval, rl.Interval)
	}

	s := &Scheduler{
		maxConcurrent: maxConcurrent,
		maxPerKind:    config.MaxPerKind,
		maxPerAgent:   config.MaxPerAgent,
		inFlightKind:  make(map[string]int),
		inFlightAgt:   make(map[string]int),
		buckets:       buckets,
		waitCh:        make(chan struct{}),
	}
	heap.Init(&s.queue)
	return s
}

// Acquire blocks until task can be admitted under every configured cap and
// rate limit, or ctx is cancelled. On success it returns a release function
// the caller must invoke when the task's work completes.
func (s *Scheduler) Acquire(ctx context.Context, task *ScheduledTask) (func(), error) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	if task.ResourceKey == "" {
		task.ResourceKey = task.Kind
	}

	s.mu.Lock()
	heap.Push(&s.queue, task)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.queue.Len() > 0 && s.queue[0] == task && s.admitLocked(task) {
			heap.Remove(&s.queue, task.index)
			s.reserveLocked(task)
			ch := s.waitCh
			s.mu.Unlock()
			_ = ch
			return func() { s.release(task) }, nil
		}
		ch := s.waitCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.mu.Lock()
			if task.index >= 0 && task.index < len(s.queue) && s.queue[task.index] == task {
				heap.Remove(&s.queue, task.index)
			}
			s.mu.Unlock()
			return nil, ctx.Err()
		case <-ch:
		case <-time.After(25 * time.Millisecond):
			// Rate-limit bucket refills don't signal waitCh; poll for them.
		}
	}
}

// admitLocked reports whether task currently fits under every cap and
// rate-limit bucket. Must be called with s.mu held.
func (s *Scheduler) admitLocked(task *ScheduledTask) bool {
	if s.inFlight >= s.maxConcurrent {
		return false
	}
	if limit, ok := s.maxPerKind[task.Kind]; ok && limit > 0 && s.inFlightKind[task.Kind] >= limit {
		return false
	}
	if task.AgentID != "" {
		if limit, ok := s.maxPerAgent[task.AgentID]; ok && limit > 0 && s.inFlightAgt[task.AgentID] >= limit {
			return false
		}
	}
	if bucket, ok := s.buckets[task.ResourceKey]; ok && !bucket.Allow() {
		return false
	}
	return true
}

func (s *Scheduler) reserveLocked(task *ScheduledTask) {
	s.inFlight++
	s.inFlightKind[task.Kind]++
	if task.AgentID != "" {
		s.inFlightAgt[task.AgentID]++
	}
}

func (s *Scheduler) release(task *ScheduledTask) {
	s.mu.Lock()
	s.inFlight--
	s.inFlightKind[task.Kind]--
	if s.inFlightKind[task.Kind] <= 0 {
		delete(s.inFlightKind, task.Kind)
	}
	if task.AgentID != "" {
		s.inFlightAgt[task.AgentID]--
		if s.inFlightAgt[task.AgentID] <= 0 {
			delete(s.inFlightAgt, task.AgentID)
		}
	}
	old := s.waitCh
	s.waitCh = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// QueueDepth returns the number of tasks currently waiting for admission.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of tasks currently holding a slot.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
