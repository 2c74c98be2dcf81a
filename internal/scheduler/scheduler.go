// Package scheduler runs operations at or after a point in time.
// Delivery is at-least-once with no exactness guarantee.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Op is a deferred operation
type Op func(ctx context.Context)

// Scheduler invokes op at or after at
type Scheduler interface {
	Schedule(at time.Time, op Op)
}

// Func adapts a function to the Scheduler interface
type Func func(at time.Time, op Op)

func (f Func) Schedule(at time.Time, op Op) { f(at, op) }

// Timer schedules operations on runtime timers
type Timer struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewTimer creates a timer-backed scheduler
func NewTimer(logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Timer{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Schedule arms a timer for op. Operations scheduled after Close are dropped.
func (s *Timer) Schedule(at time.Time, op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Scheduler closed, dropping operation", slog.Time("at", at))
		return
	}

	var t *time.Timer
	s.wg.Add(1)
	t = time.AfterFunc(time.Until(at), func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.timers, t)
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return
		}
		op(s.ctx)
	})
	s.timers[t] = struct{}{}
}

// Pending returns the number of operations not yet fired
func (s *Timer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels pending operations and waits for running ones
func (s *Timer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Manual holds operations until Advance moves its clock past them.
// It is meant for tests that need deterministic re-activation.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	next int
	ops  []manualOp
}

type manualOp struct {
	at  time.Time
	seq int
	op  Op
}

// NewManual creates a manual scheduler whose clock starts at now
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Schedule(at time.Time, op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, manualOp{at: at, seq: m.next, op: op})
	m.next++
}

// Now returns the scheduler's clock
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns scheduled times not yet fired, in firing order
func (m *Manual) Pending() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortLocked()
	out := make([]time.Time, len(m.ops))
	for i, o := range m.ops {
		out[i] = o.at
	}
	return out
}

// Advance moves the clock by d and runs every operation now due, in time order.
// It returns how many operations ran.
func (m *Manual) Advance(ctx context.Context, d time.Duration) int {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.sortLocked()
	var due []manualOp
	for len(m.ops) > 0 && !m.ops[0].at.After(m.now) {
		due = append(due, m.ops[0])
		m.ops = m.ops[1:]
	}
	m.mu.Unlock()

	for _, o := range due {
		o.op(ctx)
	}
	return len(due)
}

func (m *Manual) sortLocked() {
	sort.SliceStable(m.ops, func(i, j int) bool {
		if m.ops[i].at.Equal(m.ops[j].at) {
			return m.ops[i].seq < m.ops[j].seq
		}
		return m.ops[i].at.Before(m.ops[j].at)
	})
}
