package queue

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process queue. Abandoned tasks go back to the head.
type Memory[T any] struct {
	name string

	mu     sync.Mutex
	ready  []*Task[T]
	leased map[string]*Task[T]
	closed bool
}

// NewMemory creates an empty in-memory queue
func NewMemory[T any](name string) *Memory[T] {
	return &Memory[T]{
		name:   name,
		leased: make(map[string]*Task[T]),
	}
}

// NewMemoryFrom creates an in-memory queue seeded with values
func NewMemoryFrom[T any](name string, values ...T) *Memory[T] {
	q := NewMemory[T](name)
	for _, v := range values {
		q.push(v, nil)
	}
	return q
}

func (q *Memory[T]) Name() string { return q.name }

func (q *Memory[T]) Count(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), nil
}

// Leased returns the number of tasks handed out but not yet settled
func (q *Memory[T]) Leased() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leased)
}

func (q *Memory[T]) Next(context.Context) (*Task[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.ready) == 0 {
		return nil, nil
	}

	task := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]

	task.Receipt = uuid.NewString()
	task.Attempts++
	q.leased[task.Receipt] = task

	leased := *task
	leased.Attrs = maps.Clone(task.Attrs)
	return leased.Bind(q), nil
}

func (q *Memory[T]) NextBatch(ctx context.Context, n int) ([]*Task[T], error) {
	return Batch(ctx, n, q.Next)
}

func (q *Memory[T]) Send(_ context.Context, value T, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}
	return q.pushLocked(value, attrs), nil
}

func (q *Memory[T]) Done(_ context.Context, task *Task[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.leased[task.Receipt]; !ok {
		return ErrInvalidReceipt
	}
	delete(q.leased, task.Receipt)
	return nil
}

func (q *Memory[T]) Abandon(_ context.Context, task *Task[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.leased[task.Receipt]
	if !ok {
		return ErrInvalidReceipt
	}
	delete(q.leased, task.Receipt)

	stored.Receipt = ""
	q.ready = append([]*Task[T]{stored}, q.ready...)
	return nil
}

// Close refuses further sends and leases. Outstanding leases can still be settled.
func (q *Memory[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Memory[T]) push(value T, attrs map[string]string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(value, attrs)
}

func (q *Memory[T]) pushLocked(value T, attrs map[string]string) string {
	id := uuid.NewString()
	q.ready = append(q.ready, &Task[T]{
		ID:    id,
		Queue: q.name,
		Data:  value,
		Attrs: maps.Clone(attrs),
	})
	return id
}
