// Package queue defines the task source contract used by workers and jobs,
// with an in-memory implementation. Durable backends live in subpackages.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidReceipt means a task handle does not belong to any outstanding lease.
	// It is a contract violation, not a transient failure.
	ErrInvalidReceipt = errors.New("invalid task receipt")

	// ErrClosed is returned by operations on a closed queue
	ErrClosed = errors.New("queue closed")

	// ErrUnknownPriority is returned when a priority name cannot be parsed
	ErrUnknownPriority = errors.New("unknown priority")
)

// UnavailableError wraps an I/O failure at the queue boundary
type UnavailableError struct {
	Queue string
	Op    string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("queue %s unavailable during %s: %v", e.Queue, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a queue I/O failure
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Priority orders queues for polling. Lower values are polled first.
type Priority int

const (
	Critical Priority = iota
	High
	Mid
	Low
)

var priorityNames = [...]string{
	Critical: "critical",
	High:     "high",
	Mid:      "mid",
	Low:      "low",
}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MarshalText implements encoding.TextMarshaler
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority converts a priority name into a Priority
func ParsePriority(name string) (Priority, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return Low, fmt.Errorf("%w: %q", ErrUnknownPriority, name)
}

// Acker settles leased tasks
type Acker[T any] interface {
	// Done acknowledges the task so it is never delivered again
	Done(ctx context.Context, task *Task[T]) error
	// Abandon returns the task for redelivery
	Abandon(ctx context.Context, task *Task[T]) error
}

// Queue is an ordered source of tasks. Implementations must lease each
// outstanding task to at most one caller at a time.
type Queue[T any] interface {
	Acker[T]

	Name() string
	// Count returns the number of tasks waiting to be leased
	Count(ctx context.Context) (int, error)
	// Next leases the next task, or returns nil when the queue is empty
	Next(ctx context.Context) (*Task[T], error)
	// NextBatch leases up to n tasks
	NextBatch(ctx context.Context, n int) ([]*Task[T], error)
	// Send enqueues value and returns its task id
	Send(ctx context.Context, value T, attrs map[string]string) (string, error)
}

// Task is one leased unit of work
type Task[T any] struct {
	ID       string            `json:"id"`
	Queue    string            `json:"queue"`
	Data     T                 `json:"data"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Receipt  string            `json:"receipt"`
	Attempts int               `json:"attempts"`

	source Acker[T]
}

// Bind attaches the acker that settles this task
func (t *Task[T]) Bind(source Acker[T]) *Task[T] {
	t.source = source
	return t
}

// Done acknowledges the task with its source queue
func (t *Task[T]) Done(ctx context.Context) error {
	if t.source == nil {
		return nil
	}
	return t.source.Done(ctx, t)
}

// Abandon returns the task to its source queue
func (t *Task[T]) Abandon(ctx context.Context) error {
	if t.source == nil {
		return nil
	}
	return t.source.Abandon(ctx, t)
}

// Attr returns an attribute or the empty string
func (t *Task[T]) Attr(key string) string {
	if t.Attrs == nil {
		return ""
	}
	return t.Attrs[key]
}

// Batch leases up to n tasks by calling next repeatedly. Backends without a
// native batch read use it for NextBatch.
func Batch[T any](ctx context.Context, n int, next func(context.Context) (*Task[T], error)) ([]*Task[T], error) {
	tasks := make([]*Task[T], 0, n)
	for len(tasks) < n {
		task, err := next(ctx)
		if err != nil {
			return tasks, err
		}
		if task == nil {
			break
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
