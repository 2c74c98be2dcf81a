package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobengine/internal/backoff"
)

// Retrying retries failed queue I/O with backoff. Errors that survive every
// attempt are returned as *UnavailableError. ErrInvalidReceipt is never retried.
type Retrying[T any] struct {
	inner    Queue[T]
	attempts int
	strategy backoff.Strategy
	logger   *slog.Logger
}

// WithRetry wraps q. attempts counts the first try.
func WithRetry[T any](q Queue[T], attempts int, strategy backoff.Strategy, logger *slog.Logger) *Retrying[T] {
	if attempts <= 0 {
		attempts = 3
	}
	if strategy == nil {
		strategy = backoff.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying[T]{inner: q, attempts: attempts, strategy: strategy, logger: logger}
}

func (r *Retrying[T]) Name() string { return r.inner.Name() }

func (r *Retrying[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, "count", func(ctx context.Context) (err error) {
		n, err = r.inner.Count(ctx)
		return err
	})
	return n, err
}

func (r *Retrying[T]) Next(ctx context.Context) (*Task[T], error) {
	var task *Task[T]
	err := r.do(ctx, "next", func(ctx context.Context) (err error) {
		task, err = r.inner.Next(ctx)
		return err
	})
	if task != nil {
		// settle through the wrapper so acks are retried too
		task.Bind(r)
	}
	return task, err
}

func (r *Retrying[T]) NextBatch(ctx context.Context, n int) ([]*Task[T], error) {
	var tasks []*Task[T]
	err := r.do(ctx, "next_batch", func(ctx context.Context) (err error) {
		tasks, err = r.inner.NextBatch(ctx, n)
		return err
	})
	for _, task := range tasks {
		task.Bind(r)
	}
	return tasks, err
}

func (r *Retrying[T]) Send(ctx context.Context, value T, attrs map[string]string) (string, error) {
	var id string
	err := r.do(ctx, "send", func(ctx context.Context) (err error) {
		id, err = r.inner.Send(ctx, value, attrs)
		return err
	})
	return id, err
}

func (r *Retrying[T]) Done(ctx context.Context, task *Task[T]) error {
	return r.do(ctx, "done", func(ctx context.Context) error {
		return r.inner.Done(ctx, task)
	})
}

func (r *Retrying[T]) Abandon(ctx context.Context, task *Task[T]) error {
	return r.do(ctx, "abandon", func(ctx context.Context) error {
		return r.inner.Abandon(ctx, task)
	})
}

func (r *Retrying[T]) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Queue operation succeeded after retry",
					slog.String("queue", r.inner.Name()),
					slog.String("op", op),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}
		if errors.Is(err, ErrInvalidReceipt) || errors.Is(err, ErrClosed) {
			return err
		}
		lastErr = err

		if attempt == r.attempts {
			break
		}

		delay := r.strategy.Delay(attempt)
		r.logger.Warn("Queue operation failed, retrying...",
			slog.String("queue", r.inner.Name()),
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &UnavailableError{Queue: r.inner.Name(), Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	r.logger.Error("Queue operation failed after all retries",
		slog.String("queue", r.inner.Name()),
		slog.String("op", op),
		slog.Int("attempts", r.attempts),
		slog.Any("error", lastErr),
	)
	return &UnavailableError{Queue: r.inner.Name(), Op: op, Err: lastErr}
}
