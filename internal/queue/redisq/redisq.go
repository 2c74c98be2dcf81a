// Package redisq is a Redis list backed queue. Leased tasks are moved atomically
// into a processing list so a crashed worker never loses them.
package redisq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/jobengine/internal/queue"
)

// requeue removes the leased payload and pushes the updated one back to the
// head of the ready list. Returns 0 when the receipt is unknown.
var requeue = redis.NewScript(`
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[2])
return 1
`)

// Queue stores encoded records in a Redis list. New tasks are pushed on the
// left and leased from the right.
type Queue[T any] struct {
	rdb        redis.UniversalClient
	name       string
	ready      string
	processing string
}

// New creates a queue named name. prefix namespaces the keys.
func New[T any](rdb redis.UniversalClient, prefix, name string) *Queue[T] {
	key := prefix + name
	return &Queue[T]{
		rdb:        rdb,
		name:       name,
		ready:      key,
		processing: key + ":processing",
	}
}

func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) Count(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.ready).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.name, err)
	}
	return int(n), nil
}

// InFlight returns the number of leased tasks
func (q *Queue[T]) InFlight(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.processing).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count leases of %s: %w", q.name, err)
	}
	return int(n), nil
}

func (q *Queue[T]) Next(ctx context.Context) (*queue.Task[T], error) {
	payload, err := q.rdb.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease from %s: %w", q.name, err)
	}

	rec, err := queue.Decode[T]([]byte(payload))
	if err != nil {
		// unreadable payloads are parked in the processing list
		return nil, err
	}
	rec.Attempts++

	return rec.Task(q.name, payload).Bind(q), nil
}

func (q *Queue[T]) NextBatch(ctx context.Context, n int) ([]*queue.Task[T], error) {
	return queue.Batch(ctx, n, q.Next)
}

func (q *Queue[T]) Send(ctx context.Context, value T, attrs map[string]string) (string, error) {
	id := uuid.NewString()
	b, err := queue.Encode(queue.Record[T]{ID: id, Data: value, Attrs: attrs})
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.ready, b).Err(); err != nil {
		return "", fmt.Errorf("failed to send to %s: %w", q.name, err)
	}
	return id, nil
}

func (q *Queue[T]) Done(ctx context.Context, task *queue.Task[T]) error {
	n, err := q.rdb.LRem(ctx, q.processing, 1, task.Receipt).Result()
	if err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", task.ID, q.name, err)
	}
	if n == 0 {
		return queue.ErrInvalidReceipt
	}
	return nil
}

func (q *Queue[T]) Abandon(ctx context.Context, task *queue.Task[T]) error {
	b, err := queue.Encode(queue.Record[T]{ID: task.ID, Data: task.Data, Attrs: task.Attrs, Attempts: task.Attempts})
	if err != nil {
		return err
	}
	n, err := requeue.Run(ctx, q.rdb, []string{q.processing, q.ready}, task.Receipt, b).Int()
	if err != nil {
		return fmt.Errorf("failed to abandon %s on %s: %w", task.ID, q.name, err)
	}
	if n == 0 {
		return queue.ErrInvalidReceipt
	}
	return nil
}

// Recover moves every leased task back to the ready list. Call it before any
// worker starts to reclaim leases left by a previous process.
func (q *Queue[T]) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.ready, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover %s: %w", q.name, err)
		}
		moved++
	}
}
