// Package pgq is a PostgreSQL backed queue. Leases are claimed with
// FOR UPDATE SKIP LOCKED so concurrent workers never share a row.
package pgq

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobengine/internal/queue"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates the task table if it does not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create queue schema: %w", err)
	}
	return nil
}

type row struct {
	Payload  []byte `db:"payload"`
	Attempts int    `db:"attempts"`
}

// Queue leases rows of one named queue
type Queue[T any] struct {
	db   *sqlx.DB
	name string
}

// New returns a handle to the queue named name. EnsureSchema must have run.
func New[T any](db *sqlx.DB, name string) *Queue[T] {
	return &Queue[T]{db: db, name: name}
}

func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n,
		`SELECT count(*) FROM jobengine_tasks WHERE queue = $1 AND receipt IS NULL`, q.name)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.name, err)
	}
	return n, nil
}

func (q *Queue[T]) Next(ctx context.Context) (*queue.Task[T], error) {
	receipt := uuid.NewString()

	var r row
	err := q.db.GetContext(ctx, &r, `
		UPDATE jobengine_tasks
		SET receipt = $2, leased_at = NOW(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobengine_tasks
			WHERE queue = $1 AND receipt IS NULL
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload, attempts`,
		q.name, receipt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease from %s: %w", q.name, err)
	}

	rec, err := queue.Decode[T](r.Payload)
	if err != nil {
		return nil, err
	}
	rec.Attempts = r.Attempts
	return rec.Task(q.name, receipt).Bind(q), nil
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
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobengine_tasks (id, queue, payload) VALUES ($1, $2, $3)`,
		id, q.name, b,
	)
	if err != nil {
		return "", fmt.Errorf("failed to send to %s: %w", q.name, err)
	}
	return id, nil
}

func (q *Queue[T]) Done(ctx context.Context, task *queue.Task[T]) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM jobengine_tasks WHERE id = $1 AND receipt = $2`,
		task.ID, task.Receipt,
	)
	if err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", task.ID, q.name, err)
	}
	return settled(res)
}

// Abandon clears the lease. The row keeps its sequence, so it is leased
// again before anything sent after it.
func (q *Queue[T]) Abandon(ctx context.Context, task *queue.Task[T]) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobengine_tasks SET receipt = NULL, leased_at = NULL WHERE id = $1 AND receipt = $2`,
		task.ID, task.Receipt,
	)
	if err != nil {
		return fmt.Errorf("failed to abandon %s on %s: %w", task.ID, q.name, err)
	}
	return settled(res)
}

// ReleaseExpired clears leases older than ttl and returns how many were released
func (q *Queue[T]) ReleaseExpired(ctx context.Context, ttl time.Duration) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobengine_tasks SET receipt = NULL, leased_at = NULL
		WHERE queue = $1 AND receipt IS NOT NULL AND leased_at < $2`,
		q.name, time.Now().Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release leases of %s: %w", q.name, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func settled(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return queue.ErrInvalidReceipt
	}
	return nil
}
