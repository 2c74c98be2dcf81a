// Package amqpq is a RabbitMQ backed queue. Tasks are leased with basic.get and
// settled with ack or nack on the same channel.
package amqpq

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/shared/rabbitmq"
)

// Broker is the subset of the RabbitMQ client used by the queue
type Broker interface {
	DeclareQueue(name string) error
	QueueDepth(name string) (int, error)
	Get(name string) (rabbitmq.Message, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	PublishWithRetry(ctx context.Context, queue string, body []byte, contentType string) error
}

const contentType = "application/json"

// Queue leases tasks from one RabbitMQ queue
type Queue[T any] struct {
	broker Broker
	name   string

	mu          sync.Mutex
	outstanding map[string]uint64
}

// New declares the queue and returns a handle to it
func New[T any](broker Broker, name string) (*Queue[T], error) {
	if err := broker.DeclareQueue(name); err != nil {
		return nil, err
	}
	return &Queue[T]{
		broker:      broker,
		name:        name,
		outstanding: make(map[string]uint64),
	}, nil
}

func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) Count(context.Context) (int, error) {
	return q.broker.QueueDepth(q.name)
}

func (q *Queue[T]) Next(context.Context) (*queue.Task[T], error) {
	msg, ok, err := q.broker.Get(q.name)
	if err != nil || !ok {
		return nil, err
	}

	rec, err := queue.Decode[T](msg.Body)
	if err != nil {
		// poison message, drop it so it is not redelivered forever
		if nackErr := q.broker.Nack(msg.Tag, false); nackErr != nil {
			return nil, fmt.Errorf("%w (nack: %v)", err, nackErr)
		}
		return nil, err
	}
	rec.Attempts++
	if msg.Redelivered {
		rec.Attempts++
	}

	receipt := strconv.FormatUint(msg.Tag, 10)
	q.mu.Lock()
	q.outstanding[receipt] = msg.Tag
	q.mu.Unlock()

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
	if err := q.broker.PublishWithRetry(ctx, q.name, b, contentType); err != nil {
		return "", err
	}
	return id, nil
}

func (q *Queue[T]) Done(_ context.Context, task *queue.Task[T]) error {
	tag, err := q.settle(task)
	if err != nil {
		return err
	}
	return q.broker.Ack(tag)
}

func (q *Queue[T]) Abandon(_ context.Context, task *queue.Task[T]) error {
	tag, err := q.settle(task)
	if err != nil {
		return err
	}
	return q.broker.Nack(tag, true)
}

func (q *Queue[T]) settle(task *queue.Task[T]) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tag, ok := q.outstanding[task.Receipt]
	if !ok {
		return 0, queue.ErrInvalidReceipt
	}
	delete(q.outstanding, task.Receipt)
	return tag, nil
}
