package amqpq

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/shared/rabbitmq"
)

// fakeBroker keeps messages in memory with basic.get semantics
type fakeBroker struct {
	mu      sync.Mutex
	tag     uint64
	ready   map[string][]rabbitmq.Message
	unacked map[uint64]string
	msgs    map[uint64]rabbitmq.Message
	acked   int
	dropped int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		ready:   make(map[string][]rabbitmq.Message),
		unacked: make(map[uint64]string),
		msgs:    make(map[uint64]rabbitmq.Message),
	}
}

func (b *fakeBroker) DeclareQueue(string) error { return nil }

func (b *fakeBroker) QueueDepth(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready[name]), nil
}

func (b *fakeBroker) Get(name string) (rabbitmq.Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ready[name]) == 0 {
		return rabbitmq.Message{}, false, nil
	}
	msg := b.ready[name][0]
	b.ready[name] = b.ready[name][1:]
	b.tag++
	msg.Tag = b.tag
	b.unacked[msg.Tag] = name
	b.msgs[msg.Tag] = msg
	return msg, true, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.unacked[tag]; !ok {
		return errors.New("unknown delivery tag")
	}
	delete(b.unacked, tag)
	b.acked++
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.unacked[tag]
	if !ok {
		return errors.New("unknown delivery tag")
	}
	delete(b.unacked, tag)
	if !requeue {
		b.dropped++
		return nil
	}
	msg := b.msgs[tag]
	msg.Redelivered = true
	b.ready[name] = append([]rabbitmq.Message{msg}, b.ready[name]...)
	return nil
}

func (b *fakeBroker) PublishWithRetry(_ context.Context, name string, body []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready[name] = append(b.ready[name], rabbitmq.Message{Body: body})
	return nil
}

func TestQueue_DoneAcks(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	q, err := New[string](broker, "mail")
	require.NoError(t, err)

	_, err = q.Send(ctx, "hello", map[string]string{"to": "bob"})
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "hello", task.Data)
	assert.Equal(t, "bob", task.Attr("to"))
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, task.Done(ctx))
	assert.Equal(t, 1, broker.acked)
	assert.ErrorIs(t, task.Done(ctx), queue.ErrInvalidReceipt)
}

func TestQueue_AbandonRequeues(t *testing.T) {
	ctx := context.Background()
	q, err := New[string](newFakeBroker(), "mail")
	require.NoError(t, err)

	_, err = q.Send(ctx, "a", nil)
	require.NoError(t, err)
	_, err = q.Send(ctx, "b", nil)
	require.NoError(t, err)

	first, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Abandon(ctx))

	again, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueue_PoisonMessageDropped(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	q, err := New[string](broker, "mail")
	require.NoError(t, err)
	require.NoError(t, broker.PublishWithRetry(ctx, "mail", []byte("not json"), contentType))

	task, err := q.Next(ctx)
	assert.Error(t, err)
	assert.Nil(t, task)
	assert.Equal(t, 1, broker.dropped)
}

func TestQueue_EmptyReturnsNil(t *testing.T) {
	q, err := New[int](newFakeBroker(), "nums")
	require.NoError(t, err)

	task, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_RabbitMQ(t *testing.T) {
	url := os.Getenv("JOBENGINE_TEST_AMQP_URL")
	if url == "" {
		t.Skip("JOBENGINE_TEST_AMQP_URL not set")
	}
	ctx := context.Background()

	client, err := rabbitmq.NewClient(&rabbitmq.Config{URL: url, RetryAttempts: 1}, slog.Default())
	require.NoError(t, err)
	defer client.Close()

	q, err := New[string](client, "jobengine-test-"+uuid.NewString())
	require.NoError(t, err)

	_, err = q.Send(ctx, "hello", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := q.Count(ctx)
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "hello", task.Data)
	require.NoError(t, task.Done(ctx))
}
