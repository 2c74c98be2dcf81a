package redisq

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobengine/internal/queue"
)

func setupRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("JOBENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JOBENGINE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newTestQueue(t *testing.T) *Queue[string] {
	rdb := setupRedis(t)
	prefix := "jobengine-test:" + uuid.NewString() + ":"
	q := New[string](rdb, prefix, "mail")
	t.Cleanup(func() {
		rdb.Del(context.Background(), q.ready, q.processing)
	})
	return q
}

func TestQueue_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, v := range []string{"a", "b"} {
		_, err := q.Send(ctx, v, map[string]string{"k": v})
		require.NoError(t, err)
	}
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.Data)
	assert.Equal(t, "a", task.Attr("k"))
	assert.Equal(t, 1, task.Attempts)

	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inflight)

	require.NoError(t, task.Done(ctx))
	assert.ErrorIs(t, task.Done(ctx), queue.ErrInvalidReceipt)
}

func TestQueue_AbandonRedeliversFirst(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Send(ctx, "a", nil)
	require.NoError(t, err)
	_, err = q.Send(ctx, "b", nil)
	require.NoError(t, err)

	first, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Abandon(ctx))
	assert.ErrorIs(t, first.Abandon(ctx), queue.ErrInvalidReceipt)

	again, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueue_EmptyAndRecover(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	_, err = q.Send(ctx, "a", nil)
	require.NoError(t, err)
	_, err = q.Next(ctx)
	require.NoError(t, err)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
