package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobengine/internal/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_NextAndDone(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryFrom("mail", "a", "b")

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.Data)
	assert.Equal(t, "mail", task.Queue)
	assert.Equal(t, 1, task.Attempts)
	assert.NotEmpty(t, task.Receipt)
	assert.Equal(t, 1, q.Leased())

	require.NoError(t, task.Done(ctx))
	assert.Equal(t, 0, q.Leased())

	err = task.Done(ctx)
	assert.ErrorIs(t, err, ErrInvalidReceipt, "double ack is a contract violation")
}

func TestMemory_EmptyReturnsNil(t *testing.T) {
	q := NewMemory[int]("empty")
	task, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemory_AbandonRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryFrom("mail", "a", "b")

	first, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Abandon(ctx))

	again, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Data)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
	assert.NotEqual(t, first.Receipt, again.Receipt)

	assert.ErrorIs(t, first.Abandon(ctx), ErrInvalidReceipt, "stale receipt")
}

func TestMemory_SendAndBatch(t *testing.T) {
	ctx := context.Background()
	q := NewMemory[string]("mail")

	for _, v := range []string{"x", "y", "z"} {
		id, err := q.Send(ctx, v, map[string]string{"source": "test"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	tasks, err := q.NextBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "x", tasks[0].Data)
	assert.Equal(t, "test", tasks[1].Attr("source"))

	rest, err := q.NextBatch(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestMemory_ExactlyOnceLease(t *testing.T) {
	ctx := context.Background()
	values := make([]int, 200)
	for i := range values {
		values[i] = i
	}
	q := NewMemoryFrom("nums", values...)

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Next(ctx)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.Data]++
				mu.Unlock()
				_ = task.Done(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 200)
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d leased more than once", v)
	}
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryFrom("mail", "a")
	task, err := q.Next(ctx)
	require.NoError(t, err)

	q.Close()
	_, err = q.Send(ctx, "b", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, task.Done(ctx))
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input   string
		want    Priority
		wantErr bool
	}{
		{input: "critical", want: Critical},
		{input: "High", want: High},
		{input: " mid", want: Mid},
		{input: "low", want: Low},
		{input: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePriority(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPriority)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, Critical < Low)
}

// flaky fails the first n calls of every operation
type flaky struct {
	*Memory[string]
	mu    sync.Mutex
	fails int
	calls int
	err   error
}

func (f *flaky) trip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return f.err
	}
	return nil
}

func (f *flaky) Next(ctx context.Context) (*Task[string], error) {
	if err := f.trip(); err != nil {
		return nil, err
	}
	return f.Memory.Next(ctx)
}

func (f *flaky) Done(ctx context.Context, task *Task[string]) error {
	if err := f.trip(); err != nil {
		return err
	}
	return f.Memory.Done(ctx, task)
}

func TestRetrying(t *testing.T) {
	errNet := errors.New("connection reset")

	tests := []struct {
		name        string
		fails       int
		wantErr     bool
		wantCalls   int
		wantUnavail bool
	}{
		{name: "recovers after transient errors", fails: 2, wantCalls: 3},
		{name: "gives up after attempts", fails: 10, wantErr: true, wantCalls: 3, wantUnavail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flaky{Memory: NewMemoryFrom("mail", "a"), fails: tt.fails, err: errNet}
			q := WithRetry[string](inner, 3, backoff.NewConstant(time.Millisecond), nil)

			task, err := q.Next(context.Background())
			assert.Equal(t, tt.wantCalls, inner.calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantUnavail, IsUnavailable(err))
				assert.ErrorIs(t, err, errNet)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, task)
			assert.Equal(t, "a", task.Data)
		})
	}
}

func TestRetrying_InvalidReceiptNotRetried(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemoryFrom("mail", "a")}
	q := WithRetry[string](inner, 5, backoff.NewConstant(time.Millisecond), nil)

	task, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Done(ctx))

	before := inner.calls
	err = task.Done(ctx)
	assert.ErrorIs(t, err, ErrInvalidReceipt)
	assert.False(t, IsUnavailable(err))
	assert.Equal(t, before+1, inner.calls)
}

func TestRecordRoundTrip(t *testing.T) {
	b, err := Encode(Record[map[string]int]{ID: "1", Data: map[string]int{"n": 2}, Attempts: 1})
	require.NoError(t, err)

	r, err := Decode[map[string]int](b)
	require.NoError(t, err)
	task := r.Task("q", "rcpt")
	assert.Equal(t, 2, task.Data["n"])
	assert.Equal(t, "rcpt", task.Receipt)

	_, err = Decode[int]([]byte("{"))
	assert.Error(t, err)
}
