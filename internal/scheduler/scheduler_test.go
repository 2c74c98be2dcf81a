package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_RunsDueOperations(t *testing.T) {
	s := NewTimer(nil)
	defer s.Close()

	fired := make(chan time.Time, 1)
	start := time.Now()
	s.Schedule(start.Add(20*time.Millisecond), func(context.Context) {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("operation never fired")
	}
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimer_PastTimeFiresImmediately(t *testing.T) {
	s := NewTimer(nil)
	defer s.Close()

	var n atomic.Int32
	s.Schedule(time.Now().Add(-time.Hour), func(context.Context) { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTimer_CloseCancelsPending(t *testing.T) {
	s := NewTimer(nil)

	var n atomic.Int32
	s.Schedule(time.Now().Add(time.Hour), func(context.Context) { n.Add(1) })
	assert.Equal(t, 1, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())

	s.Schedule(time.Now(), func(context.Context) { n.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
}

func TestManual_Advance(t *testing.T) {
	ctx := context.Background()
	m := NewManual(time.Unix(0, 0))

	var order []string
	m.Schedule(time.Unix(10, 0), func(context.Context) { order = append(order, "b") })
	m.Schedule(time.Unix(5, 0), func(context.Context) { order = append(order, "a") })
	m.Schedule(time.Unix(10, 0), func(context.Context) { order = append(order, "c") })

	assert.Equal(t, []time.Time{time.Unix(5, 0), time.Unix(10, 0), time.Unix(10, 0)}, m.Pending())
	assert.Equal(t, 1, m.Advance(ctx, 5*time.Second))
	assert.Equal(t, 2, m.Advance(ctx, 5*time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, time.Unix(10, 0), m.Now())
}

func TestFunc(t *testing.T) {
	var got time.Time
	var s Scheduler = Func(func(at time.Time, op Op) {
		got = at
		op(context.Background())
	})

	ran := false
	s.Schedule(time.Unix(42, 0), func(context.Context) { ran = true })
	assert.True(t, ran)
	assert.Equal(t, time.Unix(42, 0), got)
}
