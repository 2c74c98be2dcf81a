package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_FIFO(t *testing.T) {
	m := newMailbox(0)
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.post(NewContent(s)))
	}

	var got []string
	for {
		env, ok := m.tryReceive()
		if !ok {
			break
		}
		got = append(got, env.(Content[string]).Data)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMailbox_KillJumpsTheQueue(t *testing.T) {
	m := newMailbox(0)
	require.NoError(t, m.post(NewContent("a")))
	require.NoError(t, m.post(NewControl(Stop)))
	require.NoError(t, m.post(NewControl(Kill)))

	assert.True(t, m.hasUrgent())
	env, ok := m.tryReceive()
	require.True(t, ok)
	assert.Equal(t, Kill, env.(Control).Action)
	assert.False(t, m.hasUrgent())
	assert.Equal(t, 2, m.len())
}

func TestMailbox_Capacity(t *testing.T) {
	m := newMailbox(2)
	require.NoError(t, m.post(NewContent("a")))
	require.NoError(t, m.post(NewRequest("")))

	err := m.post(NewContent("c"))
	assert.ErrorIs(t, err, ErrMailboxFull)

	// controls are never refused
	require.NoError(t, m.post(NewControl(Pause)))

	_, ok := m.tryReceive()
	require.True(t, ok)
	require.NoError(t, m.post(NewContent("c")))
}

func TestMailbox_RequeueGoesFirst(t *testing.T) {
	m := newMailbox(0)
	require.NoError(t, m.post(NewContent("later")))
	m.requeue([]Envelope{NewContent("x"), NewContent("y")})

	var got []string
	for {
		env, ok := m.tryReceive()
		if !ok {
			break
		}
		got = append(got, env.(Content[string]).Data)
	}
	assert.Equal(t, []string{"x", "y", "later"}, got)
}

func TestMailbox_Close(t *testing.T) {
	m := newMailbox(0)
	require.NoError(t, m.post(NewContent("a")))
	m.close()
	m.close()

	assert.ErrorIs(t, m.post(NewContent("b")), ErrMailboxClosed)

	_, ok := m.tryReceive()
	assert.True(t, ok, "queued envelopes survive close")

	select {
	case <-m.wait():
	default:
		t.Fatal("wait channel should be closed")
	}
}
