package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/job"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "commands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := []job.Command{
		{ID: "1", Job: "app:mail", Target: "app:mail", Action: actor.Start, Accepted: true, Status: actor.Running, At: at},
		{ID: "2", Job: "app:mail", Target: "app:mail-w1", Action: actor.Pause, Seconds: 30, Accepted: true, Status: actor.Paused, At: at.Add(time.Second)},
		{ID: "3", Job: "app:mail", Target: "app:mail", Action: actor.Start, Status: actor.Killed, Error: "rejected", At: at.Add(2 * time.Second)},
	}
	for _, c := range want {
		require.NoError(t, s.Append(ctx, c))
	}

	tests := []struct {
		name  string
		limit int
		want  []job.Command
	}{
		{name: "all", limit: 0, want: want},
		{name: "most recent", limit: 2, want: want[1:]},
		{name: "limit above size", limit: 50, want: want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_ReopenKeepsCommands(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "commands.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, job.Command{ID: "1", Job: "j", Target: "j", Action: actor.Stop, Status: actor.Stopped, At: time.Unix(10, 0).UTC()}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, actor.Stop, got[0].Action)
	assert.Equal(t, actor.Stopped, got[0].Status)
}

func TestStore_AsJobCommandLog(t *testing.T) {
	s := openTestStore(t)
	j := job.New[string](actor.NewIdentity("test", "empty"), nil, job.Config[string]{CommandLog: s})

	// a job without workers fails on start and still records the command
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	fb, err := j.Control(ctx, actor.Start, 0)
	require.NoError(t, err)
	assert.Equal(t, actor.Failed, fb.Status)

	cmds, err := j.Commands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, actor.Failed, cmds[0].Status)
}
