package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/api/handler"
	"github.com/cuongbtq/jobengine/internal/api/router"
	"github.com/cuongbtq/jobengine/internal/config"
	"github.com/cuongbtq/jobengine/internal/job"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Name = "mail"
	cfg.Engine.Instance = "1"
	cfg.Queues = []config.QueueConfig{
		{Name: "bulk", Priority: "low"},
		{Name: "alerts", Priority: "critical"},
	}
	cfg.Store.Path = filepath.Join(t.TempDir(), "commands.db")
	return cfg
}

// startServer builds an engine from cfg, runs it and serves its API
func startServer(t *testing.T, cfg *config.Config) (*engine, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := buildEngine(context.Background(), cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go eng.job.Run(ctx)

	srv := httptest.NewServer(router.SetupRouter(&handler.Dependencies{
		Logger:  logger,
		Service: "jobengine-test",
		Engine:  eng.job,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-eng.job.Done()
		eng.Close()
	})
	return eng, srv.URL
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "status", "control", "send", "commands", "queues"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "format", "server"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown format", args: []string{"--format", "xml", "status"}},
		{name: "unknown action", args: []string{"control", "explode"}},
		{name: "negative seconds", args: []string{"control", "pause", "--seconds", "-1"}},
		{name: "unreachable server", args: []string{"--server", "http://127.0.0.1:1", "status"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "http://127.0.0.1:1", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestControl(t *testing.T) {
	eng, url := startServer(t, testConfig(t))

	out, err := execute(t, url, "control", "start")
	require.NoError(t, err)
	assert.Equal(t, "start jobengine.mail.1: accepted, status running\n", out)

	out, err = execute(t, url, "control", "pause", "--worker", "mail-w1", "--seconds", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted, status paused")

	w, err := eng.job.Worker("mail-w1")
	require.NoError(t, err)
	assert.Equal(t, actor.Paused, w.Status())
}

func TestControl_Rejected(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	_, err := execute(t, url, "control", "kill")
	require.NoError(t, err)

	out, err := execute(t, url, "control", "start")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "start jobengine.mail.1: rejected, status killed\n", out)
}

func TestSend(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	_, err := execute(t, url, "control", "start")
	require.NoError(t, err)

	out, err := execute(t, url, "send", "alerts", "hello", "--attr", "k=v")
	require.NoError(t, err)
	assert.Regexp(t, `^Task \S+ sent to alerts\n$`, out)

	client := NewClient(url, nil)
	require.Eventually(t, func() bool {
		s, err := client.Snapshot(context.Background())
		return err == nil && s.Totals.Succeeded == 1
	}, waitFor, tick)
}

func TestSend_UnknownQueue(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	_, err := execute(t, url, "send", "nope", "hello")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestCommands(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	out, err := execute(t, url, "commands")
	require.NoError(t, err)
	assert.Equal(t, "No commands recorded\n", out)

	for _, action := range []string{"start", "pause", "resume"} {
		_, err := execute(t, url, "control", action)
		require.NoError(t, err)
	}

	const (
		jobName = "jobengine.mail.1"
		w1      = "jobengine.mail-w1.1"
		w2      = "jobengine.mail-w2.1"
	)
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "all",
			args: []string{"commands", "--format", "json"},
			want: []string{
				"start " + w1, "start " + w2, "start " + jobName,
				"pause " + w1, "pause " + w2, "pause " + jobName,
				"resume " + w1, "resume " + w2, "resume " + jobName,
			},
		},
		{
			name: "limited",
			args: []string{"commands", "--format", "json", "--limit", "2"},
			want: []string{"resume " + w2, "resume " + jobName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, url, tt.args...)
			require.NoError(t, err)

			var cmds []job.Command
			require.NoError(t, json.Unmarshal([]byte(out), &cmds))
			got := make([]string, 0, len(cmds))
			for _, c := range cmds {
				assert.Equal(t, jobName, c.Job)
				got = append(got, c.Action.String()+" "+c.Target)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueues(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	_, err := execute(t, url, "send", "bulk", "later")
	require.NoError(t, err)

	out, err := execute(t, url, "queues", "--format", "json")
	require.NoError(t, err)

	var queues []job.QueueInfo
	require.NoError(t, json.Unmarshal([]byte(out), &queues))
	require.Len(t, queues, 2)
	assert.Equal(t, "alerts", queues[0].Name)
	assert.Equal(t, "bulk", queues[1].Name)
	assert.Equal(t, 1, queues[1].Depth)
}

func TestStatus_JSON(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	out, err := execute(t, url, "status", "--format", "json")
	require.NoError(t, err)

	var s job.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, actor.InActive, s.Status)
	assert.Equal(t, "jobengine.mail.1", s.Identity.FullName)
	require.Len(t, s.Workers, 2)
}

func TestStatus_Text(t *testing.T) {
	_, url := startServer(t, testConfig(t))

	out, err := execute(t, url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Job:    jobengine.mail.1\n")
	assert.Contains(t, out, "Status: inactive\n")
	assert.Contains(t, out, "mail-w1")
	assert.Contains(t, out, "mail-w2")
}
