package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/api/dto"
	"github.com/cuongbtq/jobengine/internal/api/handler"
	"github.com/cuongbtq/jobengine/internal/job"
	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/scheduler"
	"github.com/cuongbtq/jobengine/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	job    *job.Job[string]
	queue  *queue.Memory[string]
	calls  *atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := scheduler.NewManual(time.Unix(0, 0))

	calls := new(atomic.Int32)
	work := func(context.Context, *queue.Task[string]) (worker.Result, error) {
		calls.Add(1)
		return worker.Done, nil
	}

	id := actor.NewIdentityWithInstance("test", "mail", "1")
	q := queue.NewMemory[string]("mail")
	workers := worker.NewPool(id, 2, work, worker.Config[string]{Logger: logger, Scheduler: clock, Now: clock.Now})
	j := job.New(id, workers, job.Config[string]{
		Queues:    []job.Source[string]{{Queue: q, Priority: queue.High}},
		Logger:    logger,
		Scheduler: clock,
		Now:       clock.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-j.Done()
	})

	r := SetupRouter(&handler.Dependencies{Logger: logger, Service: "jobengine-test", Engine: j})
	return &testServer{router: r, job: j, queue: q, calls: calls}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "jobengine-test", body["service"])
	assert.Equal(t, "inactive", body["job_status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestControlJob(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantCode   int
		wantStatus actor.Status
	}{
		{name: "start", path: "/api/v1/job/actions/start", wantCode: http.StatusOK, wantStatus: actor.Running},
		{name: "pause with seconds", path: "/api/v1/job/actions/pause?seconds=30", wantCode: http.StatusOK, wantStatus: actor.Paused},
		{name: "unknown action", path: "/api/v1/job/actions/explode", wantCode: http.StatusBadRequest},
		{name: "negative seconds", path: "/api/v1/job/actions/pause?seconds=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(http.MethodPost, tt.path, "")
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp dto.ControlResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.Accepted)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, s.job.Identity().FullName, resp.Target)
		})
	}
}

func TestControlJob_RejectedIsConflict(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/job/actions/kill", "").Code)

	w := s.do(http.MethodPost, "/api/v1/job/actions/start", "")
	require.Equal(t, http.StatusConflict, w.Code)

	var resp dto.ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.Equal(t, actor.Killed, resp.Status)
}

func TestControlWorker(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/job/workers/mail-w1/actions/pause", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, actor.Paused, resp.Status)

	w = s.do(http.MethodPost, "/api/v1/job/workers/ghost/actions/pause", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/job", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap job.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, actor.InActive, snap.Status)
	require.Len(t, snap.Workers, 2)
	assert.Equal(t, "mail-w1", snap.Workers[0].Identity.Name)
}

func TestEnqueueAndProcess(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/job/actions/start", "").Code)

	w := s.do(http.MethodPost, "/api/v1/queues/mail/tasks", `{"payload":"hello","attrs":{"k":"v"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "mail", resp.Queue)

	require.Eventually(t, func() bool { return s.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{name: "unknown queue", path: "/api/v1/queues/nope/tasks", body: `{"payload":"x"}`, wantCode: http.StatusNotFound},
		{name: "missing payload", path: "/api/v1/queues/mail/tasks", body: `{"attrs":{}}`, wantCode: http.StatusBadRequest},
		{name: "malformed body", path: "/api/v1/queues/mail/tasks", body: `{`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestListQueues(t *testing.T) {
	s := newTestServer(t)
	_, err := s.queue.Send(context.Background(), "a", nil)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/v1/queues", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Queues []struct {
			Name     string `json:"name"`
			Priority string `json:"priority"`
			Depth    int    `json:"depth"`
		} `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Queues, 1)
	assert.Equal(t, "mail", resp.Queues[0].Name)
	assert.Equal(t, "high", resp.Queues[0].Priority)
	assert.Equal(t, 1, resp.Queues[0].Depth)
}

func TestListCommands(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/job/actions/start", "").Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/job/actions/pause", "").Code)

	jobName := s.job.Identity().FullName
	w1, w2 := s.job.Identity().Child("w1").FullName, s.job.Identity().Child("w2").FullName

	tests := []struct {
		name string
		path string
		want []string
	}{
		{
			name: "default limit",
			path: "/api/v1/job/commands",
			want: []string{
				"start " + w1, "start " + w2, "start " + jobName,
				"pause " + w1, "pause " + w2, "pause " + jobName,
			},
		},
		{name: "limit one", path: "/api/v1/job/commands?limit=1", want: []string{"pause " + jobName}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, w.Code)

			var resp dto.ListCommandsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			got := make([]string, 0, len(resp.Commands))
			for _, c := range resp.Commands {
				got = append(got, c.Action.String()+" "+c.Target)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodOptions, "/api/v1/job", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
