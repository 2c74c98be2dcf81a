package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/job"
)

// Engine is the job surface served over HTTP. *job.Job[string] implements it.
type Engine interface {
	Snapshot() job.Snapshot
	Control(ctx context.Context, action actor.Action, seconds int) (actor.Feedback, error)
	ControlWorker(ctx context.Context, name string, action actor.Action, seconds int) (actor.Feedback, error)
	Commands(ctx context.Context, limit int) ([]job.Command, error)
	Queues(ctx context.Context) []job.QueueInfo
	Enqueue(ctx context.Context, queueName string, payload string, attrs map[string]string) (string, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	Engine  Engine
}

// JobHandler handles job control requests
type JobHandler struct {
	logger *slog.Logger
	engine Engine
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		engine: deps.Engine,
	}
}
