package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/api/dto"
	"github.com/cuongbtq/jobengine/internal/job"
	"github.com/cuongbtq/jobengine/internal/queue"
)

const (
	defaultCommandLimit = 50
	maxCommandLimit     = 500
)

// GetJob handles GET /api/v1/job
// Returns the job status with a snapshot of every worker
func (h *JobHandler) GetJob(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

// ControlJob handles POST /api/v1/job/actions/:action
// Sends a control action to the job. Timed actions take ?seconds=
func (h *JobHandler) ControlJob(c *gin.Context) {
	action, seconds, ok := h.bindControl(c)
	if !ok {
		return
	}

	fb, err := h.engine.Control(c.Request.Context(), action, seconds)
	if err != nil {
		h.logger.Error("Failed to control job",
			slog.String("action", action.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to control job",
		})
		return
	}

	h.respondFeedback(c, h.engine.Snapshot().Identity.FullName, fb)
}

// ControlWorker handles POST /api/v1/job/workers/:worker/actions/:action
// Sends a control action to a single worker
func (h *JobHandler) ControlWorker(c *gin.Context) {
	name := c.Param("worker")
	action, seconds, ok := h.bindControl(c)
	if !ok {
		return
	}

	fb, err := h.engine.ControlWorker(c.Request.Context(), name, action, seconds)
	if errors.Is(err, job.ErrUnknownWorker) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown worker",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to control worker",
			slog.String("worker", name),
			slog.String("action", action.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to control worker",
		})
		return
	}

	h.respondFeedback(c, name, fb)
}

// ListCommands handles GET /api/v1/job/commands
// Lists the most recent control commands, oldest first
func (h *JobHandler) ListCommands(c *gin.Context) {
	var req dto.ListCommandsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultCommandLimit
	}
	if req.Limit > maxCommandLimit {
		req.Limit = maxCommandLimit
	}

	cmds, err := h.engine.Commands(c.Request.Context(), req.Limit)
	if err != nil {
		h.logger.Error("Failed to list commands", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list commands",
		})
		return
	}
	if cmds == nil {
		cmds = []job.Command{}
	}

	c.JSON(http.StatusOK, dto.ListCommandsResponse{Commands: cmds})
}

// Enqueue handles POST /api/v1/queues/:queue/tasks
// Adds a task to one of the job's queues
func (h *JobHandler) Enqueue(c *gin.Context) {
	name := c.Param("queue")

	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	id, err := h.engine.Enqueue(c.Request.Context(), name, req.Payload, req.Attrs)
	switch {
	case errors.Is(err, job.ErrUnknownQueue):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown queue",
		})
		return
	case queue.IsUnavailable(err):
		h.logger.Error("Queue unavailable", slog.String("queue", name), slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Queue unavailable",
		})
		return
	case err != nil:
		h.logger.Error("Failed to enqueue task", slog.String("queue", name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue task",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.EnqueueResponse{TaskID: id, Queue: name})
}

// ListQueues handles GET /api/v1/queues
// Lists the job's queues in polling order with their depth
func (h *JobHandler) ListQueues(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ListQueuesResponse{Queues: h.engine.Queues(c.Request.Context())})
}

// bindControl parses the action path parameter and the seconds query
func (h *JobHandler) bindControl(c *gin.Context) (actor.Action, int, bool) {
	action, err := actor.ParseAction(c.Param("action"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown action",
		})
		return action, 0, false
	}

	var req dto.ControlRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return action, 0, false
	}
	return action, req.Seconds, true
}

// respondFeedback answers 200 for an accepted control and 409 for a rejected one
func (h *JobHandler) respondFeedback(c *gin.Context, target string, fb actor.Feedback) {
	status := http.StatusOK
	if !fb.Accepted {
		status = http.StatusConflict
	}
	c.JSON(status, dto.ControlResponse{
		Target:   target,
		Action:   fb.Action,
		Accepted: fb.Accepted,
		Changed:  fb.Changed,
		Status:   fb.Status,
	})
}
