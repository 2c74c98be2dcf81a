package dto

import (
	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/job"
)

type ControlRequest struct {
	Seconds int `form:"seconds" binding:"gte=0"`
}

type ControlResponse struct {
	Target   string       `json:"target"`
	Action   actor.Action `json:"action"`
	Accepted bool         `json:"accepted"`
	Changed  bool         `json:"changed"`
	Status   actor.Status `json:"status"`
}

type ListCommandsRequest struct {
	Limit int `form:"limit"`
}

type ListCommandsResponse struct {
	Commands []job.Command `json:"commands"`
}

type EnqueueRequest struct {
	Payload string            `json:"payload" binding:"required"`
	Attrs   map[string]string `json:"attrs"`
}

type EnqueueResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

type ListQueuesResponse struct {
	Queues []job.QueueInfo `json:"queues"`
}
