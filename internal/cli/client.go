package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/jobengine/internal/api/dto"
	"github.com/cuongbtq/jobengine/internal/job"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

// Client talks to the HTTP control surface of a running server
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

// Snapshot fetches the job status
func (c *Client) Snapshot(ctx context.Context) (job.Snapshot, error) {
	var s job.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/job", nil, &s)
	return s, err
}

// Control sends action to the job, or to one worker when worker is set.
// A rejected control is returned with its response and an *APIError.
func (c *Client) Control(ctx context.Context, worker, action string, seconds int) (dto.ControlResponse, error) {
	path := "/api/v1/job/actions/" + url.PathEscape(action)
	if worker != "" {
		path = "/api/v1/job/workers/" + url.PathEscape(worker) + "/actions/" + url.PathEscape(action)
	}
	if seconds > 0 {
		path += "?seconds=" + strconv.Itoa(seconds)
	}

	var resp dto.ControlResponse
	err := c.do(ctx, http.MethodPost, path, nil, &resp)
	return resp, err
}

// Send enqueues payload on the named queue
func (c *Client) Send(ctx context.Context, queueName, payload string, attrs map[string]string) (dto.EnqueueResponse, error) {
	var resp dto.EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/queues/"+url.PathEscape(queueName)+"/tasks",
		dto.EnqueueRequest{Payload: payload, Attrs: attrs}, &resp)
	return resp, err
}

// Commands lists up to limit recent commands
func (c *Client) Commands(ctx context.Context, limit int) ([]job.Command, error) {
	path := "/api/v1/job/commands"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp dto.ListCommandsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Commands, err
}

// Queues lists the job's queues
func (c *Client) Queues(ctx context.Context) ([]job.QueueInfo, error) {
	var resp dto.ListQueuesResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/queues", nil, &resp)
	return resp.Queues, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// a rejected control still carries its feedback
	if resp.StatusCode == http.StatusConflict && out != nil {
		_ = json.Unmarshal(data, out)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
