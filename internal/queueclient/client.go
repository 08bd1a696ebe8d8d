// Package queueclient is an HTTP client for the queue service's public
// API, grounded on boskos/client.Client's dialer-plus-JSON-request shape,
// generalized from the resource-acquire verbs to the job, worker and pause
// verbs this system exposes. It has no proposal or manifest calls.
package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/moonward/moonward/internal/pause"
	"github.com/moonward/moonward/internal/queue"
)

// Client is a thin wrapper over the queue service's HTTP API.
type Client struct {
	BaseURL string
	http    http.Client
}

// New builds a Client whose transport dials with fixed connect and
// keep-alive timeouts. A failed dial is not retried; the request fails.
func New(baseURL string) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c := &Client{BaseURL: baseURL}
	c.http.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	c.http.Timeout = 30 * time.Second
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitJob submits a new job and returns the stored record.
func (c *Client) SubmitJob(ctx context.Context, opts queue.SubmitOptions) (queue.Job, error) {
	var job queue.Job
	err := c.do(ctx, http.MethodPost, "/queue/jobs", opts, &job)
	return job, err
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id string) (queue.Job, error) {
	var job queue.Job
	err := c.do(ctx, http.MethodGet, "/queue/jobs/"+id, nil, &job)
	return job, err
}

// ListJobs lists jobs, optionally filtered by status and type.
func (c *Client) ListJobs(ctx context.Context, status, typ string) ([]queue.Job, error) {
	path := "/queue/jobs"
	if status != "" || typ != "" {
		path += "?status=" + status + "&type=" + typ
	}
	var resp struct {
		Jobs []queue.Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Jobs, err
}

// Cancel requests cancellation of a running or queued job.
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/queue/jobs/"+id+"/cancel", map[string]string{"reason": reason}, nil)
}

// PauseStatus fetches the current worker-pause status.
func (c *Client) PauseStatus(ctx context.Context) (pause.StatusView, error) {
	var view pause.StatusView
	err := c.do(ctx, http.MethodGet, "/system/worker-pause", nil, &view)
	return view, err
}

// PauseApply pauses or resumes worker claims.
func (c *Client) PauseApply(ctx context.Context, action, mode, reason string, forceResume bool) (pause.StatusView, error) {
	var view pause.StatusView
	body := map[string]interface{}{"action": action, "mode": mode, "reason": reason, "forceResume": forceResume}
	err := c.do(ctx, http.MethodPost, "/system/worker-pause", body, &view)
	return view, err
}
