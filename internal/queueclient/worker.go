package queueclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/queue"
)

type claimJobBody struct {
	WorkerID               string       `json:"workerId"`
	AdvertisedCapabilities []string     `json:"advertisedCapabilities,omitempty"`
	AllowedTypes           []queue.Type `json:"allowedTypes,omitempty"`
	AllowedRepositories    []string     `json:"allowedRepositories,omitempty"`
	LeaseSeconds           int          `json:"leaseSeconds,omitempty"`
}

// ClaimJob asks the queue service for the next eligible job. ok is false
// (with no error) when the service has nothing to hand out right now,
// mirroring queue.Engine.ClaimJob's own three-value return; a claim
// response of 204 No Content is the wire encoding of that case.
func (c *Client) ClaimJob(ctx context.Context, opts queue.ClaimOptions) (queue.Job, bool, error) {
	body := claimJobBody{
		WorkerID:               opts.WorkerID,
		AdvertisedCapabilities: opts.AdvertisedCapabilities,
		AllowedTypes:           opts.AllowedTypes,
		AllowedRepositories:    opts.AllowedRepositories,
	}
	if opts.LeaseTTL > 0 {
		body.LeaseSeconds = int(opts.LeaseTTL / time.Second)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return queue.Job{}, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/queue/jobs/claim", bytes.NewReader(raw))
	if err != nil {
		return queue.Job{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return queue.Job{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return queue.Job{}, false, nil
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return queue.Job{}, false, fmt.Errorf("POST /queue/jobs/claim: status %d: %s", resp.StatusCode, string(respBody))
	}
	var job queue.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return queue.Job{}, false, err
	}
	return job, true, nil
}

// Heartbeat renews a claimed job's lease.
func (c *Client) Heartbeat(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) error {
	body := map[string]interface{}{"workerId": workerID}
	if leaseTTL > 0 {
		body["leaseSeconds"] = int(leaseTTL / time.Second)
	}
	return c.do(ctx, http.MethodPost, "/queue/jobs/"+jobID+"/heartbeat", body, nil)
}

// ReportTerminal reports a job's final outcome.
func (c *Client) ReportTerminal(ctx context.Context, jobID, workerID string, outcome queue.Outcome, lastError string, kind errkind.Kind) error {
	body := map[string]interface{}{
		"workerId":  workerID,
		"outcome":   string(outcome),
		"lastError": lastError,
		"errorKind": string(kind),
	}
	return c.do(ctx, http.MethodPost, "/queue/jobs/"+jobID+"/terminal", body, nil)
}

// AppendEvent appends one event to a job's durable log.
func (c *Client) AppendEvent(ctx context.Context, jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error) {
	body := map[string]interface{}{
		"level":   level,
		"message": message,
		"kind":    kind,
		"stage":   stage,
		"stream":  stream,
		"payload": payload,
	}
	var e queue.Event
	err := c.do(ctx, http.MethodPost, "/queue/jobs/"+jobID+"/events", body, &e)
	return e, err
}

// PutArtifact uploads one artifact's bytes, base64-encoded over the wire.
func (c *Client) PutArtifact(ctx context.Context, jobID, name string, data []byte, contentType string) (queue.Artifact, error) {
	body := map[string]interface{}{
		"name":        name,
		"contentType": contentType,
		"dataBase64":  base64.StdEncoding.EncodeToString(data),
	}
	var a queue.Artifact
	err := c.do(ctx, http.MethodPost, "/queue/jobs/"+jobID+"/artifacts", body, &a)
	return a, err
}
