package worker

import (
	"context"
	"time"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/queueclient"
)

// HTTPQueueClient adapts a queueclient.Client, whose methods all take a
// context, to the worker's QueueClient interface, whose methods don't:
// each call here just supplies context.Background(), since the worker's
// own poll loop already owns the cancellation that matters (the job's
// CancelRequestedAt field, checked via GetJob) rather than a per-call
// deadline.
type HTTPQueueClient struct {
	Client *queueclient.Client
}

func (h HTTPQueueClient) ClaimJob(opts queue.ClaimOptions) (queue.Job, bool, error) {
	return h.Client.ClaimJob(context.Background(), opts)
}

func (h HTTPQueueClient) GetJob(id string) (queue.Job, error) {
	return h.Client.GetJob(context.Background(), id)
}

func (h HTTPQueueClient) Heartbeat(jobID, workerID string, leaseTTL time.Duration) error {
	return h.Client.Heartbeat(context.Background(), jobID, workerID, leaseTTL)
}

func (h HTTPQueueClient) ReportTerminal(jobID, workerID string, outcome queue.Outcome, lastError string, kind errkind.Kind) error {
	return h.Client.ReportTerminal(context.Background(), jobID, workerID, outcome, lastError, kind)
}

func (h HTTPQueueClient) AppendEvent(jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error) {
	return h.Client.AppendEvent(context.Background(), jobID, level, message, kind, stage, stream, payload)
}

func (h HTTPQueueClient) PutArtifact(jobID, name string, data []byte, contentType string) (queue.Artifact, error) {
	return h.Client.PutArtifact(context.Background(), jobID, name, data, contentType)
}
