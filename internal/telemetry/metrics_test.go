package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/store"
)

type fakeProposalSource struct{ counts map[string]int }

func (f fakeProposalSource) CountsByStatus() (map[string]int, error) { return f.counts, nil }

type fakePauseSource struct{ snap PauseSnapshot }

func (f fakePauseSource) Snapshot() PauseSnapshot { return f.snap }

func TestUpdaterPublishesJobAndProposalGauges(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	events := store.NewMemoryEventStore()
	artifacts := store.NewMemoryArtifactStore()
	engine := queue.NewEngine(jobs, events, artifacts)

	_, err := engine.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{Repository: "acme/widgets", Instructions: "fix", Publish: queue.TaskPublish{Mode: queue.PublishNone}},
	})
	require.NoError(t, err)

	u := &Updater{
		Jobs:      engine,
		Proposals: fakeProposalSource{counts: map[string]int{"open": 2}},
		Pause:     fakePauseSource{snap: PauseSnapshot{WorkersPaused: true, Queued: 1, Running: 0, StaleRunning: 0}},
	}
	u.update()

	require.Equal(t, float64(1), testutil.ToFloat64(jobsByStatusType.WithLabelValues(string(queue.StatusQueued), string(queue.TypeTask))))
	require.Equal(t, float64(2), testutil.ToFloat64(proposalsByStatus.WithLabelValues("open")))
	require.Equal(t, float64(1), testutil.ToFloat64(workerPaused))
	require.Equal(t, float64(1), testutil.ToFloat64(pauseQueueDepth.WithLabelValues("queued")))
}

func TestUpdaterRunStopsOnContextCancel(t *testing.T) {
	u := &Updater{Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { u.Run(ctx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
