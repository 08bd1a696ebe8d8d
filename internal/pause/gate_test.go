package pause_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/pause"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/store"
)

func newTestGate(t *testing.T) (*pause.Gate, *queue.Engine) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	events := store.NewMemoryEventStore()
	artifacts := store.NewMemoryArtifactStore()
	engine := queue.NewEngine(jobs, events, artifacts)
	return pause.NewGate(engine), engine
}

func TestPauseBlocksClaims(t *testing.T) {
	g, _ := newTestGate(t)
	require.False(t, g.Paused())
	require.NoError(t, g.Apply("pause", "drain", "maintenance", false))
	require.True(t, g.Paused())
}

func TestResumeWithoutForceFailsWhenNotDrained(t *testing.T) {
	g, engine := newTestGate(t)
	job, err := engine.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{Repository: "a/b", Instructions: "x", Publish: queue.TaskPublish{Mode: queue.PublishNone}},
	})
	require.NoError(t, err)
	_, ok, err := engine.ClaimJob(queue.ClaimOptions{WorkerID: "w1", AdvertisedCapabilities: job.RequiredCapabilities, LeaseTTL: time.Minute})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Apply("pause", "drain", "maintenance", false))

	err = g.Apply("resume", "", "done", false)
	require.Error(t, err)
	var notDrained *pause.NotDrainedError
	require.ErrorAs(t, err, &notDrained)

	require.NoError(t, g.Apply("resume", "", "done", true))
	require.False(t, g.Paused())
}

func TestStatusIncludesAuditTrail(t *testing.T) {
	g, _ := newTestGate(t)
	require.NoError(t, g.Apply("pause", "quiesce", "incident", false))
	require.NoError(t, g.Apply("resume", "", "resolved", true))

	status := g.Status().(pause.StatusView)
	require.Len(t, status.Audit.Latest, 2)
	require.Equal(t, "pause", status.Audit.Latest[0].Action)
	require.Equal(t, "resume", status.Audit.Latest[1].Action)
	require.False(t, status.System.WorkersPaused)
}
