package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/store"
)

func newTestEngine(t *testing.T, now func() time.Time) *queue.Engine {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	events := store.NewMemoryEventStore()
	artifacts := store.NewMemoryArtifactStore()
	n := 0
	return queue.NewEngine(jobs, events, artifacts,
		queue.WithClock(now),
		queue.WithIDGenerator(func() string {
			n++
			return "job-" + string(rune('a'-1+n))
		}),
	)
}

func taskSubmit(repo string, priority int) queue.SubmitOptions {
	return queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{
			Repository:   repo,
			Instructions: "do the thing",
			Publish:      queue.TaskPublish{Mode: queue.PublishNone},
		},
		Priority:    priority,
		MaxAttempts: 2,
	}
}

func TestSubmitJobDerivesCapabilities(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{
			Repository:   "acme/widgets",
			Instructions: "fix the bug",
			Publish:      queue.TaskPublish{Mode: queue.PublishPR, PRBaseBranch: "main"},
			Runtime:      queue.TaskRuntime{Mode: "codex"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, job.Status)
	assert.Contains(t, job.RequiredCapabilities, "git")
	assert.Contains(t, job.RequiredCapabilities, "gh")
	assert.Contains(t, job.RequiredCapabilities, "codex")
}

func TestSubmitJobRejectsInvalidPayload(t *testing.T) {
	e := newTestEngine(t, time.Now)
	_, err := e.SubmitJob(queue.SubmitOptions{Type: queue.TypeTask, Task: &queue.TaskPayload{}})
	require.Error(t, err)
	var invalid *queue.InvalidPayload
	assert.ErrorAs(t, err, &invalid)
}

func TestSubmitJobRejectsPRWithoutBaseBranch(t *testing.T) {
	e := newTestEngine(t, time.Now)
	_, err := e.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{
			Repository:   "acme/widgets",
			Instructions: "fix the bug",
			Publish:      queue.TaskPublish{Mode: queue.PublishPR},
		},
	})
	require.Error(t, err)
}

func TestClaimJobIsExclusive(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)

	claimed, ok, err := e.ClaimJob(queue.ClaimOptions{
		WorkerID:               "worker-1",
		AdvertisedCapabilities: job.RequiredCapabilities,
		LeaseTTL:                time.Minute,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, queue.StatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.LeaseHolder)
	assert.Equal(t, 1, claimed.AttemptCount)

	_, ok, err = e.ClaimJob(queue.ClaimOptions{
		WorkerID:               "worker-2",
		AdvertisedCapabilities: job.RequiredCapabilities,
		LeaseTTL:                time.Minute,
	})
	require.NoError(t, err)
	assert.False(t, ok, "a running job must not be claimable by a second worker")
}

func TestClaimJobRespectsCapabilitySubset(t *testing.T) {
	e := newTestEngine(t, time.Now)
	_, err := e.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{
			Repository:   "acme/widgets",
			Instructions: "fix",
			Publish:      queue.TaskPublish{Mode: queue.PublishPR, PRBaseBranch: "main"},
		},
		RequiredCapabilities: []string{"git", "gh"},
	})
	require.NoError(t, err)

	_, ok, err := e.ClaimJob(queue.ClaimOptions{
		WorkerID:               "worker-1",
		AdvertisedCapabilities: []string{"git"},
		LeaseTTL:                time.Minute,
	})
	require.NoError(t, err)
	assert.False(t, ok, "a worker missing a required capability must not claim the job")
}

func TestClaimJobOrdersByPriorityThenAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	e := newTestEngine(t, func() time.Time { return clock })

	low, err := e.SubmitJob(taskSubmit("acme/a", 0))
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	high, err := e.SubmitJob(taskSubmit("acme/b", 10))
	require.NoError(t, err)
	_ = low

	claimed, ok, err := e.ClaimJob(queue.ClaimOptions{WorkerID: "w", AdvertisedCapabilities: []string{"git"}, LeaseTTL: time.Minute})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, high.ID, claimed.ID, "higher priority job must be claimed first")
}

func TestHeartbeatRequiresLeaseHolder(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)
	claimed, ok, err := e.ClaimJob(queue.ClaimOptions{WorkerID: "w1", AdvertisedCapabilities: job.RequiredCapabilities, LeaseTTL: time.Minute})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Heartbeat(claimed.ID, "w1", time.Minute))

	err = e.Heartbeat(claimed.ID, "w2", time.Minute)
	require.Error(t, err)
	var notHeld *queue.LeaseNotHeld
	assert.ErrorAs(t, err, &notHeld)
}

func TestReportTerminalIsIdempotent(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)
	claimed, ok, err := e.ClaimJob(queue.ClaimOptions{WorkerID: "w1", AdvertisedCapabilities: job.RequiredCapabilities, LeaseTTL: time.Minute})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.ReportTerminal(claimed.ID, "w1", queue.OutcomeSuccess, "", ""))
	require.NoError(t, e.ReportTerminal(claimed.ID, "w1", queue.OutcomeSuccess, "", ""), "re-reporting the same terminal outcome must succeed silently")

	err = e.ReportTerminal(claimed.ID, "w1", queue.OutcomeFailure, "boom", "")
	require.Error(t, err, "reporting a conflicting terminal outcome after the job is already terminal must fail")
}

func TestReleaseExpiredLeasesRequeuesUntilMaxAttempts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	e := newTestEngine(t, func() time.Time { return clock })

	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)

	_, ok, err := e.ClaimJob(queue.ClaimOptions{WorkerID: "w1", AdvertisedCapabilities: job.RequiredCapabilities, LeaseTTL: time.Second})
	require.NoError(t, err)
	require.True(t, ok)

	clock = clock.Add(2 * time.Second)
	recovered, err := e.ReleaseExpiredLeases()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, queue.StatusQueued, recovered[0].Status)
	assert.Equal(t, 1, recovered[0].AttemptCount)

	_, ok, err = e.ClaimJob(queue.ClaimOptions{WorkerID: "w2", AdvertisedCapabilities: job.RequiredCapabilities, LeaseTTL: time.Second})
	require.NoError(t, err)
	require.True(t, ok)

	clock = clock.Add(2 * time.Second)
	recovered, err = e.ReleaseExpiredLeases()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, queue.StatusFailed, recovered[0].Status)
	assert.Equal(t, "lease expired", recovered[0].LastError)
}

func TestRequestCancelIsAdvisory(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)

	require.NoError(t, e.RequestCancel(job.ID, "operator request"))

	got, err := e.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelRequestedAt)
	assert.Equal(t, "operator request", got.CancelReason)
	assert.Equal(t, queue.StatusQueued, got.Status, "cancellation is advisory; status does not change synchronously")
}

func TestListEventsKeysetPagination(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := e.AppendEvent(job.ID, queue.LevelInfo, "step", queue.EventKindLog, "", queue.StreamStdout, nil)
		require.NoError(t, err)
	}

	first, err := e.ListEvents(job.ID, 0, 0, 2, false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := e.ListEvents(job.ID, first[len(first)-1].ID, 0, 2, false)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestPutArtifactConflict(t *testing.T) {
	e := newTestEngine(t, time.Now)
	job, err := e.SubmitJob(taskSubmit("acme/widgets", 0))
	require.NoError(t, err)

	_, err = e.PutArtifact(job.ID, "logs/prepare.log", []byte("ok"), "text/plain")
	require.NoError(t, err)

	_, err = e.PutArtifact(job.ID, "logs/prepare.log", []byte("ok again"), "text/plain")
	require.Error(t, err)
	var conflict *queue.ArtifactConflict
	assert.ErrorAs(t, err, &conflict)
}
