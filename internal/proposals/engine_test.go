package proposals_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/proposals"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/store"
)

func newTestEngine(t *testing.T) *proposals.Engine {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	events := store.NewMemoryEventStore()
	artifacts := store.NewMemoryArtifactStore()
	queueEngine := queue.NewEngine(jobs, events, artifacts)
	return proposals.NewEngine(queueEngine)
}

func submitReq() queue.SubmitOptions {
	return queue.SubmitOptions{
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{Repository: "acme/widgets", Instructions: "fix", Publish: queue.TaskPublish{Mode: queue.PublishNone}},
	}
}

func TestCreateDedupsByHashAndRepository(t *testing.T) {
	e := newTestEngine(t)
	first, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)

	second, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "duplicate create with the same dedup hash must return the existing proposal")
}

func TestCreateAllowsDifferentRepositorySameHash(t *testing.T) {
	e := newTestEngine(t)
	first, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)
	second, err := e.Create(proposals.Origin{Source: "worker"}, "acme/gadgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestPromoteSubmitsJobAndTransitions(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)

	job, err := e.Promote(p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	got, err := e.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, proposals.StatusPromoted, got.Status)
	require.Equal(t, job.ID, got.PromotedJobID)

	_, err = e.Promote(p.ID)
	require.Error(t, err, "promoting an already-promoted proposal must fail")
}

func TestSnoozeHidesFromDefaultListing(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)

	_, err = e.Snooze(p.ID, time.Now().Add(time.Hour), "revisit later")
	require.NoError(t, err)

	listed, err := e.List("", "", "", false, 0)
	require.NoError(t, err)
	require.Empty(t, listed)

	listedWithSnoozed, err := e.List("", "", "", true, 0)
	require.NoError(t, err)
	require.Len(t, listedWithSnoozed, 1)

	_, err = e.Unsnooze(p.ID)
	require.NoError(t, err)
	listed, err = e.List("", "", "", false, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestDismissReleasesDedupKey(t *testing.T) {
	e := newTestEngine(t)
	first, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)

	_, err = e.Dismiss(first.ID, "not useful")
	require.NoError(t, err)

	second, err := e.Create(proposals.Origin{Source: "worker"}, "acme/widgets", "bugfix", submitReq(), nil, "hash-1", proposals.PriorityNormal, "preview")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID, "dismissing a proposal frees its dedup key for a fresh proposal")
}
