package queueserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/events"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/queueserver"
	"github.com/moonward/moonward/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Engine) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	evs := store.NewMemoryEventStore()
	arts := store.NewMemoryArtifactStore()
	engine := queue.NewEngine(jobs, evs, arts)
	hub := events.NewHub()
	pub := events.NewPublisher(engine, hub)

	srv := &queueserver.Server{Engine: engine, Publisher: pub, Hub: hub}
	ts := httptest.NewServer(queueserver.NewRouter(srv))
	t.Cleanup(ts.Close)
	return ts, engine
}

func TestSubmitAndClaimJobOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "task",
		"task": map[string]interface{}{
			"repository":   "acme/widgets",
			"instructions": "fix the bug",
			"publish":      map[string]interface{}{"mode": "none"},
		},
	})
	resp, err := http.Post(ts.URL+"/queue/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job queue.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	require.Equal(t, queue.StatusQueued, job.Status)

	claimBody, _ := json.Marshal(map[string]interface{}{"workerId": "w1", "advertisedCapabilities": []string{"git"}})
	resp, err = http.Post(ts.URL+"/queue/jobs/claim", "application/json", bytes.NewReader(claimBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed queue.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claimed))
	resp.Body.Close()
	require.Equal(t, job.ID, claimed.ID)
	require.Equal(t, queue.StatusRunning, claimed.Status)
}

func TestSubmitJobRejectsUnknownFields(t *testing.T) {
	ts, _ := newTestServer(t)
	body := []byte(`{"type":"task","task":{"repository":"a/b","instructions":"x","publish":{"mode":"none"}},"bogus":true}`)
	resp, err := http.Post(ts.URL+"/queue/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestGetUnknownJobReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/queue/jobs/does-not-exist")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkerPauseUnconfiguredReturns501(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/system/worker-pause")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
