package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/events"
	"github.com/moonward/moonward/internal/queue"
)

func TestHubPublishDeliversToSubscriber(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(queue.Event{JobID: "job-1", ID: 1, Message: "hello"})

	select {
	case e := <-ch:
		require.Equal(t, int64(1), e.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHubPublishIgnoresOtherJobs(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(queue.Event{JobID: "job-2", ID: 1, Message: "hello"})

	select {
	case <-ch:
		t.Fatal("subscriber for job-1 must not receive job-2's events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe("job-1")
	cancel()

	_, ok := <-ch
	require.False(t, ok, "channel must be closed after cancel")
}
