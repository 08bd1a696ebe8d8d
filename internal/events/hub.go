// Package events implements the event/log streaming surface over
// internal/queue: keyset-paginated polling plus a server-push fan-out for
// live tails. Both paths read the same ordered per-job event log, so a
// consumer can backfill via polling and then switch to push without ever
// seeing a gap or a duplicate.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/queue"
)

// subscriberBuffer bounds how many unconsumed events a live subscriber may
// accumulate before it is judged too slow and disconnected. A disconnected
// subscriber's client is expected to reconnect and backfill over the
// polling path, so dropping it never loses data, only liveness.
const subscriberBuffer = 256

// Hub fans out newly appended events to live subscribers, the way the
// `LiranCohen-dex` broadcaster routes events to per-entity channels, here
// keyed on job id instead of a Centrifuge channel name and built on plain
// Go channels instead of a hosted pub/sub broker (no teacher or pack
// dependency supplies one suitable for a single-process queue server; see
// DESIGN.md).
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan queue.Event]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan queue.Event]struct{}{}}
}

// Subscribe registers a new live subscriber for jobID. The returned cancel
// func must be called exactly once, when the caller is done, to release
// the subscription.
func (h *Hub) Subscribe(jobID string) (<-chan queue.Event, func()) {
	ch := make(chan queue.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = map[chan queue.Event]struct{}{}
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[jobID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Publish fans e out to every live subscriber of e.JobID. A subscriber
// whose buffer is full is dropped rather than blocked, so one slow
// consumer can never stall event publication for the job itself or for
// other subscribers.
func (h *Hub) Publish(e queue.Event) {
	h.mu.Lock()
	set := h.subs[e.JobID]
	var slow []chan queue.Event
	for ch := range set {
		select {
		case ch <- e:
		default:
			slow = append(slow, ch)
		}
	}
	h.mu.Unlock()

	for _, ch := range slow {
		logrus.WithField("job", e.JobID).Warn("event subscriber too slow, disconnecting")
		h.dropLocked(e.JobID, ch)
	}
}

func (h *Hub) dropLocked(jobID string, ch chan queue.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[jobID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
	}
}
