package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/queue"
)

const keepAliveInterval = 15 * time.Second

// SSEHandler serves a job's event log as a Server-Sent Events stream:
// backfill from lastEventID via Publisher.Page, then switch to the live
// Hub subscription, writing each as it arrives. Because the backfill read
// and the subscribe call both happen before the handler writes anything,
// and the subscription is registered before the backfill is read, no event
// appended in between can be missed or duplicated: the handler simply
// skips any live event whose id falls at or below the last id it already
// wrote from the backfill.
func SSEHandler(pub *Publisher, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job_id")
		if jobID == "" {
			http.Error(w, "job_id is required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var lastID int64
		if v := r.Header.Get("Last-Event-ID"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				lastID = parsed
			}
		} else if v := r.URL.Query().Get("after"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				lastID = parsed
			}
		}

		live, cancel := hub.Subscribe(jobID)
		defer cancel()

		backfill, err := pub.Page(jobID, lastID, 0, 0, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, e := range backfill {
			writeEvent(w, e)
			lastID = e.ID
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case e, ok := <-live:
				if !ok {
					logrus.WithField("job", jobID).Info("event stream subscriber disconnected")
					return
				}
				if e.ID <= lastID {
					continue
				}
				writeEvent(w, e)
				lastID = e.ID
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e queue.Event) {
	buf, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Warn("failed to marshal event for SSE")
		return
	}
	fmt.Fprintf(w, "id: %d\n", e.ID)
	fmt.Fprintf(w, "event: %s\n", e.Kind)
	fmt.Fprintf(w, "data: %s\n\n", buf)
}
