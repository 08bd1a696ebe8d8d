package queueserver

import (
	"net/http"
	"time"

	"github.com/moonward/moonward/internal/queue"
)

// handleTelemetryMigration reports coarse job-volume and publish-outcome
// counters over a trailing window, to let an operator watch this system
// absorb traffic that used to go through a legacy pipeline.
func (s *Server) handleTelemetryMigration(w http.ResponseWriter, r *http.Request) {
	windowHours := parseInt(r.URL.Query().Get("windowHours"), 24)
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	jobs, err := s.Engine.ListJobs("", "")
	if err != nil {
		returnAndLogError(w, err, "telemetry query failed")
		return
	}

	volumeByType := map[queue.Type]int{}
	total := 0
	published, publishFailed := 0, 0
	for _, j := range jobs {
		if j.CreatedAt.Before(since) {
			continue
		}
		total++
		volumeByType[j.Type]++
		if j.Type == queue.TypeTask && j.Task != nil && j.Task.Publish.Mode != queue.PublishNone {
			switch j.Status {
			case queue.StatusSucceeded:
				published++
			case queue.StatusFailed:
				publishFailed++
			}
		}
	}

	var publishedRate, failedRate float64
	if attempted := published + publishFailed; attempted > 0 {
		publishedRate = float64(published) / float64(attempted)
		failedRate = float64(publishFailed) / float64(attempted)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalJobs":      total,
		"jobVolumeByType": volumeByType,
		"publishOutcomes": map[string]float64{
			"publishedRate": publishedRate,
			"failedRate":    failedRate,
		},
	})
}
