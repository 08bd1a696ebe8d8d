// Package telemetry exposes queue, proposal, and worker-pause state as
// Prometheus gauges, grounded on boskos/cmd/metrics/metrics.go's
// ticker-driven "snapshot the store, set a GaugeVec per (type, state)"
// idiom, generalized from one resource dimension to jobs-by-(status,
// type), proposals-by-status, and the worker-pause gauge pair.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/queue"
)

// JobSource is the subset of *queue.Engine the collector polls.
type JobSource interface {
	ListJobs(status queue.Status, typ queue.Type) ([]queue.Job, error)
}

// ProposalSource reports how many proposals are in each status, keyed by
// proposals.Status's string form, so this package never needs to import
// internal/proposals and risk a cycle back through internal/queue.
type ProposalSource interface {
	CountsByStatus() (map[string]int, error)
}

// PauseSnapshot is the worker-pause gauge pair the collector reads.
type PauseSnapshot struct {
	WorkersPaused bool
	Queued        int
	Running       int
	StaleRunning  int
}

type PauseSource interface {
	Snapshot() PauseSnapshot
}

var (
	jobsByStatusType = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moonmind_queue_jobs",
		Help: "Number of jobs currently in each (status, type) pair.",
	}, []string{"status", "type"})

	proposalsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moonmind_proposals",
		Help: "Number of proposals currently in each status.",
	}, []string{"status"})

	workerPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moonmind_worker_pause_active",
		Help: "1 if worker claims are currently paused, 0 otherwise.",
	})

	pauseQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moonmind_pause_queue_depth",
		Help: "Job counts relevant to drain/quiesce decisions.",
	}, []string{"bucket"})
)

func init() {
	prometheus.MustRegister(jobsByStatusType, proposalsByStatus, workerPaused, pauseQueueDepth)
}

var allStatuses = []queue.Status{queue.StatusQueued, queue.StatusRunning, queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled}
var allTypes = []queue.Type{queue.TypeTask, queue.TypeManifest}

// Updater periodically snapshots the queue, proposals, and pause gate
// into the package-level gauge vectors.
type Updater struct {
	Jobs      JobSource
	Proposals ProposalSource
	Pause     PauseSource
	Interval  time.Duration
}

func (u *Updater) interval() time.Duration {
	if u.Interval > 0 {
		return u.Interval
	}
	return 30 * time.Second
}

// Run ticks until ctx is cancelled, refreshing every gauge each tick.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval())
	defer ticker.Stop()
	u.update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.update()
		}
	}
}

func (u *Updater) update() {
	if u.Jobs != nil {
		for _, status := range allStatuses {
			for _, typ := range allTypes {
				jobs, err := u.Jobs.ListJobs(status, typ)
				if err != nil {
					logrus.WithError(err).Warn("telemetry: list jobs failed")
					continue
				}
				jobsByStatusType.WithLabelValues(string(status), string(typ)).Set(float64(len(jobs)))
			}
		}
	}
	if u.Proposals != nil {
		counts, err := u.Proposals.CountsByStatus()
		if err != nil {
			logrus.WithError(err).Warn("telemetry: proposal counts failed")
		} else {
			for status, n := range counts {
				proposalsByStatus.WithLabelValues(status).Set(float64(n))
			}
		}
	}
	if u.Pause != nil {
		snap := u.Pause.Snapshot()
		if snap.WorkersPaused {
			workerPaused.Set(1)
		} else {
			workerPaused.Set(0)
		}
		pauseQueueDepth.WithLabelValues("queued").Set(float64(snap.Queued))
		pauseQueueDepth.WithLabelValues("running").Set(float64(snap.Running))
		pauseQueueDepth.WithLabelValues("staleRunning").Set(float64(snap.StaleRunning))
	}
}
