// Package pause implements the worker-pause/drain gate: a small versioned
// state machine that blocks new claims while letting in-flight jobs either
// finish (drain) or get surrendered for cancellation (quiesce), with an
// audit trail of every transition.
package pause

import (
	"fmt"
	"sync"
	"time"

	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/telemetry"
)

// Mode names what happens to in-flight jobs while paused.
type Mode string

const (
	ModeDrain   Mode = "drain"
	ModeQuiesce Mode = "quiesce"
)

// AuditEntry is one recorded transition, the same append-style audit idiom
// as boskos/ranch.go's LogStatus, generalized from resource state changes
// to pause/resume transitions.
type AuditEntry struct {
	Action    string    `json:"action"`
	Mode      Mode      `json:"mode,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotDrainedError is returned by Apply("resume", ...) when the fleet still
// has running jobs and the caller did not set forceResume.
type NotDrainedError struct{}

func (e *NotDrainedError) Error() string {
	return "cannot resume: jobs are still running; set forceResume to override"
}

// JobCounter is the subset of queue.Engine a Gate needs to compute its
// derived metrics.
type JobCounter interface {
	ListJobs(status queue.Status, typ queue.Type) ([]queue.Job, error)
}

// auditCap bounds the in-memory audit ring buffer, mirroring the bounded
// history every other in-memory log in this repository keeps.
const auditCap = 200

// Gate holds the pause/resume state machine.
type Gate struct {
	mu        sync.Mutex
	paused    bool
	mode      Mode
	reason    string
	version   int
	updatedAt time.Time
	audit     []AuditEntry

	jobs JobCounter
	now  func() time.Time
}

// NewGate returns a Gate in the running (unpaused) state.
func NewGate(jobs JobCounter) *Gate {
	return &Gate{jobs: jobs, now: time.Now}
}

// Paused reports whether new claims should currently be refused. It is the
// single call a claim handler needs before invoking the queue engine's
// ClaimJob, without internal/queue needing to import this package. The
// check and the claim are two separate steps: a pause applied between them
// does not stop that one claim.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Metrics is the derived job-count view reported alongside pause status.
type Metrics struct {
	Queued       int  `json:"queued"`
	Running      int  `json:"running"`
	StaleRunning int  `json:"staleRunning"`
	IsDrained    bool `json:"isDrained"`
}

func (g *Gate) metrics() (Metrics, error) {
	jobs, err := g.jobs.ListJobs("", "")
	if err != nil {
		return Metrics{}, err
	}
	now := g.now()
	var m Metrics
	for _, j := range jobs {
		switch j.Status {
		case queue.StatusQueued:
			m.Queued++
		case queue.StatusRunning:
			m.Running++
			if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
				m.StaleRunning++
			}
		}
	}
	m.IsDrained = m.Running == 0
	return m, nil
}

// StatusView is the JSON shape returned by GET /system/worker-pause.
type StatusView struct {
	System struct {
		WorkersPaused bool      `json:"workersPaused"`
		Mode          Mode      `json:"mode,omitempty"`
		Reason        string    `json:"reason,omitempty"`
		Version       int       `json:"version"`
		UpdatedAt     time.Time `json:"updatedAt,omitempty"`
	} `json:"system"`
	Metrics Metrics `json:"metrics"`
	Audit   struct {
		Latest []AuditEntry `json:"latest"`
	} `json:"audit"`
}

// Status returns the current pause state, derived metrics, and the audit
// tail, as interface{} so it satisfies queueserver.PauseGate without that
// package depending on this one's concrete types.
func (g *Gate) Status() interface{} {
	g.mu.Lock()
	paused, mode, reason, version, updatedAt := g.paused, g.mode, g.reason, g.version, g.updatedAt
	audit := append([]AuditEntry(nil), g.audit...)
	g.mu.Unlock()

	metrics, _ := g.metrics()

	var view StatusView
	view.System.WorkersPaused = paused
	view.System.Mode = mode
	view.System.Reason = reason
	view.System.Version = version
	view.System.UpdatedAt = updatedAt
	view.Metrics = metrics
	view.Audit.Latest = audit
	return view
}

// Apply executes a pause/resume transition. action is "pause" or "resume".
// mode defaults to ModeDrain when action is "pause" and mode is empty.
func (g *Gate) Apply(action, mode, reason string, forceResume bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch action {
	case "pause":
		m := Mode(mode)
		if m == "" {
			m = ModeDrain
		}
		g.paused = true
		g.mode = m
		g.reason = reason
		g.version++
		g.updatedAt = g.now()
		g.record(AuditEntry{Action: "pause", Mode: m, Reason: reason, CreatedAt: g.updatedAt})
		return nil

	case "resume":
		if !g.paused {
			return nil
		}
		if !forceResume {
			metrics, err := g.metrics()
			if err != nil {
				return err
			}
			if !metrics.IsDrained {
				return &NotDrainedError{}
			}
		}
		g.paused = false
		g.reason = reason
		g.version++
		g.updatedAt = g.now()
		g.record(AuditEntry{Action: "resume", Mode: g.mode, Reason: reason, CreatedAt: g.updatedAt})
		return nil

	default:
		return fmt.Errorf("unknown worker-pause action %q", action)
	}
}

// Snapshot satisfies telemetry.PauseSource so the metrics updater can
// poll the gate without this package importing prometheus directly.
func (g *Gate) Snapshot() telemetry.PauseSnapshot {
	g.mu.Lock()
	paused := g.paused
	g.mu.Unlock()
	metrics, _ := g.metrics()
	return telemetry.PauseSnapshot{
		WorkersPaused: paused,
		Queued:        metrics.Queued,
		Running:       metrics.Running,
		StaleRunning:  metrics.StaleRunning,
	}
}

func (g *Gate) record(e AuditEntry) {
	g.audit = append(g.audit, e)
	if len(g.audit) > auditCap {
		g.audit = g.audit[len(g.audit)-auditCap:]
	}
}
