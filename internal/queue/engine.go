package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/moonward/moonward/internal/errkind"
)

// Engine mediates all job, event, and artifact operations. It is the
// generalization of boskos/ranch.Ranch.Acquire/Release/Update/Reset from a
// typed resource pool (type, state, owner) to a typed job queue (type,
// status, lease holder), with the claim CAS now additionally keyed on
// required-capability subset matching and priority/createdAt ordering.
type Engine struct {
	jobs      JobStore
	events    EventStore
	artifacts ArtifactStore
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the Engine's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the Engine's ID generator, for deterministic tests.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine builds an Engine over the given stores.
func NewEngine(jobs JobStore, events EventStore, artifacts ArtifactStore, opts ...Option) *Engine {
	e := &Engine{
		jobs:      jobs,
		events:    events,
		artifacts: artifacts,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitOptions carries SubmitJob's parameters.
type SubmitOptions struct {
	Type                 Type
	Task                 *TaskPayload
	Manifest             *ManifestPayload
	Priority             int
	MaxAttempts          int
	AffinityKey          string
	RequiredCapabilities []string
	QueueName            string
	Metadata             map[string]string
}

// SubmitJob validates and stores a new job, deriving RequiredCapabilities
// from the payload when the caller did not supply them, and emits a
// "submitted" stage event.
func (e *Engine) SubmitJob(opts SubmitOptions) (Job, error) {
	if err := validatePayload(opts); err != nil {
		return Job{}, err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	caps := opts.RequiredCapabilities
	if len(caps) == 0 {
		caps = deriveCapabilities(opts)
	}

	repo := ""
	if opts.Task != nil {
		repo = opts.Task.Repository
	}

	job := Job{
		ID:                   e.newID(),
		Type:                 opts.Type,
		Task:                 opts.Task,
		Manifest:             opts.Manifest,
		Metadata:             opts.Metadata,
		Repository:           repo,
		RequiredCapabilities: caps,
		Priority:             opts.Priority,
		MaxAttempts:          maxAttempts,
		Status:               StatusQueued,
		QueueName:            opts.QueueName,
		AffinityKey:          opts.AffinityKey,
		CreatedAt:            e.now(),
	}

	if err := e.jobs.Add(job); err != nil {
		return Job{}, err
	}

	if _, err := e.AppendEvent(job.ID, LevelInfo, "job submitted", EventKindStage, "submitted", "", nil); err != nil {
		return Job{}, err
	}
	return job, nil
}

func validatePayload(opts SubmitOptions) error {
	switch opts.Type {
	case TypeTask:
		if opts.Task == nil {
			return &InvalidPayload{Reason: "task jobs require a task payload"}
		}
		if opts.Task.Repository == "" {
			return &InvalidPayload{Reason: "task.repository is required"}
		}
		if opts.Task.Instructions == "" && len(opts.Task.Steps) == 0 {
			return &InvalidPayload{Reason: "task.instructions or task.steps is required"}
		}
		if opts.Task.Publish.Mode == PublishPR && opts.Task.Publish.PRBaseBranch == "" {
			return &InvalidPayload{Reason: "task.publish.prBaseBranch is required when publish mode is pr"}
		}
	case TypeManifest:
		if opts.Manifest == nil {
			return &InvalidPayload{Reason: "manifest jobs require a manifest payload"}
		}
		if opts.Manifest.Name == "" {
			return &InvalidPayload{Reason: "manifest.name is required"}
		}
		switch opts.Manifest.Source.Kind {
		case ManifestSourceInline, ManifestSourceRegistry, ManifestSourcePath:
		default:
			return &InvalidPayload{Reason: fmt.Sprintf("unknown manifest source kind %q", opts.Manifest.Source.Kind)}
		}
	default:
		return &InvalidPayload{Reason: fmt.Sprintf("unknown job type %q", opts.Type)}
	}
	return nil
}

func deriveCapabilities(opts SubmitOptions) []string {
	caps := sets.NewString()
	if opts.Task != nil {
		if opts.Task.Runtime.Mode != "" {
			caps.Insert(string(opts.Task.Runtime.Mode))
		}
		caps.Insert("git")
		if opts.Task.Publish.Mode == PublishPR {
			caps.Insert("gh")
		}
		caps.Insert(opts.Task.Skill.RequiredCapabilities...)
		// Per-step skill overrides are resolved by the skills materializer
		// at run time; submission only folds in the task-level skill's
		// declared capabilities.
	}
	if opts.Manifest != nil {
		caps.Insert("manifest")
	}
	list := caps.List()
	sort.Strings(list)
	return list
}

// ClaimOptions carries ClaimJob's parameters.
type ClaimOptions struct {
	WorkerID              string
	AdvertisedCapabilities []string
	AllowedTypes           []Type
	AllowedRepositories    []string
	LeaseTTL               time.Duration
}

// ClaimJob selects the best eligible queued job and transitions it to
// running under a fresh lease. The best job is chosen in a read pass
// (pickBest); the transition happens under the store lock
// (JobStore.ScanAndClaim), which re-checks eligibility, so two
// concurrent claims can never both succeed on the same job: this is the
// "compare-and-swap on (status=queued AND lease expired/null)" from the
// spec, generalized from boskos/ranch.Acquire's linear scan-and-flip.
func (e *Engine) ClaimJob(opts ClaimOptions) (Job, bool, error) {
	now := e.now()
	advertised := sets.NewString(opts.AdvertisedCapabilities...)
	allowedTypes := map[Type]bool{}
	for _, t := range opts.AllowedTypes {
		allowedTypes[t] = true
	}
	allowedRepos := map[string]bool{}
	for _, r := range opts.AllowedRepositories {
		allowedRepos[r] = true
	}

	eligible := func(j Job) bool {
		if j.Status != StatusQueued {
			return false
		}
		if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now) {
			return false
		}
		if len(allowedTypes) > 0 && !allowedTypes[j.Type] {
			return false
		}
		if !advertised.HasAll(j.RequiredCapabilities...) {
			return false
		}
		if len(allowedRepos) > 0 && j.Repository != "" && !allowedRepos[j.Repository] {
			return false
		}
		return true
	}

	// Selection among eligible jobs: higher priority, then earlier
	// createdAt, then job id; affinity is an advisory soft-preference pass
	// applied first (see DESIGN.md's Open Question resolution).
	pick := e.pickBest(eligible, opts.WorkerID)

	claim := func(j *Job) {
		j.Status = StatusRunning
		j.LeaseHolder = opts.WorkerID
		j.AttemptCount++
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
		expiry := now.Add(opts.LeaseTTL)
		j.LeaseExpiresAt = &expiry
		if j.AffinityKey != "" {
			j.LastAffinityWorker = opts.WorkerID
		}
	}

	job, ok, err := e.jobs.ScanAndClaim(pick, claim)
	if err != nil || !ok {
		return Job{}, ok, err
	}

	if _, err := e.AppendEvent(job.ID, LevelInfo, fmt.Sprintf("claimed by %s", opts.WorkerID), EventKindStage, "claimed", "", nil); err != nil {
		return job, true, err
	}
	return job, true, nil
}

// pickBest returns a predicate that, combined with JobStore.ScanAndClaim's
// first-match semantics, selects the single job with the best (affinity
// match desc, priority desc, createdAt asc, id asc) ordering among eligible
// jobs. ScanAndClaim only supports "first predicate match wins" under its
// lock, so ordering is resolved in a separate read pass over JobStore.List
// beforehand, and the predicate here just matches the winner's id. A store
// backed by a real database would instead express this ordering as an
// ORDER BY in the CAS update's candidate subquery.
func (e *Engine) pickBest(eligible func(Job) bool, workerID string) func(Job) bool {
	betterThan := func(a, b Job) bool {
		aAffinity := a.AffinityKey != "" && a.LastAffinityWorker == workerID
		bAffinity := b.AffinityKey != "" && b.LastAffinityWorker == workerID
		if aAffinity != bAffinity {
			return aAffinity
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}

	all, err := e.jobs.List()
	if err != nil {
		return func(Job) bool { return false }
	}
	var best Job
	found := false
	for _, j := range all {
		if !eligible(j) {
			continue
		}
		if !found || betterThan(j, best) {
			best = j
			found = true
		}
	}
	if !found {
		return func(Job) bool { return false }
	}
	winnerID := best.ID
	// Re-assert eligible(j) here, not just the ID match: the winner was
	// picked from a List() snapshot taken before ScanAndClaim's lock is
	// held, so another claim can flip this job to running in between.
	// Without re-checking eligibility under the lock, that race lets a
	// second caller's predicate still match by ID alone and re-claim an
	// already-running job.
	return func(j Job) bool { return j.ID == winnerID && eligible(j) }
}

// Heartbeat extends a job's lease. Only the current lease holder may call
// this.
func (e *Engine) Heartbeat(jobID, workerID string, leaseTTL time.Duration) error {
	now := e.now()
	_, err := e.jobs.Mutate(jobID, func(j *Job) error {
		if j.Status != StatusRunning || j.LeaseHolder != workerID {
			return &LeaseNotHeld{JobID: jobID, Holder: j.LeaseHolder, Attempt: workerID}
		}
		expiry := now.Add(leaseTTL)
		j.LeaseExpiresAt = &expiry
		return nil
	})
	return err
}

// Outcome is the result a worker reports for a completed claim.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ReportTerminal transitions a job to its terminal status. It is
// holder-only and idempotent: reporting the same terminal outcome twice
// succeeds silently (the conflict is absorbed, not surfaced), matching the
// "duplicate reports of the same terminal state succeed silently" property.
func (e *Engine) ReportTerminal(jobID, workerID string, outcome Outcome, lastError string, errKind errkind.Kind) error {
	now := e.now()
	_, err := e.jobs.Mutate(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			if string(j.Status) == outcomeStatus(outcome) {
				return nil // idempotent re-report
			}
			return &IllegalTransition{JobID: jobID, From: j.Status, To: Status(outcomeStatus(outcome))}
		}
		if j.LeaseHolder != workerID {
			return &LeaseNotHeld{JobID: jobID, Holder: j.LeaseHolder, Attempt: workerID}
		}
		j.Status = Status(outcomeStatus(outcome))
		t := now
		j.FinishedAt = &t
		j.LastError = lastError
		if errKind != "" {
			j.LastErrorKind = string(errKind)
		}
		return nil
	})
	return err
}

func outcomeStatus(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return string(StatusSucceeded)
	case OutcomeCancelled:
		return string(StatusCancelled)
	default:
		return string(StatusFailed)
	}
}

// RequestCancel marks a job's cancellation intent. It does not
// synchronously interrupt the worker; the worker observes and honors it at
// the next safe boundary.
func (e *Engine) RequestCancel(jobID, reason string) error {
	now := e.now()
	_, err := e.jobs.Mutate(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return nil
		}
		if j.CancelRequestedAt == nil {
			t := now
			j.CancelRequestedAt = &t
		}
		j.CancelReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	_, err = e.AppendEvent(jobID, LevelWarn, "cancel requested: "+reason, EventKindStage, "cancel_requested", "", nil)
	return err
}

// ReleaseExpiredLeases scans for running jobs whose lease has expired
// without a terminal report and requeues them, incrementing nothing further
// (attemptCount was already incremented at claim time) and failing the job
// once attemptCount has reached maxAttempts. This implements the
// "running -> queued on lease expiry" transition and the lease-recovery
// testable property.
func (e *Engine) ReleaseExpiredLeases() ([]Job, error) {
	now := e.now()
	all, err := e.jobs.List()
	if err != nil {
		return nil, err
	}
	var recovered []Job
	for _, j := range all {
		if j.Status != StatusRunning || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		updated, err := e.jobs.Mutate(j.ID, func(job *Job) error {
			if job.Status != StatusRunning || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
				return nil
			}
			job.LeaseHolder = ""
			job.LeaseExpiresAt = nil
			if job.AttemptCount >= job.MaxAttempts {
				job.Status = StatusFailed
				t := now
				job.FinishedAt = &t
				job.LastError = "lease expired"
				job.LastErrorKind = string(errkind.Transient)
			} else {
				job.Status = StatusQueued
			}
			return nil
		})
		if err != nil {
			return recovered, err
		}
		if _, err := e.AppendEvent(j.ID, LevelWarn, "lease expired", EventKindStage, "lease_expired", "", nil); err != nil {
			return recovered, err
		}
		recovered = append(recovered, updated)
	}
	return recovered, nil
}

// GetJob returns a job by id.
func (e *Engine) GetJob(id string) (Job, error) { return e.jobs.Get(id) }

// ListJobs returns every job, optionally filtered by status and type.
func (e *Engine) ListJobs(status Status, typ Type) ([]Job, error) {
	all, err := e.jobs.List()
	if err != nil {
		return nil, err
	}
	if status == "" && typ == "" {
		return all, nil
	}
	out := make([]Job, 0, len(all))
	for _, j := range all {
		if status != "" && j.Status != status {
			continue
		}
		if typ != "" && j.Type != typ {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// AppendEvent appends a structured event to jobID's log.
func (e *Engine) AppendEvent(jobID string, level Level, message string, kind EventKind, stage string, stream Stream, payload map[string]interface{}) (Event, error) {
	ev := Event{
		JobID:     jobID,
		CreatedAt: e.now(),
		Level:     level,
		Message:   message,
		Kind:      kind,
		Stage:     stage,
		Stream:    stream,
		Payload:   payload,
	}
	return e.events.Append(ev)
}

// ListEvents returns a page of jobID's events via keyset pagination.
func (e *Engine) ListEvents(jobID string, afterID, beforeID int64, limit int, descending bool) ([]Event, error) {
	return e.events.List(jobID, afterID, beforeID, limit, descending)
}

// PutArtifact stores a new artifact. (jobID, name) is unique; a repeat
// write surfaces an ArtifactConflict.
func (e *Engine) PutArtifact(jobID, name string, data []byte, contentType string) (Artifact, error) {
	a := Artifact{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Name:        name,
		ContentType: contentType,
		CreatedAt:   e.now(),
	}
	return e.artifacts.Put(a, data)
}

// GetArtifact returns an artifact's metadata and bytes.
func (e *Engine) GetArtifact(jobID, name string) (Artifact, []byte, error) {
	return e.artifacts.Get(jobID, name)
}

// ListArtifacts returns every artifact for a job.
func (e *Engine) ListArtifacts(jobID string) ([]Artifact, error) {
	return e.artifacts.List(jobID)
}
