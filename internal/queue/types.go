// Package queue implements the durable job queue: submission, claim under
// lease, heartbeat, cancellation, and the per-job event log and artifact
// index. The claim algorithm is a compare-and-swap over a locked slice in
// the style of boskos/ranch.Acquire, generalized from a typed resource pool
// to a typed job queue.
package queue

import (
	"time"
)

// Type is the tagged variant discriminator for a Job's payload.
type Type string

const (
	// TypeTask is a repository-scoped agent execution job.
	TypeTask Type = "task"
	// TypeManifest is a declarative incremental-ingest job.
	TypeManifest Type = "manifest"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// PublishMode controls what the publish stage of a task job does.
type PublishMode string

const (
	PublishNone   PublishMode = "none"
	PublishBranch PublishMode = "branch"
	PublishPR     PublishMode = "pr"
)

// RuntimeMode selects which agent CLI family a step runs under.
type RuntimeMode string

// TaskStep is one ordered per-step refinement of a task's instructions.
type TaskStep struct {
	ID                string   `json:"id"`
	Instructions      string   `json:"instructions"`
	SkillOverrideID   string   `json:"skillOverrideId,omitempty"`
	SkillOverrideArgs []string `json:"skillOverrideArgs,omitempty"`
}

// TaskGit describes the git checkout/publish branch plan for a task.
type TaskGit struct {
	StartingBranch string `json:"startingBranch,omitempty"`
	NewBranch      string `json:"newBranch,omitempty"`
}

// TaskPublish describes how a task's results are published back to source
// control.
type TaskPublish struct {
	Mode          PublishMode `json:"mode"`
	PRBaseBranch  string      `json:"prBaseBranch,omitempty"`
	CommitMessage string      `json:"commitMessage,omitempty"`
	PRTitle       string      `json:"prTitle,omitempty"`
	PRBody        string      `json:"prBody,omitempty"`
}

// TaskRuntime selects the agent CLI and its invocation parameters.
type TaskRuntime struct {
	Mode   RuntimeMode `json:"mode"`
	Model  string      `json:"model,omitempty"`
	Effort string      `json:"effort,omitempty"`
}

// TaskSkill selects a skill (and its arguments) for the whole task, subject
// to per-step override.
type TaskSkill struct {
	ID                   string   `json:"id"`
	Args                 []string `json:"args,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
}

// StepTemplateRef records which template produced a synthesized step, for
// provenance display.
type StepTemplateRef struct {
	TemplateID string `json:"templateId"`
	StepID     string `json:"stepId"`
}

// TaskPayload is the strictly-typed payload for a TypeTask job. Unknown
// fields on the wire are rejected at the HTTP decode boundary (see
// internal/queueserver/decode.go), never silently accepted here.
type TaskPayload struct {
	Repository           string            `json:"repository"`
	Instructions          string            `json:"instructions"`
	Skill                TaskSkill         `json:"skill"`
	Runtime               TaskRuntime       `json:"runtime"`
	Git                   TaskGit           `json:"git"`
	Publish               TaskPublish       `json:"publish"`
	Steps                 []TaskStep        `json:"steps,omitempty"`
	AppliedStepTemplates  []StepTemplateRef `json:"appliedStepTemplates,omitempty"`
}

// ManifestAction selects what a manifest job does.
type ManifestAction string

const (
	ManifestActionPlan ManifestAction = "plan"
	ManifestActionRun  ManifestAction = "run"
)

// ManifestSourceKind selects where a manifest job loads its YAML manifest
// document from.
type ManifestSourceKind string

const (
	ManifestSourceInline   ManifestSourceKind = "inline"
	ManifestSourceRegistry ManifestSourceKind = "registry"
	ManifestSourcePath     ManifestSourceKind = "path"
)

// ManifestSource names where to load the ingestion manifest document from.
type ManifestSource struct {
	Kind    ManifestSourceKind `json:"kind"`
	Content string             `json:"content,omitempty"` // inline
	Name    string             `json:"name,omitempty"`    // registry
	Path    string             `json:"path,omitempty"`    // path
}

// ManifestOptions are per-run overrides for a manifest job.
type ManifestOptions struct {
	DryRun    bool `json:"dryRun,omitempty"`
	ForceFull bool `json:"forceFull,omitempty"`
	MaxDocs   int  `json:"maxDocs,omitempty"`
}

// ManifestPayload is the strictly-typed payload for a TypeManifest job.
type ManifestPayload struct {
	Name    string           `json:"name"`
	Source  ManifestSource   `json:"source"`
	Action  ManifestAction   `json:"action"`
	Options ManifestOptions  `json:"options"`
}

// Job is a typed, durable unit of work in the queue.
type Job struct {
	ID                   string            `json:"id"`
	Type                 Type              `json:"type"`
	Task                 *TaskPayload      `json:"task,omitempty"`
	Manifest             *ManifestPayload  `json:"manifest,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Repository           string            `json:"repository,omitempty"`
	RequiredCapabilities []string          `json:"requiredCapabilities"`
	TargetRuntime        string            `json:"targetRuntime,omitempty"`
	AffinityKey          string            `json:"affinityKey,omitempty"`
	Priority             int               `json:"priority"`
	MaxAttempts          int               `json:"maxAttempts"`
	AttemptCount         int               `json:"attemptCount"`
	Status               Status            `json:"status"`
	QueueName            string            `json:"queueName,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	StartedAt            *time.Time        `json:"startedAt,omitempty"`
	FinishedAt           *time.Time        `json:"finishedAt,omitempty"`
	LeaseExpiresAt       *time.Time        `json:"leaseExpiresAt,omitempty"`
	LeaseHolder          string            `json:"leaseHolder,omitempty"`
	LastAffinityWorker   string            `json:"lastAffinityWorker,omitempty"`
	CancelRequestedAt    *time.Time        `json:"cancelRequestedAt,omitempty"`
	CancelReason         string            `json:"cancelReason,omitempty"`
	LastError            string            `json:"lastError,omitempty"`
	LastErrorKind        string            `json:"lastErrorKind,omitempty"`
}

// Clone returns a deep-enough copy of j suitable for returning from the
// store without letting a caller mutate internal state through shared
// pointers.
func (j Job) Clone() Job {
	out := j
	if j.RequiredCapabilities != nil {
		out.RequiredCapabilities = append([]string(nil), j.RequiredCapabilities...)
	}
	if j.Metadata != nil {
		out.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		out.LeaseExpiresAt = &t
	}
	if j.CancelRequestedAt != nil {
		t := *j.CancelRequestedAt
		out.CancelRequestedAt = &t
	}
	if j.Task != nil {
		taskCopy := *j.Task
		out.Task = &taskCopy
	}
	if j.Manifest != nil {
		manifestCopy := *j.Manifest
		out.Manifest = &manifestCopy
	}
	return out
}

// Level is the severity of an Event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind discriminates an Event's payload shape.
type EventKind string

const (
	EventKindStage    EventKind = "stage"
	EventKindLog      EventKind = "log"
	EventKindProgress EventKind = "progress"
)

// Stream names which child-process stream a log event captured.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is an immutable, append-only record in a job's ordered log.
type Event struct {
	ID        int64                  `json:"id"`
	JobID     string                 `json:"jobId"`
	CreatedAt time.Time              `json:"createdAt"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Kind      EventKind              `json:"kind"`
	Stage     string                 `json:"stage,omitempty"`
	Stream    Stream                 `json:"stream,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Artifact is a write-once named blob attached to a job.
type Artifact struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	StorageRef  string    `json:"storageRef"`
}
