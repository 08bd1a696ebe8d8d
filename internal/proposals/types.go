// Package proposals implements the follow-up queue: worker-generated
// suggestions that a human or an automated policy can promote into a real
// queue.Job, dismiss, reprioritize, or snooze.
package proposals

import (
	"time"

	"github.com/moonward/moonward/internal/queue"
)

// Status is a Proposal's lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusPromoted  Status = "promoted"
	StatusDismissed Status = "dismissed"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusSnoozed   Status = "snoozed"
)

// Terminal reports whether s no longer participates in dedup matching.
func (s Status) Terminal() bool {
	return s == StatusPromoted || s == StatusDismissed || s == StatusAccepted || s == StatusRejected
}

// ReviewPriority ranks a Proposal for a human reviewer's queue.
type ReviewPriority string

const (
	PriorityLow    ReviewPriority = "low"
	PriorityNormal ReviewPriority = "normal"
	PriorityHigh   ReviewPriority = "high"
	PriorityUrgent ReviewPriority = "urgent"
)

// Origin records what produced a proposal, for provenance display.
type Origin struct {
	Source   string            `json:"source"`
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Proposal is a worker-generated follow-up suggestion.
type Proposal struct {
	ID               string            `json:"id"`
	Status           Status            `json:"status"`
	Repository       string            `json:"repository"`
	Category         string            `json:"category"`
	Tags             []string          `json:"tags,omitempty"`
	ReviewPriority   ReviewPriority    `json:"reviewPriority"`
	DedupHash        string            `json:"dedupHash"`
	SnoozedUntil     *time.Time        `json:"snoozedUntil,omitempty"`
	Origin           Origin            `json:"origin"`
	TaskPreview      string              `json:"taskPreview,omitempty"`
	TaskCreateRequest queue.SubmitOptions `json:"taskCreateRequest"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	PromotedJobID    string            `json:"promotedJobId,omitempty"`
	DismissNote      string            `json:"dismissNote,omitempty"`
	SnoozeNote       string            `json:"snoozeNote,omitempty"`
}
