package queue

import "fmt"

// LeaseNotHeld is returned when a heartbeat or terminal report targets a
// job whose current lease holder does not match the caller.
type LeaseNotHeld struct {
	JobID    string
	Holder   string
	Attempt  string
}

func (e *LeaseNotHeld) Error() string {
	return fmt.Sprintf("job %s: lease held by %q, not %q", e.JobID, e.Holder, e.Attempt)
}

// JobNotFound is returned when a named job does not exist.
type JobNotFound struct{ JobID string }

func (e *JobNotFound) Error() string { return fmt.Sprintf("job %s not found", e.JobID) }

// ArtifactConflict is returned when PutArtifact targets an (jobId, name)
// pair that already has an artifact.
type ArtifactConflict struct {
	JobID string
	Name  string
}

func (e *ArtifactConflict) Error() string {
	return fmt.Sprintf("job %s: artifact %q already exists", e.JobID, e.Name)
}

// InvalidPayload is returned by SubmitJob when the payload fails strict
// schema validation for its declared type.
type InvalidPayload struct{ Reason string }

func (e *InvalidPayload) Error() string { return fmt.Sprintf("invalid payload: %s", e.Reason) }

// IllegalTransition is returned when a status change would violate the job
// state machine.
type IllegalTransition struct {
	JobID    string
	From, To Status
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}
