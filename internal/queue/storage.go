package queue

// JobStore persists Job records. Mutate is the only write path: callers pass
// a function that inspects and modifies the current value under the store's
// lock, so compare-and-swap style operations (claim, heartbeat, terminal
// report) are atomic without the caller needing its own lock. Concrete
// implementations live in package store.
type JobStore interface {
	Add(j Job) error
	Get(id string) (Job, error)
	Mutate(id string, fn func(*Job) error) (Job, error)
	List() ([]Job, error)
	// ScanAndClaim atomically finds the first job matching pick (in a stable,
	// deterministic order) and applies claim to it, returning the updated
	// job. This is the single entry point through which two concurrent
	// claims cannot both succeed on the same job.
	ScanAndClaim(pick func(Job) bool, claim func(*Job)) (Job, bool, error)
}

// EventStore persists the append-only per-job event log.
type EventStore interface {
	Append(e Event) (Event, error)
	// List returns events for jobID with id > afterID (ascending) or
	// id < beforeID (descending), whichever cursor is non-zero. limit caps
	// the number of events returned; 0 means unlimited.
	List(jobID string, afterID, beforeID int64, limit int, descending bool) ([]Event, error)
	Count(jobID string) (int, error)
}

// ArtifactStore persists artifact metadata and blob bytes.
type ArtifactStore interface {
	Put(a Artifact, data []byte) (Artifact, error)
	Get(jobID, name string) (Artifact, []byte, error)
	List(jobID string) ([]Artifact, error)
}
