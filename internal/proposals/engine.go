package proposals

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonward/moonward/internal/queue"
)

// JobSubmitter is the subset of queue.Engine a proposals Engine needs to
// promote a proposal into a real job.
type JobSubmitter interface {
	SubmitJob(opts queue.SubmitOptions) (queue.Job, error)
}

// Engine is the follow-up queue, grounded on boskos/ranch's requestQueue:
// an id-ordered slice plus a lookup map, both guarded by one lock, here
// additionally indexed by (repository, dedupHash) to support the
// Create-time dedup guarantee.
type Engine struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Proposal
	// dedupIndex maps repository+"\x00"+dedupHash to the id of the open,
	// non-terminal proposal currently holding that key, the way a unique
	// index would in a real database.
	dedupIndex map[string]string

	jobs JobSubmitter
	now  func() time.Time
	newID func() string
}

// NewEngine returns an empty proposals Engine.
func NewEngine(jobs JobSubmitter) *Engine {
	return &Engine{
		byID:       map[string]Proposal{},
		dedupIndex: map[string]string{},
		jobs:       jobs,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

func dedupKey(repository, hash string) string { return repository + "\x00" + hash }

// Create inserts a new proposal, or returns the existing open proposal for
// the same (repository, dedupHash) pair unchanged: the dedup guard only
// applies at Create time, never on later mutations (see DESIGN.md's Open
// Question resolution).
func (e *Engine) Create(origin Origin, repository, category string, req queue.SubmitOptions, tags []string, dedupHash string, priority ReviewPriority, preview string) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := dedupKey(repository, dedupHash)
	if existingID, ok := e.dedupIndex[key]; ok {
		if existing, ok := e.byID[existingID]; ok && !existing.Status.Terminal() && existing.Status != StatusDismissed {
			return existing, nil
		}
	}

	now := e.now()
	p := Proposal{
		ID:                e.newID(),
		Status:            StatusOpen,
		Repository:        repository,
		Category:          category,
		Tags:              tags,
		ReviewPriority:    priority,
		DedupHash:         dedupHash,
		Origin:            origin,
		TaskPreview:       preview,
		TaskCreateRequest: req,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	e.byID[p.ID] = p
	e.order = append(e.order, p.ID)
	e.dedupIndex[key] = p.ID
	return p, nil
}

// Get returns a proposal by id.
func (e *Engine) Get(id string) (Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.byID[id]
	if !ok {
		return Proposal{}, &NotFoundError{ID: id}
	}
	return p, nil
}

// List returns proposals matching the given filters, newest first.
func (e *Engine) List(status, repository, category string, includeSnoozed bool, limit int) ([]Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	var out []Proposal
	for i := len(e.order) - 1; i >= 0; i-- {
		p := e.byID[e.order[i]]
		if status != "" && string(p.Status) != status {
			continue
		}
		if repository != "" && p.Repository != repository {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		if p.Status == StatusSnoozed && !includeSnoozed {
			if p.SnoozedUntil == nil || p.SnoozedUntil.After(now) {
				continue
			}
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountsByStatus satisfies telemetry.ProposalSource, reporting how many
// proposals currently sit in each status without that package needing to
// import this one's concrete Status type.
func (e *Engine) CountsByStatus() (map[string]int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[string]int)
	for _, id := range e.order {
		counts[string(e.byID[id].Status)]++
	}
	return counts, nil
}

func (e *Engine) mutate(id string, fn func(*Proposal) error) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return Proposal{}, &NotFoundError{ID: id}
	}
	if err := fn(&p); err != nil {
		return Proposal{}, err
	}
	p.UpdatedAt = e.now()
	e.byID[id] = p
	return p, nil
}

// Promote atomically submits p's TaskCreateRequest as a new job and
// transitions the proposal to promoted.
func (e *Engine) Promote(id string) (queue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return queue.Job{}, &NotFoundError{ID: id}
	}
	if p.Status.Terminal() {
		return queue.Job{}, &AlreadyTerminalError{ID: id, Status: p.Status}
	}

	job, err := e.jobs.SubmitJob(p.TaskCreateRequest)
	if err != nil {
		return queue.Job{}, err
	}

	p.Status = StatusPromoted
	p.PromotedJobID = job.ID
	p.UpdatedAt = e.now()
	e.byID[id] = p
	return job, nil
}

// Dismiss transitions a proposal to dismissed, releasing its dedup key so
// a future Create for the same content can succeed.
func (e *Engine) Dismiss(id, note string) (Proposal, error) {
	return e.mutate(id, func(p *Proposal) error {
		if p.Status.Terminal() {
			return &AlreadyTerminalError{ID: id, Status: p.Status}
		}
		p.Status = StatusDismissed
		p.DismissNote = note
		return nil
	})
}

// SetPriority updates a proposal's review priority.
func (e *Engine) SetPriority(id string, priority ReviewPriority) (Proposal, error) {
	return e.mutate(id, func(p *Proposal) error {
		p.ReviewPriority = priority
		return nil
	})
}

// Snooze hides a proposal from default listings until until.
func (e *Engine) Snooze(id string, until time.Time, note string) (Proposal, error) {
	return e.mutate(id, func(p *Proposal) error {
		if p.Status.Terminal() {
			return &AlreadyTerminalError{ID: id, Status: p.Status}
		}
		p.Status = StatusSnoozed
		p.SnoozedUntil = &until
		p.SnoozeNote = note
		return nil
	})
}

// Unsnooze returns a snoozed proposal to open immediately.
func (e *Engine) Unsnooze(id string) (Proposal, error) {
	return e.mutate(id, func(p *Proposal) error {
		if p.Status != StatusSnoozed {
			return nil
		}
		p.Status = StatusOpen
		p.SnoozedUntil = nil
		return nil
	})
}
