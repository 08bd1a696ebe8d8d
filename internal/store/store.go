// Package store implements in-memory, mutex-guarded implementations of the
// queue package's JobStore, EventStore, and ArtifactStore interfaces. This
// follows the split in boskos/storage.PersistenceLayer: a narrow interface
// per entity so the queue engine can be tested against a simple
// implementation, and a production deployment can swap in something durable
// (a real database, object storage) without touching engine logic.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/moonward/moonward/internal/queue"
)

type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]queue.Job
}

// NewMemoryJobStore returns an in-memory queue.JobStore.
func NewMemoryJobStore() queue.JobStore {
	return &memoryJobStore{jobs: map[string]queue.Job{}}
}

func (s *memoryJobStore) Add(j queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *memoryJobStore) Get(id string) (queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return queue.Job{}, &queue.JobNotFound{JobID: id}
	}
	return j.Clone(), nil
}

func (s *memoryJobStore) Mutate(id string, fn func(*queue.Job) error) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return queue.Job{}, &queue.JobNotFound{JobID: id}
	}
	if err := fn(&j); err != nil {
		return queue.Job{}, err
	}
	s.jobs[id] = j
	return j.Clone(), nil
}

func (s *memoryJobStore) List() ([]queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]queue.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *memoryJobStore) ScanAndClaim(pick func(queue.Job) bool, claim func(*queue.Job)) (queue.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		j := s.jobs[id]
		if pick(j) {
			claim(&j)
			s.jobs[id] = j
			return j.Clone(), true, nil
		}
	}
	return queue.Job{}, false, nil
}

type memoryEventStore struct {
	mu     sync.RWMutex
	nextID int64
	byJob  map[string][]queue.Event
}

// NewMemoryEventStore returns an in-memory queue.EventStore.
func NewMemoryEventStore() queue.EventStore {
	return &memoryEventStore{byJob: map[string][]queue.Event{}}
}

func (s *memoryEventStore) Append(e queue.Event) (queue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.byJob[e.JobID] = append(s.byJob[e.JobID], e)
	return e, nil
}

func (s *memoryEventStore) List(jobID string, afterID, beforeID int64, limit int, descending bool) ([]queue.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byJob[jobID]

	var out []queue.Event
	if descending {
		for i := len(all) - 1; i >= 0; i-- {
			e := all[i]
			if beforeID != 0 && e.ID >= beforeID {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return out, nil
	}
	for _, e := range all {
		if afterID != 0 && e.ID <= afterID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryEventStore) Count(jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byJob[jobID]), nil
}

type memoryArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	meta  map[string]queue.Artifact
	byJob map[string][]string
}

// NewMemoryArtifactStore returns an in-memory queue.ArtifactStore.
func NewMemoryArtifactStore() queue.ArtifactStore {
	return &memoryArtifactStore{
		blobs: map[string][]byte{},
		meta:  map[string]queue.Artifact{},
		byJob: map[string][]string{},
	}
}

func artifactKey(jobID, name string) string { return jobID + "\x00" + name }

func (s *memoryArtifactStore) Put(a queue.Artifact, data []byte) (queue.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey(a.JobID, a.Name)
	if _, ok := s.meta[key]; ok {
		return queue.Artifact{}, &queue.ArtifactConflict{JobID: a.JobID, Name: a.Name}
	}
	a.SizeBytes = int64(len(data))
	a.StorageRef = key
	s.meta[key] = a
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	s.byJob[a.JobID] = append(s.byJob[a.JobID], key)
	return a, nil
}

func (s *memoryArtifactStore) Get(jobID, name string) (queue.Artifact, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := artifactKey(jobID, name)
	a, ok := s.meta[key]
	if !ok {
		return queue.Artifact{}, nil, fmt.Errorf("artifact %s/%s not found", jobID, name)
	}
	return a, s.blobs[key], nil
}

func (s *memoryArtifactStore) List(jobID string) ([]queue.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byJob[jobID]
	out := make([]queue.Artifact, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.meta[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
