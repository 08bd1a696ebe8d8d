package store

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/queue"
)

// Snapshotter periodically writes the job list to a JSON file and restores
// it at startup, the way boskos/ranch.Ranch saves and restores its resource
// list: write to a temp file, then rename over the target so a crash mid
// write never leaves a truncated snapshot.
type Snapshotter struct {
	path  string
	store queue.JobStore
}

// NewSnapshotter builds a Snapshotter that reads/writes path. An empty path
// disables snapshotting (matching boskos' storagePath == "" behavior).
func NewSnapshotter(path string, store queue.JobStore) *Snapshotter {
	return &Snapshotter{path: path, store: store}
}

// Restore loads a prior snapshot into store, if the snapshot file exists.
func (s *Snapshotter) Restore() error {
	if s.path == "" {
		return nil
	}
	buf, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []queue.Job
	if err := json.Unmarshal(buf, &jobs); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := s.store.Add(j); err != nil {
			logrus.WithError(err).WithField("job", j.ID).Warn("failed to restore job from snapshot")
		}
	}
	return nil
}

// Save writes the current job list to disk.
func (s *Snapshotter) Save() {
	if s.path == "" {
		return
	}
	jobs, err := s.store.List()
	if err != nil {
		logrus.WithError(err).Error("failed to list jobs for snapshot")
		return
	}
	buf, err := json.Marshal(jobs)
	if err != nil {
		logrus.WithError(err).Fatal("failed to marshal job snapshot")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		logrus.WithError(err).Fatal("failed to write job snapshot")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logrus.WithError(err).Fatal("failed to rename job snapshot into place")
	}
}
