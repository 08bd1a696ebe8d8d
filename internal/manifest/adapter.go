package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/moonward/moonward/internal/queue"
)

// JobSubmitter is the subset of queue.Engine the adapter needs to enqueue
// a manifest run as a durable job rather than running it inline on the
// HTTP goroutine.
type JobSubmitter interface {
	SubmitJob(opts queue.SubmitOptions) (queue.Job, error)
}

// HTTPAdapter wraps an Engine to satisfy queueserver.ManifestsGate.
type HTTPAdapter struct {
	Engine *Engine
	Jobs   JobSubmitter
}

// Upsert decodes a YAML manifest document and stores it under name. The
// registry stores the parsed Manifest, not the raw YAML, so later runs
// read a single validated representation regardless of how many times
// the document has been re-uploaded.
func (a HTTPAdapter) Upsert(name, yamlDoc string) (interface{}, error) {
	var m Manifest
	if err := unmarshalManifestYAML(yamlDoc, &m); err != nil {
		return nil, ValidationError{Name: name, Reason: err.Error()}
	}
	return a.Engine.Upsert(name, m)
}

func (a HTTPAdapter) Get(name string) (interface{}, error) {
	return a.Engine.Get(name)
}

// SubmitRun enqueues a TypeManifest job referencing the registered
// manifest by name; the worker runtime loads and executes it via
// Engine.Run when it claims the job.
func (a HTTPAdapter) SubmitRun(name, action string, options interface{}) (queue.Job, error) {
	if _, err := a.Engine.Get(name); err != nil {
		return queue.Job{}, err
	}
	act := queue.ManifestAction(action)
	if act != queue.ManifestActionPlan && act != queue.ManifestActionRun {
		return queue.Job{}, ValidationError{Name: name, Reason: fmt.Sprintf("unknown action %q", action)}
	}
	opts, err := decodeRunOptions(options)
	if err != nil {
		return queue.Job{}, ValidationError{Name: name, Reason: err.Error()}
	}
	return a.Jobs.SubmitJob(queue.SubmitOptions{
		Type: queue.TypeManifest,
		Manifest: &queue.ManifestPayload{
			Name:   name,
			Source: queue.ManifestSource{Kind: queue.ManifestSourceRegistry, Name: name},
			Action: act,
			Options: queue.ManifestOptions{
				DryRun:    opts.DryRun,
				ForceFull: opts.ForceFull,
				MaxDocs:   opts.MaxDocs,
			},
		},
	})
}

func decodeRunOptions(options interface{}) (Options, error) {
	if options == nil {
		return Options{}, nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return Options{}, err
	}
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
