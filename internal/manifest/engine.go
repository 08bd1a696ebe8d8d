package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// ChangeIterator is a lazy, finite, adapter-owned cursor over one source's
// pending changes. Engine.Run drains it stage by stage rather than
// materializing the whole change set up front, so a source with millions
// of documents doesn't need to fit in memory at once.
type ChangeIterator interface {
	// Next returns the next change, or ok=false once the iterator is
	// exhausted. err is only set on a genuine read failure.
	Next(ctx context.Context) (change SourceChange, ok bool, err error)
	// Cursor snapshots the iterator's current position so a checkpoint
	// taken here can resume a later run from the same point.
	Cursor() string
	Close() error
}

// Reader is the per-DataSource.Kind adapter contract.
type Reader interface {
	Open(ctx context.Context, ds DataSource, cursor string, forceFull bool) (ChangeIterator, error)
}

// Embedder turns chunk text into vectors.
type Embedder interface {
	Embed(ctx context.Context, provider, model string, texts []string) ([][]float32, error)
}

// VectorStore is the upsert/delete target and the source of truth for a
// collection's already-committed geometry.
type VectorStore interface {
	CollectionGeometry(ctx context.Context, collection string) (dimensions int, distance DistanceMetric, exists bool, err error)
	Upsert(ctx context.Context, collection string, points []Point) error
	// DeleteBySourceDoc removes every point previously upserted for one
	// (manifestName, dataSourceID, sourceDocID), the filter spec.md §4.5
	// names for both the changed-doc replace and the removed-doc delete
	// cases. Point IDs are deterministic but per-chunk, so a caller has no
	// way to know how many chunks a prior run produced for a doc; the
	// store is the only side that can answer that, hence the filter
	// rather than an ID list, and the returned count feeds pointsDeleted.
	DeleteBySourceDoc(ctx context.Context, collection, manifestName, dataSourceID, sourceDocID string) (deleted int, err error)
}

// CheckpointStore persists per-manifest Checkpoint state. Saves only ever
// happen after a run's finalize stage succeeds, so a crash mid-run always
// resumes from the last known-good position rather than skipping changes.
type CheckpointStore interface {
	Load(name string) (Checkpoint, bool, error)
	Save(ckpt Checkpoint) error
}

// ManifestStore persists the declarative Manifest documents themselves.
type ManifestStore interface {
	Get(name string) (Manifest, bool, error)
	Put(m Manifest) error
	List() ([]Manifest, error)
}

// StageFunc receives each stage's report as it completes, for progress
// streaming into the job's event log.
type StageFunc func(StageReport)

// Engine runs the validate -> plan -> fetch -> transform -> embed ->
// upsert -> finalize pipeline for one manifest at a time.
type Engine struct {
	Manifests   ManifestStore
	Checkpoints CheckpointStore
	Readers     map[string]Reader
	Embedder    Embedder
	Vectors     VectorStore
	now         func() time.Time
}

// NewEngine builds an Engine. readers is keyed by DataSource.Kind.
func NewEngine(manifests ManifestStore, checkpoints CheckpointStore, readers map[string]Reader, embedder Embedder, vectors VectorStore) *Engine {
	return &Engine{
		Manifests:   manifests,
		Checkpoints: checkpoints,
		Readers:     readers,
		Embedder:    embedder,
		Vectors:     vectors,
		now:         time.Now,
	}
}

// Upsert stores or replaces a manifest document by name.
func (e *Engine) Upsert(name string, m Manifest) (Manifest, error) {
	m.Name = name
	m.UpdatedAt = e.now()
	if err := validateManifest(m); err != nil {
		return Manifest{}, err
	}
	if err := e.Manifests.Put(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Get returns the manifest registered under name.
func (e *Engine) Get(name string) (Manifest, error) {
	m, ok, err := e.Manifests.Get(name)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		return Manifest{}, NotFoundError{Name: name}
	}
	return m, nil
}

func validateManifest(m Manifest) error {
	if m.Name == "" {
		return ValidationError{Name: m.Name, Reason: "name is required"}
	}
	if m.Collection == "" {
		return ValidationError{Name: m.Name, Reason: "collection is required"}
	}
	if m.DataSource.ID == "" || m.DataSource.Kind == "" {
		return ValidationError{Name: m.Name, Reason: "dataSource.id and dataSource.kind are required"}
	}
	if m.Embeddings.Provider == "" || m.Embeddings.Model == "" {
		return ValidationError{Name: m.Name, Reason: "embeddings.provider and embeddings.model are required"}
	}
	switch m.Embeddings.Distance {
	case DistanceCosine, DistanceDot, DistanceL2:
	default:
		return ValidationError{Name: m.Name, Reason: fmt.Sprintf("unknown distance metric %q", m.Embeddings.Distance)}
	}
	return nil
}

// RunResult summarizes one completed (or failed) Run.
type RunResult struct {
	ManifestName string        `json:"manifestName"`
	Stages       []StageReport `json:"stages"`
}

// Run executes the full ingest pipeline for the named manifest, reporting
// each stage through onStage as it completes. A stage failure aborts the
// remaining pipeline and returns the partial RunResult alongside the error;
// the checkpoint is left untouched so the next run starts again from the
// last saved checkpoint.
func (e *Engine) Run(ctx context.Context, name string, opts Options, onStage StageFunc) (RunResult, error) {
	result := RunResult{ManifestName: name}
	report := func(stage StageName, status StageStatus, counters Counters, stageErr error) StageReport {
		rep := StageReport{Stage: stage, Status: status, Counters: counters}
		if stageErr != nil {
			rep.Error = stageErr.Error()
		}
		result.Stages = append(result.Stages, rep)
		if onStage != nil {
			onStage(rep)
		}
		return rep
	}

	start := e.now()
	m, err := e.Get(name)
	if err != nil {
		report(StageValidate, StageFailed, Counters{}, err)
		return result, err
	}
	if err := validateManifest(m); err != nil {
		report(StageValidate, StageFailed, Counters{}, err)
		return result, err
	}

	dims, distance, exists, err := e.Vectors.CollectionGeometry(ctx, m.Collection)
	if err != nil {
		err = StageError{Stage: StageValidate, Err: err}
		report(StageValidate, StageFailed, Counters{}, err)
		return result, err
	}
	if exists {
		if (m.Embeddings.Dimensions != 0 && dims != m.Embeddings.Dimensions) || distance != m.Embeddings.Distance {
			err := GeometryMismatchError{Name: name, WantDimension: m.Embeddings.Dimensions, GotDimension: dims, WantDistance: m.Embeddings.Distance, GotDistance: distance}
			report(StageValidate, StageFailed, Counters{}, err)
			return result, err
		}
	}
	report(StageValidate, StageSucceeded, Counters{}, nil)

	ckpt, hasCkpt, err := e.Checkpoints.Load(name)
	if err != nil {
		err = StageError{Stage: StagePlan, Err: err}
		report(StagePlan, StageFailed, Counters{}, err)
		return result, err
	}
	if !hasCkpt || opts.ForceFull {
		ckpt = Checkpoint{ManifestName: name, DocHashes: map[string]string{}}
	}
	if ckpt.DocHashes == nil {
		ckpt.DocHashes = map[string]string{}
	}

	reader, ok := e.Readers[m.DataSource.Kind]
	if !ok {
		err := ValidationError{Name: name, Reason: fmt.Sprintf("no reader registered for dataSource.kind %q", m.DataSource.Kind)}
		report(StagePlan, StageFailed, Counters{}, err)
		return result, err
	}
	report(StagePlan, StageSucceeded, Counters{}, nil)

	iter, err := reader.Open(ctx, m.DataSource, ckpt.AdapterCursor, opts.ForceFull)
	if err != nil {
		err = StageError{Stage: StageFetch, Err: err}
		report(StageFetch, StageFailed, Counters{}, err)
		return result, err
	}
	defer iter.Close()

	var changed []SourceChange
	var fetchCounters Counters
	for {
		select {
		case <-ctx.Done():
			err := StageError{Stage: StageFetch, Err: ctx.Err()}
			report(StageFetch, StageCancelled, fetchCounters, err)
			return result, err
		default:
		}
		change, ok, err := iter.Next(ctx)
		if err != nil {
			err = StageError{Stage: StageFetch, Err: err}
			report(StageFetch, StageFailed, fetchCounters, err)
			return result, err
		}
		if !ok {
			break
		}
		fetchCounters.DocumentsFetched++
		switch change.Kind {
		case ChangeDelete:
			fetchCounters.DocumentsDeleted++
			changed = append(changed, change)
		case ChangeUpsert:
			prior, seen := ckpt.DocHashes[change.SourceDocID]
			if opts.ForceFull || !seen || change.Doc == nil || prior != change.Doc.ContentHash {
				fetchCounters.DocumentsChanged++
				changed = append(changed, change)
			}
		}
		if opts.MaxDocs > 0 && fetchCounters.DocumentsFetched >= opts.MaxDocs {
			break
		}
	}
	report(StageFetch, StageSucceeded, fetchCounters, nil)

	type pending struct {
		docID  string
		chunks []Chunk
	}
	var toEmbed []pending
	var deletes []string
	transformCounters := fetchCounters
	for _, change := range changed {
		if change.Kind == ChangeDelete {
			deletes = append(deletes, change.SourceDocID)
			delete(ckpt.DocHashes, change.SourceDocID)
			continue
		}
		chunks := chunkText(change.Doc.Content, m.Chunking)
		transformCounters.ChunksGenerated += len(chunks)
		toEmbed = append(toEmbed, pending{docID: change.SourceDocID, chunks: chunks})
	}
	report(StageTransform, StageSucceeded, transformCounters, nil)

	embedCounters := transformCounters
	var points []Point
	for _, p := range toEmbed {
		texts := make([]string, len(p.chunks))
		for i, c := range p.chunks {
			texts[i] = c.Text
		}
		if len(texts) == 0 {
			continue
		}
		vectors, err := e.Embedder.Embed(ctx, m.Embeddings.Provider, m.Embeddings.Model, texts)
		if err != nil {
			err = StageError{Stage: StageEmbed, Err: err}
			report(StageEmbed, StageFailed, embedCounters, err)
			return result, err
		}
		if len(vectors) != len(texts) {
			err := StageError{Stage: StageEmbed, Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))}
			report(StageEmbed, StageFailed, embedCounters, err)
			return result, err
		}
		for i, chunk := range p.chunks {
			embedCounters.ChunksEmbedded++
			points = append(points, Point{
				ID:           pointID(name, m.DataSource.ID, p.docID, chunk.Index, m.Embeddings.Provider, m.Embeddings.Model),
				ManifestName: name,
				DataSourceID: m.DataSource.ID,
				SourceDocID:  p.docID,
				Vector:       vectors[i],
				Metadata:     filterMetadata(findDoc(changed, p.docID), m.MetadataAllowed),
			})
		}
	}
	report(StageEmbed, StageSucceeded, embedCounters, nil)

	upsertCounters := embedCounters
	if !opts.DryRun {
		// Changed doc: delete all prior points for that source_doc_id by
		// filter before upserting its fresh chunks, so a shrinking chunk
		// count never leaves orphaned points behind from the prior run.
		for _, p := range toEmbed {
			deleted, err := e.Vectors.DeleteBySourceDoc(ctx, m.Collection, name, m.DataSource.ID, p.docID)
			if err != nil {
				err = StageError{Stage: StageUpsert, Err: err}
				report(StageUpsert, StageFailed, upsertCounters, err)
				return result, err
			}
			upsertCounters.PointsDeleted += deleted
		}
		if len(points) > 0 {
			if err := e.Vectors.Upsert(ctx, m.Collection, points); err != nil {
				err = StageError{Stage: StageUpsert, Err: err}
				report(StageUpsert, StageFailed, upsertCounters, err)
				return result, err
			}
			upsertCounters.PointsUpserted += len(points)
		}
		// Removed doc: delete its prior points outright; it contributes
		// no new points to upsert.
		for _, docID := range deletes {
			deleted, err := e.Vectors.DeleteBySourceDoc(ctx, m.Collection, name, m.DataSource.ID, docID)
			if err != nil {
				err = StageError{Stage: StageUpsert, Err: err}
				report(StageUpsert, StageFailed, upsertCounters, err)
				return result, err
			}
			upsertCounters.PointsDeleted += deleted
		}
	}
	report(StageUpsert, StageSucceeded, upsertCounters, nil)

	finalizeCounters := upsertCounters
	finalizeCounters.DurationMs = e.now().Sub(start).Milliseconds()
	if !opts.DryRun {
		for _, change := range changed {
			if change.Kind == ChangeUpsert && change.Doc != nil {
				ckpt.DocHashes[change.SourceDocID] = change.Doc.ContentHash
			}
		}
		ckpt.AdapterCursor = iter.Cursor()
		ckpt.LastSucceededAt = e.now()
		if err := e.Checkpoints.Save(ckpt); err != nil {
			err = StageError{Stage: StageFinalize, Err: err}
			report(StageFinalize, StageFailed, finalizeCounters, err)
			return result, err
		}
	}
	report(StageFinalize, StageSucceeded, finalizeCounters, nil)

	return result, nil
}

func findDoc(changes []SourceChange, docID string) *Doc {
	for _, c := range changes {
		if c.SourceDocID == docID && c.Doc != nil {
			return c.Doc
		}
	}
	return nil
}

func filterMetadata(doc *Doc, allowed []string) map[string]string {
	if doc == nil || len(doc.Metadata) == 0 {
		return nil
	}
	if len(allowed) == 0 {
		return nil
	}
	out := make(map[string]string, len(allowed))
	for _, key := range allowed {
		if v, ok := doc.Metadata[key]; ok {
			out[key] = v
		}
	}
	return out
}

// pointID computes the deterministic point identity for one chunk: the
// same (manifest, source, doc, chunk index, embeddings config) always
// produces the same ID, so re-ingesting unchanged content upserts in
// place instead of accumulating duplicates.
func pointID(manifestName, dataSourceID, sourceDocID string, chunkIndex int, provider, model string) string {
	h := sha256.New()
	h.Write([]byte(manifestName))
	h.Write([]byte(dataSourceID))
	h.Write([]byte(sourceDocID))
	h.Write([]byte(strconv.Itoa(chunkIndex)))
	h.Write([]byte(provider))
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
