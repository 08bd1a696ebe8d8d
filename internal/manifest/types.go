// Package manifest implements the declarative ingestion sub-engine: it
// reads a manifest document, walks a source adapter's change stream,
// chunks and embeds changed documents, and upserts/deletes points in a
// vector store with deterministic, checkpointed, incremental semantics.
package manifest

import "time"

// ChangeKind discriminates a SourceChange's variant.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// Doc is one source document, as produced by a Reader.
type Doc struct {
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"contentHash"`
}

// SourceChange is one entry in a Reader's change stream.
type SourceChange struct {
	Kind        ChangeKind `json:"kind"`
	SourceDocID string     `json:"sourceDocId"`
	Doc         *Doc       `json:"doc,omitempty"`
}

// DistanceMetric names a vector collection's configured similarity metric.
type DistanceMetric string

const (
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
	DistanceL2     DistanceMetric = "l2"
)

// Embeddings configures which provider/model produces chunk vectors, and
// the collection's expected geometry.
type Embeddings struct {
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Dimensions int            `json:"dimensions,omitempty"`
	Distance   DistanceMetric `json:"distance"`
}

// DataSource names one adapter instance a manifest reads from.
type DataSource struct {
	ID   string            `json:"id"`
	Kind string            `json:"kind"` // "git_repository", "local_path", "http"
	URI  string            `json:"uri"`
	Opts map[string]string `json:"opts,omitempty"`
}

// Chunking configures the deterministic splitter.
type Chunking struct {
	ChunkSize    int `json:"chunkSize"`
	ChunkOverlap int `json:"chunkOverlap"`
}

// Manifest is the declarative, versioned ingestion document.
type Manifest struct {
	Name            string            `json:"name"`
	ContentHash     string            `json:"contentHash"`
	DataSource      DataSource        `json:"dataSource"`
	Embeddings      Embeddings        `json:"embeddings"`
	Chunking        Chunking          `json:"chunking"`
	MetadataAllowed []string          `json:"metadataAllowed,omitempty"`
	Collection      string            `json:"collection"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Checkpoint records per-source-document state needed to resume
// incrementally: the last-seen content hash (to detect changes) and an
// adapter-opaque cursor snapshot (to resume a partial scan).
type Checkpoint struct {
	ManifestName      string            `json:"manifestName"`
	DocHashes         map[string]string `json:"docHashes"` // sourceDocID -> contentHash
	AdapterCursor     string            `json:"adapterCursor,omitempty"`
	LastSucceededAt   time.Time         `json:"lastSucceededAt"`
}

// StageName names one of the seven ordered ingest stages.
type StageName string

const (
	StageValidate  StageName = "validate"
	StagePlan      StageName = "plan"
	StageFetch     StageName = "fetch"
	StageTransform StageName = "transform"
	StageEmbed     StageName = "embed"
	StageUpsert    StageName = "upsert"
	StageFinalize  StageName = "finalize"
)

// StageStatus is a stage's terminal disposition.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageCancelled StageStatus = "cancelled"
)

// Counters tracks a run's cumulative progress, reported per stage.
type Counters struct {
	DocumentsFetched int   `json:"documentsFetched"`
	DocumentsChanged int   `json:"documentsChanged"`
	DocumentsDeleted int   `json:"documentsDeleted"`
	ChunksGenerated  int   `json:"chunksGenerated"`
	ChunksEmbedded   int   `json:"chunksEmbedded"`
	PointsUpserted   int   `json:"pointsUpserted"`
	PointsDeleted    int   `json:"pointsDeleted"`
	DurationMs       int64 `json:"durationMs"`
}

// StageReport is one emitted stage event.
type StageReport struct {
	Stage    StageName   `json:"stage"`
	Status   StageStatus `json:"status"`
	Counters Counters    `json:"counters"`
	Error    string      `json:"error,omitempty"`
}

// Chunk is one deterministically-split, token-bounded piece of a Doc.
type Chunk struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
}

// Point is what gets upserted into the vector store for one chunk.
// ManifestName, DataSourceID, and SourceDocID are carried alongside the
// embedding so a store can answer DeleteBySourceDoc by filter instead of
// needing a separate point-ID index keyed by those fields.
type Point struct {
	ID           string            `json:"id"`
	ManifestName string            `json:"manifestName"`
	DataSourceID string            `json:"dataSourceId"`
	SourceDocID  string            `json:"sourceDocId"`
	Vector       []float32         `json:"vector"`
	Metadata     map[string]string `json:"metadata"`
}

// Options are per-run overrides.
type Options struct {
	DryRun    bool
	ForceFull bool
	MaxDocs   int
}
