package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/manifest"
)

type fakeIterator struct {
	changes []manifest.SourceChange
	pos     int
	cursor  string
}

func (it *fakeIterator) Next(ctx context.Context) (manifest.SourceChange, bool, error) {
	if it.pos >= len(it.changes) {
		return manifest.SourceChange{}, false, nil
	}
	c := it.changes[it.pos]
	it.pos++
	return c, true, nil
}

func (it *fakeIterator) Cursor() string { return it.cursor }
func (it *fakeIterator) Close() error   { return nil }

type fakeReader struct {
	changes []manifest.SourceChange
	cursor  string
}

func (r *fakeReader) Open(ctx context.Context, ds manifest.DataSource, cursor string, forceFull bool) (manifest.ChangeIterator, error) {
	return &fakeIterator{changes: r.changes, cursor: r.cursor}, nil
}

type fakeEmbedder struct{ calls int }

func (e *fakeEmbedder) Embed(ctx context.Context, provider, model string, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

// fakeVectorStore keeps live points by ID, the same durable-store shape a
// real backend would have, so DeleteBySourceDoc can filter and report an
// accurate count instead of just recording the call was made.
type fakeVectorStore struct {
	dims     int
	distance manifest.DistanceMetric
	exists   bool
	upserted []manifest.Point
	live     map[string]manifest.Point
}

func (v *fakeVectorStore) CollectionGeometry(ctx context.Context, collection string) (int, manifest.DistanceMetric, bool, error) {
	return v.dims, v.distance, v.exists, nil
}

func (v *fakeVectorStore) Upsert(ctx context.Context, collection string, points []manifest.Point) error {
	if v.live == nil {
		v.live = map[string]manifest.Point{}
	}
	v.upserted = append(v.upserted, points...)
	for _, p := range points {
		v.live[p.ID] = p
	}
	return nil
}

func (v *fakeVectorStore) DeleteBySourceDoc(ctx context.Context, collection, manifestName, dataSourceID, sourceDocID string) (int, error) {
	deleted := 0
	for id, p := range v.live {
		if p.ManifestName == manifestName && p.DataSourceID == dataSourceID && p.SourceDocID == sourceDocID {
			delete(v.live, id)
			deleted++
		}
	}
	return deleted, nil
}

func testManifest() manifest.Manifest {
	return manifest.Manifest{
		Name:       "docs",
		Collection: "docs-v1",
		DataSource: manifest.DataSource{ID: "repo-1", Kind: "fake"},
		Embeddings: manifest.Embeddings{Provider: "openai", Model: "text-embedding-3-small", Distance: manifest.DistanceCosine},
		Chunking:   manifest.Chunking{ChunkSize: 10, ChunkOverlap: 2},
	}
}

func newTestEngine(reader *fakeReader, embedder *fakeEmbedder, vectors *fakeVectorStore) *manifest.Engine {
	manifests := manifest.NewMemoryManifestStore()
	checkpoints := manifest.NewMemoryCheckpointStore()
	return manifest.NewEngine(manifests, checkpoints, map[string]manifest.Reader{"fake": reader}, embedder, vectors)
}

func TestRunEmbedsAndUpsertsChangedDocuments(t *testing.T) {
	reader := &fakeReader{changes: []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-1", Doc: &manifest.Doc{Content: "hello world this is a test document", ContentHash: "h1"}},
	}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	e := newTestEngine(reader, embedder, vectors)

	_, err := e.Upsert("docs", testManifest())
	require.NoError(t, err)

	var stages []manifest.StageReport
	result, err := e.Run(context.Background(), "docs", manifest.Options{}, func(r manifest.StageReport) { stages = append(stages, r) })
	require.NoError(t, err)
	require.Len(t, stages, 7, "all seven stages must report even on a clean run")
	require.NotEmpty(t, vectors.upserted)
	require.Equal(t, 1, embedder.calls)
	final := result.Stages[len(result.Stages)-1]
	require.Equal(t, manifest.StageFinalize, final.Stage)
	require.Equal(t, manifest.StageSucceeded, final.Status)
}

func TestRunSkipsUnchangedDocumentsOnSecondPass(t *testing.T) {
	reader := &fakeReader{changes: []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-1", Doc: &manifest.Doc{Content: "unchanging content here", ContentHash: "h1"}},
	}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	e := newTestEngine(reader, embedder, vectors)
	_, err := e.Upsert("docs", testManifest())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, embedder.calls)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, embedder.calls, "unchanged content hash must not re-embed on the next run")
}

func TestRunForceFullReembedsEverything(t *testing.T) {
	reader := &fakeReader{changes: []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-1", Doc: &manifest.Doc{Content: "unchanging content here", ContentHash: "h1"}},
	}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	e := newTestEngine(reader, embedder, vectors)
	_, err := e.Upsert("docs", testManifest())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), "docs", manifest.Options{ForceFull: true}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, embedder.calls)
}

func TestRunRejectsGeometryMismatch(t *testing.T) {
	reader := &fakeReader{}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{exists: true, dims: 1536, distance: manifest.DistanceDot}
	e := newTestEngine(reader, embedder, vectors)
	m := testManifest()
	m.Embeddings.Dimensions = 3072
	_, err := e.Upsert("docs", m)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.Error(t, err)
	var mismatch manifest.GeometryMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestRunDryRunDoesNotWriteOrCheckpoint(t *testing.T) {
	reader := &fakeReader{changes: []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-1", Doc: &manifest.Doc{Content: "some content to embed", ContentHash: "h1"}},
	}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	e := newTestEngine(reader, embedder, vectors)
	_, err := e.Upsert("docs", testManifest())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "docs", manifest.Options{DryRun: true}, nil)
	require.NoError(t, err)
	require.Empty(t, vectors.upserted)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, embedder.calls, "dry run must not checkpoint, so the real run still embeds")
}

func TestRunIncrementalReplacesChangedDocAndRemovesDeletedDoc(t *testing.T) {
	docA1 := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 w19 w20"
	docA2 := "v1 v2 v3 v4 v5"
	docB := "b1 b2 b3"
	docC := "c1 c2 c3 c4 c5 c6 c7 c8 c9 c10"

	reader := &fakeReader{changes: []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-a", Doc: &manifest.Doc{Content: docA1, ContentHash: "a1"}},
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-b", Doc: &manifest.Doc{Content: docB, ContentHash: "b1"}},
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-c", Doc: &manifest.Doc{Content: docC, ContentHash: "c1"}},
	}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	e := newTestEngine(reader, embedder, vectors)
	_, err := e.Upsert("docs", testManifest())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)
	require.Len(t, vectors.live, 5, "doc-a(3) + doc-b(1) + doc-c(1) chunks after the first run")

	reader.changes = []manifest.SourceChange{
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-a", Doc: &manifest.Doc{Content: docA2, ContentHash: "a2"}},
		{Kind: manifest.ChangeUpsert, SourceDocID: "doc-b", Doc: &manifest.Doc{Content: docB, ContentHash: "b1"}},
		{Kind: manifest.ChangeDelete, SourceDocID: "doc-c"},
	}

	result, err := e.Run(context.Background(), "docs", manifest.Options{}, nil)
	require.NoError(t, err)

	var upsertReport manifest.StageReport
	for _, s := range result.Stages {
		if s.Stage == manifest.StageUpsert {
			upsertReport = s
		}
	}
	require.Equal(t, 1, upsertReport.Counters.DocumentsChanged)
	require.Equal(t, 1, upsertReport.Counters.DocumentsDeleted)
	require.Equal(t, 1, upsertReport.Counters.PointsUpserted, "doc-a's new content only chunks to 1 point")
	require.Equal(t, 4, upsertReport.Counters.PointsDeleted, "old doc-a's 3 stale chunks plus doc-c's 1 removed chunk")
	require.Len(t, vectors.live, 2, "doc-a's 1 new chunk plus doc-b's untouched chunk remain; doc-c is gone")
}

func TestUpsertRejectsUnknownDistanceMetric(t *testing.T) {
	e := newTestEngine(&fakeReader{}, &fakeEmbedder{}, &fakeVectorStore{})
	m := testManifest()
	m.Embeddings.Distance = "euclidean-ish"
	_, err := e.Upsert("docs", m)
	require.Error(t, err)
	var verr manifest.ValidationError
	require.ErrorAs(t, err, &verr)
}
