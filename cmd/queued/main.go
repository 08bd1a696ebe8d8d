package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/events"
	"github.com/moonward/moonward/internal/interrupts"
	"github.com/moonward/moonward/internal/logrusutil"
	"github.com/moonward/moonward/internal/manifest"
	"github.com/moonward/moonward/internal/pause"
	"github.com/moonward/moonward/internal/proposals"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/queueserver"
	"github.com/moonward/moonward/internal/secretutil"
	"github.com/moonward/moonward/internal/store"
	"github.com/moonward/moonward/internal/telemetry"
)

var (
	addr            = flag.String("addr", ":8080", "address the queue service listens on")
	snapshotPath    = flag.String("job-snapshot", "", "path to periodically snapshot in-memory job state to, empty disables snapshotting")
	snapshotInterval = flag.Duration("job-snapshot-interval", time.Minute, "how often the job snapshot is written to disk")
	leaseSweep      = flag.Duration("lease-sweep-interval", 15*time.Second, "how often expired leases are released back to the queue")
	metricsInterval = flag.Duration("metrics-interval", 30*time.Second, "how often telemetry gauges are refreshed")
	secretPaths     stringListFlag
)

func init() {
	flag.Var(&secretPaths, "secret-file", "path to a secret file to watch and redact from logs/events (repeatable)")
}

type stringListFlag []string

func (f *stringListFlag) String() string { return "" }
func (f *stringListFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// noEmbedder and noVectorStore back internal/manifest's Engine until an
// operator wires a real embeddings provider and vector database; both
// concerns are left as pluggable interfaces because no repo in the
// reference set talks to either kind of external service (see DESIGN.md).
type noEmbedder struct{}

func (noEmbedder) Embed(ctx context.Context, provider, model string, texts []string) ([][]float32, error) {
	return nil, errNotConfigured("embeddings provider")
}

type noVectorStore struct{}

func (noVectorStore) CollectionGeometry(ctx context.Context, collection string) (int, manifest.DistanceMetric, bool, error) {
	return 0, "", false, errNotConfigured("vector store")
}
func (noVectorStore) Upsert(ctx context.Context, collection string, points []manifest.Point) error {
	return errNotConfigured("vector store")
}
func (noVectorStore) DeleteBySourceDoc(ctx context.Context, collection, manifestName, dataSourceID, sourceDocID string) (int, error) {
	return 0, errNotConfigured("vector store")
}

type notConfiguredError struct{ what string }

func (e *notConfiguredError) Error() string { return e.what + " is not configured" }

func errNotConfigured(what string) error { return &notConfiguredError{what: what} }

func main() {
	flag.Parse()
	logrusutil.ComponentInit("queued")
	logrus.SetFormatter(logrusutil.NewCensoringFormatter(&logrus.JSONFormatter{}, secretutil.Values))

	if len(secretPaths) > 0 {
		agent, err := secretutil.NewAgent(secretPaths)
		if err != nil {
			logrus.WithError(err).Fatal("failed to start secret agent")
		}
		for _, p := range secretPaths {
			secretutil.Register(string(agent.GetSecret(p)))
		}
	}

	jobStore := store.NewMemoryJobStore()
	eventStore := store.NewMemoryEventStore()
	artifactStore := store.NewMemoryArtifactStore()

	snapshotter := store.NewSnapshotter(*snapshotPath, jobStore)
	if err := snapshotter.Restore(); err != nil {
		logrus.WithError(err).Fatal("failed to restore job snapshot")
	}
	if *snapshotPath != "" {
		interrupts.Tick(snapshotter.Save, *snapshotInterval)
	}

	engine := queue.NewEngine(jobStore, eventStore, artifactStore)

	hub := events.NewHub()
	publisher := events.NewPublisher(engine, hub)

	gate := pause.NewGate(engine)

	proposalsEngine := proposals.NewEngine(engine)
	proposalsAdapter := proposals.HTTPAdapter{Engine: proposalsEngine}

	manifestEngine := manifest.NewEngine(
		manifest.NewMemoryManifestStore(),
		manifest.NewMemoryCheckpointStore(),
		map[string]manifest.Reader{},
		noEmbedder{},
		noVectorStore{},
	)
	manifestAdapter := manifest.HTTPAdapter{Engine: manifestEngine, Jobs: engine}

	updater := &telemetry.Updater{
		Jobs:      engine,
		Proposals: proposalsEngine,
		Pause:     gate,
		Interval:  *metricsInterval,
	}
	interrupts.Run(updater.Run)

	interrupts.Tick(func() {
		released, err := engine.ReleaseExpiredLeases()
		if err != nil {
			logrus.WithError(err).Warn("lease sweep failed")
			return
		}
		if len(released) > 0 {
			logrus.WithField("count", len(released)).Info("released expired leases")
		}
	}, *leaseSweep)

	server := &queueserver.Server{
		Engine:    engine,
		Publisher: publisher,
		Hub:       hub,
		Pause:     gate,
		Proposals: proposalsAdapter,
		Manifests: manifestAdapter,
	}

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: queueserver.NewRouter(server),
	}
	interrupts.ListenAndServe(httpServer, 10*time.Second)

	logrus.WithField("addr", *addr).Info("queued listening")
	interrupts.WaitForGracefulShutdown()
	os.Exit(0)
}
