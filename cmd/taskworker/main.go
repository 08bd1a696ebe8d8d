package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/logrusutil"
	"github.com/moonward/moonward/internal/manifest"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/queueclient"
	"github.com/moonward/moonward/internal/secretutil"
	"github.com/moonward/moonward/internal/skills"
	"github.com/moonward/moonward/internal/worker"
)

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envList(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithError(err).WithField("var", name).Fatal("invalid duration")
	}
	return d
}

// credentialFiles parses MOONMIND_CREDENTIAL_FILES, a comma-separated list
// of name=path pairs naming which secret files back which logical
// credential names preflight checks for (e.g. "codex=/etc/secrets/codex").
func credentialFiles(spec string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, path, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[name] = path
	}
	return out
}

// agentCredentialChecker adapts a secretutil.Agent plus a name->path map
// into worker.CredentialChecker: a name is available when its file is
// watched and currently holds a non-empty value.
type agentCredentialChecker struct {
	agent *secretutil.Agent
	paths map[string]string
}

func (c agentCredentialChecker) Has(name string) bool {
	path, ok := c.paths[name]
	if !ok {
		return false
	}
	return len(c.agent.GetSecret(path)) > 0
}

func main() {
	logrusutil.ComponentInit("taskworker")
	logrus.SetFormatter(logrusutil.NewCensoringFormatter(&logrus.JSONFormatter{}, secretutil.Values))

	workerID := envOr("MOONMIND_WORKER_ID", "")
	if workerID == "" {
		logrus.Fatal("MOONMIND_WORKER_ID is required")
	}
	queueURL := envOr("MOONMIND_QUEUE_URL", "http://localhost:8080")
	workDir := envOr("MOONMIND_WORKDIR", "/var/lib/moonward/runs")
	skillCacheRoot := envOr("MOONMIND_SKILL_CACHE_ROOT", "/var/lib/moonward/skills")

	cfg := worker.Config{
		WorkerID:               workerID,
		AdvertisedCapabilities: envList("MOONMIND_CAPABILITIES"),
		AllowedRepositories:    envList("MOONMIND_ALLOWED_REPOSITORIES"),
		WorkDir:                workDir,
		CacheRoot:              skillCacheRoot,
		LeaseTTL:               envDuration("MOONMIND_LEASE_TTL", 0),
		HeartbeatInterval:      envDuration("MOONMIND_HEARTBEAT_INTERVAL", 0),
		PollInterval:           envDuration("MOONMIND_POLL_INTERVAL", 0),
	}
	for _, t := range envList("MOONMIND_ALLOWED_TYPES") {
		cfg.AllowedTypes = append(cfg.AllowedTypes, queue.Type(t))
	}

	client := queueclient.New(queueURL)
	queueAdapter := worker.HTTPQueueClient{Client: client}

	var creds agentCredentialChecker
	if secretFiles := envList("MOONMIND_CREDENTIAL_FILES"); len(secretFiles) > 0 {
		spec := strings.Join(secretFiles, ",")
		paths := credentialFiles(spec)
		var watchPaths []string
		for _, p := range paths {
			watchPaths = append(watchPaths, p)
		}
		agent, err := secretutil.NewAgent(watchPaths)
		if err != nil {
			logrus.WithError(err).Fatal("failed to start credential agent")
		}
		for _, p := range watchPaths {
			secretutil.Register(string(agent.GetSecret(p)))
		}
		creds = agentCredentialChecker{agent: agent, paths: paths}
	}

	registry := skills.NewRegistry()
	cache, err := skills.NewCache(skillCacheRoot, skills.DefaultFetchers())
	if err != nil {
		logrus.WithError(err).Fatal("failed to open skill cache")
	}
	materializer := &skills.Materializer{Registry: registry, Cache: cache}

	manifestEngine := manifest.NewEngine(
		manifest.NewMemoryManifestStore(),
		manifest.NewMemoryCheckpointStore(),
		map[string]manifest.Reader{},
		manifestNoEmbedder{},
		manifestNoVectorStore{},
	)

	w := worker.New(cfg, queueAdapter, materializer, worker.ExecGitClient{}, worker.ExecPRClient{})
	w.Creds = creds
	w.Manifests = manifestEngine

	logrus.WithFields(logrus.Fields{"workerId": workerID, "queueUrl": queueURL}).Info("taskworker starting")
	if err := w.Run(context.Background()); err != nil {
		logrus.WithError(err).Error("worker exited with error")
		os.Exit(1)
	}
	os.Exit(0)
}

// manifestNoEmbedder and manifestNoVectorStore mirror cmd/queued's
// embeddings-provider and vector-store seam: left pluggable because no
// repo in the reference set talks to either kind of external service.
type manifestNoEmbedder struct{}

func (manifestNoEmbedder) Embed(ctx context.Context, provider, model string, texts []string) ([][]float32, error) {
	return nil, errManifestNotConfigured("embeddings provider")
}

type manifestNoVectorStore struct{}

func (manifestNoVectorStore) CollectionGeometry(ctx context.Context, collection string) (int, manifest.DistanceMetric, bool, error) {
	return 0, "", false, errManifestNotConfigured("vector store")
}
func (manifestNoVectorStore) Upsert(ctx context.Context, collection string, points []manifest.Point) error {
	return errManifestNotConfigured("vector store")
}
func (manifestNoVectorStore) DeleteBySourceDoc(ctx context.Context, collection, manifestName, dataSourceID, sourceDocID string) (int, error) {
	return 0, errManifestNotConfigured("vector store")
}

type manifestNotConfiguredError struct{ what string }

func (e *manifestNotConfiguredError) Error() string { return e.what + " is not configured" }

func errManifestNotConfigured(what string) error { return &manifestNotConfiguredError{what: what} }
