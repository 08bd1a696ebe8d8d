package worker

import (
	"context"
	"io"
	"time"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/manifest"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/skills"
)

// QueueClient is the subset of *queue.Engine the worker calls. Declaring
// it narrowly (rather than importing *queue.Engine by name everywhere)
// lets tests substitute an in-memory fake without standing up a full
// engine and its stores.
type QueueClient interface {
	ClaimJob(opts queue.ClaimOptions) (queue.Job, bool, error)
	GetJob(id string) (queue.Job, error)
	Heartbeat(jobID, workerID string, leaseTTL time.Duration) error
	ReportTerminal(jobID, workerID string, outcome queue.Outcome, lastError string, kind errkind.Kind) error
	AppendEvent(jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error)
	PutArtifact(jobID, name string, data []byte, contentType string) (queue.Artifact, error)
}

// SkillsMaterializer is the subset of *skills.Materializer the worker
// calls during prepare.
type SkillsMaterializer interface {
	Materialize(ctx context.Context, runRoot string, jobLevel []skills.Selection) (skills.Workspace, error)
}

// StepRunner executes one task step's instructions against a prepared
// workspace using the job's selected runtime CLI, with stdout/stderr
// piped to the given writers so the caller can interleave them into the
// event log as they're produced rather than after the process exits.
type StepRunner interface {
	RunStep(ctx context.Context, ws skills.Workspace, runtime queue.TaskRuntime, instructions string, stdout, stderr io.Writer) error
}

// GitClient performs the repository operations prepare/publish need.
type GitClient interface {
	Clone(ctx context.Context, repoURL, startingBranch, destDir string) error
	CreateBranch(ctx context.Context, dir, branch string) error
	Push(ctx context.Context, dir, branch string) error
	DefaultBranch(ctx context.Context, dir string) (string, error)
}

// PRClient opens a pull request against an already-pushed branch. It must
// be pre-authenticated by the external environment; the worker never
// handles PR-tool credentials directly.
type PRClient interface {
	OpenPR(ctx context.Context, dir, base, head, title, body string) (url string, err error)
}

// ToolChecker reports whether a named external tool is available on this
// worker's host, used by preflight.
type ToolChecker interface {
	Has(tool string) bool
}

// ManifestRunner drives a manifest job's ingest pipeline. Satisfied by
// *manifest.Engine; declared narrowly here the same way QueueClient is, so
// worker tests can substitute a fake without a real embeddings provider or
// vector store.
type ManifestRunner interface {
	Run(ctx context.Context, name string, opts manifest.Options, onStage manifest.StageFunc) (manifest.RunResult, error)
}
