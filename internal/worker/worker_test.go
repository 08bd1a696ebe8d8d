package worker_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/skills"
	"github.com/moonward/moonward/internal/worker"
)

type fakeQueue struct {
	mu          sync.Mutex
	jobs        []queue.Job
	claimed     int
	cancelAfter string // job ID: GetJob sets CancelRequestedAt for it from the second call on
	getCalls    int
	terminal    struct {
		outcome queue.Outcome
		lastErr string
		kind    errkind.Kind
		called  bool
	}
	heartbeats int
}

func (f *fakeQueue) ClaimJob(opts queue.ClaimOptions) (queue.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed >= len(f.jobs) {
		return queue.Job{}, false, nil
	}
	j := f.jobs[f.claimed]
	f.claimed++
	return j, true, nil
}

func (f *fakeQueue) GetJob(id string) (queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	j := f.jobs[0]
	if f.cancelAfter == id && f.getCalls > 1 {
		now := time.Now()
		j.CancelRequestedAt = &now
	}
	return j, nil
}

func (f *fakeQueue) Heartbeat(jobID, workerID string, leaseTTL time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeQueue) ReportTerminal(jobID, workerID string, outcome queue.Outcome, lastError string, kind errkind.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal.outcome = outcome
	f.terminal.lastErr = lastError
	f.terminal.kind = kind
	f.terminal.called = true
	return nil
}

func (f *fakeQueue) AppendEvent(jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error) {
	return queue.Event{}, nil
}

func (f *fakeQueue) PutArtifact(jobID, name string, data []byte, contentType string) (queue.Artifact, error) {
	return queue.Artifact{}, nil
}

type fakeSkills struct{}

func (fakeSkills) Materialize(ctx context.Context, runRoot string, jobLevel []skills.Selection) (skills.Workspace, error) {
	return skills.Workspace{RunRoot: runRoot, SkillsActive: runRoot + "/skills_active"}, nil
}

type fakeGit struct{ pushed string }

func (g *fakeGit) Clone(ctx context.Context, repoURL, startingBranch, destDir string) error { return nil }
func (g *fakeGit) CreateBranch(ctx context.Context, dir, branch string) error               { return nil }
func (g *fakeGit) Push(ctx context.Context, dir, branch string) error                       { g.pushed = branch; return nil }
func (g *fakeGit) DefaultBranch(ctx context.Context, dir string) (string, error)             { return "main", nil }

type fakePR struct{ opened bool }

func (p *fakePR) OpenPR(ctx context.Context, dir, base, head, title, body string) (string, error) {
	p.opened = true
	return "https://example.test/pr/1", nil
}

type fakeSteps struct{ fail bool }

func (s fakeSteps) RunStep(ctx context.Context, ws skills.Workspace, rt queue.TaskRuntime, instructions string, stdout, stderr io.Writer) error {
	if s.fail {
		return errFakeStep
	}
	io.WriteString(stdout, "ran: "+instructions)
	return nil
}

var errFakeStep = &fakeStepError{}

type fakeStepError struct{}

func (*fakeStepError) Error() string { return "step failed" }

type fakeTools struct{ missing map[string]bool }

func (f fakeTools) Has(tool string) bool { return !f.missing[tool] }

func baseJob() queue.Job {
	return queue.Job{
		ID:   "job-1",
		Type: queue.TypeTask,
		Task: &queue.TaskPayload{
			Repository:   "https://example.test/acme/widgets.git",
			Instructions: "do the thing",
			Runtime:      queue.TaskRuntime{Mode: "codex"},
			Publish:      queue.TaskPublish{Mode: queue.PublishNone},
		},
	}
}

func TestWorkerRunsSuccessfulTaskJobEndToEnd(t *testing.T) {
	q := &fakeQueue{jobs: []queue.Job{baseJob()}}
	w := worker.New(worker.Config{WorkerID: "w1", WorkDir: t.TempDir(), LeaseTTL: 200 * time.Millisecond, PollInterval: 10 * time.Millisecond}, q, fakeSkills{}, &fakeGit{}, &fakePR{})
	w.Steps = fakeSteps{}
	w.Tools = fakeTools{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.terminal.called
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, queue.OutcomeSuccess, q.terminal.outcome)
}

func TestWorkerFailsPreflightWhenToolMissing(t *testing.T) {
	q := &fakeQueue{jobs: []queue.Job{baseJob()}}
	w := worker.New(worker.Config{WorkerID: "w1", WorkDir: t.TempDir(), PollInterval: 10 * time.Millisecond}, q, fakeSkills{}, &fakeGit{}, &fakePR{})
	w.Steps = fakeSteps{}
	w.Tools = fakeTools{missing: map[string]bool{"git": true}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.terminal.called
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, queue.OutcomeFailure, q.terminal.outcome)
	require.Equal(t, errkind.Capability, q.terminal.kind)
}

func TestWorkerReportsToolFailureAsRetryableKind(t *testing.T) {
	q := &fakeQueue{jobs: []queue.Job{baseJob()}}
	w := worker.New(worker.Config{WorkerID: "w1", WorkDir: t.TempDir(), PollInterval: 10 * time.Millisecond}, q, fakeSkills{}, &fakeGit{}, &fakePR{})
	w.Steps = fakeSteps{fail: true}
	w.Tools = fakeTools{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.terminal.called
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, queue.OutcomeFailure, q.terminal.outcome)
	require.Equal(t, errkind.Tool, q.terminal.kind)
}
