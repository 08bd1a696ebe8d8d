package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/manifest"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/skills"
)

// Worker runs the poll/claim loop and, for each claimed job, the staged
// executor. One Worker claims and drives at most one job at a time on its
// main track; the heartbeat renewer and the captured child-process I/O
// run alongside it as separate goroutines over a shared context.
type Worker struct {
	Config    Config
	Queue     QueueClient
	Skills    SkillsMaterializer
	Steps     StepRunner
	Git       GitClient
	PR        PRClient
	Tools     ToolChecker
	Creds     CredentialChecker
	Manifests ManifestRunner

	now func() time.Time
}

// New builds a Worker, defaulting Tools to DefaultToolChecker{} and Steps
// to ExecStepRunner{} when not supplied.
func New(cfg Config, q QueueClient, sk SkillsMaterializer, git GitClient, pr PRClient) *Worker {
	return &Worker{
		Config: cfg,
		Queue:  q,
		Skills: sk,
		Steps:  ExecStepRunner{},
		Git:    git,
		PR:     pr,
		Tools:  DefaultToolChecker{},
		now:    time.Now,
	}
}

// Run drives the poll/claim loop until ctx is cancelled, returning nil on
// a graceful shutdown.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Config.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		job, claimed, err := w.Queue.ClaimJob(queue.ClaimOptions{
			WorkerID:               w.Config.WorkerID,
			AdvertisedCapabilities: w.Config.AdvertisedCapabilities,
			AllowedTypes:           w.Config.AllowedTypes,
			AllowedRepositories:    w.Config.AllowedRepositories,
			LeaseTTL:               w.Config.leaseTTL(),
		})
		if err != nil {
			logrus.WithError(err).Warn("claim failed")
		} else if claimed {
			w.runClaimedJob(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runClaimedJob drives one job end to end: preflight, prepare, execute,
// publish, finalize, then reports the terminal outcome. The heartbeat
// renewer runs concurrently on its own goroutine for the job's whole
// lifetime and is stopped once a terminal outcome has been decided.
func (w *Worker) runClaimedJob(ctx context.Context, job queue.Job) {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error { return w.heartbeatLoop(heartbeatCtx, job.ID) })

	outcome, lastErr, kind := w.executeStages(ctx, job)

	stopHeartbeat()
	_ = eg.Wait()

	if err := w.Queue.ReportTerminal(job.ID, w.Config.WorkerID, outcome, lastErr, kind); err != nil {
		logrus.WithError(err).WithField("jobId", job.ID).Error("report terminal failed")
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(w.Config.heartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Queue.Heartbeat(jobID, w.Config.WorkerID, w.Config.leaseTTL()); err != nil {
				logrus.WithError(err).WithField("jobId", jobID).Warn("heartbeat failed")
			}
		}
	}
}

func (w *Worker) cancelRequested(jobID string) bool {
	j, err := w.Queue.GetJob(jobID)
	if err != nil {
		return false
	}
	return j.CancelRequestedAt != nil
}

func (w *Worker) emitStage(jobID, stage string, level queue.Level, extra map[string]interface{}) {
	if _, err := w.Queue.AppendEvent(jobID, level, stageEventName(stage), queue.EventKindStage, stage, "", extra); err != nil {
		logrus.WithError(err).WithField("jobId", jobID).Warn("append stage event failed")
	}
}

func (w *Worker) uploadArtifact(jobID, name string, data []byte) {
	if _, err := w.Queue.PutArtifact(jobID, name, data, "text/plain"); err != nil {
		logrus.WithError(err).WithField("jobId", jobID).Warn("upload artifact failed")
	}
}

// executeStages runs the full preflight -> prepare -> execute -> publish
// -> finalize pipeline for a task job, or delegates to the manifest ingest
// pipeline for a manifest job, returning the outcome to report.
func (w *Worker) executeStages(ctx context.Context, job queue.Job) (queue.Outcome, string, errkind.Kind) {
	if job.Type == queue.TypeManifest {
		return w.executeManifestJob(ctx, job)
	}

	task := job.Task
	if task == nil {
		return queue.OutcomeFailure, "not a task job", errkind.Validation
	}

	w.emitStage(job.ID, StagePreflight, queue.LevelInfo, nil)
	if err := preflight(job, w.Tools, w.Creds); err != nil {
		w.emitStage(job.ID, StagePreflight, queue.LevelError, map[string]interface{}{"error": err.Error()})
		return queue.OutcomeFailure, err.Error(), errkind.Capability
	}

	runRoot := filepath.Join(w.Config.WorkDir, job.ID)
	w.emitStage(job.ID, StagePrepare, queue.LevelInfo, nil)
	ws, prepareLog, err := w.prepare(ctx, runRoot, job)
	w.uploadArtifact(job.ID, "logs/prepare.log", prepareLog)
	if err != nil {
		w.emitStage(job.ID, StagePrepare, queue.LevelError, map[string]interface{}{"error": err.Error()})
		return queue.OutcomeFailure, err.Error(), errkind.Transient
	}
	if w.cancelRequested(job.ID) {
		return w.cancelled(job.ID, StagePrepare)
	}

	w.emitStage(job.ID, StageExecute, queue.LevelInfo, nil)
	executeLog, execErr := w.execute(ctx, job, ws)
	w.uploadArtifact(job.ID, "logs/execute.log", executeLog)
	if execErr != nil {
		w.emitStage(job.ID, StageExecute, queue.LevelError, map[string]interface{}{"error": execErr.Error()})
		return queue.OutcomeFailure, execErr.Error(), errkind.Tool
	}
	if w.cancelRequested(job.ID) {
		return w.cancelled(job.ID, StageExecute)
	}

	w.emitStage(job.ID, StagePublish, queue.LevelInfo, nil)
	publishLog, publishErr := w.publish(ctx, task, ws.RunRoot)
	w.uploadArtifact(job.ID, "logs/publish.log", publishLog)
	if publishErr != nil {
		w.emitStage(job.ID, StagePublish, queue.LevelError, map[string]interface{}{"error": publishErr.Error()})
		return queue.OutcomeFailure, publishErr.Error(), errkind.Tool
	}

	w.emitStage(job.ID, StageFinalize, queue.LevelInfo, nil)
	return queue.OutcomeSuccess, "", ""
}

func (w *Worker) cancelled(jobID, atStage string) (queue.Outcome, string, errkind.Kind) {
	w.emitStage(jobID, atStage, queue.LevelWarn, map[string]interface{}{"status": "cancelled"})
	return queue.OutcomeCancelled, "cancel requested", errkind.Cancelled
}

// executeManifestJob runs a manifest job's validate/plan/fetch/transform/
// embed/upsert/finalize ingest pipeline, streaming one stage event per
// manifest.StageReport the engine emits rather than the five task stages
// above.
func (w *Worker) executeManifestJob(ctx context.Context, job queue.Job) (queue.Outcome, string, errkind.Kind) {
	payload := job.Manifest
	if payload == nil {
		return queue.OutcomeFailure, "not a manifest job", errkind.Validation
	}
	if w.Manifests == nil {
		return queue.OutcomeFailure, "no manifest runner configured", errkind.Capability
	}

	opts := manifest.Options{
		DryRun:    payload.Options.DryRun,
		ForceFull: payload.Options.ForceFull,
		MaxDocs:   payload.Options.MaxDocs,
	}

	_, err := w.Manifests.Run(ctx, payload.Name, opts, func(report manifest.StageReport) {
		level := queue.LevelInfo
		extra := map[string]interface{}{"counters": report.Counters}
		if report.Status == manifest.StageFailed {
			level = queue.LevelError
			extra["error"] = report.Error
		}
		w.emitStage(job.ID, string(report.Stage), level, extra)
	})
	if err != nil {
		if w.cancelRequested(job.ID) {
			return w.cancelled(job.ID, "manifest")
		}
		return queue.OutcomeFailure, err.Error(), errkind.Transient
	}
	return queue.OutcomeSuccess, "", ""
}

// prepare constructs the run workspace: clone the repository, then
// materialize the active skill set into it.
func (w *Worker) prepare(ctx context.Context, runRoot string, job queue.Job) (skills.Workspace, []byte, error) {
	var logBuf bytes.Buffer
	task := job.Task

	startingBranch := task.Git.StartingBranch
	fmt.Fprintf(&logBuf, "cloning %s (branch=%q) into %s\n", task.Repository, startingBranch, runRoot)
	if err := w.Git.Clone(ctx, task.Repository, startingBranch, runRoot); err != nil {
		return skills.Workspace{}, logBuf.Bytes(), fmt.Errorf("clone: %w", err)
	}

	var selections []skills.Selection
	if task.Skill.ID != "" {
		selections = append(selections, skills.Selection{Name: task.Skill.ID, Args: task.Skill.Args})
	}
	fmt.Fprintf(&logBuf, "materializing %d skill selection(s)\n", len(selections))
	ws, err := w.Skills.Materialize(ctx, runRoot, selections)
	if err != nil {
		return skills.Workspace{}, logBuf.Bytes(), fmt.Errorf("materialize skills: %w", err)
	}
	return ws, logBuf.Bytes(), nil
}

// execute runs every step of a task (or a single synthesized step built
// from task.Instructions when Steps is empty), piping captured child
// output into the job's execute-stage log as it is produced.
func (w *Worker) execute(ctx context.Context, job queue.Job, ws skills.Workspace) ([]byte, error) {
	task := job.Task
	steps := task.Steps
	if len(steps) == 0 {
		steps = []queue.TaskStep{{ID: "synthesized", Instructions: task.Instructions}}
	}

	var union bytes.Buffer
	for i, step := range steps {
		if w.cancelRequested(job.ID) {
			return union.Bytes(), nil
		}
		var stepLog bytes.Buffer
		out := io.MultiWriter(&union, &stepLog)
		if err := w.Steps.RunStep(ctx, ws, task.Runtime, step.Instructions, out, out); err != nil {
			w.uploadArtifact(job.ID, fmt.Sprintf("logs/steps/step-%04d.log", i), stepLog.Bytes())
			return union.Bytes(), fmt.Errorf("step %s: %w", step.ID, err)
		}
		w.uploadArtifact(job.ID, fmt.Sprintf("logs/steps/step-%04d.log", i), stepLog.Bytes())
		if _, err := w.Queue.AppendEvent(job.ID, queue.LevelInfo, stepLog.String(), queue.EventKindLog, StageExecute, queue.StreamStdout, nil); err != nil {
			logrus.WithError(err).Warn("append log event failed")
		}
	}
	return union.Bytes(), nil
}

// publish implements task.publish.mode: none is a no-op, branch pushes a
// branch, pr does the same then opens a pull request.
func (w *Worker) publish(ctx context.Context, task *queue.TaskPayload, dir string) ([]byte, error) {
	var logBuf bytes.Buffer
	switch task.Publish.Mode {
	case queue.PublishNone:
		fmt.Fprintln(&logBuf, "publish.mode=none, skipping")
		return logBuf.Bytes(), nil
	case queue.PublishBranch, queue.PublishPR:
		branch := task.Git.NewBranch
		if branch == "" {
			defaultBranch, err := w.Git.DefaultBranch(ctx, dir)
			if err == nil && task.Git.StartingBranch == defaultBranch {
				branch = fmt.Sprintf("moonmind/auto-%d", w.now().Unix())
			} else {
				branch = task.Git.StartingBranch
			}
		}
		if err := w.Git.CreateBranch(ctx, dir, branch); err != nil {
			return logBuf.Bytes(), fmt.Errorf("create branch: %w", err)
		}
		if err := w.Git.Push(ctx, dir, branch); err != nil {
			return logBuf.Bytes(), fmt.Errorf("push: %w", err)
		}
		fmt.Fprintf(&logBuf, "pushed branch %s\n", branch)
		if task.Publish.Mode == queue.PublishBranch {
			return logBuf.Bytes(), nil
		}
		base := task.Publish.PRBaseBranch
		url, err := w.PR.OpenPR(ctx, dir, base, branch, task.Publish.PRTitle, task.Publish.PRBody)
		if err != nil {
			return logBuf.Bytes(), fmt.Errorf("open pr: %w", err)
		}
		fmt.Fprintf(&logBuf, "opened pr: %s\n", url)
		return logBuf.Bytes(), nil
	default:
		return logBuf.Bytes(), fmt.Errorf("unknown publish mode %q", task.Publish.Mode)
	}
}
