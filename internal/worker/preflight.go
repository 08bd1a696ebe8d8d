package worker

import (
	"fmt"

	"github.com/moonward/moonward/internal/queue"
)

// CredentialChecker reports whether a named credential (a Codex-style
// auth token, an embedding provider key) is present in this worker's
// environment, without ever returning the credential value itself.
type CredentialChecker interface {
	Has(name string) bool
}

// preflight verifies every external dependency a claimed task needs
// before any workspace is created, per the "fail fast, no workspace on
// failure" contract.
func preflight(job queue.Job, tools ToolChecker, creds CredentialChecker) error {
	task := job.Task
	if task == nil {
		return fmt.Errorf("task payload missing")
	}
	if !tools.Has("git") {
		return fmt.Errorf("required tool not found: git")
	}
	bin, ok := runtimeBinaries[task.Runtime.Mode]
	if !ok {
		return fmt.Errorf("no agent CLI bound for runtime mode %q", task.Runtime.Mode)
	}
	if !tools.Has(bin) {
		return fmt.Errorf("required tool not found: %s", bin)
	}
	if task.Publish.Mode == queue.PublishPR && !tools.Has("gh") {
		return fmt.Errorf("required tool not found: gh (publish.mode=pr)")
	}
	if task.Runtime.Mode == "codex" && creds != nil && !creds.Has("codex") {
		return fmt.Errorf("codex authentication not present")
	}
	if task.Skill.ID != "" && creds != nil {
		for _, cap := range task.Skill.RequiredCapabilities {
			if cap == "embeddings" && !creds.Has("embeddings") {
				return fmt.Errorf("embedding provider credentials not present")
			}
		}
	}
	return nil
}
