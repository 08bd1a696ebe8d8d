package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// ProgressFunc is invoked as a Materialize call advances through phases, so
// a caller (the worker runtime's prepare stage) can emit stage/progress
// events without the materializer knowing anything about the queue.
type ProgressFunc func(phase Phase, skill string)

// Materializer resolves a run's requested skill selections into an
// isolated, verified active set, per the resolution precedence in
// §4.3: job-level override -> queue profile -> global default allowlist.
type Materializer struct {
	Registry *Registry
	Cache    *Cache
	Profile  Profile
	OnProgress ProgressFunc
}

func (m *Materializer) emit(phase Phase, skill string) {
	if m.OnProgress != nil {
		m.OnProgress(phase, skill)
	}
}

// Materialize builds the active set for one run under runRoot, returning
// the resulting Workspace. Any failure in resolve/fetch/verify/activate
// aborts the whole run with a *MaterializeError naming the offending skill
// and phase; no partial workspace is left activated.
func (m *Materializer) Materialize(ctx context.Context, runRoot string, jobLevel []Selection) (_ Workspace, err error) {
	m.emit(PhasePending, "")

	selections := Resolve(jobLevel, m.Profile)

	if err := CheckUniqueNames(selections); err != nil {
		return Workspace{}, &MaterializeError{Skill: "", Phase: PhaseResolving, Err: err}
	}
	if err := CheckAllowlist(selections, m.Profile); err != nil {
		return Workspace{}, &MaterializeError{Skill: "", Phase: PhaseResolving, Err: err}
	}

	type resolved struct {
		selection Selection
		entry     RegistryEntry
	}
	var entries []resolved

	m.emit(PhaseResolving, "")
	for _, sel := range selections {
		entry, err := m.Registry.Get(sel.Name, sel.Version)
		if err != nil {
			return Workspace{}, &MaterializeError{Skill: sel.Name, Phase: PhaseResolving, Err: err}
		}
		if !entry.Enabled {
			return Workspace{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseResolving, Err: &DisabledEntryError{Name: entry.Name, Version: entry.Version}}
		}
		entries = append(entries, resolved{selection: sel, entry: entry})
	}

	skillsActive := filepath.Join(runRoot, "skills_active")
	if err := os.MkdirAll(skillsActive, 0o755); err != nil {
		return Workspace{}, &MaterializeError{Skill: "", Phase: PhaseActivating, Err: err}
	}
	defer func() {
		if err != nil {
			os.RemoveAll(skillsActive)
		}
	}()

	var activated []RegistryEntry
	for _, r := range entries {
		m.emit(PhaseFetching, r.entry.Key())
		rec, err := m.Cache.Ensure(ctx, r.entry)
		if err != nil {
			return Workspace{}, err // already a *MaterializeError naming the skill/phase
		}

		m.emit(PhaseVerifying, r.entry.Key())
		if !rec.Verified {
			return Workspace{}, &MaterializeError{Skill: r.entry.Key(), Phase: PhaseVerifying, Err: os.ErrInvalid}
		}

		m.emit(PhaseActivating, r.entry.Key())
		link := filepath.Join(skillsActive, r.entry.Name)
		if err := os.Symlink(rec.CachePath, link); err != nil {
			return Workspace{}, &MaterializeError{Skill: r.entry.Key(), Phase: PhaseActivating, Err: err}
		}
		activated = append(activated, r.entry)
	}

	codexHome := filepath.Join(runRoot, "codex_home")
	claudeHome := filepath.Join(runRoot, "claude_home")
	if err := os.Symlink(skillsActive, codexHome); err != nil {
		return Workspace{}, &MaterializeError{Skill: "", Phase: PhaseActivating, Err: err}
	}
	if err := os.Symlink(skillsActive, claudeHome); err != nil {
		os.Remove(codexHome)
		return Workspace{}, &MaterializeError{Skill: "", Phase: PhaseActivating, Err: err}
	}

	m.emit(PhaseReady, "")
	return Workspace{
		RunRoot:      runRoot,
		SkillsActive: skillsActive,
		CodexHome:    codexHome,
		ClaudeHome:   claudeHome,
		Activated:    activated,
	}, nil
}

// VerifyActiveSet checks the "adapter symlink invariant": both adapter
// paths resolve to ws.SkillsActive, and every child of SkillsActive
// resolves to a path inside the cache root (i.e. a verified entry, never a
// dangling or arbitrary link).
func VerifyActiveSet(ws Workspace, cacheRoot string) error {
	for _, adapter := range []string{ws.CodexHome, ws.ClaudeHome} {
		resolved, err := filepath.EvalSymlinks(adapter)
		if err != nil {
			return err
		}
		wantResolved, err := filepath.EvalSymlinks(ws.SkillsActive)
		if err != nil {
			return err
		}
		if resolved != wantResolved {
			return &MaterializeError{Phase: PhaseActivating, Err: os.ErrInvalid}
		}
	}

	entries, err := os.ReadDir(ws.SkillsActive)
	if err != nil {
		return err
	}
	absCacheRoot, err := filepath.Abs(cacheRoot)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(ws.SkillsActive, ent.Name()))
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(absCacheRoot, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			return &MaterializeError{Skill: ent.Name(), Phase: PhaseActivating, Err: os.ErrInvalid}
		}
	}
	return nil
}
