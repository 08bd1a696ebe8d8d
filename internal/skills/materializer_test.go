package skills_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/skills"
)

// fixedFetcher writes a single file with known content, so its tree hash is
// computable up front for registry fixtures.
type fixedFetcher struct{ content string }

func (f *fixedFetcher) Fetch(_ context.Context, _ skills.RegistryEntry, stagingDir string) error {
	return os.WriteFile(filepath.Join(stagingDir, "SKILL.md"), []byte(f.content), 0o644)
}

func contentHashOf(t *testing.T, content string) string {
	t.Helper()
	h := sha256.New()
	h.Write([]byte("SKILL.md\x00"))
	h.Write([]byte(content))
	h.Write([]byte("\x00"))
	return hex.EncodeToString(h.Sum(nil))
}

func newTestMaterializer(t *testing.T, entries ...skills.RegistryEntry) (*skills.Materializer, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	cache, err := skills.NewCache(cacheRoot, map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)

	reg := skills.NewRegistry()
	for _, e := range entries {
		reg.Put(e)
	}

	return &skills.Materializer{
		Registry: reg,
		Cache:    cache,
		Profile:  skills.Profile{PolicyMode: skills.PolicyPermissive},
	}, cacheRoot
}

func TestMaterializeActivatesSkill(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	m, cacheRoot := newTestMaterializer(t, skills.RegistryEntry{
		Name: "repo-explainer", Version: "1.0.0", SourceKind: skills.SourceGit,
		SourceURI: "https://example.test/skills/repo-explainer.git", ContentHash: hash, Enabled: true,
	})

	runRoot := t.TempDir()
	ws, err := m.Materialize(context.Background(), runRoot, []skills.Selection{{Name: "repo-explainer"}})
	require.NoError(t, err)
	require.Len(t, ws.Activated, 1)

	require.NoError(t, skills.VerifyActiveSet(ws, cacheRoot))

	link := filepath.Join(ws.SkillsActive, "repo-explainer")
	target, err := filepath.EvalSymlinks(link)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(target, "SKILL.md"))
	require.NoError(t, err)
	require.Equal(t, "hello skill", string(data))
}

func TestMaterializeRejectsDuplicateNames(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	m, _ := newTestMaterializer(t, skills.RegistryEntry{
		Name: "dup", Version: "1.0.0", SourceKind: skills.SourceGit, SourceURI: "x", ContentHash: hash, Enabled: true,
	})
	_, err := m.Materialize(context.Background(), t.TempDir(), []skills.Selection{{Name: "dup"}, {Name: "dup"}})
	require.Error(t, err)
}

func TestMaterializeFailsOnHashMismatch(t *testing.T) {
	m, _ := newTestMaterializer(t, skills.RegistryEntry{
		Name: "bad", Version: "1.0.0", SourceKind: skills.SourceGit, SourceURI: "x", ContentHash: "deadbeef", Enabled: true,
	})
	_, err := m.Materialize(context.Background(), t.TempDir(), []skills.Selection{{Name: "bad"}})
	require.Error(t, err)
	var merr *skills.MaterializeError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, skills.PhaseVerifying, merr.Phase)
}

func TestMaterializeRejectsDisabledEntry(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	m, _ := newTestMaterializer(t, skills.RegistryEntry{
		Name: "off", Version: "1.0.0", SourceKind: skills.SourceGit, SourceURI: "x", ContentHash: hash, Enabled: false,
	})
	_, err := m.Materialize(context.Background(), t.TempDir(), []skills.Selection{{Name: "off"}})
	require.Error(t, err)
}

func TestMaterializeEnforcesAllowlist(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	cacheRoot := t.TempDir()
	cache, err := skills.NewCache(cacheRoot, map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)
	reg := skills.NewRegistry()
	reg.Put(skills.RegistryEntry{Name: "unlisted", Version: "1.0.0", SourceKind: skills.SourceGit, SourceURI: "x", ContentHash: hash, Enabled: true})

	m := &skills.Materializer{
		Registry: reg,
		Cache:    cache,
		Profile:  skills.Profile{PolicyMode: skills.PolicyAllowlist, Allowlist: []string{"other"}},
	}
	_, err = m.Materialize(context.Background(), t.TempDir(), []skills.Selection{{Name: "unlisted"}})
	require.Error(t, err)
}
