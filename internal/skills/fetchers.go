package skills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitFetcher clones a skill bundle's source repository at a pinned ref into
// the staging directory.
type GitFetcher struct {
	// GitBinary overrides the git binary path; empty uses "git" from PATH.
	GitBinary string
}

func (f *GitFetcher) binary() string {
	if f.GitBinary != "" {
		return f.GitBinary
	}
	return "git"
}

// Fetch clones entry.SourceURI into stagingDir. SourceURI may carry a ref
// fragment (repo#ref); absent a fragment, the default branch is cloned.
func (f *GitFetcher) Fetch(ctx context.Context, entry RegistryEntry, stagingDir string) error {
	repo, ref, _ := strings.Cut(entry.SourceURI, "#")
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repo, stagingDir)
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %w: %s", repo, err, strings.TrimSpace(string(out)))
	}
	return os.RemoveAll(filepath.Join(stagingDir, ".git"))
}

// ObjectBundleFetcher downloads a skill bundle as a single object over
// HTTP(S) and unpacks it flat into the staging directory (the bundle is
// expected to be an uncompressed, single-file artifact; callers needing
// archive extraction should pre-expand before computing contentHash).
type ObjectBundleFetcher struct {
	Client *http.Client
}

func (f *ObjectBundleFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *ObjectBundleFetcher) Fetch(ctx context.Context, entry RegistryEntry, stagingDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.SourceURI, nil)
	if err != nil {
		return err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", entry.SourceURI, resp.Status)
	}
	name := filepath.Base(entry.SourceURI)
	if name == "" || name == "." || name == "/" {
		name = "bundle"
	}
	out, err := os.Create(filepath.Join(stagingDir, name))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// LocalMirrorFetcher copies a skill bundle from a pre-synced local mirror
// directory, for air-gapped deployments that pre-stage skill bundles on
// disk instead of fetching over the network at run time.
type LocalMirrorFetcher struct{}

func (f *LocalMirrorFetcher) Fetch(_ context.Context, entry RegistryEntry, stagingDir string) error {
	return filepath.Walk(entry.SourceURI, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(entry.SourceURI, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(stagingDir, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// DefaultFetchers returns the standard SourceKind -> Fetcher bindings.
func DefaultFetchers() map[SourceKind]Fetcher {
	return map[SourceKind]Fetcher{
		SourceGit:          &GitFetcher{},
		SourceObjectBundle: &ObjectBundleFetcher{},
		SourceLocalMirror:  &LocalMirrorFetcher{},
	}
}
