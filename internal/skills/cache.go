package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fetcher retrieves a registry entry's bundle bytes into stagingDir. One
// Fetcher is registered per SourceKind.
type Fetcher interface {
	Fetch(ctx context.Context, entry RegistryEntry, stagingDir string) error
}

// SignatureVerifier checks a fetched bundle's detached signature against
// entry's declared source. Only consulted when entry.Signature is set;
// unsigned entries never call it.
type SignatureVerifier interface {
	Verify(ctx context.Context, entry RegistryEntry, bundlePath string) error
}

// Cache is the process-wide, content-addressed skill bundle store. Entries
// are immutable and safe for concurrent readers once verified, the same
// "append-only, read-only-after-verify" shape as boskos/mason's dynamic
// resource lifecycle records, here keyed by content hash instead of
// resource name.
type Cache struct {
	root     string
	mu       sync.Mutex
	records  map[string]CacheRecord
	fetchers map[SourceKind]Fetcher
	now      func() time.Time

	// Verifier checks a signed entry's bundle before it is trusted. Left
	// nil by NewCache; a deployment that registers entries with a
	// Signature must set this or Ensure fails those entries rather than
	// silently accepting them on content hash alone.
	Verifier SignatureVerifier
}

// NewCache returns a Cache rooted at root. root is created if absent.
func NewCache(root string, fetchers map[SourceKind]Fetcher) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{
		root:     root,
		records:  map[string]CacheRecord{},
		fetchers: fetchers,
		now:      time.Now,
	}, nil
}

// Ensure returns the verified CacheRecord for entry, fetching and verifying
// it first if it is not already cached. Concurrent Ensure calls for the
// same content hash are serialized by the Cache's single mutex; a cache
// directory is only ever written once, then read by everyone after.
func (c *Cache) Ensure(ctx context.Context, entry RegistryEntry) (CacheRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[entry.ContentHash]; ok && rec.Verified {
		return rec, nil
	}
	if info, err := os.Stat(c.verifiedMarker(entry.ContentHash)); err == nil && !info.IsDir() {
		rec := CacheRecord{
			ContentHash: entry.ContentHash,
			CachePath:   c.entryPath(entry.ContentHash),
			Verified:    true,
			SourceURI:   entry.SourceURI,
		}
		c.records[entry.ContentHash] = rec
		return rec, nil
	}

	fetcher, ok := c.fetchers[entry.SourceKind]
	if !ok {
		return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseFetching, Err: fmt.Errorf("no fetcher registered for source kind %q", entry.SourceKind)}
	}

	staging, err := os.MkdirTemp(c.root, "staging-*")
	if err != nil {
		return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseFetching, Err: err}
	}
	defer os.RemoveAll(staging)

	if err := fetcher.Fetch(ctx, entry, staging); err != nil {
		return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseFetching, Err: err}
	}

	got, err := hashTree(staging)
	if err != nil {
		return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseVerifying, Err: err}
	}
	if got != entry.ContentHash {
		return CacheRecord{}, &MaterializeError{
			Skill: entry.Key(),
			Phase: PhaseVerifying,
			Err:   &IntegrityError{Name: entry.Name, Version: entry.Version, Want: entry.ContentHash, Got: got},
		}
	}

	if entry.Signature != "" {
		if c.Verifier == nil {
			return CacheRecord{}, &MaterializeError{
				Skill: entry.Key(),
				Phase: PhaseVerifying,
				Err:   &SignatureError{Name: entry.Name, Version: entry.Version, Reason: "entry configures a signature but no SignatureVerifier is wired"},
			}
		}
		if err := c.Verifier.Verify(ctx, entry, staging); err != nil {
			return CacheRecord{}, &MaterializeError{
				Skill: entry.Key(),
				Phase: PhaseVerifying,
				Err:   &SignatureError{Name: entry.Name, Version: entry.Version, Reason: err.Error()},
			}
		}
	}

	dest := c.entryPath(entry.ContentHash)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		if err := os.Rename(staging, dest); err != nil {
			return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseVerifying, Err: err}
		}
	}
	if err := os.WriteFile(c.verifiedMarker(entry.ContentHash), []byte(c.now().Format(time.RFC3339)), 0o644); err != nil {
		return CacheRecord{}, &MaterializeError{Skill: entry.Key(), Phase: PhaseVerifying, Err: err}
	}

	rec := CacheRecord{
		ContentHash: entry.ContentHash,
		CachePath:   dest,
		Verified:    true,
		VerifiedAt:  c.now(),
		SourceURI:   entry.SourceURI,
	}
	c.records[entry.ContentHash] = rec
	return rec, nil
}

func (c *Cache) entryPath(hash string) string { return filepath.Join(c.root, hash) }

func (c *Cache) verifiedMarker(hash string) string { return filepath.Join(c.root, hash+".verified") }

// hashTree computes a deterministic sha256 over every regular file under
// root, sorted by relative path, each entry contributing its path and
// content to the digest so a rename or content change both perturb the
// hash.
func hashTree(root string) (string, error) {
	var paths []string
	if err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		io.WriteString(h, rel+"\x00")
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
		io.WriteString(h, "\x00")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
