package skills_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonward/moonward/internal/skills"
)

type fixedVerifier struct{ err error }

func (v fixedVerifier) Verify(_ context.Context, _ skills.RegistryEntry, _ string) error {
	return v.err
}

func TestCacheEnsureRequiresVerifierWhenSignatureConfigured(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	cache, err := skills.NewCache(t.TempDir(), map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)

	entry := skills.RegistryEntry{
		Name: "signed-skill", Version: "1.0.0", SourceKind: skills.SourceGit,
		SourceURI: "https://example.test/skills/signed.git", ContentHash: hash,
		Signature: "deadbeef", Enabled: true,
	}

	_, err = cache.Ensure(context.Background(), entry)
	require.Error(t, err)

	var merr *skills.MaterializeError
	require.ErrorAs(t, err, &merr)
	var sigErr *skills.SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestCacheEnsureRejectsBadSignature(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	cache, err := skills.NewCache(t.TempDir(), map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)
	cache.Verifier = fixedVerifier{err: errors.New("signature does not match source key")}

	entry := skills.RegistryEntry{
		Name: "signed-skill", Version: "1.0.0", SourceKind: skills.SourceGit,
		SourceURI: "https://example.test/skills/signed.git", ContentHash: hash,
		Signature: "deadbeef", Enabled: true,
	}

	_, err = cache.Ensure(context.Background(), entry)
	require.Error(t, err)
	var sigErr *skills.SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestCacheEnsureAcceptsVerifiedSignature(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	cache, err := skills.NewCache(t.TempDir(), map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)
	cache.Verifier = fixedVerifier{}

	entry := skills.RegistryEntry{
		Name: "signed-skill", Version: "1.0.0", SourceKind: skills.SourceGit,
		SourceURI: "https://example.test/skills/signed.git", ContentHash: hash,
		Signature: "deadbeef", Enabled: true,
	}

	rec, err := cache.Ensure(context.Background(), entry)
	require.NoError(t, err)
	require.True(t, rec.Verified)
}

func TestCacheEnsureSkipsVerifierWhenNoSignatureConfigured(t *testing.T) {
	hash := contentHashOf(t, "hello skill")
	cache, err := skills.NewCache(t.TempDir(), map[skills.SourceKind]skills.Fetcher{
		skills.SourceGit: &fixedFetcher{content: "hello skill"},
	})
	require.NoError(t, err)

	entry := skills.RegistryEntry{
		Name: "unsigned-skill", Version: "1.0.0", SourceKind: skills.SourceGit,
		SourceURI: "https://example.test/skills/unsigned.git", ContentHash: hash,
		Enabled: true,
	}

	rec, err := cache.Ensure(context.Background(), entry)
	require.NoError(t, err)
	require.True(t, rec.Verified)
}
