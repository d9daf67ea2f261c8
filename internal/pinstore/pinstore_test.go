package pinstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/stretchr/testify/require"
)

func newTestPaths(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	return Paths{
		PinDir:   filepath.Join(root, "pins", "widget"),
		CloneDir: filepath.Join(root, "clones", "widget"),
	}
}

func TestHeadMissingIsError(t *testing.T) {
	p := newTestPaths(t)
	_, err := p.ReadHEAD()
	require.Error(t, err)
	require.True(t, forkerr.IsStateMissing(err))
}

func TestHeadRoundTrip(t *testing.T) {
	p := newTestPaths(t)
	sha := "abcdef0123456789abcdef0123456789abcdef01"
	require.NoError(t, p.WriteHEAD(sha))
	got, err := p.ReadHEAD()
	require.NoError(t, err)
	require.Equal(t, sha, got)
}

func TestManifestMissingIsAbsentNotError(t *testing.T) {
	p := newTestPaths(t)
	m, ok, err := p.ReadManifest()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, m)
}

func TestManifestRoundTrip(t *testing.T) {
	p := newTestPaths(t)
	m := &Manifest{
		BaseSHA:       "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		DefaultBranch: "main",
		Steps: []ManifestStep{
			{SHA: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Ref: "feature"},
			{SHA: "cccccccccccccccccccccccccccccccccccccccc", Ref: "42"},
		},
	}
	require.NoError(t, p.WriteManifest(m))

	got, ok, err := p.ReadManifest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m.BaseSHA, got.BaseSHA)
	require.Equal(t, m.DefaultBranch, got.DefaultBranch)
	require.Equal(t, m.Steps, got.Steps)

	count, err := p.MergeCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestResolutionRoundTrip(t *testing.T) {
	p := newTestPaths(t)
	_, ok, err := p.ReadResolution(1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.WriteResolution(1, []byte("--- a.txt\n")))
	data, ok, err := p.ReadResolution(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "--- a.txt\n", string(data))
}

func TestListLocalPatchesOrderAndNext(t *testing.T) {
	p := newTestPaths(t)
	names, err := p.ListLocalPatches()
	require.NoError(t, err)
	require.Empty(t, names)

	next, err := p.NextLocalPatchNumber()
	require.NoError(t, err)
	require.Equal(t, "001", next)

	require.NoError(t, p.WriteResolution(99, nil)) // ensure PinDir exists
	for _, f := range []string{"local-002-fix.patch", "local-001-base.patch"} {
		require.NoError(t, os.WriteFile(filepath.Join(p.PinDir, f), []byte("diff"), 0o644))
	}
	names, err = p.ListLocalPatches()
	require.NoError(t, err)
	require.Equal(t, []string{"local-001-base.patch", "local-002-fix.patch"}, names)

	next, err = p.NextLocalPatchNumber()
	require.NoError(t, err)
	require.Equal(t, "003", next)
}

func TestSanitizeDesc(t *testing.T) {
	require.Equal(t, "fix-the-bug", SanitizeDesc("fix the bug"))
	require.Equal(t, "local", SanitizeDesc("!!!"))
	require.Equal(t, "local", SanitizeDesc(""))
}
