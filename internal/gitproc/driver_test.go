package gitproc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runGit is test scaffolding only. It sets up fixture repositories
// using plain exec.Command, independent of the Driver under test.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=fixture", "GIT_AUTHOR_EMAIL=fixture@local",
		"GIT_COMMITTER_NAME=fixture", "GIT_COMMITTER_EMAIL=fixture@local")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

func initFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("base\n"), 0o644))
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-q", "-m", "base")
	return dir
}

func newDriver() *Driver {
	return New(context.Background())
}

func TestCloneAndSetOption(t *testing.T) {
	upstream := initFixtureRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")
	d := newDriver()

	require.NoError(t, d.Clone(upstream, dest, ""))
	require.NoError(t, d.SetOption(dest, "merge.conflictStyle", "diff3"))
	require.NoError(t, d.SetOption(dest, "core.abbrev", "40"))

	branch, err := d.CurrentBranch(dest)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestMergeNoFFCleanAndConflicted(t *testing.T) {
	upstream := initFixtureRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")
	d := newDriver()
	require.NoError(t, d.Clone(upstream, dest, ""))

	// clean fast-forward-able feature branch
	runGit(t, upstream, "checkout", "-q", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "b.txt"), []byte("new\n"), 0o644))
	runGit(t, upstream, "add", "b.txt")
	runGit(t, upstream, "commit", "-q", "-m", "add b")
	featureSHA := runGitRevParse(t, upstream, "feature")

	require.NoError(t, d.CreateBranch(dest, "wip"))
	require.NoError(t, d.FetchSHA(dest, featureSHA, 0))
	outcome, err := d.MergeNoFF(dest, NewIdentity(1), featureSHA, "Merge feature into wip")
	require.NoError(t, err)
	require.Equal(t, MergeOk, outcome)

	// now a conflicting branch touching a.txt
	runGit(t, upstream, "checkout", "-q", "main")
	runGit(t, upstream, "checkout", "-q", "-b", "conflicting")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "a.txt"), []byte("upstream change\n"), 0o644))
	runGit(t, upstream, "commit", "-q", "-am", "conflict a")
	conflictSHA := runGitRevParse(t, upstream, "conflicting")

	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("wip change\n"), 0o644))
	runGitIn(t, dest, "commit", "-q", "-am", "wip edits a")

	require.NoError(t, d.FetchSHA(dest, conflictSHA, 0))
	outcome, err = d.MergeNoFF(dest, NewIdentity(2), conflictSHA, "Merge conflicting into wip")
	require.NoError(t, err)
	require.Equal(t, MergeConflicted, outcome)

	unmerged, err := d.ListUnmerged(dest)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, unmerged)
}

func runGitRevParse(t *testing.T, dir, rev string) string {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", rev)
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return string(out[:40])
}

func runGitIn(t *testing.T, dir string, args ...string) {
	t.Helper()
	runGit(t, dir, args...)
}
