package localpatch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/pinstore"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=fixture", "GIT_AUTHOR_EMAIL=fixture@local",
		"GIT_COMMITTER_NAME=fixture", "GIT_COMMITTER_EMAIL=fixture@local")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func revParse(t *testing.T, dir, rev string) string {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", rev)
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return string(out[:40])
}

func TestDesc(t *testing.T) {
	require.Equal(t, "widget-fix", Desc("local-001-widget-fix.patch"))
	require.Equal(t, "x", Desc("local-002-x.patch"))
	require.Equal(t, "local-bad", Desc("local-bad"))
}

func TestApplyAllCommitsInLexicographicOrder(t *testing.T) {
	clone := t.TempDir()
	runGit(t, clone, "init", "-q", "-b", "wip")
	require.NoError(t, os.WriteFile(filepath.Join(clone, "a.txt"), []byte("base\n"), 0o644))
	runGit(t, clone, "add", "a.txt")
	runGit(t, clone, "commit", "-q", "-m", "base")

	// Build two patches by editing a scratch clone of the same history
	// and capturing `git diff` between successive states.
	scratch := t.TempDir()
	runGit(t, scratch, "clone", "-q", clone, scratch)

	require.NoError(t, os.WriteFile(filepath.Join(scratch, "a.txt"), []byte("base\nfirst\n"), 0o644))
	patch1 := diffAgainst(t, scratch, "HEAD")

	runGit(t, scratch, "add", "a.txt")
	runGit(t, scratch, "commit", "-q", "-m", "first")
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "a.txt"), []byte("base\nfirst\nsecond\n"), 0o644))
	patch2 := diffAgainst(t, scratch, "HEAD")

	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "local-002-second.patch"), patch2, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "local-001-first.patch"), patch1, 0o644))

	staging := pinstore.Paths{PinDir: t.TempDir(), CloneDir: clone}
	driver := gitproc.New(context.Background())

	require.NoError(t, ApplyAll(driver, staging, sourceDir, 0))

	data, err := os.ReadFile(filepath.Join(clone, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "base\nfirst\nsecond\n", string(data))

	log, err := driver.LogOnelineRange(clone, revParse(t, clone, "HEAD~2"), revParse(t, clone, "HEAD"))
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Contains(t, log[0], "second")
	require.Contains(t, log[1], "first")

	copied, err := os.ReadDir(staging.PinDir)
	require.NoError(t, err)
	require.Len(t, copied, 2)
}

func diffAgainst(t *testing.T, dir, rev string) []byte {
	t.Helper()
	cmd := exec.Command("git", "diff", rev)
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return out
}
