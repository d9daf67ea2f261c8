package replay

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/pinstore"
	"github.com/forkyard/forkyard/internal/posthook"
	"github.com/forkyard/forkyard/internal/record"
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

type noAdvisor struct{ t *testing.T }

func (n noAdvisor) Classify(context.Context, []advisor.ConflictInput) ([]advisor.ClassifyResult, error) {
	n.t.Fatal("advisor Classify should not be called")
	return nil, nil
}

func (n noAdvisor) Generate(context.Context, []advisor.ConflictInput) ([]advisor.GenerateResult, error) {
	n.t.Fatal("advisor Generate should not be called")
	return nil, nil
}

func newUpstreamWithFeatureBranch(t *testing.T) string {
	upstream := t.TempDir()
	runGit(t, upstream, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "a.txt"), []byte("base\n"), 0o644))
	runGit(t, upstream, "add", "a.txt")
	runGit(t, upstream, "commit", "-q", "-m", "base")

	runGit(t, upstream, "checkout", "-q", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "b.txt"), []byte("feature\n"), 0o644))
	runGit(t, upstream, "add", "b.txt")
	runGit(t, upstream, "commit", "-q", "-m", "add feature file")
	runGit(t, upstream, "checkout", "-q", "main")
	return upstream
}

func TestReplayReproducesRecordedHead(t *testing.T) {
	upstream := newUpstreamWithFeatureBranch(t)
	root := t.TempDir()
	pinsRoot := filepath.Join(root, "pins")
	clonesRoot := filepath.Join(root, "clones")
	entry := &config.Entry{Name: "demo", Upstream: upstream, Refs: []string{"feature"}}
	driver := gitproc.New(context.Background())

	recRes, err := record.Run(context.Background(), driver, noAdvisor{t}, posthook.NoopHook{}, entry, record.Options{
		PinsRoot: pinsRoot, ClonesRoot: clonesRoot,
	})
	require.NoError(t, err)

	paths := pinstore.Real(pinsRoot, clonesRoot, "demo")
	require.NoError(t, os.RemoveAll(paths.CloneDir))

	replayRes, err := Run(context.Background(), driver, posthook.NoopHook{}, entry, Options{
		PinsRoot: pinsRoot, ClonesRoot: clonesRoot,
	})
	require.NoError(t, err)
	require.False(t, replayRes.Skipped)
	require.Equal(t, recRes.HeadSHA, replayRes.HeadSHA)
	require.FileExists(t, filepath.Join(paths.CloneDir, "b.txt"))
}

func TestReplaySkipsWhenCloneAlreadyExists(t *testing.T) {
	upstream := newUpstreamWithFeatureBranch(t)
	root := t.TempDir()
	pinsRoot := filepath.Join(root, "pins")
	clonesRoot := filepath.Join(root, "clones")
	entry := &config.Entry{Name: "demo", Upstream: upstream, Refs: []string{"feature"}}
	driver := gitproc.New(context.Background())

	_, err := record.Run(context.Background(), driver, noAdvisor{t}, posthook.NoopHook{}, entry, record.Options{
		PinsRoot: pinsRoot, ClonesRoot: clonesRoot,
	})
	require.NoError(t, err)

	res, err := Run(context.Background(), driver, posthook.NoopHook{}, entry, Options{
		PinsRoot: pinsRoot, ClonesRoot: clonesRoot,
	})
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Contains(t, res.SkipReason, "already exists")
}

func TestReplayReferenceOnlyShallowClonesWithoutPins(t *testing.T) {
	upstream := newUpstreamWithFeatureBranch(t)
	root := t.TempDir()
	pinsRoot := filepath.Join(root, "pins")
	clonesRoot := filepath.Join(root, "clones")
	entry := &config.Entry{Name: "ref-only", Upstream: upstream}
	driver := gitproc.New(context.Background())

	res, err := Run(context.Background(), driver, posthook.NoopHook{}, entry, Options{
		PinsRoot: pinsRoot, ClonesRoot: clonesRoot,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.HeadSHA)

	paths := pinstore.Real(pinsRoot, clonesRoot, "ref-only")
	require.FileExists(t, filepath.Join(paths.CloneDir, "a.txt"))
	_, err = paths.ReadHEAD()
	require.Error(t, err, "reference-only replay must not write a HEAD pin")
}
