// Package posthook models the pluggable repository-specific
// post-merge hook: an external collaborator invoked once after all
// merges, responsible for any mutation (e.g. rewriting package
// descriptors to point at source trees) and, if it changed anything,
// one deterministic commit.
package posthook

import (
	"context"

	"github.com/forkyard/forkyard/internal/gitproc"
)

// Hook is invoked once per record/replay, after the merge loop and
// before local patches. It must be idempotent: if it has nothing to
// do, it makes no commit.
type Hook interface {
	// Run mutates the worktree at repo as needed. It returns whether
	// anything changed; the caller stages and commits when true.
	Run(ctx context.Context, repo string) (changed bool, err error)
}

// NoopHook is the default hook for entries with no repository-specific
// post-processing.
type NoopHook struct{}

func (NoopHook) Run(context.Context, string) (bool, error) { return false, nil }

// Invoke runs hook and, if it reports a change, stages everything and
// commits under the deterministic identity for timestamp
// mergeCount+1.
func Invoke(ctx context.Context, driver *gitproc.Driver, hook Hook, repo string, mergeCount int) error {
	changed, err := hook.Run(ctx, repo)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := driver.StageAll(repo); err != nil {
		return err
	}
	id := gitproc.NewIdentity(int64(mergeCount + 1))
	return driver.Commit(repo, "patch: source-level type resolution", id)
}
