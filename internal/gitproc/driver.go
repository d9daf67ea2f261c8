package gitproc

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Driver is the VCS driver: clone/fetch/checkout/merge/rev-parse/
// apply/commit, with deterministic identity and marker options
// threaded explicitly through each call rather than held as driver
// state.
type Driver struct {
	r   *runner
	ctx context.Context
}

// New returns a Driver bound to ctx, used for cancellation at the
// subprocess boundary.
func New(ctx context.Context) *Driver {
	return &Driver{r: newRunner(), ctx: ctx}
}

func (d *Driver) git(dir string, extraEnv []string, args ...string) ([]byte, error) {
	return d.r.run(d.ctx, RunOpts{Dir: dir, ExtraEnv: extraEnv}, args...)
}

// Clone clones url into dest. filter is a --filter value such as
// "blob:none"; empty means a full clone.
func (d *Driver) Clone(url, dest, filter string) error {
	args := []string{"clone"}
	if filter != "" {
		args = append(args, "--filter="+filter)
	}
	args = append(args, url, dest)
	_, err := d.git("", nil, args...)
	return err
}

// ShallowClone performs a depth-1 clone, used for reference-only
// entries that are never merged or recorded.
func (d *Driver) ShallowClone(url, dest string) error {
	_, err := d.git("", nil, "clone", "--depth=1", url, dest)
	return err
}

// SetOption sets one repo-local git config key, used at clone time to
// establish diff3 conflict markers and a fixed abbrev width.
func (d *Driver) SetOption(repo, key, value string) error {
	_, err := d.git(repo, nil, "config", key, value)
	return err
}

// FetchSHA fetches a single commit by SHA from origin. depth <= 0
// means a full fetch.
func (d *Driver) FetchSHA(repo, sha string, depth int) error {
	args := []string{"fetch", "origin", sha}
	if depth > 0 {
		args = append(args, "--depth", itoa(depth))
	}
	_, err := d.git(repo, nil, args...)
	return err
}

// FetchPR fetches pull/<n>/head into local branch pr-<n>.
func (d *Driver) FetchPR(repo string, n int) error {
	ref := "pull/" + itoa(n) + "/head:pr-" + itoa(n)
	_, err := d.git(repo, nil, "fetch", "origin", ref)
	return err
}

// FetchBranch fetches a named branch from origin.
func (d *Driver) FetchBranch(repo, branch string) error {
	_, err := d.git(repo, nil, "fetch", "origin", branch)
	return err
}

// RevParse resolves revspec to a full SHA (or other rev-parse output).
func (d *Driver) RevParse(repo, revspec string) (string, error) {
	out, err := d.git(repo, nil, "rev-parse", revspec)
	if err != nil {
		return "", err
	}
	return oneLine(out), nil
}

// CurrentBranch returns the checked-out branch name.
func (d *Driver) CurrentBranch(repo string) (string, error) {
	out, err := d.git(repo, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return oneLine(out), nil
}

// Checkout switches the worktree to revspec.
func (d *Driver) Checkout(repo, revspec string) error {
	_, err := d.git(repo, nil, "checkout", revspec)
	return err
}

// CreateBranch creates and switches to a new branch from the current
// HEAD, combining branch creation and the immediate checkout every
// caller performs with it.
func (d *Driver) CreateBranch(repo, name string) error {
	_, err := d.git(repo, nil, "checkout", "-b", name)
	return err
}

// MergeNoFF merges sha into the current branch with --no-ff, under the
// given deterministic identity and message. A conflicted merge is
// reported as MergeConflicted, not an error.
func (d *Driver) MergeNoFF(repo string, id Identity, sha, message string) (MergeOutcome, error) {
	_, err := d.git(repo, id.Env(), "merge", "--no-ff", "--no-edit", "-m", message, sha)
	if err == nil {
		return MergeOk, nil
	}
	unmerged, uerr := d.ListUnmerged(repo)
	if uerr == nil && len(unmerged) > 0 {
		return MergeConflicted, nil
	}
	return MergeOk, err
}

// ListUnmerged returns the repo-relative paths with unresolved
// conflicts, in the order git reports them.
func (d *Driver) ListUnmerged(repo string) ([]string, error) {
	out, err := d.git(repo, nil, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// StageAll stages every worktree change, including new files.
func (d *Driver) StageAll(repo string) error {
	_, err := d.git(repo, nil, "add", "-A")
	return err
}

// AddPaths stages a specific set of repo-relative paths, used to stage
// resolver output one resolved file at a time.
func (d *Driver) AddPaths(repo string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := d.git(repo, nil, args...)
	return err
}

// WriteMergeMsg overwrites .git/MERGE_MSG with the deterministic merge
// message, a plain filesystem write rather than a git subcommand.
func (d *Driver) WriteMergeMsg(repo, message string) error {
	gitDir, err := d.gitDir(repo)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(gitDir, "MERGE_MSG"), []byte(message+"\n"), 0o644)
}

func (d *Driver) gitDir(repo string) (string, error) {
	out, err := d.git(repo, nil, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	dir := oneLine(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repo, dir)
	}
	return dir, nil
}

// MergeContinueNoEdit finishes an in-progress merge using the message
// already staged in MERGE_MSG, under the given identity.
func (d *Driver) MergeContinueNoEdit(repo string, id Identity) error {
	env := append(append([]string{}, id.Env()...), "GIT_EDITOR=true")
	_, err := d.git(repo, env, "merge", "--continue")
	return err
}

// Commit records a new commit with message under the given identity.
func (d *Driver) Commit(repo, message string, id Identity) error {
	_, err := d.git(repo, id.Env(), "commit", "-m", message)
	return err
}

// ApplyPatch applies a unified diff and stages the result.
func (d *Driver) ApplyPatch(repo, path string) error {
	_, err := d.git(repo, nil, "apply", "--index", path)
	return err
}

// DiffQuiet reports whether a and b (or a and the worktree, if b is
// empty) are identical: true when `git diff --quiet` finds no
// difference, false when it does. cached compares against the index
// instead of the worktree.
func (d *Driver) DiffQuiet(repo, a, b string, cached bool) (bool, error) {
	args := []string{"diff", "--quiet"}
	if cached {
		args = append(args, "--cached")
	}
	args = append(args, a)
	if b != "" {
		args[len(args)-1] = a + ".." + b
	}
	_, err := d.git(repo, nil, args...)
	if err == nil {
		return true, nil
	}
	if ve, ok := err.(*VCSError); ok {
		if _, ok := ve.Cause.(interface{ ExitCode() int }); ok {
			return false, nil
		}
	}
	return false, err
}

// DiffCached returns the unified diff of the index against rev, the
// payload of a saved local patch.
func (d *Driver) DiffCached(repo, rev string) ([]byte, error) {
	return d.git(repo, nil, "diff", "--cached", rev)
}

// ResetHard resets the current branch and worktree to rev.
func (d *Driver) ResetHard(repo, rev string) error {
	_, err := d.git(repo, nil, "reset", "--hard", rev)
	return err
}

// ListUntracked lists untracked paths honoring ignore rules.
func (d *Driver) ListUntracked(repo string) ([]string, error) {
	out, err := d.git(repo, nil, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// StashList lists stash entries, most recent first.
func (d *Driver) StashList(repo string) ([]string, error) {
	out, err := d.git(repo, nil, "stash", "list")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// LogOnelineRange returns one-line summaries for commits in a..b.
func (d *Driver) LogOnelineRange(repo, a, b string) ([]string, error) {
	out, err := d.git(repo, nil, "log", "--oneline", a+".."+b)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// CherryPickRange cherry-picks (a, b] onto the current branch,
// preserving each commit's original author/committer. Push forwards
// the user's own wip work; it does not mint new deterministic core
// commits, so no identity override is applied here.
func (d *Driver) CherryPickRange(repo string, a, b string) (MergeOutcome, error) {
	_, err := d.git(repo, nil, "cherry-pick", a+".."+b)
	if err == nil {
		return MergeOk, nil
	}
	unmerged, uerr := d.ListUnmerged(repo)
	if uerr == nil && len(unmerged) > 0 {
		return MergeConflicted, nil
	}
	return MergeOk, err
}

// AddRemote adds a named remote.
func (d *Driver) AddRemote(repo, name, url string) error {
	_, err := d.git(repo, nil, "remote", "add", name, url)
	return err
}

// ListBranchesMatching lists local branches matching a glob, sorted
// lexicographically ascending. Callers that want the "last" one for
// push target selection take the final element.
func (d *Driver) ListBranchesMatching(repo, pattern string) ([]string, error) {
	out, err := d.git(repo, nil, "branch", "--list", pattern, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	names := lines(out)
	sort.Strings(names)
	return names, nil
}

// HasAnyChangeVsHEAD reports whether the worktree (committed, staged,
// or untracked) differs at all from rev. Used by save's no-op check.
func (d *Driver) HasAnyChangeVsHEAD(repo, rev string) (bool, error) {
	clean, err := d.DiffQuiet(repo, rev, "", false)
	if err != nil {
		return false, err
	}
	if !clean {
		return true, nil
	}
	untracked, err := d.ListUntracked(repo)
	if err != nil {
		return false, err
	}
	return len(untracked) > 0, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
