// Package lifecycle implements save, push, clean, reset, and their
// aggregate *-all forms, composed from the lower-level engines and
// guarded by internal/entrylock where exclusive access is required
// (record, clean, reset).
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/entrylock"
	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/localpatch"
	"github.com/forkyard/forkyard/internal/pinstore"
	"github.com/forkyard/forkyard/internal/posthook"
	"github.com/forkyard/forkyard/internal/record"
	"github.com/forkyard/forkyard/internal/replay"
	"github.com/forkyard/forkyard/internal/status"
)

// Deps collects the shared collaborators every lifecycle operation
// needs, so the CLI layer builds them once per invocation.
type Deps struct {
	Driver     *gitproc.Driver
	Advisor    advisor.Client
	Hook       posthook.Hook
	PinsRoot   string
	ClonesRoot string
}

func (d Deps) paths(name string) pinstore.Paths {
	return pinstore.Real(d.PinsRoot, d.ClonesRoot, name)
}

// Record acquires the entry's lock and runs the record engine.
func Record(ctx context.Context, d Deps, entry *config.Entry, refsOverride []string, dryRun bool) (*record.Result, error) {
	lock, err := entrylock.Acquire(d.PinsRoot, entry.Name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return record.Run(ctx, d.Driver, d.Advisor, d.Hook, entry, record.Options{
		PinsRoot: d.PinsRoot, ClonesRoot: d.ClonesRoot, RefsOverride: refsOverride, DryRun: dryRun,
	})
}

// Replay runs the replay engine. Unlike record/clean/reset it is not
// lock-guarded: it never wipes a live clone (step 1 is a no-op skip if
// one exists), so concurrent replay invocations for the same entry
// cannot corrupt each other's view of the final directories.
func Replay(ctx context.Context, d Deps, entry *config.Entry, dryRun bool) (*replay.Result, error) {
	return replay.Run(ctx, d.Driver, d.Hook, entry, replay.Options{
		PinsRoot: d.PinsRoot, ClonesRoot: d.ClonesRoot, DryRun: dryRun,
	})
}

// Status evaluates the status predicate for one entry.
func Status(d Deps, entry *config.Entry) (status.Result, error) {
	paths := d.paths(entry.Name)
	patches, err := paths.ListLocalPatches()
	if err != nil {
		return status.Result{}, err
	}
	return status.Check(d.Driver, paths, entry.ReferenceOnly(), len(patches) > 0)
}

// Save requires clone + pins + branch wip; no-op if nothing changed
// since the pinned HEAD; otherwise save a local patch and rebuild the
// clone so it reflects every local patch deterministically.
func Save(d Deps, entry *config.Entry, desc string) (headSHA string, noop bool, err error) {
	paths := d.paths(entry.Name)
	if _, statErr := os.Stat(paths.CloneDir); statErr != nil {
		return "", false, forkerr.New(forkerr.KindStateMissing, "run record first", "no clone for %s", entry.Name)
	}
	pinnedHead, err := paths.ReadHEAD()
	if err != nil {
		return "", false, err
	}
	branch, err := d.Driver.CurrentBranch(paths.CloneDir)
	if err != nil {
		return "", false, err
	}
	if branch != "wip" {
		return "", false, forkerr.New(forkerr.KindGuardFailed, "checkout wip before saving",
			"entry %q is on branch %q, not wip", entry.Name, branch)
	}

	changed, err := d.Driver.HasAnyChangeVsHEAD(paths.CloneDir, pinnedHead)
	if err != nil {
		return "", false, err
	}
	if !changed {
		return pinnedHead, true, nil
	}

	existing, err := paths.ListLocalPatches()
	if err != nil {
		return "", false, err
	}
	num, err := paths.NextLocalPatchNumber()
	if err != nil {
		return "", false, err
	}
	sanitizedDesc := pinstore.SanitizeDesc(desc)
	patchName := fmt.Sprintf("local-%s-%s.patch", num, sanitizedDesc)
	patchPath := filepath.Join(paths.PinDir, patchName)

	if err := d.Driver.StageAll(paths.CloneDir); err != nil {
		return "", false, err
	}
	diff, err := d.Driver.DiffCached(paths.CloneDir, pinnedHead)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(paths.PinDir, 0o755); err != nil {
		return "", false, err
	}
	if err := os.WriteFile(patchPath, diff, 0o644); err != nil {
		return "", false, err
	}

	mergeCount, err := paths.MergeCount()
	if err != nil {
		os.Remove(patchPath)
		return "", false, err
	}
	rebuildBase := fmt.Sprintf("%s~%d", pinnedHead, len(existing))
	if err := d.Driver.ResetHard(paths.CloneDir, rebuildBase); err != nil {
		os.Remove(patchPath)
		return "", false, forkerr.Wrap(forkerr.KindLocalPatch, "", err, "rebuilding %s to pre-patch base", entry.Name)
	}
	if err := localpatch.ApplyAll(d.Driver, paths, paths.PinDir, mergeCount); err != nil {
		os.Remove(patchPath)
		return "", false, err
	}

	newHead, err := d.Driver.RevParse(paths.CloneDir, "HEAD")
	if err != nil {
		os.Remove(patchPath)
		return "", false, err
	}
	if err := paths.WriteHEAD(newHead); err != nil {
		os.Remove(patchPath)
		return "", false, err
	}
	return newHead, false, nil
}

// Push forwards the wip branch's unpinned commits onto target (or the
// lexicographically last pr-* branch) via cherry-pick. A conflict is
// left for the user; push never rolls back.
func Push(d Deps, entry *config.Entry, target string) error {
	paths := d.paths(entry.Name)
	branch, err := d.Driver.CurrentBranch(paths.CloneDir)
	if err != nil {
		return err
	}
	if branch != "wip" {
		return forkerr.New(forkerr.KindGuardFailed, "checkout wip before pushing",
			"entry %q is on branch %q, not wip", entry.Name, branch)
	}
	if target == "" {
		candidates, err := d.Driver.ListBranchesMatching(paths.CloneDir, "pr-*")
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return forkerr.New(forkerr.KindGuardFailed, "pass an explicit push target",
				"entry %q has no pr-* branch to push to", entry.Name)
		}
		target = candidates[len(candidates)-1]
	}
	pinnedHead, err := paths.ReadHEAD()
	if err != nil {
		return err
	}
	if err := d.Driver.Checkout(paths.CloneDir, target); err != nil {
		return err
	}
	outcome, err := d.Driver.CherryPickRange(paths.CloneDir, pinnedHead, "wip")
	if err != nil {
		return err
	}
	if outcome == gitproc.MergeConflicted {
		return forkerr.New(forkerr.KindVCS,
			fmt.Sprintf("resolve conflicts in %s, then `git cherry-pick --continue` (or --abort) and retry push", paths.CloneDir),
			"cherry-pick of %s..wip onto %s conflicted", pinnedHead, target)
	}
	return nil
}

// Clean is guarded by the status predicate, then removes the clone
// directory.
func Clean(d Deps, entry *config.Entry) error {
	lock, err := entrylock.Acquire(d.PinsRoot, entry.Name)
	if err != nil {
		return err
	}
	defer lock.Release()
	return cleanLocked(d, entry)
}

func cleanLocked(d Deps, entry *config.Entry) error {
	paths := d.paths(entry.Name)
	patches, err := paths.ListLocalPatches()
	if err != nil {
		return err
	}
	st, err := status.Check(d.Driver, paths, entry.ReferenceOnly(), len(patches) > 0)
	if err != nil {
		return err
	}
	if !st.Clean {
		return forkerr.New(forkerr.KindGuardFailed, "save or push pending work, or inspect manually, then retry",
			"entry %q is not safe to clean: %s", entry.Name, st.Reason)
	}
	return os.RemoveAll(paths.CloneDir)
}

// Reset cleans, then also removes pins.
func Reset(d Deps, entry *config.Entry) error {
	lock, err := entrylock.Acquire(d.PinsRoot, entry.Name)
	if err != nil {
		return err
	}
	defer lock.Release()
	if err := cleanLocked(d, entry); err != nil {
		return err
	}
	return os.RemoveAll(d.paths(entry.Name).PinDir)
}

// StatusAll evaluates the status predicate for every configured entry.
func StatusAll(d Deps, store *config.Store) (results map[string]status.Result, allClean bool, err error) {
	results = map[string]status.Result{}
	allClean = true
	for _, name := range store.AllNames() {
		entry, gerr := store.Get(name)
		if gerr != nil {
			return nil, false, gerr
		}
		r, serr := Status(d, entry)
		if serr != nil {
			return nil, false, serr
		}
		results[name] = r
		if !r.Clean {
			allClean = false
		}
	}
	return results, allClean, nil
}

// CleanAll runs Clean for every configured entry, collecting failures
// per entry rather than aborting on the first one.
func CleanAll(d Deps, store *config.Store) map[string]error {
	errs := map[string]error{}
	for _, name := range store.AllNames() {
		entry, err := store.Get(name)
		if err != nil {
			errs[name] = err
			continue
		}
		if err := Clean(d, entry); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// ReplayAll runs Replay for every configured entry, collecting
// failures per entry rather than aborting on the first one.
func ReplayAll(ctx context.Context, d Deps, store *config.Store) (map[string]*replay.Result, map[string]error) {
	results := map[string]*replay.Result{}
	errs := map[string]error{}
	for _, name := range store.AllNames() {
		entry, err := store.Get(name)
		if err != nil {
			errs[name] = err
			continue
		}
		r, err := Replay(ctx, d, entry, false)
		if err != nil {
			errs[name] = err
			continue
		}
		results[name] = r
	}
	return results, errs
}
