// Package status implements the predicate that decides whether a live
// clone is safe to wipe: the guard record, clean, and reset all
// share.
package status

import (
	"fmt"
	"os"

	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/pinstore"
)

// Result is the predicate's verdict: Clean (safe to wipe) or not,
// with a human-readable explanation when not.
type Result struct {
	Clean  bool
	Reason string
}

// Check evaluates the predicate for one entry. referenceOnly and
// hasLocalPatches describe the entry's configuration and pin state
// independent of the live clone.
func Check(d *gitproc.Driver, paths pinstore.Paths, referenceOnly, hasLocalPatches bool) (Result, error) {
	if _, err := os.Stat(paths.CloneDir); os.IsNotExist(err) {
		return Result{Clean: true}, nil
	} else if err != nil {
		return Result{}, err
	}

	pinnedHead, herr := paths.ReadHEAD()
	if herr != nil {
		if referenceOnly && !hasLocalPatches {
			return Result{Clean: true}, nil
		}
		// clone exists but pins are missing/unreadable and the entry
		// is not reference-only: treat conservatively as dirty so the
		// guard forces an explicit decision rather than silently
		// wiping unknown state.
		return Result{Reason: fmt.Sprintf("clone exists but pins are unreadable: %v", herr)}, nil
	}

	actualHead, err := d.RevParse(paths.CloneDir, "HEAD")
	if err != nil {
		return Result{}, err
	}
	if actualHead != pinnedHead {
		oneline, _ := d.LogOnelineRange(paths.CloneDir, pinnedHead, actualHead)
		return Result{Reason: fmt.Sprintf("HEAD %s diverges from pinned %s:\n%s",
			actualHead, pinnedHead, joinLines(oneline))}, nil
	}

	clean, err := d.DiffQuiet(paths.CloneDir, pinnedHead, "", false)
	if err != nil {
		return Result{}, err
	}
	if !clean {
		return Result{Reason: "worktree has uncommitted changes against pinned HEAD"}, nil
	}
	cachedClean, err := d.DiffQuiet(paths.CloneDir, pinnedHead, "", true)
	if err != nil {
		return Result{}, err
	}
	if !cachedClean {
		return Result{Reason: "index has staged changes against pinned HEAD"}, nil
	}

	untracked, err := d.ListUntracked(paths.CloneDir)
	if err != nil {
		return Result{}, err
	}
	if len(untracked) > 0 {
		return Result{Reason: fmt.Sprintf("untracked files present: %s", joinLines(untracked))}, nil
	}

	stashes, err := d.StashList(paths.CloneDir)
	if err != nil {
		return Result{}, err
	}
	if len(stashes) > 0 {
		return Result{Reason: fmt.Sprintf("stashed changes present: %s", joinLines(stashes))}, nil
	}

	return Result{Clean: true}, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
