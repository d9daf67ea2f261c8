// Package replay implements the replay engine: rebuild a clone purely
// from pins, never contacting the conflict-resolution advisor, and
// assert that the result's HEAD matches what record pinned.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/localpatch"
	"github.com/forkyard/forkyard/internal/pinstore"
	"github.com/forkyard/forkyard/internal/posthook"
	"github.com/forkyard/forkyard/internal/resolution"
	"github.com/forkyard/forkyard/internal/textfile"
	"github.com/forkyard/forkyard/internal/traceerr"
)

// Options parameterizes one replay invocation.
type Options struct {
	PinsRoot   string
	ClonesRoot string
	DryRun     bool
}

// Result reports what replay did.
type Result struct {
	HeadSHA    string
	Skipped    bool
	SkipReason string
	DryRunPlan []string
}

// Run executes the replay engine for one entry.
func Run(ctx context.Context, driver *gitproc.Driver, hook posthook.Hook, entry *config.Entry, opts Options) (*Result, error) {
	paths := pinstore.Real(opts.PinsRoot, opts.ClonesRoot, entry.Name)

	if _, err := os.Stat(paths.CloneDir); err == nil {
		return &Result{Skipped: true, SkipReason: "clone already exists"}, nil
	} else if !os.IsNotExist(err) {
		return nil, traceerr.Wrap(err, "statting clone dir for %s", entry.Name)
	}

	manifest, ok, err := paths.ReadManifest()
	if err != nil {
		return nil, err
	}
	if !ok {
		if !entry.ReferenceOnly() {
			return &Result{Skipped: true,
				SkipReason: "no manifest exists but refs are configured: invalid state for replay, run record"}, nil
		}
		return replayReferenceOnly(driver, entry, paths, opts)
	}

	if opts.DryRun {
		plan := make([]string, 0, len(manifest.Steps)+1)
		plan = append(plan, manifest.BaseSHA)
		for _, s := range manifest.Steps {
			plan = append(plan, s.Ref)
		}
		return &Result{DryRunPlan: plan}, nil
	}

	if err := os.MkdirAll(opts.ClonesRoot, 0o755); err != nil {
		return nil, traceerr.Wrap(err, "creating clones root")
	}
	if err := os.MkdirAll(opts.PinsRoot, 0o755); err != nil {
		return nil, traceerr.Wrap(err, "creating pins root")
	}

	stagingName := ".work-" + entry.Name + "." + uuid.New().String()
	staging := pinstore.Paths{
		PinDir:   filepath.Join(opts.PinsRoot, stagingName),
		CloneDir: filepath.Join(opts.ClonesRoot, stagingName),
	}
	cleanupStaging := true
	defer func() {
		if cleanupStaging {
			os.RemoveAll(staging.CloneDir)
			os.RemoveAll(staging.PinDir)
		}
	}()
	fail := func(err error) (*Result, error) {
		return nil, fmt.Errorf("FAILED — previous state is intact: %w", err)
	}

	logrus.WithField("entry", entry.Name).Info("replay: cloning upstream into staging")
	if err := driver.Clone(entry.Upstream, staging.CloneDir, "blob:none"); err != nil {
		return fail(traceerr.Wrap(err, "cloning %s", entry.Upstream))
	}
	if err := driver.SetOption(staging.CloneDir, "merge.conflictStyle", "diff3"); err != nil {
		return fail(err)
	}
	if err := driver.SetOption(staging.CloneDir, "core.abbrev", "40"); err != nil {
		return fail(err)
	}
	if err := driver.Checkout(staging.CloneDir, manifest.BaseSHA); err != nil {
		return fail(traceerr.Wrap(err, "checking out base %s", manifest.BaseSHA))
	}
	if err := driver.CreateBranch(staging.CloneDir, "wip"); err != nil {
		return fail(err)
	}
	if err := staging.WriteManifest(manifest); err != nil {
		return fail(err)
	}

	for idx, step := range manifest.Steps {
		n := idx + 1
		id := gitproc.NewIdentity(int64(n))
		if err := driver.FetchSHA(staging.CloneDir, step.SHA, 0); err != nil {
			return fail(traceerr.Wrap(err, "fetching pinned sha %s for step %d", step.SHA, n))
		}
		message := fmt.Sprintf("Merge %s into wip", step.Ref)
		outcome, err := driver.MergeNoFF(staging.CloneDir, id, step.SHA, message)
		if err != nil {
			return fail(traceerr.Wrap(err, "merging pinned sha %s for step %d", step.SHA, n))
		}
		if outcome == gitproc.MergeOk {
			continue
		}
		if err := applyPinnedResolution(driver, staging, paths, n, message, id); err != nil {
			return fail(err)
		}
	}

	if err := posthook.Invoke(ctx, driver, hook, staging.CloneDir, len(manifest.Steps)); err != nil {
		return fail(traceerr.Wrap(err, "running post-merge hook for %s", entry.Name))
	}
	if err := localpatch.ApplyAll(driver, staging, paths.PinDir, len(manifest.Steps)); err != nil {
		return fail(err)
	}

	headSHA, err := driver.RevParse(staging.CloneDir, "HEAD")
	if err != nil {
		return fail(err)
	}
	pinnedHead, err := paths.ReadHEAD()
	if err != nil {
		return fail(err)
	}
	if headSHA != pinnedHead {
		return fail(forkerr.New(forkerr.KindHeadMismatch, "re-run record to refresh pins",
			"replayed HEAD %s does not match pinned HEAD %s for %s", headSHA, pinnedHead, entry.Name))
	}
	if err := staging.WriteHEAD(headSHA); err != nil {
		return fail(err)
	}

	if entry.Fork != "" {
		if err := driver.AddRemote(staging.CloneDir, "fork", entry.Fork); err != nil {
			return fail(err)
		}
	}

	if err := swap(staging, paths); err != nil {
		return fail(err)
	}
	cleanupStaging = false

	return &Result{HeadSHA: headSHA}, nil
}

// replayReferenceOnly performs the depth-1 shallow clone for entries
// with no manifest and no configured refs: no pins are written, since
// nothing was recorded.
func replayReferenceOnly(driver *gitproc.Driver, entry *config.Entry, paths pinstore.Paths, opts Options) (*Result, error) {
	if opts.DryRun {
		return &Result{DryRunPlan: []string{"<shallow clone, no manifest>"}}, nil
	}
	if err := os.MkdirAll(opts.ClonesRoot, 0o755); err != nil {
		return nil, traceerr.Wrap(err, "creating clones root")
	}
	stagingClone := filepath.Join(opts.ClonesRoot, ".work-"+entry.Name+"."+uuid.New().String())
	if err := driver.ShallowClone(entry.Upstream, stagingClone); err != nil {
		os.RemoveAll(stagingClone)
		return nil, fmt.Errorf("FAILED — previous state is intact: %w", traceerr.Wrap(err, "shallow-cloning %s", entry.Upstream))
	}
	if err := os.RemoveAll(paths.CloneDir); err != nil {
		os.RemoveAll(stagingClone)
		return nil, fmt.Errorf("FAILED — previous state is intact: %w", err)
	}
	if err := os.Rename(stagingClone, paths.CloneDir); err != nil {
		os.RemoveAll(stagingClone)
		return nil, fmt.Errorf("FAILED — previous state is intact: %w", err)
	}
	headSHA, err := driver.RevParse(paths.CloneDir, "HEAD")
	if err != nil {
		return nil, err
	}
	return &Result{HeadSHA: headSHA}, nil
}

// applyPinnedResolution loads merge step n's resolution sidecar from
// the live pin directory and applies it positionally to every
// conflicted file, never re-deriving a resolution (replay never calls
// the advisor).
func applyPinnedResolution(driver *gitproc.Driver, staging, realPaths pinstore.Paths, n int, message string, id gitproc.Identity) error {
	data, ok, err := realPaths.ReadResolution(n)
	if err != nil {
		return err
	}
	if !ok {
		return forkerr.New(forkerr.KindStateMissing, "re-run record to regenerate pins",
			"merge step %d conflicted but no res-%d.resolution pin exists", n, n)
	}
	blocks, err := resolution.Parse(data)
	if err != nil {
		return err
	}
	byPath := make(map[string]resolution.FileBlock, len(blocks))
	for _, b := range blocks {
		byPath[b.Path] = b
	}

	unmerged, err := driver.ListUnmerged(staging.CloneDir)
	if err != nil {
		return err
	}
	var stagedPaths []string
	for _, path := range unmerged {
		block, ok := byPath[path]
		if !ok {
			return forkerr.New(forkerr.KindResolutionFormat, "re-run record to regenerate pins",
				"no pinned resolution block for conflicted file %s at step %d", path, n)
		}
		lines, tn, err := textfile.ReadLines(filepath.Join(staging.CloneDir, path))
		if err != nil {
			return forkerr.Wrap(forkerr.KindVCS, "", err, "reading conflicted file %s", path)
		}
		resolved, err := resolution.Apply(block.Conflicts, lines)
		if err != nil {
			return forkerr.Wrap(forkerr.KindResolutionFormat, "re-run record to regenerate pins", err,
				"applying pinned resolution to %s at step %d", path, n)
		}
		if err := textfile.WriteLines(filepath.Join(staging.CloneDir, path), resolved, tn); err != nil {
			return err
		}
		stagedPaths = append(stagedPaths, path)
	}

	if err := driver.AddPaths(staging.CloneDir, stagedPaths); err != nil {
		return err
	}
	if err := staging.WriteResolution(n, data); err != nil {
		return err
	}
	if err := driver.WriteMergeMsg(staging.CloneDir, message); err != nil {
		return err
	}
	return driver.MergeContinueNoEdit(staging.CloneDir, id)
}

func swap(staging, final pinstore.Paths) error {
	if err := os.RemoveAll(final.CloneDir); err != nil {
		return err
	}
	if err := os.RemoveAll(final.PinDir); err != nil {
		return err
	}
	if err := os.Rename(staging.CloneDir, final.CloneDir); err != nil {
		return err
	}
	return os.Rename(staging.PinDir, final.PinDir)
}
