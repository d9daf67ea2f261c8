// Package record implements the record engine: stage a fresh clone,
// merge every configured ref by resolved SHA, resolve any conflicts
// through the tiered resolver, run the post-merge hook, replay local
// patches, then atomically swap the result into place.
package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/localpatch"
	"github.com/forkyard/forkyard/internal/pinstore"
	"github.com/forkyard/forkyard/internal/posthook"
	"github.com/forkyard/forkyard/internal/refparse"
	"github.com/forkyard/forkyard/internal/resolution"
	"github.com/forkyard/forkyard/internal/resolver"
	"github.com/forkyard/forkyard/internal/status"
	"github.com/forkyard/forkyard/internal/textfile"
	"github.com/forkyard/forkyard/internal/traceerr"
)

// Options parameterizes one record invocation.
type Options struct {
	PinsRoot     string
	ClonesRoot   string
	RefsOverride []string
	DryRun       bool
}

// Result reports what a successful record produced.
type Result struct {
	HeadSHA    string
	MergeCount int
	DryRunPlan []string
}

// Run executes the record engine for one entry.
func Run(ctx context.Context, driver *gitproc.Driver, client advisor.Client, hook posthook.Hook, entry *config.Entry, opts Options) (*Result, error) {
	paths := pinstore.Real(opts.PinsRoot, opts.ClonesRoot, entry.Name)

	existingPatches, err := paths.ListLocalPatches()
	if err != nil {
		return nil, err
	}
	st, err := status.Check(driver, paths, entry.ReferenceOnly(), len(existingPatches) > 0)
	if err != nil {
		return nil, err
	}
	if !st.Clean {
		return nil, forkerr.New(forkerr.KindGuardFailed,
			"push or checkout wip, or restore the pinned HEAD, then retry record",
			"entry %q is not safe to record: %s", entry.Name, st.Reason)
	}

	refs := opts.RefsOverride
	if len(refs) == 0 {
		refs = entry.Refs
	}

	if opts.DryRun {
		return &Result{DryRunPlan: append([]string{"<base>"}, refs...)}, nil
	}

	if err := os.MkdirAll(opts.ClonesRoot, 0o755); err != nil {
		return nil, traceerr.Wrap(err, "creating clones root")
	}
	if err := os.MkdirAll(opts.PinsRoot, 0o755); err != nil {
		return nil, traceerr.Wrap(err, "creating pins root")
	}

	preserveDir, err := os.MkdirTemp("", "forkyard-preserve-"+entry.Name+"-")
	if err != nil {
		return nil, traceerr.Wrap(err, "creating preserve dir for %s", entry.Name)
	}
	if err := preserveExisting(paths, preserveDir); err != nil {
		return nil, traceerr.Wrap(err, "preserving prior pins for %s", entry.Name)
	}

	stagingName := ".work-" + entry.Name + "." + uuid.New().String()
	staging := pinstore.Paths{
		PinDir:   filepath.Join(opts.PinsRoot, stagingName),
		CloneDir: filepath.Join(opts.ClonesRoot, stagingName),
	}

	keepStaging := false
	cleanupStaging := true
	defer func() {
		if cleanupStaging {
			os.RemoveAll(staging.CloneDir)
			os.RemoveAll(staging.PinDir)
		}
	}()
	fail := func(err error) (*Result, error) {
		if keepStaging {
			cleanupStaging = false
			return nil, err
		}
		return nil, fmt.Errorf("FAILED — previous state is intact: %w", err)
	}

	logrus.WithField("entry", entry.Name).Info("record: cloning upstream into staging")
	if err := driver.Clone(entry.Upstream, staging.CloneDir, "blob:none"); err != nil {
		return fail(traceerr.Wrap(err, "cloning %s", entry.Upstream))
	}
	if err := driver.SetOption(staging.CloneDir, "merge.conflictStyle", "diff3"); err != nil {
		return fail(err)
	}
	if err := driver.SetOption(staging.CloneDir, "core.abbrev", "40"); err != nil {
		return fail(err)
	}

	defaultBranch, err := driver.CurrentBranch(staging.CloneDir)
	if err != nil {
		return fail(err)
	}
	baseSHA, err := driver.RevParse(staging.CloneDir, "HEAD")
	if err != nil {
		return fail(err)
	}
	if err := driver.CreateBranch(staging.CloneDir, "wip"); err != nil {
		return fail(err)
	}

	manifest := &pinstore.Manifest{BaseSHA: baseSHA, DefaultBranch: defaultBranch}

	for idx, ref := range refs {
		step := idx + 1
		id := gitproc.NewIdentity(int64(step))

		sha, err := fetchRef(driver, staging.CloneDir, ref)
		if err != nil {
			return fail(traceerr.Wrap(err, "fetching ref %s", ref))
		}
		manifest.Steps = append(manifest.Steps, pinstore.ManifestStep{SHA: sha, Ref: ref})

		message := fmt.Sprintf("Merge %s into wip", ref)
		outcome, err := driver.MergeNoFF(staging.CloneDir, id, sha, message)
		if err != nil {
			return fail(traceerr.Wrap(err, "merging %s", ref))
		}
		if outcome == gitproc.MergeOk {
			continue
		}
		if err := resolveConflictedStep(ctx, driver, client, staging, preserveDir, step, id, message); err != nil {
			return fail(err)
		}
	}

	if err := staging.WriteManifest(manifest); err != nil {
		return fail(err)
	}

	if err := posthook.Invoke(ctx, driver, hook, staging.CloneDir, len(manifest.Steps)); err != nil {
		return fail(traceerr.Wrap(err, "running post-merge hook for %s", entry.Name))
	}

	keepStaging = true
	if err := localpatch.ApplyAll(driver, staging, preserveDir, len(manifest.Steps)); err != nil {
		return fail(err)
	}
	keepStaging = false

	headSHA, err := driver.RevParse(staging.CloneDir, "HEAD")
	if err != nil {
		return fail(err)
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
	os.RemoveAll(preserveDir)

	return &Result{HeadSHA: headSHA, MergeCount: len(manifest.Steps)}, nil
}

// fetchRef dispatches ref by refparse.Classify and resolves it to a
// full SHA. Merging by SHA keeps diff3 marker lines identical between
// record and replay.
func fetchRef(d *gitproc.Driver, repo, ref string) (string, error) {
	switch refparse.Classify(ref) {
	case refparse.KindHash:
		if err := d.FetchSHA(repo, ref, 0); err != nil {
			return "", err
		}
		return d.RevParse(repo, "FETCH_HEAD")
	case refparse.KindPullRequest:
		n, err := strconv.Atoi(ref)
		if err != nil {
			return "", forkerr.New(forkerr.KindVCS, "", "ref %q classified as a pull request but is not an integer", ref)
		}
		if err := d.FetchPR(repo, n); err != nil {
			return "", err
		}
		return d.RevParse(repo, "pr-"+strconv.Itoa(n))
	default:
		if err := d.FetchBranch(repo, ref); err != nil {
			return "", err
		}
		return d.RevParse(repo, "FETCH_HEAD")
	}
}

// resolveConflictedStep runs the tiered resolver over every unmerged
// path of one conflicted merge, stages the results, writes the
// resolution sidecar, and finishes the merge.
func resolveConflictedStep(ctx context.Context, driver *gitproc.Driver, client advisor.Client, staging pinstore.Paths, preserveDir string, step int, id gitproc.Identity, message string) error {
	unmerged, err := driver.ListUnmerged(staging.CloneDir)
	if err != nil {
		return err
	}
	prior := loadPriorBlocks(preserveDir, step)

	inputs := make([]resolver.FileInput, len(unmerged))
	trailing := make([]bool, len(unmerged))
	for i, path := range unmerged {
		lines, tn, err := textfile.ReadLines(filepath.Join(staging.CloneDir, path))
		if err != nil {
			return forkerr.Wrap(forkerr.KindVCS, "", err, "reading conflicted file %s", path)
		}
		inputs[i] = resolver.FileInput{Path: path, Lines: lines, Prior: prior[path]}
		trailing[i] = tn
	}

	outputs, err := resolver.ResolveFiles(ctx, client, inputs)
	if err != nil {
		return err
	}

	var blocks []resolution.FileBlock
	var stagedPaths []string
	for i, out := range outputs {
		if len(out.ResolvedLines) == 0 || containsConflictMarker(out.ResolvedLines) {
			return forkerr.New(forkerr.KindResolutionFormat, "inspect the resolver output and re-run record",
				"resolved file %s is empty or still contains conflict markers", out.Path)
		}
		if err := textfile.WriteLines(filepath.Join(staging.CloneDir, out.Path), out.ResolvedLines, trailing[i]); err != nil {
			return err
		}
		blocks = append(blocks, out.Block)
		stagedPaths = append(stagedPaths, out.Path)
	}

	if err := driver.AddPaths(staging.CloneDir, stagedPaths); err != nil {
		return err
	}
	if err := staging.WriteResolution(step, resolution.Emit(blocks)); err != nil {
		return err
	}
	if err := driver.WriteMergeMsg(staging.CloneDir, message); err != nil {
		return err
	}
	return driver.MergeContinueNoEdit(staging.CloneDir, id)
}

func loadPriorBlocks(preserveDir string, step int) map[string]*resolution.FileBlock {
	data, err := os.ReadFile(filepath.Join(preserveDir, fmt.Sprintf("res-%d.resolution", step)))
	if err != nil {
		return nil
	}
	blocks, err := resolution.Parse(data)
	if err != nil {
		return nil
	}
	out := make(map[string]*resolution.FileBlock, len(blocks))
	for i := range blocks {
		out[blocks[i].Path] = &blocks[i]
	}
	return out
}

func containsConflictMarker(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "<<<<<<<") {
			return true
		}
	}
	return false
}

// preserveExisting copies an entry's existing res-*.resolution and
// local-*.patch files into dir before staging overwrites the pin
// directory.
func preserveExisting(paths pinstore.Paths, dir string) error {
	entries, err := os.ReadDir(paths.PinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "res-") && !strings.HasPrefix(name, "local-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(paths.PinDir, name))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// swap removes the prior final clone and pin directories and renames
// staging into their place.
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
