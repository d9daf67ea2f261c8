// Package resolver implements the tiered, record-time-only conflict
// resolution pipeline: deterministic Tier 0, fingerprint reuse against
// a prior run, Tier 1 strategy classification, and Tier 2 generation,
// batched one advisor request per tier per conflicted file.
//
// Resolution across files within a single merge step is parallel;
// hunks within one file are resolved sequentially.
package resolver

import (
	"context"
	"strings"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/resolution"
	"golang.org/x/sync/errgroup"
)

// FileInput is one conflicted file handed to the resolver: its
// repo-relative path, its raw diff3-marked content, and (if a prior
// record exists for the same path) that prior run's resolution block,
// used for reuse.
type FileInput struct {
	Path  string
	Lines []string
	Prior *resolution.FileBlock
}

// FileOutput is the resolver's result for one file: the fully
// resolved content plus the sidecar to persist as part of
// res-N.resolution.
type FileOutput struct {
	Path          string
	ResolvedLines []string
	Block         resolution.FileBlock
}

// ResolveFiles resolves every conflicted file of one merge step in
// parallel. Any single file's failure fails the whole call: in-flight
// siblings run to completion but their results are discarded, which
// is exactly what errgroup gives.
func ResolveFiles(ctx context.Context, client advisor.Client, files []FileInput) ([]FileOutput, error) {
	outputs := make([]FileOutput, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			out, err := resolveFile(gctx, client, f)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func resolveFile(ctx context.Context, client advisor.Client, f FileInput) (FileOutput, error) {
	hunks, err := resolution.ExtractHunks(f.Lines)
	if err != nil {
		return FileOutput{}, forkerr.Wrap(forkerr.KindResolutionFormat, "re-run the merge", err,
			"extracting hunks from %s", f.Path)
	}

	records := make([]resolution.ConflictRecord, len(hunks))
	resolved := make([]bool, len(hunks))

	setRecord := func(i int, lines []string) {
		h := hunks[i]
		records[i] = resolution.ConflictRecord{
			Ours:       len(h.Ours),
			Base:       len(h.Base),
			Theirs:     len(h.Theirs),
			SHA:        resolution.Fingerprint(h),
			Resolution: lines,
		}
		resolved[i] = true
	}

	tier0(hunks, resolved, setRecord)
	reuse(hunks, f.Prior, resolved, setRecord)

	if err := tier1(ctx, client, f.Path, hunks, resolved, setRecord); err != nil {
		return FileOutput{}, err
	}
	if err := tier2(ctx, client, f.Path, hunks, resolved, setRecord); err != nil {
		return FileOutput{}, err
	}

	for i := range hunks {
		if !resolved[i] {
			return FileOutput{}, forkerr.New(forkerr.KindResolutionFormat, "re-run record",
				"hunk %d in %s has no resolution after all tiers", i, f.Path)
		}
	}

	block := resolution.FileBlock{Path: f.Path, Conflicts: records}
	resolvedLines, err := resolution.Apply(records, f.Lines)
	if err != nil {
		return FileOutput{}, forkerr.Wrap(forkerr.KindResolutionFormat, "re-run record", err,
			"reconstructing resolved content for %s", f.Path)
	}
	return FileOutput{Path: f.Path, ResolvedLines: resolvedLines, Block: block}, nil
}

// tier0 resolves every hunk whose two changed sides agree, or where
// one side is unchanged from base, with no advisor involvement at all.
func tier0(hunks []resolution.Hunk, resolved []bool, set func(int, []string)) {
	for i, h := range hunks {
		switch {
		case equalLines(h.Ours, h.Base):
			set(i, h.Theirs)
		case equalLines(h.Theirs, h.Base):
			set(i, h.Ours)
		case equalLines(h.Ours, h.Theirs):
			set(i, h.Ours)
		}
	}
}

// reuse copies a prior run's resolution for hunks Tier 0 left
// unresolved, when the prior record at the same position either
// fingerprint-matches or (lacking a recorded fingerprint, a bootstrap
// pin) has matching line counts.
func reuse(hunks []resolution.Hunk, prior *resolution.FileBlock, resolved []bool, set func(int, []string)) {
	if prior == nil {
		return
	}
	for i, h := range hunks {
		if resolved[i] || i >= len(prior.Conflicts) {
			continue
		}
		pc := prior.Conflicts[i]
		var match bool
		if pc.SHA != "" {
			match = pc.SHA == resolution.Fingerprint(h)
		} else {
			match = pc.Ours == len(h.Ours) && pc.Base == len(h.Base) && pc.Theirs == len(h.Theirs)
		}
		if match {
			set(i, append([]string(nil), pc.Resolution...))
		}
	}
}

func toInput(i int, h resolution.Hunk) advisor.ConflictInput {
	return advisor.ConflictInput{
		Index:  i,
		Ours:   strings.Join(h.Ours, "\n"),
		Base:   strings.Join(h.Base, "\n"),
		Theirs: strings.Join(h.Theirs, "\n"),
	}
}

// tier1 batches every still-unresolved hunk into one classify call and
// applies the returned strategy, deferring GENERATE (and any
// unrecognized strategy, which maps to GENERATE) to Tier 2.
func tier1(ctx context.Context, client advisor.Client, path string, hunks []resolution.Hunk, resolved []bool, set func(int, []string)) error {
	var batch []advisor.ConflictInput
	for i := range hunks {
		if !resolved[i] {
			batch = append(batch, toInput(i, hunks[i]))
		}
	}
	if len(batch) == 0 {
		return nil
	}
	results, err := client.Classify(ctx, batch)
	if err != nil {
		return forkerr.Wrap(forkerr.KindAdvisor, "check the advisor endpoint and retry record", err,
			"classify batch for %s", path)
	}
	for _, r := range results {
		h := hunks[r.Index]
		switch r.Strategy {
		case advisor.StrategyOurs:
			set(r.Index, h.Ours)
		case advisor.StrategyTheirs:
			set(r.Index, h.Theirs)
		case advisor.StrategyBothOursTheirs:
			set(r.Index, concat(h.Ours, h.Theirs))
		case advisor.StrategyBothTheirsOurs:
			set(r.Index, concat(h.Theirs, h.Ours))
		case advisor.StrategyGenerate:
			// left unresolved for Tier 2
		}
	}
	return nil
}

// tier2 batches every hunk still unresolved after Tier 1 into one
// generate call.
func tier2(ctx context.Context, client advisor.Client, path string, hunks []resolution.Hunk, resolved []bool, set func(int, []string)) error {
	var batch []advisor.ConflictInput
	for i := range hunks {
		if !resolved[i] {
			batch = append(batch, toInput(i, hunks[i]))
		}
	}
	if len(batch) == 0 {
		return nil
	}
	results, err := client.Generate(ctx, batch)
	if err != nil {
		return forkerr.Wrap(forkerr.KindAdvisor, "check the advisor endpoint and retry record", err,
			"generate batch for %s", path)
	}
	for _, r := range results {
		set(r.Index, splitLines(r.Text))
	}
	return nil
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
