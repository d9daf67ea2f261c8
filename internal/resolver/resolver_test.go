package resolver

import (
	"context"
	"testing"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/resolution"
	"github.com/stretchr/testify/require"
)

// fakeAdvisor counts calls so tests can assert the oracle was (or was
// not) contacted.
type fakeAdvisor struct {
	classifyCalls int
	generateCalls int
	classifyFn    func([]advisor.ConflictInput) []advisor.ClassifyResult
	generateFn    func([]advisor.ConflictInput) []advisor.GenerateResult
}

func (f *fakeAdvisor) Classify(_ context.Context, batch []advisor.ConflictInput) ([]advisor.ClassifyResult, error) {
	f.classifyCalls++
	return f.classifyFn(batch), nil
}

func (f *fakeAdvisor) Generate(_ context.Context, batch []advisor.ConflictInput) ([]advisor.GenerateResult, error) {
	f.generateCalls++
	return f.generateFn(batch), nil
}

func tier0OnlyFile() []string {
	// a single hunk where theirs == base: tier 0 resolves to ours.
	return []string{
		"<<<<<<< ours",
		"ours line",
		"||||||| base",
		"base line",
		"=======",
		"base line",
		">>>>>>> theirs",
	}
}

func TestTier0ResolvesWithoutAdvisor(t *testing.T) {
	fa := &fakeAdvisor{
		classifyFn: func(b []advisor.ConflictInput) []advisor.ClassifyResult { return nil },
		generateFn: func(b []advisor.ConflictInput) []advisor.GenerateResult { return nil },
	}
	out, err := ResolveFiles(context.Background(), fa, []FileInput{
		{Path: "a.txt", Lines: tier0OnlyFile()},
	})
	require.NoError(t, err)
	require.Equal(t, 0, fa.classifyCalls)
	require.Equal(t, 0, fa.generateCalls)
	require.Len(t, out, 1)
	require.Equal(t, []string{"ours line"}, out[0].ResolvedLines)
	require.Len(t, out[0].Block.Conflicts, 1)
}

func mixedTierFile() []string {
	return []string{
		"<<<<<<< ours",
		"ours A",
		"||||||| base",
		"base A",
		"=======",
		"theirs A",
		">>>>>>> theirs",
		"middle",
		"<<<<<<< ours",
		"ours B",
		"||||||| base",
		"base B",
		"=======",
		"theirs B",
		">>>>>>> theirs",
	}
}

func TestMixedTiersCallsAdvisorOnlyForGenerateHunk(t *testing.T) {
	fa := &fakeAdvisor{
		classifyFn: func(batch []advisor.ConflictInput) []advisor.ClassifyResult {
			// hunk A: classify to OURS; hunk B: classify to GENERATE
			var out []advisor.ClassifyResult
			for _, item := range batch {
				if item.Ours == "ours A" {
					out = append(out, advisor.ClassifyResult{Index: item.Index, Strategy: advisor.StrategyOurs})
				} else {
					out = append(out, advisor.ClassifyResult{Index: item.Index, Strategy: advisor.StrategyGenerate})
				}
			}
			return out
		},
		generateFn: func(batch []advisor.ConflictInput) []advisor.GenerateResult {
			require.Len(t, batch, 1)
			return []advisor.GenerateResult{{Index: batch[0].Index, Text: "merged B"}}
		},
	}
	out, err := ResolveFiles(context.Background(), fa, []FileInput{
		{Path: "a.txt", Lines: mixedTierFile()},
	})
	require.NoError(t, err)
	require.Equal(t, 1, fa.classifyCalls)
	require.Equal(t, 1, fa.generateCalls)
	require.Equal(t, []string{"ours A", "middle", "merged B"}, out[0].ResolvedLines)
}

func TestReuseByFingerprintSkipsAdvisorEntirely(t *testing.T) {
	fa := &fakeAdvisor{
		classifyFn: func(b []advisor.ConflictInput) []advisor.ClassifyResult {
			t.Fatalf("advisor classify should not be called when reuse applies")
			return nil
		},
		generateFn: func(b []advisor.ConflictInput) []advisor.GenerateResult {
			t.Fatalf("advisor generate should not be called when reuse applies")
			return nil
		},
	}
	lines := mixedTierFile()
	hunks, err := resolution.ExtractHunks(lines)
	require.NoError(t, err)

	prior := &resolution.FileBlock{
		Path: "a.txt",
		Conflicts: []resolution.ConflictRecord{
			{Ours: 1, Base: 1, Theirs: 1, SHA: resolution.Fingerprint(hunks[0]), Resolution: []string{"ours A"}},
			{Ours: 1, Base: 1, Theirs: 1, SHA: resolution.Fingerprint(hunks[1]), Resolution: []string{"merged B"}},
		},
	}
	out, err := ResolveFiles(context.Background(), fa, []FileInput{
		{Path: "a.txt", Lines: lines, Prior: prior},
	})
	require.NoError(t, err)
	require.Equal(t, 0, fa.classifyCalls)
	require.Equal(t, 0, fa.generateCalls)
	require.Equal(t, []string{"ours A", "middle", "merged B"}, out[0].ResolvedLines)
}

func TestBootstrapReuseByCountWithoutFingerprint(t *testing.T) {
	lines := tier0OnlyFile()
	_ = lines
	file := []string{
		"<<<<<<< ours",
		"ours changed",
		"||||||| base",
		"base",
		"=======",
		"theirs changed",
		">>>>>>> theirs",
	}
	prior := &resolution.FileBlock{
		Path: "b.txt",
		Conflicts: []resolution.ConflictRecord{
			{Ours: 1, Base: 1, Theirs: 1, SHA: "", Resolution: []string{"legacy pick"}},
		},
	}
	fa := &fakeAdvisor{
		classifyFn: func(b []advisor.ConflictInput) []advisor.ClassifyResult { return nil },
		generateFn: func(b []advisor.ConflictInput) []advisor.GenerateResult { return nil },
	}
	out, err := ResolveFiles(context.Background(), fa, []FileInput{{Path: "b.txt", Lines: file, Prior: prior}})
	require.NoError(t, err)
	require.Equal(t, 0, fa.classifyCalls)
	require.Equal(t, []string{"legacy pick"}, out[0].ResolvedLines)
}
