// Package localpatch applies the local-patch layer: unified diffs
// saved by save, replayed in lexicographic filename order as one
// deterministic commit each. Both the record and replay engines call
// ApplyAll against different source directories (a preserved temp
// copy during record, the live pin directory during replay) but
// identical commit semantics.
package localpatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/pinstore"
)

// ApplyAll reads every local-*.patch file from sourceDir, in
// lexicographic order, copies it into staging's pin directory, applies
// it to staging's clone, and commits it under the deterministic
// identity T = mergeCount + 2 + i.
func ApplyAll(driver *gitproc.Driver, staging pinstore.Paths, sourceDir string, mergeCount int) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "local-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(sourceDir, name))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(staging.PinDir, 0o755); err != nil {
			return err
		}
		dst := filepath.Join(staging.PinDir, name)
		if dst != filepath.Join(sourceDir, name) {
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return err
			}
		}
		if err := driver.ApplyPatch(staging.CloneDir, dst); err != nil {
			return forkerr.Wrap(forkerr.KindLocalPatch,
				fmt.Sprintf("staging preserved at %s; fix %s and retry", staging.CloneDir, name), err,
				"applying local patch %s", name)
		}
		id := gitproc.NewIdentity(int64(mergeCount + 2 + i))
		if err := driver.Commit(staging.CloneDir, "local: "+Desc(name), id); err != nil {
			return forkerr.Wrap(forkerr.KindLocalPatch,
				fmt.Sprintf("staging preserved at %s", staging.CloneDir), err,
				"committing local patch %s", name)
		}
	}
	return nil
}

// Desc extracts the sanitized description from a local-NNN-<desc>.patch
// filename.
func Desc(name string) string {
	trimmed := strings.TrimSuffix(name, ".patch")
	parts := strings.SplitN(trimmed, "-", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return trimmed
}
