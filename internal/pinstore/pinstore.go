// Package pinstore reads and writes the four pin artifacts: HEAD,
// manifest, res-N.resolution, and local-NNN-*.patch. Every path is
// computed from an explicit Paths value rather than a package-level
// global, so the record and replay engines can point a single
// invocation at a staging directory without any shared mutable state,
// a discipline required of concurrent subprocesses.
package pinstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/forkyard/forkyard/internal/forkerr"
)

// Paths locates the pin directory and clone directory for one entry,
// honoring a caller-supplied staging override.
type Paths struct {
	PinDir   string
	CloneDir string
}

// Real returns the on-disk Paths for an entry under the given pins and
// clones roots.
func Real(pinsRoot, clonesRoot, name string) Paths {
	return Paths{
		PinDir:   filepath.Join(pinsRoot, name),
		CloneDir: filepath.Join(clonesRoot, name),
	}
}

func (p Paths) headPath() string       { return filepath.Join(p.PinDir, "HEAD") }
func (p Paths) manifestPath() string   { return filepath.Join(p.PinDir, "manifest") }
func (p Paths) resolutionPath(k int) string {
	return filepath.Join(p.PinDir, fmt.Sprintf("res-%d.resolution", k))
}

// Manifest is the parsed manifest file: a base line followed by
// ordered merge steps.
type Manifest struct {
	BaseSHA       string
	DefaultBranch string
	Steps         []ManifestStep
}

type ManifestStep struct {
	SHA string
	Ref string
}

// ReadHEAD returns the pinned HEAD sha. Unlike every other pinstore
// read, a missing HEAD file is an error.
func (p Paths) ReadHEAD() (string, error) {
	data, err := os.ReadFile(p.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", forkerr.New(forkerr.KindStateMissing, "run record to create pins",
				"no HEAD pin at %s", p.headPath())
		}
		return "", forkerr.Wrap(forkerr.KindStateMissing, "check pin directory permissions", err,
			"reading HEAD pin")
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteHEAD writes the 40-hex HEAD pin.
func (p Paths) WriteHEAD(sha string) error {
	if err := os.MkdirAll(p.PinDir, 0o755); err != nil {
		return forkerr.Wrap(forkerr.KindStateMissing, "", err, "creating pin dir")
	}
	return os.WriteFile(p.headPath(), []byte(sha+"\n"), 0o644)
}

// ReadManifest parses the manifest file. ok is false if the file does
// not exist (a distinguishable absent result, not an error).
func (p Paths) ReadManifest() (m *Manifest, ok bool, err error) {
	data, rerr := os.ReadFile(p.manifestPath())
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, forkerr.Wrap(forkerr.KindStateMissing, "", rerr, "reading manifest")
	}
	lines := splitNonEmptyLines(string(data))
	if len(lines) == 0 {
		return nil, false, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
			"manifest %s is empty", p.manifestPath())
	}
	baseCols := strings.SplitN(lines[0], "\t", 2)
	if len(baseCols) != 2 {
		return nil, false, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
			"manifest base line malformed: %q", lines[0])
	}
	m = &Manifest{BaseSHA: baseCols[0], DefaultBranch: baseCols[1]}
	for _, line := range lines[1:] {
		cols := strings.SplitN(line, "\t", 2)
		if len(cols) != 2 {
			return nil, false, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
				"manifest step line malformed: %q", line)
		}
		m.Steps = append(m.Steps, ManifestStep{SHA: cols[0], Ref: cols[1]})
	}
	return m, true, nil
}

// WriteManifest serializes m as tab-separated lines: base first, then
// one line per merge step, in order.
func (p Paths) WriteManifest(m *Manifest) error {
	if err := os.MkdirAll(p.PinDir, 0o755); err != nil {
		return forkerr.Wrap(forkerr.KindStateMissing, "", err, "creating pin dir")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\n", m.BaseSHA, m.DefaultBranch)
	for _, s := range m.Steps {
		fmt.Fprintf(&b, "%s\t%s\n", s.SHA, s.Ref)
	}
	return os.WriteFile(p.manifestPath(), []byte(b.String()), 0o644)
}

// MergeCount returns lines(manifest) - 1, the number of merge steps,
// or 0 if no manifest exists.
func (p Paths) MergeCount() (int, error) {
	m, ok, err := p.ReadManifest()
	if err != nil || !ok {
		return 0, err
	}
	return len(m.Steps), nil
}

// ReadResolution returns the raw bytes of res-K.resolution. ok is
// false if the file does not exist.
func (p Paths) ReadResolution(k int) (data []byte, ok bool, err error) {
	data, rerr := os.ReadFile(p.resolutionPath(k))
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, forkerr.Wrap(forkerr.KindStateMissing, "", rerr, "reading resolution %d", k)
	}
	return data, true, nil
}

// WriteResolution writes the concatenated per-file resolution blocks
// for merge step k.
func (p Paths) WriteResolution(k int, data []byte) error {
	if err := os.MkdirAll(p.PinDir, 0o755); err != nil {
		return forkerr.Wrap(forkerr.KindStateMissing, "", err, "creating pin dir")
	}
	return os.WriteFile(p.resolutionPath(k), data, 0o644)
}

var localPatchPattern = regexp.MustCompile(`^local-(\d{3})-[A-Za-z0-9_-]+\.patch$`)

// ListLocalPatches returns the local-NNN-*.patch filenames, in
// lexicographic order (equivalently, NNN order, since NNN is
// zero-padded).
func (p Paths) ListLocalPatches() ([]string, error) {
	entries, err := os.ReadDir(p.PinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, forkerr.Wrap(forkerr.KindStateMissing, "", err, "listing local patches")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if localPatchPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// NextLocalPatchNumber returns the zero-padded number the next saved
// local patch should use: existing-count + 1.
func (p Paths) NextLocalPatchNumber() (string, error) {
	existing, err := p.ListLocalPatches()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d", len(existing)+1), nil
}

func splitNonEmptyLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// SanitizeDesc reduces a local-patch description to [A-Za-z0-9_-]+,
// collapsing runs of disallowed characters, falling back to "local" if
// nothing survives.
func SanitizeDesc(desc string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range desc {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
			lastWasSep = false
		} else if !lastWasSep && b.Len() > 0 {
			b.WriteByte('-')
			lastWasSep = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "local"
	}
	return out
}
