// Package resolution implements the counted-resolution format and its
// purely positional applier. The parser never inspects hunk content;
// it only counts lines, which is the invariant that makes replay
// immune to content drift within valid hunks.
package resolution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/forkyard/forkyard/internal/forkerr"
)

const (
	markerOurs   = "<<<<<<<"
	markerBase   = "|||||||"
	markerSep    = "======="
	markerTheirs = ">>>>>>>"
)

// ConflictRecord is one parsed or to-be-emitted CONFLICT entry: the
// diff3 line counts, the SHA-256 fingerprint, and the resolution text.
type ConflictRecord struct {
	Ours       int
	Base       int
	Theirs     int
	SHA        string
	Resolution []string
}

// FileBlock is one "--- <path>" section of a resolution file.
type FileBlock struct {
	Path      string
	Conflicts []ConflictRecord
}

// Hunk is one extracted conflict region's three buffers, content only
// (no markers).
type Hunk struct {
	Ours   []string
	Base   []string
	Theirs []string
}

// Fingerprint computes the SHA-256 fingerprint of a hunk's three
// sections: sha256(ours + boundary + base + boundary + theirs), where
// ours/base/theirs are their lines joined with "\n".
func Fingerprint(h Hunk) string {
	const boundary = "\n---BOUNDARY---\n"
	payload := strings.Join(h.Ours, "\n") + boundary + strings.Join(h.Base, "\n") + boundary + strings.Join(h.Theirs, "\n")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ExtractHunks partitions a conflicted file's lines into ordered
// ours/base/theirs buffers at the diff3 boundary markers. Edit/delete
// conflicts can produce zero-length buffers; that is valid and
// expected, not an error.
func ExtractHunks(lines []string) ([]Hunk, error) {
	var hunks []Hunk
	i := 0
	for i < len(lines) {
		if !strings.HasPrefix(lines[i], markerOurs) {
			i++
			continue
		}
		i++
		var h Hunk
		for i < len(lines) && !strings.HasPrefix(lines[i], markerBase) {
			h.Ours = append(h.Ours, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge",
				"hunk %d: missing ||||||| boundary", len(hunks))
		}
		i++ // skip |||||||
		for i < len(lines) && !strings.HasPrefix(lines[i], markerSep) {
			h.Base = append(h.Base, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge",
				"hunk %d: missing ======= boundary", len(hunks))
		}
		i++ // skip =======
		for i < len(lines) && !strings.HasPrefix(lines[i], markerTheirs) {
			h.Theirs = append(h.Theirs, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge",
				"hunk %d: missing >>>>>>> boundary", len(hunks))
		}
		i++ // skip >>>>>>>
		hunks = append(hunks, h)
	}
	return hunks, nil
}

// CountMarkers counts the number of conflict-opening markers in
// lines, used to cross-check against the number of CONFLICT records.
func CountMarkers(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, markerOurs) {
			n++
		}
	}
	return n
}

// The sha field may be absent or empty (a pin written before
// fingerprints were recorded); SHA is then "".
var headerPattern = regexp.MustCompile(`^CONFLICT ours=(\d+) base=(\d+) theirs=(\d+) resolution=(\d+)(?: sha=([0-9a-fA-F]{64})?)?$`)

// Parse splits raw resolution-file bytes into ordered FileBlocks: a
// concatenation of "--- <path>" sections, each containing one or more
// CONFLICT records.
func Parse(data []byte) ([]FileBlock, error) {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	var blocks []FileBlock
	i := 0
	for i < len(lines) {
		if !strings.HasPrefix(lines[i], "--- ") {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
				"expected --- <path> header, got %q", lines[i])
		}
		block := FileBlock{Path: strings.TrimPrefix(lines[i], "--- ")}
		i++
		for i < len(lines) && !strings.HasPrefix(lines[i], "--- ") {
			m := headerPattern.FindStringSubmatch(lines[i])
			if m == nil {
				return nil, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
					"expected CONFLICT header, got %q", lines[i])
			}
			i++
			rec := ConflictRecord{
				Ours:   atoi(m[1]),
				Base:   atoi(m[2]),
				Theirs: atoi(m[3]),
				SHA:    m[5],
			}
			n := atoi(m[4])
			for j := 0; j < n; j++ {
				if i >= len(lines) {
					return nil, forkerr.New(forkerr.KindResolutionFormat, "re-record the entry",
						"resolution body for %s runs off the end of the file", block.Path)
				}
				rec.Resolution = append(rec.Resolution, lines[i])
				i++
			}
			block.Conflicts = append(block.Conflicts, rec)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Emit serializes ordered FileBlocks back into the counted-resolution
// wire format.
func Emit(blocks []FileBlock) []byte {
	var b strings.Builder
	for _, block := range blocks {
		fmt.Fprintf(&b, "--- %s\n", block.Path)
		for _, c := range block.Conflicts {
			fmt.Fprintf(&b, "CONFLICT ours=%d base=%d theirs=%d resolution=%d sha=%s\n",
				c.Ours, c.Base, c.Theirs, len(c.Resolution), c.SHA)
			for _, l := range c.Resolution {
				b.WriteString(l)
				b.WriteByte('\n')
			}
		}
	}
	return []byte(b.String())
}

// Apply walks a conflicted file's lines and replaces each hunk with
// its recorded resolution, purely by line count: it never reads hunk
// content. Fails if the number of markers doesn't match len(records),
// or if a hunk runs past the end of the file.
func Apply(records []ConflictRecord, fileLines []string) ([]string, error) {
	if got := CountMarkers(fileLines); got != len(records) {
		return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge and re-record",
			"conflict marker count %d does not match resolution record count %d", got, len(records))
	}
	var out []string
	k := 0
	i := 0
	for i < len(fileLines) {
		line := fileLines[i]
		if !strings.HasPrefix(line, markerOurs) {
			out = append(out, line)
			i++
			continue
		}
		if k >= len(records) {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge and re-record",
				"more conflict markers than resolution records")
		}
		rec := records[k]
		skip := rec.Ours + 1 + rec.Base + 1 + rec.Theirs + 1
		i++ // past the <<<<<<< line itself
		if i+skip > len(fileLines) {
			return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge and re-record",
				"hunk %d runs off the end of the file", k)
		}
		i += skip
		out = append(out, rec.Resolution...)
		k++
	}
	if k != len(records) {
		return nil, forkerr.New(forkerr.KindResolutionFormat, "re-run the merge and re-record",
			"applied %d of %d resolution records", k, len(records))
	}
	return out, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
