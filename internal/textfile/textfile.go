// Package textfile reads and writes worktree files as line slices,
// preserving whether the original had a trailing newline so record and
// replay never introduce a spurious end-of-file byte into a resolved
// file.
package textfile

import (
	"os"
	"strings"
)

// ReadLines splits path's content on "\n". trailingNewline reports
// whether the file ended with one, so WriteLines can reproduce it.
func ReadLines(path string) (lines []string, trailingNewline bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	s := string(data)
	if s == "" {
		return nil, false, nil
	}
	if strings.HasSuffix(s, "\n") {
		return strings.Split(strings.TrimSuffix(s, "\n"), "\n"), true, nil
	}
	return strings.Split(s, "\n"), false, nil
}

// WriteLines joins lines with "\n" and writes path, appending a
// trailing newline iff trailingNewline is set.
func WriteLines(path string, lines []string, trailingNewline bool) error {
	joined := strings.Join(lines, "\n")
	if trailingNewline {
		joined += "\n"
	}
	return os.WriteFile(path, []byte(joined), 0o644)
}
