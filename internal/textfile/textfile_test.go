package textfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLinesTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, WriteLines(path, []string{"one", "two", "three"}, true))

	lines, trailing, err := ReadLines(path)
	require.NoError(t, err)
	require.True(t, trailing)
	require.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestReadLinesNoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, WriteLines(path, []string{"one", "two"}, false))

	lines, trailing, err := ReadLines(path)
	require.NoError(t, err)
	require.False(t, trailing)
	require.Equal(t, []string{"one", "two"}, lines)
}

func TestReadLinesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, WriteLines(path, nil, false))

	lines, trailing, err := ReadLines(path)
	require.NoError(t, err)
	require.False(t, trailing)
	require.Nil(t, lines)
}

func TestRoundTripPreservesTrailingBit(t *testing.T) {
	for _, trailing := range []bool{true, false} {
		path := filepath.Join(t.TempDir(), "rt.txt")
		original := []string{"alpha", "beta", "gamma"}
		require.NoError(t, WriteLines(path, original, trailing))

		lines, gotTrailing, err := ReadLines(path)
		require.NoError(t, err)
		require.Equal(t, trailing, gotTrailing)
		require.Equal(t, original, lines)
	}
}
