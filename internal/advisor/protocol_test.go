package advisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStrategyLinesTolerant(t *testing.T) {
	body := "1   OURS\n2 theirs\nnot a line\n3 both_ot\n4 WEIRD\nfoo 9 BOTH_TO\n"
	got := ParseStrategyLines(body)
	require.Equal(t, StrategyOurs, got[1])
	require.Equal(t, StrategyTheirs, got[2])
	require.Equal(t, StrategyBothOursTheirs, got[3])
	// unrecognized strategy falls back to GENERATE
	require.Equal(t, StrategyGenerate, got[4])
	// line whose first token isn't an integer is ignored entirely
	_, ok := got[9]
	require.False(t, ok)
}

func TestParseGenerateBlocks(t *testing.T) {
	body := "=== RESOLUTION 0 ===\nfunc Foo() {\n\n\treturn 1\n}\n=== RESOLUTION 2 ===\n\nleading blank retained\n"
	got := ParseGenerateBlocks(body)
	require.Equal(t, "func Foo() {\n\n\treturn 1\n}", got[0])
	require.Equal(t, "\nleading blank retained", got[2])
}
