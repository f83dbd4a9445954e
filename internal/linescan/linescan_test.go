package linescan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagRoundTrip(t *testing.T) {
	rest, flags := ExtractFlags(" --foo=bar --foo=baz hello")
	require.Equal(t, "hello", rest)
	v, ok := flags.Get("foo")
	require.True(t, ok)
	require.Equal(t, "baz", v)
	require.Equal(t, "--foo=baz hello", FormatFlags(rest, flags))
}

func TestReadLinesCommentInterruptsContinuation(t *testing.T) {
	lines := ReadLines("hi \\\n # comment\nthere")
	require.Len(t, lines, 1)
	require.Equal(t, 2, lines[0].Index)
	require.Equal(t, "hi there", lines[0].Content)
}

func TestReadLinesTrailingComment(t *testing.T) {
	lines := ReadLines("hi\nthere\\\n# comment")
	require.Len(t, lines, 2)
	require.Equal(t, 0, lines[0].Index)
	require.Equal(t, "hi", lines[0].Content)
	require.Equal(t, 2, lines[1].Index)
	require.Equal(t, "there", lines[1].Content)
}
