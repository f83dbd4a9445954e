package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamWritePrefixesEachLine(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false)
	stream := s.Start("build:app")

	require.NoError(t, stream.Write([]byte("layer 1/3")))
	require.NoError(t, stream.Write([]byte("layer 2/3\n")))

	require.Equal(t, "build:app: layer 1/3\nbuild:app: layer 2/3\n", buf.String())
}

func TestStreamWithoutTitleHasNoPrefix(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false)
	stream := s.Start("")
	require.NoError(t, stream.Write([]byte("hi")))
	require.Equal(t, "hi\n", buf.String())
}

func TestStreamerColorCyclesWithoutRepeatUntilExhausted(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, true)

	seen := map[string]bool{}
	for i := 0; i < len(ansiColors); i++ {
		stream := s.Start("t")
		require.NoError(t, stream.Write([]byte("x")))
		line := buf.String()
		buf.Reset()

		start := strings.Index(line, "\x1b[")
		end := strings.Index(line, "t")
		require.True(t, start >= 0 && end > start)
		color := line[start:end]
		require.False(t, seen[color], "color reused before palette exhausted")
		seen[color] = true
	}
	require.Len(t, seen, len(ansiColors))
}
