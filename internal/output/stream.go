// Package output multiplexes titled, colour-prefixed subprocess output
// onto a single writer so interleaved build/push/tag logs stay
// attributable to the operation that produced them.
//
// It translates original_source/tplbuild/output.py's OutputStreamer /
// OutputStream.
package output

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
)

// ansiColors is the 12-colour palette OutputStreamer cycles through:
// the 6 non-white/black ANSI foreground colours, normal and bold.
var ansiColors = func() []string {
	var colors []string
	for i := 31; i <= 36; i++ {
		colors = append(colors, fmt.Sprintf("[%dm", i))
	}
	for i := 31; i <= 36; i++ {
		colors = append(colors, fmt.Sprintf("[%d;1m", i))
	}
	return colors
}()

const ansiReset = "[0m"

// Streamer hands out titled Streams, assigning each a colour drawn
// without replacement from the palette until it is exhausted, then
// reshuffling, matching _reset_colors's random-without-replacement
// cycling.
type Streamer struct {
	Out      io.Writer
	UseColor bool
	Rand     *rand.Rand // nil uses a lazily-created default source
	Log      *logrus.Entry

	mu        sync.Mutex
	remaining []string
}

// New creates a Streamer writing to out.
func New(out io.Writer, useColor bool) *Streamer {
	return &Streamer{Out: out, UseColor: useColor}
}

func (s *Streamer) nextColor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remaining) == 0 {
		s.remaining = append([]string(nil), ansiColors...)
		if s.Rand == nil {
			s.Rand = rand.New(rand.NewSource(1))
		}
		s.Rand.Shuffle(len(s.remaining), func(i, j int) {
			s.remaining[i], s.remaining[j] = s.remaining[j], s.remaining[i]
		})
		if s.Log != nil {
			s.Log.Debug("reshuffled output colour palette")
		}
	}
	n := len(s.remaining) - 1
	c := s.remaining[n]
	s.remaining = s.remaining[:n]
	return c
}

// Start creates a new output Stream prefixed with title.
func (s *Streamer) Start(title string) *Stream {
	var prefix string
	if title != "" {
		if s.UseColor {
			prefix = s.nextColor() + title + ansiReset + ": "
		} else {
			prefix = title + ": "
		}
	}
	if s.Log != nil {
		s.Log.WithField("title", title).Debug("starting output stream")
	}
	return &Stream{out: s.Out, prefix: prefix}
}

// Stream writes prefixed lines on behalf of a single subprocess. All
// writers share the parent Streamer's underlying io.Writer, so Write
// locks to keep a line's prefix and body from interleaving with
// another Stream's output.
type Stream struct {
	out    io.Writer
	prefix string

	mu sync.Mutex
}

// Write writes one line of output, prefixed with the stream's title.
// A trailing newline is appended if line doesn't already end with one.
func (s *Stream) Write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteString(s.prefix)
	buf.Write(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		buf.WriteByte('\n')
	}
	_, err := s.out.Write(buf.Bytes())
	return err
}
