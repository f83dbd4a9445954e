// Package linescan implements the small line-oriented parsing helpers
// that inform the graph: flag extraction/formatting for command
// arguments (e.g. COPY's "--from=") and continuation-line joining for
// the expanded build document.
package linescan

import (
	"strings"
)

// Flags is an insertion-ordered string-to-string map: iteration order
// (Keys) matches first-occurrence order of each flag name, per §8
// scenario 5's "ordering by insertion is preserved".
type Flags struct {
	keys   []string
	values map[string]string
}

func NewFlags() *Flags {
	return &Flags{values: map[string]string{}}
}

func (f *Flags) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

func (f *Flags) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *Flags) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f *Flags) Len() int {
	return len(f.keys)
}

// ExtractFlags scans line for "--name=value" tokens (space-separated),
// removing them from the line and recording them in a Flags map where a
// repeated flag name keeps only its last value but its first position in
// iteration order. Non-flag tokens are left in the returned rest string,
// joined by single spaces and trimmed.
func ExtractFlags(line string) (rest string, flags *Flags) {
	flags = NewFlags()
	fields := strings.Fields(line)
	var kept []string
	for _, tok := range fields {
		if strings.HasPrefix(tok, "--") {
			if name, value, ok := strings.Cut(tok[2:], "="); ok {
				flags.Set(name, value)
				continue
			}
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " "), flags
}

// FormatFlags renders flags back into "--name=value" tokens (in
// insertion order) followed by rest, inverse of ExtractFlags.
func FormatFlags(rest string, flags *Flags) string {
	var parts []string
	for _, k := range flags.Keys() {
		v, _ := flags.Get(k)
		parts = append(parts, "--"+k+"="+v)
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, " ")
}

// LogicalLine is one joined, comment-stripped logical line from the
// build document along with the index of the last physical line it
// consumed.
type LogicalLine struct {
	Index   int
	Content string
}

// ReadLines joins backslash-newline continuation lines into single
// logical lines and skips comment-only lines (first non-space char "#")
// and blank lines. A comment/blank line encountered while a continuation
// is pending is itself absorbed (its index becomes part of the logical
// line) without contributing content, and the continuation remains
// pending until a non-continued content line is found. Each returned
// LogicalLine's Index is the physical-line index at which it was closed
// (its last consumed physical line).
func ReadLines(data string) []LogicalLine {
	physical := strings.Split(data, "\n")

	var result []LogicalLine
	var cur strings.Builder
	haveContent := false
	pending := false
	lastIndex := -1

	flush := func() {
		if haveContent {
			result = append(result, LogicalLine{Index: lastIndex, Content: cur.String()})
		}
		cur.Reset()
		haveContent = false
		pending = false
		lastIndex = -1
	}

	for i, raw := range physical {
		line := raw
		continued := strings.HasSuffix(line, "\\")
		if continued {
			line = strings.TrimSuffix(line, "\\")
		}

		trimmed := strings.TrimSpace(line)
		isCommentOrBlank := trimmed == "" || strings.HasPrefix(trimmed, "#")

		if isCommentOrBlank {
			if !pending {
				continue
			}
			// A comment/blank line never itself terminates a pending
			// continuation; it is absorbed and we keep waiting for the
			// next real content line.
			lastIndex = i
			continue
		}

		if haveContent {
			cur.WriteString(" ")
		}
		cur.WriteString(trimmed)
		haveContent = true
		lastIndex = i
		pending = continued

		if !continued {
			flush()
		}
	}
	flush()
	return result
}
