package fsctx

import (
	"bufio"
	"os"
	"strings"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// BuildContext is an immutable build-context descriptor: an optional base
// directory on disk (HasDir false means a synthetic empty context), an
// optional umask, and an ordered list of compiled ignore patterns.
type BuildContext struct {
	BaseDir  string // on-disk root; only read when HasDir is true
	HasDir   bool
	Umask    *uint32
	Patterns []*Pattern

	// ExtraFiles are appended after the on-disk walk; typically used to
	// inject the expanded build document as a synthetic Dockerfile.
	ExtraFiles map[string]ExtraFile
}

// ExtraFile is a synthetic archive entry not backed by a file on disk.
type ExtraFile struct {
	Mode uint32
	Data []byte
}

// LoadPatternsFromFile reads ignore-pattern lines from an ignore file
// (default name ".dockerignore"), skipping blank lines and lines whose
// first non-space character is "#".
func LoadPatternsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tplerr.Wrap(tplerr.KindContext, err, "open ignore file "+path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, tplerr.Wrap(tplerr.KindContext, err, "read ignore file "+path)
	}
	return lines, nil
}

// NewBuildContext compiles ignorePatterns and constructs a BuildContext
// rooted at baseDir. Pass hasDir=false for a synthetic empty context.
func NewBuildContext(baseDir string, hasDir bool, umask *uint32, ignorePatterns []string) (*BuildContext, error) {
	compiled := make([]*Pattern, 0, len(ignorePatterns))
	for _, line := range ignorePatterns {
		p, err := CompilePattern(line)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return &BuildContext{
		BaseDir:  baseDir,
		HasDir:   hasDir,
		Umask:    umask,
		Patterns: compiled,
	}, nil
}

// directMatch returns the last pattern (in declaration order) whose plain
// glob matches path exactly, if any.
func (bc *BuildContext) directMatch(path string) (matched bool, ignoring bool) {
	for _, p := range bc.Patterns {
		if p.Matches(path) {
			matched = true
			ignoring = p.Ignoring
		}
	}
	return
}

// retained reports whether path must be kept because some un-ignore
// pattern retains it as a simple ancestor prefix.
func (bc *BuildContext) retained(path string) bool {
	for _, p := range bc.Patterns {
		if p.RetainsAncestor(path) {
			return true
		}
	}
	return false
}

// Ignored reports whether path is ignored given parentIgnored, the true
// (non-retention-adjusted) ignored state of path's parent directory.
// Direct pattern matches on path override; otherwise the state is
// inherited from the parent.
func (bc *BuildContext) Ignored(path string, parentIgnored bool) bool {
	if matched, ignoring := bc.directMatch(path); matched {
		return ignoring
	}
	return parentIgnored
}

// Included reports whether a path with the given true ignored state
// should appear in the archive: either it isn't ignored, or it's
// retained as a simple ancestor of some un-ignored descendant.
func (bc *BuildContext) Included(path string, ignored bool) bool {
	return !ignored || bc.retained(path)
}
