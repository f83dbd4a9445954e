package fsctx

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/msg555/tplbuild/internal/hashing"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// SymbolicHash hashes (component-tag, "symbolic", umask, base-dir,
// pattern list) without reading any file contents.
func (bc *BuildContext) SymbolicHash() (string, error) {
	var umask interface{}
	if bc.Umask != nil {
		umask = *bc.Umask
	}
	patterns := make([][2]interface{}, len(bc.Patterns))
	for i, p := range bc.Patterns {
		patterns[i] = [2]interface{}{p.Ignoring, p.Raw}
	}
	return hashing.HashValue([]interface{}{
		"BuildContext", "symbolic", umask, bc.BaseDir, patterns,
	})
}

// FullHash walks the context deterministically and hashes the tuple
// (component-tag, "full", streamed-entry-hash), memoizing per-file
// content hashes.
func (bc *BuildContext) FullHash() (string, error) {
	entries, err := bc.walk()
	if err != nil {
		return "", err
	}
	return bc.hashEntries(entries, nil)
}

// PartialHash is like FullHash but restricted to files matching at least
// one of patterns (no "**" permitted), used for COPY fingerprinting.
func (bc *BuildContext) PartialHash(patterns []string) (string, error) {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		if containsDoubleStar(raw) {
			return "", tplerr.New(tplerr.KindContext, "\"**\" not permitted in partial hash pattern: "+raw)
		}
		p, err := CompilePattern(raw)
		if err != nil {
			return "", err
		}
		compiled = append(compiled, p)
	}

	entries, err := bc.walk()
	if err != nil {
		return "", err
	}
	filtered := entries[:0:0]
	for _, e := range entries {
		if e.relPath == "" {
			filtered = append(filtered, e)
			continue
		}
		for _, p := range compiled {
			if p.Matches(e.relPath) {
				filtered = append(filtered, e)
				break
			}
		}
	}
	return bc.hashEntries(filtered, compiled)
}

func containsDoubleStar(pat string) bool {
	for i := 0; i+1 < len(pat); i++ {
		if pat[i] == '*' && pat[i+1] == '*' {
			return true
		}
	}
	return false
}

func (bc *BuildContext) hashEntries(entries []entry, partialPatterns []*Pattern) (string, error) {
	type entryMeta struct {
		Name string      `json:"name"`
		Mode int64       `json:"mode"`
		Type string      `json:"type"`
		Hash interface{} `json:"hash"`
	}

	metas := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		name := "."
		if e.relPath != "" {
			name = "./" + e.relPath
		}

		if e.info == nil {
			metas = append(metas, []interface{}{name, "dir", nil})
			continue
		}

		switch {
		case e.info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(e.full)
			if err != nil {
				return "", tplerr.Wrap(tplerr.KindContext, err, "readlink "+e.full)
			}
			metas = append(metas, []interface{}{name, "symlink", link})
		case e.info.IsDir():
			metas = append(metas, []interface{}{name, "dir", nil})
		case e.info.Mode().IsRegular():
			h, err := hashFileCached(e.full)
			if err != nil {
				return "", err
			}
			metas = append(metas, []interface{}{name, "file", h})
		default:
			return "", tplerr.New(tplerr.KindContext, "unsupported file mode at "+e.full)
		}
	}

	tag := "full"
	var patDesc interface{}
	if partialPatterns != nil {
		tag = "partial"
		descs := make([]string, len(partialPatterns))
		for i, p := range partialPatterns {
			descs[i] = p.Raw
		}
		sort.Strings(descs)
		patDesc = descs
	}
	return hashing.HashValue([]interface{}{"BuildContext", tag, patDesc, metas})
}

var (
	fileHashCacheMu sync.Mutex
	fileHashCache   = map[string]string{}
)

// hashFileCached memoizes per-file content hashes keyed by absolute path,
// matching §4.2's "file hashes memoized" requirement.
func hashFileCached(path string) (string, error) {
	fileHashCacheMu.Lock()
	h, ok := fileHashCache[path]
	fileHashCacheMu.Unlock()
	if ok {
		return h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", tplerr.Wrap(tplerr.KindContext, err, "open "+path)
	}
	defer f.Close()
	h, err = hashing.HashFile(io.Reader(f))
	if err != nil {
		return "", err
	}

	fileHashCacheMu.Lock()
	fileHashCache[path] = h
	fileHashCacheMu.Unlock()
	return h, nil
}
