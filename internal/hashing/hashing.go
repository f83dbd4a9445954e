// Package hashing implements the deterministic hash-of-value primitive
// used throughout the build graph: SHA-256 over the canonical JSON
// representation (sorted map keys) of a JSON-shaped value.
package hashing

import (
	"crypto/sha256"
	"encoding/json"
	"hash"
	"io"

	"github.com/pkg/errors"
)

// Writer is a streaming hash writer. Callers feed it bytes; HexDigest returns
// the current hex digest without finalizing the underlying hash state,
// mirroring the original project's HashWriter/hashlib pairing.
type Writer struct {
	h hash.Hash
}

// NewWriter returns a Writer backed by SHA-256, the reference hash
// algorithm for this system.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// io.Writer-compatible check.
var _ io.Writer = (*Writer)(nil)

// HexDigest returns the current hex-encoded digest of everything written
// so far.
func (w *Writer) HexDigest() string {
	return hexEncode(w.h.Sum(nil))
}

func hexEncode(b []byte) string {
	const hexchars = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexchars[c>>4]
		out[i*2+1] = hexchars[c&0xf]
	}
	return string(out)
}

// HashValue canonicalizes v (any JSON-marshalable value) with sorted map
// keys and returns the hex SHA-256 digest of that canonical encoding. All
// hashes in the system are hex digests produced by this operation.
//
// encoding/json already serializes map[string]T keys in sorted order, so
// canonicalization falls directly out of using json.Marshal for the
// payload; the convention is that hash payloads are JSON arrays/scalars,
// not maps, to keep shapes self-describing (see graph.LocalHashData).
func HashValue(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal hash payload")
	}
	w := NewWriter()
	if _, err := w.Write(data); err != nil {
		return "", errors.Wrap(err, "write hash payload")
	}
	return w.HexDigest(), nil
}

// HashFile streams r through a fresh Writer and returns its hex digest,
// used to memoize per-file content hashes during full-context hashing.
func HashFile(r io.Reader) (string, error) {
	w := NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Wrap(err, "hash file contents")
	}
	return w.HexDigest(), nil
}
