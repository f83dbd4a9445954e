package fsctx

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, mode os.FileMode, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), mode))
	require.NoError(t, os.Chmod(path, mode))
}

func scenario1Dir(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.c"), 0o731, "nice\n")
	writeFile(t, filepath.Join(dir, "subdir/bar.txt"), 0o600, "wow\n")
	writeFile(t, filepath.Join(dir, "subdir/bar.c"), 0o600, "stuff\n")
	writeFile(t, filepath.Join(dir, "subdir/baz.c/deepfile"), 0o752, "deepdata\n")
	writeFile(t, filepath.Join(dir, "subdir/baz.c/oth"), 0o752, "othdata\n")
	return dir
}

func umask022() *uint32 {
	v := uint32(0o022)
	return &v
}

func tarEntryNames(t *testing.T, data []byte) []string {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestArchiveDeterministicOrderingAndMode(t *testing.T) {
	dir := scenario1Dir(t)
	bc, err := NewBuildContext(dir, true, umask022(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bc.WriteArchive(&buf, false))

	names := tarEntryNames(t, buf.Bytes())
	require.Equal(t, []string{
		".",
		"./data.c",
		"./subdir",
		"./subdir/bar.c",
		"./subdir/bar.txt",
		"./subdir/baz.c",
		"./subdir/baz.c/deepfile",
		"./subdir/baz.c/oth",
	}, names)

	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "root", hdr.Uname)
		require.Equal(t, "root", hdr.Gname)
		require.True(t, hdr.ModTime.Equal(epoch))
		switch hdr.Name {
		case "./data.c", "./subdir/baz.c":
			require.Equal(t, int64(0o755), hdr.Mode)
		}
	}
}

func TestArchiveNullContext(t *testing.T) {
	bc, err := NewBuildContext("", false, umask022(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bc.WriteArchive(&buf, false))
	names := tarEntryNames(t, buf.Bytes())
	require.Equal(t, []string{"."}, names)
}

func TestArchiveDeterministicAcrossRuns(t *testing.T) {
	dir := scenario1Dir(t)
	bc, err := NewBuildContext(dir, true, umask022(), nil)
	require.NoError(t, err)

	var a, b bytes.Buffer
	require.NoError(t, bc.WriteArchive(&a, false))
	require.NoError(t, bc.WriteArchive(&b, false))
	require.Equal(t, a.Bytes(), b.Bytes())
}

func TestIgnoreWithNegation(t *testing.T) {
	dir := scenario1Dir(t)
	bc, err := NewBuildContext(dir, true, umask022(), []string{
		"**/*.c", "!subdir/baz.c/deepfile",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bc.WriteArchive(&buf, false))
	names := tarEntryNames(t, buf.Bytes())
	require.Equal(t, []string{
		".",
		"./subdir",
		"./subdir/bar.txt",
		"./subdir/baz.c",
		"./subdir/baz.c/deepfile",
	}, names)
}

func TestFullHashDeterministicAndDiffersFromSymbolic(t *testing.T) {
	dir := scenario1Dir(t)
	bc, err := NewBuildContext(dir, true, umask022(), nil)
	require.NoError(t, err)

	full1, err := bc.FullHash()
	require.NoError(t, err)
	full2, err := bc.FullHash()
	require.NoError(t, err)
	require.Equal(t, full1, full2)

	sym, err := bc.SymbolicHash()
	require.NoError(t, err)
	require.NotEqual(t, full1, sym)
}

func TestPartialHashRejectsDoubleStar(t *testing.T) {
	dir := scenario1Dir(t)
	bc, err := NewBuildContext(dir, true, umask022(), nil)
	require.NoError(t, err)

	_, err = bc.PartialHash([]string{"**/*.c"})
	require.Error(t, err)
}

func TestPatternCompileErrors(t *testing.T) {
	cases := []struct {
		pattern string
		errMsg  string
	}{
		{"[hi", "Unclosed character class"},
		{`hi\`, "Trailing escape character"},
		{"[b-a]", "Invalid character range"},
		{"[]", "Empty character class"},
		{"[a[b]", "'[' in character class should be escaped"},
		{"hi]", "Unmatched ']' should be escaped"},
	}
	for _, tc := range cases {
		_, err := CompilePattern(tc.pattern)
		require.ErrorContains(t, err, tc.errMsg, "pattern %q", tc.pattern)
	}
}
