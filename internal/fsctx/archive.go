package fsctx

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// epoch is the zeroed mtime applied to every tar entry, matching §4.2's
// "mtime zeroed" requirement.
var epoch = time.Unix(0, 0).UTC()

// entry is one walked filesystem node, already filtered by ignore rules.
type entry struct {
	relPath string // "" for root, otherwise slash-separated relative path
	full    string // absolute path on disk, "" for synthetic/extra entries
	info    os.FileInfo
}

// walk produces every included entry under bc in deterministic order:
// directories' children are sorted before recursion, matching §4.2's
// "sort every directory's children before recursion" requirement.
func (bc *BuildContext) walk() ([]entry, error) {
	if !bc.HasDir {
		return []entry{{relPath: ""}}, nil
	}

	root := bc.BaseDir
	fi, err := os.Lstat(root)
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindContext, err, "stat context base dir")
	}

	var out []entry
	var recurse func(relPath, fullPath string, parentIgnored bool) error
	recurse = func(relPath, fullPath string, parentIgnored bool) error {
		matchPath := relPath
		ignored := parentIgnored
		if relPath != "" {
			ignored = bc.Ignored(matchPath, parentIgnored)
		}

		info, err := os.Lstat(fullPath)
		if err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "stat "+fullPath)
		}

		if bc.Included(matchPath, ignored) || relPath == "" {
			out = append(out, entry{relPath: relPath, full: fullPath, info: info})
		}

		if !info.IsDir() {
			return nil
		}

		children, err := os.ReadDir(fullPath)
		if err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "read dir "+fullPath)
		}
		names := make([]string, len(children))
		for i, c := range children {
			names[i] = c.Name()
		}
		sort.Strings(names)
		for _, name := range names {
			childRel := name
			if relPath != "" {
				childRel = relPath + "/" + name
			}
			if err := recurse(childRel, filepath.Join(fullPath, name), ignored); err != nil {
				// chain a frame per directory level, mirroring manifest.go's
				// Grow/ApplyFilters xerrors.Errorf("%w") chaining so a deep
				// walk failure prints every directory it passed through.
				return xerrors.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}

	if err := recurse("", root, false); err != nil {
		return nil, xerrors.Errorf("walk context %s: %w", root, err)
	}
	_ = fi
	return out, nil
}

// WriteArchive emits a deterministic pax-format tar of bc to w, gzip
// compressed iff gzipped is true.
func (bc *BuildContext) WriteArchive(w io.Writer, gzipped bool) error {
	var out io.Writer = w
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(w)
		out = gz
	}
	tw := tar.NewWriter(out)

	entries, err := bc.walk()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := bc.writeEntry(tw, e); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(bc.ExtraFiles))
	for name := range bc.ExtraFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		xf := bc.ExtraFiles[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     int64(xf.Mode),
			Size:     int64(len(xf.Data)),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "write extra file header "+name)
		}
		if _, err := tw.Write(xf.Data); err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "write extra file data "+name)
		}
	}

	if err := tw.Close(); err != nil {
		return tplerr.Wrap(tplerr.KindContext, err, "close tar writer")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "close gzip writer")
		}
	}
	return nil
}

func (bc *BuildContext) writeEntry(tw *tar.Writer, e entry) error {
	name := "."
	if e.relPath != "" {
		name = "./" + e.relPath
	}

	hdr := &tar.Header{
		Name:     name,
		Uid:      0,
		Gid:      0,
		Uname:    "root",
		Gname:    "root",
		ModTime:  epoch,
		Format:   tar.FormatPAX,
		Devmajor: 0,
		Devminor: 0,
	}

	if e.info == nil {
		hdr.Typeflag = tar.TypeDir
		hdr.Mode = normalizeMode(bc.Umask, 0755)
		return tw.WriteHeader(hdr)
	}

	mode := normalizeMode(bc.Umask, uint32(e.info.Mode().Perm()))
	hdr.Mode = mode

	switch {
	case e.info.Mode()&os.ModeSymlink != 0:
		link, err := os.Readlink(e.full)
		if err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "readlink "+e.full)
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = link
		return tw.WriteHeader(hdr)
	case e.info.IsDir():
		hdr.Typeflag = tar.TypeDir
		return tw.WriteHeader(hdr)
	case e.info.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "write header "+e.full)
		}
		f, err := os.Open(e.full)
		if err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "open "+e.full)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return tplerr.Wrap(tplerr.KindContext, err, "copy file data "+e.full)
		}
		return nil
	default:
		return tplerr.New(tplerr.KindContext, "unsupported file mode at "+e.full)
	}
}

// normalizeMode applies the umask-based permission normalization: when
// umask is set, the user permission bits are copied to group and other,
// then bits present in the umask are cleared; otherwise the mode passes
// through unchanged.
func normalizeMode(umask *uint32, mode uint32) int64 {
	if umask == nil {
		return int64(mode)
	}
	user := (mode >> 6) & 0o7
	broadened := (user << 6) | (user << 3) | user
	return int64(broadened &^ *umask)
}
