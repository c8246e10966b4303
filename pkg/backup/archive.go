package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// archiveStats counts what went into an archive.
type archiveStats struct {
	files int
	bytes int64
}

// writeTree writes the tree under root to tw. Directories are always
// written; regular files and symlinks only when modified after since.
// Paths under skip are left out.
func writeTree(ctx context.Context, tw *tar.Writer, root, skip string, since time.Time) (archiveStats, error) {
	var st archiveStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if skip != "" && (path == skip || strings.HasPrefix(path, skip+string(filepath.Separator))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		switch mode := info.Mode(); {
		case mode.IsDir():
		case mode.IsRegular():
			if !info.ModTime().After(since) {
				return nil
			}
		case mode&fs.ModeSymlink != 0:
			if !info.ModTime().After(since) {
				return nil
			}
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		default:
			// Sockets, devices and pipes are not backed up.
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		st.files++
		st.bytes += n
		return nil
	})
	return st, err
}

// extractor unpacks archives into target. Entries that would land outside
// target are rejected. Symlinks are only created by finish, after every
// archive of a chain is unpacked, so no entry is written through one.
type extractor struct {
	target string
	links  map[string]string
}

func newExtractor(target string) *extractor {
	return &extractor{target: target, links: make(map[string]string)}
}

func (x *extractor) extract(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.FromSlash(strings.TrimSuffix(hdr.Name, "/"))
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry %q escapes the restore target", hdr.Name)
		}
		dest := filepath.Join(x.target, name)
		mode := fs.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, mode|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			delete(x.links, dest)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := writeFile(dest, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			x.links[dest] = hdr.Linkname
		}
	}
}

func (x *extractor) finish() error {
	for name, dest := range x.links {
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return err
		}
		_ = os.Remove(name)
		if err := os.Symlink(dest, name); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
