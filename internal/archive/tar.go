// Package archive packs files into a tar container and unpacks it again.
// Only regular files and directories are written or extracted.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rack-go/internal/codec"
)

// ErrUnsafePath is returned when a member name would extract outside the target.
var ErrUnsafePath = errors.New("archive member escapes target directory")

// Writer appends files to a tar stream.
type Writer struct {
	tw    *tar.Writer
	names map[string]bool
}

// NewWriter starts a tar stream on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{tw: tar.NewWriter(w), names: make(map[string]bool)}
}

// AddFile stores the file at absPath under name. name uses forward slashes.
// Adding the same name twice is an error.
func (w *Writer) AddFile(name, absPath string) error {
	name = path.Clean(filepath.ToSlash(name))
	if err := checkName(name); err != nil {
		return err
	}
	if w.names[name] {
		return fmt.Errorf("duplicate archive member %q", name)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", absPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}

	n, err := codec.Copy(w.tw, f)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if n != info.Size() {
		return fmt.Errorf("file %s changed size while packing: expected %d bytes, got %d", absPath, info.Size(), n)
	}

	w.names[name] = true
	return nil
}

// Len returns the number of members written.
func (w *Writer) Len() int { return len(w.names) }

// Close writes the tar trailer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

// Extract unpacks the tar stream r into target, which must exist.
// before is called with each member name ahead of extracting it; a non-nil
// return stops extraction and is returned unchanged. Members already
// extracted are left in place. Returns the number of files written.
func Extract(r io.Reader, target string, before func(name string) error) (int, error) {
	root, err := filepath.EvalSymlinks(target)
	if err != nil {
		return 0, fmt.Errorf("resolving target: %w", err)
	}
	tr := tar.NewReader(r)
	count := 0

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("reading archive: %w", err)
		}

		if before != nil {
			if err := before(hdr.Name); err != nil {
				return count, err
			}
		}

		dest, err := memberPath(target, hdr.Name)
		if err != nil {
			return count, err
		}
		if err := confine(root, dest, hdr.Name); err != nil {
			return count, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0755); err != nil {
				return count, fmt.Errorf("creating directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, dest, hdr); err != nil {
				return count, err
			}
			count++
		default:
			// links and special files are never packed
		}
	}
}

func extractFile(tr *tar.Reader, dest string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", hdr.Name, err)
	}

	mode := os.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", hdr.Name, err)
	}
	if _, err := codec.Copy(f, tr); err != nil {
		f.Close()
		return fmt.Errorf("extracting %s: %w", hdr.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", hdr.Name, err)
	}
	if !hdr.ModTime.IsZero() {
		_ = os.Chtimes(dest, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// memberPath joins a member name onto target, rejecting names that escape it.
func memberPath(target, name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if err := checkName(clean); err != nil {
		return "", err
	}
	return filepath.Join(target, filepath.FromSlash(clean)), nil
}

// confine resolves the deepest existing path of dest and rejects it when a
// symlink leads outside root, which must itself be resolved.
func confine(root, dest, name string) error {
	existing := dest
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsafePath, name, err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q resolves outside the target", ErrUnsafePath, name)
	}
	return nil
}

func checkName(clean string) error {
	if clean == "." || clean == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, clean)
	}
	if filepath.VolumeName(filepath.FromSlash(clean)) != "" {
		return fmt.Errorf("%w: %q", ErrUnsafePath, clean)
	}
	return nil
}
