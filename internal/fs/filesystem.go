package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rack-go/internal/rack"
)

// OSFilesystemManager is the real filesystem implementation of rack.FilesystemManager.
// Protected directories are never descended into during enumeration and never
// removed when clearing; this keeps a project's own .rack directory out of its
// snapshots when the capture root contains it.
type OSFilesystemManager struct {
	protected map[string]bool
}

// NewOSFilesystemManager creates a filesystem manager. protected lists absolute
// directory paths that enumeration and clearing must leave alone.
func NewOSFilesystemManager(protected ...string) *OSFilesystemManager {
	m := &OSFilesystemManager{protected: make(map[string]bool, len(protected))}
	for _, p := range protected {
		m.protected[filepath.Clean(p)] = true
	}
	return m
}

// ResolveDir converts rawPath to an absolute path and verifies it is a directory.
func (m *OSFilesystemManager) ResolveDir(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", absPath)
	}
	return absPath, nil
}

// FindFiles discovers regular files under root, skipping excluded and protected paths.
// The walk is lexical, so results are ordered by path.
func (m *OSFilesystemManager) FindFiles(root string, exclude rack.Matcher) ([]rack.SourceFile, error) {
	root = filepath.Clean(root)
	var files []rack.SourceFile

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && m.protected[p] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		if exclude != nil && exclude.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, rack.SourceFile{AbsPath: p, RelPath: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return files, nil
}

// ClearDir removes every entry inside dir except protected directories.
// It attempts every entry and reports all failures together.
func (m *OSFilesystemManager) ClearDir(dir string) error {
	dir = filepath.Clean(dir)
	if m.protected[dir] {
		return fmt.Errorf("refusing to clear protected directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if m.shelters(p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// shelters reports whether p is, or contains, a protected directory.
func (m *OSFilesystemManager) shelters(p string) bool {
	for prot := range m.protected {
		if prot == p {
			return true
		}
		if rel, err := filepath.Rel(p, prot); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Compile-time check that OSFilesystemManager implements rack.FilesystemManager interface
var _ rack.FilesystemManager = (*OSFilesystemManager)(nil)
