package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rack-go/internal/rack"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Layout is the filesystem implementation of rack.Storage.
// The store root holds one directory per fingerprint plus the index file;
// anything that is not a directory is ignored by Scan.
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at root, creating the directory if needed.
func NewLayout(root string) (*Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Layout{root: absRoot}, nil
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) CommitDir(fp string) string {
	return filepath.Join(l.root, fp)
}

func (l *Layout) stagingDir(fp string) string {
	return filepath.Join(l.root, stagingPrefix+fp)
}

func (l *Layout) trashDir(fp string) string {
	return filepath.Join(l.root, trashPrefix+fp)
}

func (l *Layout) HasCommit(fp string) (bool, error) {
	return isDir(l.CommitDir(fp))
}

func (l *Layout) BeginStaging(fp string) (string, error) {
	if err := validFingerprint(fp); err != nil {
		return "", err
	}
	for _, p := range []string{l.CommitDir(fp), l.stagingDir(fp)} {
		if _, err := os.Lstat(p); err == nil {
			return "", fmt.Errorf("%w: %s already exists", rack.ErrStorageConflict, p)
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}

	dir := l.stagingDir(fp)
	// Mkdir, not MkdirAll: a concurrent creator must lose.
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s already exists", rack.ErrStorageConflict, dir)
		}
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

func (l *Layout) DiscardStaging(fp string) error {
	if err := os.RemoveAll(l.stagingDir(fp)); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

func (l *Layout) Publish(fp string) error {
	return l.move(l.stagingDir(fp), l.CommitDir(fp))
}

func (l *Layout) Unpublish(fp string) error {
	return l.move(l.CommitDir(fp), l.stagingDir(fp))
}

func (l *Layout) Rename(oldFP, newFP string) error {
	if err := validFingerprint(newFP); err != nil {
		return err
	}
	return l.move(l.CommitDir(oldFP), l.CommitDir(newFP))
}

func (l *Layout) Retire(fp string) error {
	return l.move(l.CommitDir(fp), l.trashDir(fp))
}

func (l *Layout) Reinstate(fp string) error {
	return l.move(l.trashDir(fp), l.CommitDir(fp))
}

func (l *Layout) Sweep(fp string) error {
	if err := os.RemoveAll(l.trashDir(fp)); err != nil {
		return fmt.Errorf("removing %s: %w", l.trashDir(fp), err)
	}
	return nil
}

func (l *Layout) Scan() (*rack.StorageScan, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("reading store root: %w", err)
	}

	scan := &rack.StorageScan{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, stagingPrefix):
			scan.Staging = append(scan.Staging, strings.TrimPrefix(name, stagingPrefix))
		case strings.HasPrefix(name, trashPrefix):
			scan.Retired = append(scan.Retired, strings.TrimPrefix(name, trashPrefix))
		case strings.HasPrefix(name, "."):
			// unrelated hidden directory
		default:
			scan.Commits = append(scan.Commits, name)
		}
	}
	sort.Strings(scan.Commits)
	sort.Strings(scan.Staging)
	sort.Strings(scan.Retired)
	return scan, nil
}

// move renames src to dst, refusing to replace an existing dst.
// os.Rename would silently replace an empty directory on most platforms.
func (l *Layout) move(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", rack.ErrStorageMissing, src)
		}
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s already exists", rack.ErrStorageConflict, dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", filepath.Base(src), filepath.Base(dst), err)
	}
	return nil
}

func isDir(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.IsDir(), nil
}

// validFingerprint keeps fingerprints from naming anything outside the root.
func validFingerprint(fp string) error {
	if fp == "" || fp == "." || fp == ".." || strings.HasPrefix(fp, ".") || strings.ContainsAny(fp, `/\`) {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	return nil
}

// Compile-time check that Layout implements rack.Storage interface
var _ rack.Storage = (*Layout)(nil)
