package rack

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"rack-go/internal/codec"
)

// Options hold the per-project settings the service applies to new commits.
type Options struct {
	// ProjectRoot is the absolute project directory. Storage paths and
	// source directories are recorded relative to it.
	ProjectRoot string

	// Mode is ModeFiles or ModeFolder.
	Mode string

	// PreserveStructure keeps relative paths inside a commit; otherwise
	// files are flattened to their base names.
	PreserveStructure bool

	// Codec names the compression codec; empty selects the default.
	Codec string

	// Level is the default compression effort.
	Level int

	// Exclude filters source files. Nil includes everything.
	Exclude Matcher

	// MetadataDir is the project's .rack directory, which holds the store,
	// the index and the journal. Sources and restore targets at or below it
	// are rejected. Empty falls back to the store root.
	MetadataDir string
}

// Service is the orchestration layer coordinating the index, the storage
// layout and the compression pipeline to implement the commit lifecycle.
// A Service assumes exclusive access to its project for each call.
type Service struct {
	index     Index
	storage   Storage
	fsmgr     FilesystemManager
	encryptor Encryptor
	logger    Logger
	clock     Clock
	opts      Options
	codec     codec.Codec
}

// NewService creates a Service. encryptor may be nil, in which case new
// commits are stored unencrypted.
func NewService(index Index, storage Storage, fsmgr FilesystemManager, encryptor Encryptor, logger Logger, clock Clock, opts Options) (*Service, error) {
	switch opts.Mode {
	case ModeFiles, ModeFolder:
	default:
		return nil, fmt.Errorf("%w: invalid compress mode %q (must be %q or %q)", ErrConfig, opts.Mode, ModeFiles, ModeFolder)
	}
	c, err := codec.ByName(opts.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := codec.ValidateLevel(c, opts.Level); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if !filepath.IsAbs(opts.ProjectRoot) {
		return nil, fmt.Errorf("%w: project root must be absolute: %q", ErrConfig, opts.ProjectRoot)
	}
	if opts.MetadataDir == "" {
		opts.MetadataDir = storage.Root()
	} else if !filepath.IsAbs(opts.MetadataDir) {
		return nil, fmt.Errorf("%w: metadata directory must be absolute: %q", ErrConfig, opts.MetadataDir)
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Service{
		index:     index,
		storage:   storage,
		fsmgr:     fsmgr,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		opts:      opts,
		codec:     c,
	}, nil
}

func (s *Service) loadCatalog() (*Catalog, error) {
	cat, err := s.index.Load()
	if err != nil {
		return nil, ioError("loading index", err)
	}
	return cat, nil
}

func (s *Service) saveCatalog(cat *Catalog) error {
	if err := s.index.Save(cat); err != nil {
		return ioError("saving index", err)
	}
	return nil
}

// lookup returns the commit stored under fp or ErrNotFound.
func (s *Service) lookup(cat *Catalog, fp string) (*Commit, error) {
	c := cat.Get(fp)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return c, nil
}

// relToRoot expresses abs relative to the project root, with forward slashes.
// Paths outside the root are kept absolute.
func (s *Service) relToRoot(abs string) string {
	rel, err := filepath.Rel(s.opts.ProjectRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// fromRoot resolves a recorded path against the project root.
func (s *Service) fromRoot(recorded string) string {
	p := filepath.FromSlash(recorded)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.opts.ProjectRoot, p)
}

// commitDir returns the storage directory of c. The recorded storage path
// must resolve to the fingerprint's directory directly under the store root;
// anything else is treated as tampering.
func (s *Service) commitDir(c *Commit) (string, error) {
	want := s.storage.CommitDir(c.Fingerprint)
	if c.StoragePath == "" {
		return want, nil
	}
	got := filepath.Clean(s.fromRoot(c.StoragePath))
	if got != want {
		return "", fmt.Errorf("%w: storage path %q of %s does not resolve under the store root", ErrStorageMissing, c.StoragePath, c.Fingerprint)
	}
	return want, nil
}

// requireStorage fails with ErrStorageMissing when c has no directory on disk.
func (s *Service) requireStorage(c *Commit) (string, error) {
	dir, err := s.commitDir(c)
	if err != nil {
		return "", err
	}
	ok, err := s.storage.HasCommit(c.Fingerprint)
	if err != nil {
		return "", ioError("checking storage", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: commit data missing for %s", ErrStorageMissing, c.Fingerprint)
	}
	return dir, nil
}

// guarded reports whether p is the metadata directory or lies inside it.
func (s *Service) guarded(p string) bool {
	return within(p, s.opts.MetadataDir) || within(p, s.storage.Root())
}

// aborted converts a context error into ErrAborted.
func aborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return nil
}

func report(progress ProgressFunc, stage string, done, total int) {
	if progress != nil {
		progress(stage, done, total)
	}
}
