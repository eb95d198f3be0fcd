package rack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"rack-go/internal/archive"
	"rack-go/internal/codec"
)

// PackedName is the container written in packed mode, before the payload suffix.
const PackedName = "logs.tar"

// StoreRequest describes a new commit.
type StoreRequest struct {
	Label string
	Tags  Tags

	// SourceDir is the directory to capture.
	SourceDir string

	// ClearSource removes the contents of SourceDir after a successful commit.
	ClearSource bool

	// Level overrides the configured compression effort when non-nil.
	Level *int

	Progress ProgressFunc
}

// StoreResult is returned by a successful Store.
type StoreResult struct {
	Commit *Commit

	// ClearErr is set when ClearSource was requested and clearing failed.
	// The commit is valid regardless.
	ClearErr error
}

// entry is a source file and the slash-separated name it is stored under.
type entry struct {
	src  SourceFile
	name string
}

// Store captures a source directory as a new commit.
// The commit becomes visible only after every file is compressed and the
// directory is published; on any failure or cancellation the staging
// directory is removed and the index is left untouched.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	level := s.opts.Level
	if req.Level != nil {
		if err := codec.ValidateLevel(s.codec, *req.Level); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		level = *req.Level
	}

	srcDir, err := s.fsmgr.ResolveDir(req.SourceDir)
	if err != nil {
		return nil, ioError("input directory not found", err)
	}
	if s.guarded(srcDir) {
		return nil, fmt.Errorf("%w: cannot capture project metadata: %s", ErrConfig, srcDir)
	}

	tags := req.Tags.Clone()
	fp := Fingerprint(req.Label, tags)

	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	if cat.Has(fp) {
		return nil, fmt.Errorf("%w: duplicate commit detected with fingerprint %s", ErrDuplicateCommit, fp)
	}

	staging, err := s.storage.BeginStaging(fp)
	if err != nil {
		return nil, s.stagingError(err)
	}
	s.logger.Debug("staging started", "fingerprint", fp, "source", srcDir)

	commit, err := s.stage(ctx, staging, srcDir, level, req.Progress)
	if err == nil {
		err = aborted(ctx)
	}
	if err != nil {
		s.discard(fp)
		if errors.Is(err, ErrAborted) {
			s.logger.Warn("store aborted", "fingerprint", fp)
		}
		return nil, err
	}

	commit.Fingerprint = fp
	commit.Label = req.Label
	commit.Tags = tags
	commit.Timestamp = s.clock.Now().Truncate(time.Second)
	commit.StoragePath = s.relToRoot(s.storage.CommitDir(fp))
	commit.SourceDir = s.relToRoot(srcDir)

	if err := s.publish(cat, commit); err != nil {
		return nil, err
	}
	s.logger.Info("commit stored", "fingerprint", fp, "files", commit.FileCount, "bytes", commit.ByteSize, "mode", commit.Mode)

	result := &StoreResult{Commit: commit.Clone()}
	if req.ClearSource {
		if err := s.fsmgr.ClearDir(srcDir); err != nil {
			s.logger.Warn("could not clear source directory", "dir", srcDir, "error", err)
			result.ClearErr = err
		} else {
			s.logger.Info("source directory cleared", "dir", srcDir)
		}
	}
	return result, nil
}

// publish moves the staged commit into place and records it in the index.
// The directory is published first: a crash before the index is written
// leaves an orphan directory for check to report, never an entry without data.
func (s *Service) publish(cat *Catalog, commit *Commit) error {
	fp := commit.Fingerprint
	if err := s.storage.Publish(fp); err != nil {
		s.discard(fp)
		return s.stagingError(err)
	}

	cat.Put(commit)
	if err := s.saveCatalog(cat); err != nil {
		if uerr := s.storage.Unpublish(fp); uerr != nil {
			s.logger.Error("could not roll back publish", "fingerprint", fp, "error", uerr)
			return errors.Join(err, fmt.Errorf("rolling back publish of %s: %w", fp, uerr))
		}
		s.discard(fp)
		return err
	}
	return nil
}

// stage fills the staging directory and returns a partial commit holding
// the size, file count and layout.
func (s *Service) stage(ctx context.Context, staging, srcDir string, level int, progress ProgressFunc) (*Commit, error) {
	files, err := s.fsmgr.FindFiles(srcDir, s.opts.Exclude)
	if err != nil {
		return nil, ioError("enumerating source files", err)
	}
	entries, err := s.plan(files)
	if err != nil {
		return nil, err
	}

	commit := &Commit{
		FileCount: len(entries),
		Mode:      s.opts.Mode,
		Codec:     s.codec.Name(),
		Encrypted: s.encryptor != nil,
	}

	switch s.opts.Mode {
	case ModeFolder:
		commit.ByteSize, err = s.stagePacked(ctx, staging, entries, level, progress)
	default:
		commit.ByteSize, err = s.stageFiles(ctx, staging, entries, level, progress)
	}
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// plan assigns storage names, rejecting two files that flatten to one name.
func (s *Service) plan(files []SourceFile) ([]entry, error) {
	entries := make([]entry, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, f := range files {
		name := filepath.ToSlash(f.RelPath)
		if !s.opts.PreserveStructure {
			name = path.Base(name)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s and %s both flatten to %s", ErrStorageConflict, prev, f.RelPath, name)
		}
		seen[name] = f.RelPath
		entries = append(entries, entry{src: f, name: name})
	}
	return entries, nil
}

func (s *Service) stageFiles(ctx context.Context, staging string, entries []entry, level int, progress ProgressFunc) (int64, error) {
	suffix := s.payloadSuffix()
	var total int64
	for i, e := range entries {
		if err := aborted(ctx); err != nil {
			return 0, err
		}
		dst := filepath.Join(staging, filepath.FromSlash(e.name)+suffix)
		n, err := s.compressFile(dst, e.src.AbsPath, level)
		if err != nil {
			return 0, fmt.Errorf("storing %s: %w", e.src.RelPath, err)
		}
		total += n
		report(progress, "compressing", i+1, len(entries))
	}
	return total, nil
}

func (s *Service) stagePacked(ctx context.Context, staging string, entries []entry, level int, progress ProgressFunc) (int64, error) {
	tarPath := filepath.Join(staging, PackedName)
	f, err := os.Create(tarPath)
	if err != nil {
		return 0, ioError("creating container", err)
	}
	defer os.Remove(tarPath)

	w := archive.NewWriter(f)
	for i, e := range entries {
		if err := aborted(ctx); err != nil {
			f.Close()
			return 0, err
		}
		if err := w.AddFile(e.name, e.src.AbsPath); err != nil {
			f.Close()
			return 0, ioError("packing "+e.src.RelPath, err)
		}
		report(progress, "packing", i+1, len(entries))
	}
	if err := w.Close(); err != nil {
		f.Close()
		return 0, ioError("packing", err)
	}
	s.logger.Debug("container packed", "members", w.Len())
	if err := f.Close(); err != nil {
		return 0, ioError("closing container", err)
	}

	if err := aborted(ctx); err != nil {
		return 0, err
	}
	n, err := s.compressFile(tarPath+s.payloadSuffix(), tarPath, level)
	if err != nil {
		return 0, fmt.Errorf("compressing container: %w", err)
	}
	report(progress, "compressing", 1, 1)
	return n, nil
}

// discard removes the staging directory of fp, logging failures.
func (s *Service) discard(fp string) {
	if err := s.storage.DiscardStaging(fp); err != nil {
		s.logger.Error("could not remove staging directory", "fingerprint", fp, "error", err)
	}
}

// stagingError keeps storage kinds intact and classifies anything else as I/O.
func (s *Service) stagingError(err error) error {
	if errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrStorageMissing) {
		return err
	}
	return ioError("staging commit", err)
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
