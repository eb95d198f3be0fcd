package rack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rack-go/internal/archive"
	"rack-go/internal/codec"
)

// DumpRequest describes a restore.
type DumpRequest struct {
	Fingerprint string

	// TargetDir overrides the restore location. Empty restores into the
	// directory the commit was captured from.
	TargetDir string

	// Purge removes the commit after a successful restore.
	Purge bool

	// Unlock supplies a decryption context. It is called at most once,
	// and only when the commit holds encrypted payloads.
	Unlock func() (DecryptionContext, error)

	Progress ProgressFunc
}

// DumpResult reports what a restore wrote.
type DumpResult struct {
	TargetDir string
	// Files lists restored paths relative to TargetDir, slash-separated.
	Files  []string
	Purged bool
}

// payload is one stored file of a per-file commit.
type payload struct {
	path      string
	name      string
	codec     codec.Codec
	encrypted bool
}

// Dump restores a commit into a directory. Cancellation stops at the next
// member and leaves already restored files in place. When req.Purge is set
// and the restore succeeded, the commit is removed; a failed purge is
// returned together with the result.
func (s *Service) Dump(ctx context.Context, req DumpRequest) (*DumpResult, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	commit, err := s.lookup(cat, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	dir, err := s.requireStorage(commit)
	if err != nil {
		return nil, err
	}

	target := req.TargetDir
	if target == "" {
		target = s.fromRoot(commit.SourceDir)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return nil, ioError("resolving target directory", err)
	}
	if s.guarded(target) {
		return nil, fmt.Errorf("%w: cannot restore into project metadata: %s", ErrConfig, target)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, ioError("creating target directory", err)
	}

	unlock := s.unlocker(req.Unlock)
	result := &DumpResult{TargetDir: target}

	artifact, packed, err := s.packedArtifact(commit, dir)
	if err != nil {
		return nil, err
	}
	if packed {
		err = s.restorePacked(ctx, artifact, target, commit.FileCount, unlock, req.Progress, result)
	} else {
		err = s.restoreFiles(ctx, dir, target, unlock, req.Progress, result)
	}
	if err != nil {
		if errors.Is(err, ErrAborted) {
			s.logger.Warn("dump aborted, partial restore left in place", "fingerprint", commit.Fingerprint, "target", target, "files", len(result.Files))
		}
		return result, err
	}
	s.logger.Info("commit dumped", "fingerprint", commit.Fingerprint, "target", target, "files", len(result.Files))

	if req.Purge {
		if err := s.purge(cat, commit); err != nil {
			return result, err
		}
		result.Purged = true
	}
	return result, nil
}

// unlocker wraps fn so the decryption context is requested at most once.
func (s *Service) unlocker(fn func() (DecryptionContext, error)) func() (DecryptionContext, error) {
	var dctx DecryptionContext
	var err error
	done := false
	return func() (DecryptionContext, error) {
		if done {
			return dctx, err
		}
		done = true
		if fn == nil {
			err = fmt.Errorf("%w: commit is encrypted but no passphrase was provided", ErrConfig)
			return nil, err
		}
		dctx, err = fn()
		return dctx, err
	}
}

// packedArtifact locates the packed container of a commit. The recorded
// mode decides the layout; records without one are inspected.
func (s *Service) packedArtifact(commit *Commit, dir string) (string, bool, error) {
	if commit.Mode == ModeFiles {
		return "", false, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, ioError("reading commit directory", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if base, _, _, ok := parsePayloadName(e.Name()); ok && base == PackedName {
			return filepath.Join(dir, e.Name()), true, nil
		}
	}

	if commit.Mode == ModeFolder {
		return "", false, fmt.Errorf("%w: packed archive missing for %s", ErrStorageMissing, commit.Fingerprint)
	}
	return "", false, nil
}

func (s *Service) restorePacked(ctx context.Context, artifact, target string, total int, unlock func() (DecryptionContext, error), progress ProgressFunc, result *DumpResult) error {
	if err := aborted(ctx); err != nil {
		return err
	}
	_, c, encrypted, _ := parsePayloadName(filepath.Base(artifact))

	var dctx DecryptionContext
	if encrypted {
		var err error
		if dctx, err = unlock(); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp("", "rack-dump-*.tar")
	if err != nil {
		return ioError("creating temporary container", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	report(progress, "decompressing", 0, 1)
	if err := readPayload(tmpPath, artifact, c, encrypted, dctx); err != nil {
		return err
	}
	report(progress, "decompressing", 1, 1)

	f, err := os.Open(tmpPath)
	if err != nil {
		return ioError("opening temporary container", err)
	}
	defer f.Close()

	_, err = archive.Extract(f, target, func(name string) error {
		if err := aborted(ctx); err != nil {
			return err
		}
		result.Files = append(result.Files, name)
		report(progress, "extracting", len(result.Files), total)
		return nil
	})
	if err != nil && !errors.Is(err, ErrAborted) {
		return ioError("extracting container", err)
	}
	return err
}

func (s *Service) restoreFiles(ctx context.Context, dir, target string, unlock func() (DecryptionContext, error), progress ProgressFunc, result *DumpResult) error {
	payloads, err := listPayloads(dir)
	if err != nil {
		return err
	}

	for i, p := range payloads {
		if err := aborted(ctx); err != nil {
			return err
		}
		var dctx DecryptionContext
		if p.encrypted {
			if dctx, err = unlock(); err != nil {
				return err
			}
		}
		if err := readPayload(filepath.Join(target, filepath.FromSlash(p.name)), p.path, p.codec, p.encrypted, dctx); err != nil {
			return fmt.Errorf("restoring %s: %w", p.name, err)
		}
		result.Files = append(result.Files, p.name)
		report(progress, "extracting", i+1, len(payloads))
	}
	return nil
}

// listPayloads walks a per-file commit directory. Files without a codec
// suffix are not payloads and are skipped.
func listPayloads(dir string) ([]payload, error) {
	var payloads []payload
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		base, c, encrypted, ok := parsePayloadName(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		payloads = append(payloads, payload{path: p, name: base, codec: c, encrypted: encrypted})
		return nil
	})
	if err != nil {
		return nil, ioError("listing commit payloads", err)
	}
	return payloads, nil
}
