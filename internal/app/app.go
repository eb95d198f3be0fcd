package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rack-go/internal/config"
	"rack-go/internal/encryption"
	"rack-go/internal/fs"
	"rack-go/internal/history"
	"rack-go/internal/index"
	"rack-go/internal/rack"
	"rack-go/internal/storage"
)

// RackApp is the application layer between the CLI and rack.Service.
// It finds the project, constructs every dependency from its config,
// accepts raw paths from the command line and journals mutating commands.
// The caller must call Close when done.
type RackApp struct {
	paths     Paths
	cfg       *config.Config
	keys      rack.Encryptor
	encrypted bool
	journal   *history.Journal
	service   *rack.Service
	logger    *slog.Logger
	logFile   *os.File
	op        *Operation
}

// NewRackApp opens the project containing start. operation names the CLI
// command being run (e.g. "store", "dump"). Log records from info up are
// copied to stderr when it is non-nil.
func NewRackApp(start, operation string, stderr io.Writer) (*RackApp, error) {
	root, err := FindRoot(start)
	if err != nil {
		return nil, err
	}
	paths := NewPaths(root)

	cfg, err := config.ReadFromFile(paths.Config)
	if err != nil {
		if !errors.Is(err, rack.ErrConfig) {
			err = fmt.Errorf("%w: %w", rack.ErrConfig, err)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", paths.Config, err)
	}

	encCfg := cfg.Encryption
	encCfg.PublicKeyPath = paths.Resolve(encCfg.PublicKeyPath)
	encCfg.PrivateKeyPath = paths.Resolve(encCfg.PrivateKeyPath)
	enc, err := encryption.NewEncryptorFromConfig(encCfg)
	if err != nil {
		return nil, err
	}
	// Keys stay available for unlocking old commits after encryption is turned off.
	keys := enc
	if keys == nil {
		keys = encryption.NewAgeEncryptor(encCfg)
	}

	layout, err := storage.NewLayout(paths.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w: %w", rack.ErrIO, err)
	}
	idx := index.NewFileIndex(paths.Index)

	ignored, err := fs.ParseExcludeFile(filepath.Join(root, fs.ExcludeFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rack.ErrConfig, err)
	}
	matcher := fs.NewExcludeMatcher(append(append([]string{}, cfg.Exclude...), ignored...))

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(paths.LogDir, opID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	var journal *history.Journal
	if cfg.History.Enabled {
		journal, err = history.Open(paths.History, nil)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
	}

	svc, err := rack.NewService(idx, layout, fs.NewOSFilesystemManager(paths.RackDir), enc, &slogAdapter{l: logger}, rack.RealClock{}, rack.Options{
		ProjectRoot:       root,
		Mode:              cfg.CompressMode,
		PreserveStructure: cfg.PreserveStructure,
		Codec:             cfg.Codec,
		Level:             cfg.CompressionEffort,
		Exclude:           matcher,
		MetadataDir:       paths.RackDir,
	})
	if err != nil {
		if journal != nil {
			journal.Close()
		}
		logFile.Close()
		return nil, err
	}

	logger.Debug("project opened", "root", root, "operation", operation, "store_id", cfg.StoreID, "exclude_patterns", matcher.Len())
	return &RackApp{
		paths:     paths,
		cfg:       cfg,
		keys:      keys,
		encrypted: enc != nil,
		journal:   journal,
		service:   svc,
		logger:    logger,
		logFile:   logFile,
		op:        NewOperation(operation, ""),
	}, nil
}

// Paths returns the project layout.
func (a *RackApp) Paths() Paths { return a.paths }

// Config returns the loaded project configuration.
func (a *RackApp) Config() *config.Config { return a.cfg }

// persistOperation journals the current command, giving it an ID.
// Only mutating commands call it; it is a no-op when history is disabled.
func (a *RackApp) persistOperation(parameters string) error {
	if a.journal == nil || a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	id, err := a.journal.Start(a.op.Name, parameters)
	if err != nil {
		return fmt.Errorf("journaling operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// Store captures rawPath, or the configured input directory when empty.
// A relative rawPath is taken relative to the working directory.
func (a *RackApp) Store(ctx context.Context, label string, tags rack.Tags, rawPath string, clearSource bool, level *int, progress rack.ProgressFunc) (*rack.StoreResult, error) {
	src := rawPath
	if src == "" {
		src = a.paths.Resolve(a.cfg.InputDir)
	}
	if a.encrypted && !a.keys.IsConfigured() {
		return nil, fmt.Errorf("%w: encryption is enabled but no key pair exists (run `rack keys init`)", rack.ErrConfig)
	}

	if err := a.persistOperation(describe("label", label, "tags", tags.String(), "path", src)); err != nil {
		return nil, err
	}
	res, err := a.service.Store(ctx, rack.StoreRequest{
		Label:       label,
		Tags:        tags,
		SourceDir:   src,
		ClearSource: clearSource,
		Level:       level,
		Progress:    progress,
	})
	a.op.Record(rack.Fingerprint(label, tags), err)
	return res, err
}

// Dump restores fp into rawOut, or into the commit's source directory when
// empty. unlock is consulted only for encrypted commits.
func (a *RackApp) Dump(ctx context.Context, fp, rawOut string, purge bool, unlock func() (rack.DecryptionContext, error), progress rack.ProgressFunc) (*rack.DumpResult, error) {
	target := rawOut
	if target != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolving output path: %w", err)
		}
		target = abs
	}

	if purge {
		if err := a.persistOperation(describe("fingerprint", fp, "out", target, "purge", "true")); err != nil {
			return nil, err
		}
	}
	res, err := a.service.Dump(ctx, rack.DumpRequest{
		Fingerprint: fp,
		TargetDir:   target,
		Purge:       purge,
		Unlock:      unlock,
		Progress:    progress,
	})
	a.op.Record(fp, err)
	return res, err
}

// Unlock opens the project's private key with passphrase.
func (a *RackApp) Unlock(passphrase string) (rack.DecryptionContext, error) {
	if !a.keys.IsConfigured() {
		return nil, fmt.Errorf("%w: commit is encrypted but no key pair exists at %s", rack.ErrConfig, a.paths.Resolve(a.cfg.Encryption.PrivateKeyPath))
	}
	dctx, err := a.keys.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rack.ErrConfig, err)
	}
	return dctx, nil
}

// Encrypted reports whether new commits are encrypted.
func (a *RackApp) Encrypted() bool { return a.encrypted }

// SetupKeys generates the project's key pair, protecting the private key with passphrase.
func (a *RackApp) SetupKeys(passphrase string) error {
	if err := a.persistOperation(describe("public_key", a.paths.Resolve(a.cfg.Encryption.PublicKeyPath))); err != nil {
		return err
	}
	err := a.keys.Setup(passphrase)
	if err != nil {
		err = fmt.Errorf("%w: %w", rack.ErrConfig, err)
	}
	a.op.Record("", err)
	return err
}

// Retag merges tags into fp's tags.
func (a *RackApp) Retag(fp string, tags rack.Tags) (*rack.RetagResult, error) {
	if err := a.persistOperation(describe("fingerprint", fp, "tags", tags.String())); err != nil {
		return nil, err
	}
	res, err := a.service.Retag(fp, tags)
	if res != nil {
		a.op.Record(res.Commit.Fingerprint, err)
	} else {
		a.op.Record(fp, err)
	}
	return res, err
}

// Burn deletes the listed commits.
func (a *RackApp) Burn(fps []string) ([]string, error) {
	if err := a.persistOperation(describe("fingerprints", strings.Join(fps, " "))); err != nil {
		return nil, err
	}
	burned, err := a.service.Burn(fps...)
	if len(fps) == 1 {
		a.op.Record(fps[0], err)
	} else {
		a.op.Record("", err)
	}
	return burned, err
}

// BurnAll deletes the project's .rack directory, including the journal and
// the log. The app is closed afterwards.
func (a *RackApp) BurnAll() error {
	a.logger.Warn("deleting project store", "dir", a.paths.RackDir)
	if err := a.closeResources(); err != nil {
		return err
	}
	if err := os.RemoveAll(a.paths.RackDir); err != nil {
		return fmt.Errorf("deleting %s: %w: %w", a.paths.RackDir, rack.ErrIO, err)
	}
	return nil
}

// Info returns the metadata of fp.
func (a *RackApp) Info(fp string) (*rack.Commit, error) {
	return a.service.Info(fp)
}

// CommitHistory returns the journaled operations that touched fp, oldest
// first. It returns nil when history is disabled.
func (a *RackApp) CommitHistory(fp string) ([]*history.Operation, error) {
	if a.journal == nil {
		return nil, nil
	}
	return a.journal.ForFingerprint(fp)
}

// List returns every commit ordered by field.
func (a *RackApp) List(field string, desc bool) ([]*rack.Commit, error) {
	return a.service.List(field, desc)
}

// Search returns the commits matching every filter. No match is an
// ErrNotFound error.
func (a *RackApp) Search(filters rack.Tags) ([]*rack.Commit, error) {
	commits, err := a.service.Search(filters)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: no commits match %s", rack.ErrNotFound, filters.String())
	}
	return commits, nil
}

// Check reports inconsistencies between the index and the store.
func (a *RackApp) Check() (*rack.CheckReport, error) {
	return a.service.Check()
}

// Repair fixes what Check found where it safely can.
func (a *RackApp) Repair() (*rack.CheckReport, error) {
	if err := a.persistOperation(""); err != nil {
		return nil, err
	}
	report, err := a.service.Repair()
	a.op.Record("", err)
	return report, err
}

// History returns the most recent journaled operations.
func (a *RackApp) History(limit int) ([]*history.Operation, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("%w: history is disabled in %s", rack.ErrConfig, a.paths.Config)
	}
	return a.journal.List(limit)
}

// Close finalizes the journaled operation and closes all resources.
func (a *RackApp) Close() error {
	return a.closeResources()
}

func (a *RackApp) closeResources() error {
	var errs []error
	if a.journal != nil {
		if a.op.Persisted() {
			if err := a.journal.Finish(a.op.ID, a.op.Status, a.op.Fingerprint, a.op.Message); err != nil {
				errs = append(errs, fmt.Errorf("finishing operation: %w", err))
			}
		}
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
		a.journal = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return errors.Join(errs...)
}

// describe renders key/value pairs for the journal, skipping empty values.
func describe(kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			parts = append(parts, kv[i]+"="+kv[i+1])
		}
	}
	return strings.Join(parts, " ")
}
