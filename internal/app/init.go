package app

import (
	"fmt"
	"os"
	"path/filepath"

	"rack-go/internal/config"
	"rack-go/internal/history"
	"rack-go/internal/index"
	"rack-go/internal/rack"
	"rack-go/internal/storage"
)

// Init creates an empty project in dir: the config with a fresh store ID,
// the store with an empty index, and the history journal when enabled.
// An existing .rack directory is never touched.
func Init(dir string) (Paths, *config.Config, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return Paths{}, nil, fmt.Errorf("resolving project directory: %w", err)
	}
	paths := NewPaths(root)

	if _, err := os.Lstat(paths.RackDir); err == nil {
		return Paths{}, nil, fmt.Errorf("%w: %s already exists", rack.ErrConfig, paths.RackDir)
	} else if !os.IsNotExist(err) {
		return Paths{}, nil, fmt.Errorf("checking %s: %w: %w", paths.RackDir, rack.ErrIO, err)
	}
	if err := os.Mkdir(paths.RackDir, 0755); err != nil {
		return Paths{}, nil, fmt.Errorf("creating %s: %w: %w", paths.RackDir, rack.ErrIO, err)
	}

	cfg := config.NewConfig()
	if err := initProject(paths, cfg); err != nil {
		os.RemoveAll(paths.RackDir)
		return Paths{}, nil, err
	}
	return paths, cfg, nil
}

func initProject(paths Paths, cfg *config.Config) error {
	if err := config.Init(paths.Config, cfg); err != nil {
		return fmt.Errorf("%w: %w", rack.ErrIO, err)
	}
	if _, err := storage.NewLayout(paths.Store); err != nil {
		return fmt.Errorf("%w: %w", rack.ErrIO, err)
	}
	if err := index.NewFileIndex(paths.Index).Create(); err != nil {
		return fmt.Errorf("%w: %w", rack.ErrIO, err)
	}

	if !cfg.History.Enabled {
		return nil
	}
	journal, err := history.Open(paths.History, nil)
	if err != nil {
		return fmt.Errorf("creating history: %w", err)
	}
	defer journal.Close()

	id, err := journal.Start("init", "store_id="+cfg.StoreID)
	if err != nil {
		return err
	}
	return journal.Finish(id, history.StatusSuccess, "", "")
}
