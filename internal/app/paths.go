package app

import (
	"fmt"
	"os"
	"path/filepath"

	"rack-go/internal/history"
	"rack-go/internal/index"
	"rack-go/internal/rack"
)

// Project layout names.
const (
	DirName        = ".rack"
	ConfigFileName = "rack.toml"
	StoreDirName   = "store"
	LogDirName     = "log"
	LogFileName    = "rack.log"

	// ProjectEnv overrides project discovery with an explicit root.
	ProjectEnv = "RACK_PROJECT"
)

// Paths lists the absolute locations that make up a project.
type Paths struct {
	Root    string
	RackDir string
	Config  string
	Store   string
	Index   string
	History string
	LogDir  string
}

// NewPaths derives the project layout under root.
func NewPaths(root string) Paths {
	rackDir := filepath.Join(root, DirName)
	store := filepath.Join(rackDir, StoreDirName)
	return Paths{
		Root:    root,
		RackDir: rackDir,
		Config:  filepath.Join(rackDir, ConfigFileName),
		Store:   store,
		Index:   filepath.Join(store, index.FileName),
		History: filepath.Join(rackDir, history.FileName),
		LogDir:  filepath.Join(rackDir, LogDirName),
	}
}

// Resolve joins a configured path onto the project root unless it is absolute.
func (p Paths) Resolve(configured string) string {
	if configured == "" || filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(p.Root, configured)
}

// FindRoot locates the project containing start. RACK_PROJECT wins when set;
// otherwise the directory tree is walked upward until a directory holding
// .rack/rack.toml is found.
func FindRoot(start string) (string, error) {
	if env := os.Getenv(ProjectEnv); env != "" {
		root, err := filepath.Abs(env)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", ProjectEnv, err)
		}
		if !isProject(root) {
			return "", fmt.Errorf("%w: %s=%s is not a rack project", rack.ErrConfig, ProjectEnv, env)
		}
		return root, nil
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}
	for {
		if isProject(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no rack project found (run `rack init` first)", rack.ErrConfig)
		}
		dir = parent
	}
}

func isProject(root string) bool {
	info, err := os.Stat(filepath.Join(root, DirName, ConfigFileName))
	return err == nil && info.Mode().IsRegular()
}
