package testutil

import (
	"os"
	"path/filepath"
	"testing"

	rackfs "rack-go/internal/fs"
	"rack-go/internal/index"
	"rack-go/internal/rack"
	"rack-go/internal/storage"
)

// Fixture is a project on disk with the real index, storage layout and
// filesystem manager. Tests may replace any field before calling Service.
type Fixture struct {
	Root      string // project root
	Source    string // default capture directory, created empty
	RackDir   string // project metadata directory
	StoreRoot string

	Layout    *storage.Layout
	FileIndex *index.FileIndex

	Index     rack.Index
	Storage   rack.Storage
	FS        rack.FilesystemManager
	Encryptor rack.Encryptor
	Clock     *StubClock
	Options   rack.Options
}

// NewFixture lays out a fresh project in a temp directory:
//
//	<root>/.rack/store/index.json
//	<root>/logs-debug/
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	root := t.TempDir()
	rackDir := filepath.Join(root, ".rack")
	storeRoot := filepath.Join(rackDir, "store")

	layout, err := storage.NewLayout(storeRoot)
	if err != nil {
		t.Fatalf("creating layout: %v", err)
	}
	idx := index.NewFileIndex(filepath.Join(storeRoot, index.FileName))
	if err := idx.Create(); err != nil {
		t.Fatalf("creating index: %v", err)
	}

	source := filepath.Join(root, "logs-debug")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatalf("creating source dir: %v", err)
	}

	return &Fixture{
		Root:      root,
		Source:    source,
		RackDir:   rackDir,
		StoreRoot: layout.Root(),
		Layout:    layout,
		FileIndex: idx,
		Index:     idx,
		Storage:   layout,
		FS:        rackfs.NewOSFilesystemManager(rackDir),
		Clock:     FixedClock(),
		Options: rack.Options{
			ProjectRoot:       root,
			Mode:              rack.ModeFiles,
			PreserveStructure: true,
			Codec:             "zstd",
			Level:             3,
			MetadataDir:       rackDir,
		},
	}
}

// Service builds a rack.Service from the fixture's current fields.
func (f *Fixture) Service(t *testing.T) *rack.Service {
	t.Helper()
	svc, err := rack.NewService(f.Index, f.Storage, f.FS, f.Encryptor, rack.NewNopLogger(), f.Clock, f.Options)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

// Catalog loads the current index.
func (f *Fixture) Catalog(t *testing.T) *rack.Catalog {
	t.Helper()
	cat, err := f.Index.Load()
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	return cat
}

// StoreEntries lists the entries of the store root other than the index file.
func (f *Fixture) StoreEntries(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, name := range ListDir(t, f.StoreRoot) {
		if name != index.FileName {
			out = append(out, name)
		}
	}
	return out
}
