package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rack-go/internal/rack"
)

// FileName is the name of the index document inside the store root.
const FileName = "index.json"

// FileIndex stores the catalog as one JSON object keyed by fingerprint.
// Saves go to a temp file in the same directory and are renamed over the
// old document, so readers see either the previous or the new catalog.
type FileIndex struct {
	path string
}

// NewFileIndex returns an index backed by the file at path. The file is not
// touched until Load or Save.
func NewFileIndex(path string) *FileIndex {
	return &FileIndex{path: path}
}

// Path returns the location of the index document.
func (x *FileIndex) Path() string { return x.path }

// Create writes an empty index unless one already exists.
func (x *FileIndex) Create() error {
	if _, err := os.Stat(x.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat index: %w", err)
	}
	return x.Save(rack.NewCatalog())
}

// Load reads and decodes the index document. A missing file is an error:
// an initialized project always has one.
func (x *FileIndex) Load() (*rack.Catalog, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return decode(data)
}

// Save encodes cat and atomically replaces the index document.
func (x *FileIndex) Save(cat *rack.Catalog) error {
	data, err := encode(cat)
	if err != nil {
		return err
	}
	return writeFileAtomic(x.path, data)
}

func decode(data []byte) (*rack.Catalog, error) {
	var doc map[string]*rack.Commit
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding index: %w", err)
		}
	}

	cat := rack.NewCatalog()
	for fp, commit := range doc {
		if commit == nil {
			continue
		}
		commit.Fingerprint = fp
		if commit.Tags == nil {
			commit.Tags = rack.Tags{}
		}
		cat.Put(commit)
	}
	return cat, nil
}

func encode(cat *rack.Catalog) ([]byte, error) {
	doc := make(map[string]*rack.Commit, cat.Len())
	for _, commit := range cat.Commits() {
		doc[commit.Fingerprint] = commit
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return append(data, '\n'), nil
}

// writeFileAtomic writes data to path using a temp file + rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileIndex implements rack.Index interface
var _ rack.Index = (*FileIndex)(nil)
