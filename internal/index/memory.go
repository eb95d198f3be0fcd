package index

import (
	"sync"

	"rack-go/internal/rack"
)

// MemoryIndex is an in-memory implementation of rack.Index for tests.
// It stores deep copies so callers cannot mutate the saved catalog
// without calling Save. Set FailSave to make the next saves fail.
type MemoryIndex struct {
	mu       sync.Mutex
	commits  []*rack.Commit
	saves    int
	FailSave error
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Load() (*rack.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cat := rack.NewCatalog()
	for _, c := range m.commits {
		cat.Put(c.Clone())
	}
	return cat, nil
}

func (m *MemoryIndex) Save(cat *rack.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSave != nil {
		return m.FailSave
	}
	m.commits = m.commits[:0]
	for _, c := range cat.Commits() {
		m.commits = append(m.commits, c.Clone())
	}
	m.saves++
	return nil
}

// Saves returns how many saves have succeeded.
func (m *MemoryIndex) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ rack.Index = (*MemoryIndex)(nil)
