package rack

// Index provides durable storage for the commit catalog.
// The whole document is read by Load and replaced by Save; there are no
// partial or append writes. Callers need exclusive access for the duration
// of an operation.
type Index interface {
	// Load reads the current catalog.
	Load() (*Catalog, error)

	// Save replaces the stored catalog with cat.
	Save(cat *Catalog) error
}
