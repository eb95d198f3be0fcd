package rack

// Storage owns the commit directories under the store root.
// Every directory is keyed by fingerprint:
//
//	<root>/
//	  <fp>/            published commit
//	  .staging-<fp>/   commit being written
//	  .trash-<fp>/     commit being purged
//
// Moves between these locations are single renames, so a commit directory
// is either fully present under its final name or not at all.
type Storage interface {
	// Root returns the absolute path of the store root.
	Root() string

	// CommitDir returns the final location for fp. It does not check existence.
	CommitDir(fp string) string

	// HasCommit reports whether the final location for fp exists.
	HasCommit(fp string) (bool, error)

	// BeginStaging creates an empty staging directory for fp and returns its path.
	// Fails with ErrStorageConflict if the staging or final location already exists.
	BeginStaging(fp string) (string, error)

	// DiscardStaging removes the staging directory for fp recursively.
	// Removing a staging directory that does not exist is not an error.
	DiscardStaging(fp string) error

	// Publish renames the staging directory for fp to its final location.
	Publish(fp string) error

	// Unpublish moves a published commit back to staging. Used to roll back
	// a publish when the index could not be written.
	Unpublish(fp string) error

	// Rename moves the commit directory of oldFP to the final location of newFP.
	// Fails with ErrStorageConflict if the new location exists.
	Rename(oldFP, newFP string) error

	// Retire renames the commit directory of fp to its tombstone.
	Retire(fp string) error

	// Reinstate moves a tombstone back to the final location.
	Reinstate(fp string) error

	// Sweep deletes the tombstone of fp recursively.
	Sweep(fp string) error

	// Scan lists the fingerprints found in each location.
	Scan() (*StorageScan, error)
}

// StorageScan is the result of Storage.Scan. Each slice holds fingerprints, sorted.
type StorageScan struct {
	Commits []string
	Staging []string
	Retired []string
}
