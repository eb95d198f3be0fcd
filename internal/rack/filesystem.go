package rack

// SourceFile is a regular file selected for capture.
type SourceFile struct {
	// AbsPath is the file's absolute path on disk.
	AbsPath string
	// RelPath is the path relative to the capture root, using OS separators.
	RelPath string
	// Size is the size in bytes at enumeration time.
	Size int64
}

// Matcher decides whether a path relative to the capture root is excluded.
type Matcher interface {
	Match(relativePath string) bool
}

// FilesystemManager abstracts enumeration and clearing of source directories.
type FilesystemManager interface {
	// ResolveDir returns the absolute form of rawPath, failing unless it is an existing directory.
	ResolveDir(rawPath string) (string, error)

	// FindFiles recursively lists regular files under root that exclude does not match.
	// Symlinks, devices and other special files are skipped.
	FindFiles(root string, exclude Matcher) ([]SourceFile, error)

	// ClearDir removes the contents of dir but keeps dir itself.
	ClearDir(dir string) error
}
