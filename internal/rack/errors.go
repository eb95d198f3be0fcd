package rack

import (
	"errors"
	"fmt"
)

// Error kinds reported by the service. Callers test for them with errors.Is;
// the service always wraps them with context about the commit involved.
var (
	// ErrNotFound means the referenced fingerprint is absent from the index.
	ErrNotFound = errors.New("commit not found")

	// ErrDuplicateCommit means a commit with the same label and tags already exists.
	ErrDuplicateCommit = errors.New("duplicate commit")

	// ErrStorageConflict means a target storage location is already occupied,
	// or a rename would collide with an existing commit.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrStorageMissing means the index references storage that is not on disk.
	// This indicates external tampering or a crash during an earlier operation.
	ErrStorageMissing = errors.New("storage missing")

	// ErrConfig means a recognized configuration option is invalid or missing.
	ErrConfig = errors.New("configuration error")

	// ErrAborted means the operation honored a cancellation request.
	ErrAborted = errors.New("aborted by user")

	// ErrIO means an underlying filesystem or compression operation failed.
	ErrIO = errors.New("i/o failure")
)

// ioError wraps err so that it matches both ErrIO and the original cause.
func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Kind returns a short name for the error kind carried by err, or "error"
// when err does not wrap one of the known kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrDuplicateCommit):
		return "duplicate commit"
	case errors.Is(err, ErrStorageConflict):
		return "storage conflict"
	case errors.Is(err, ErrStorageMissing):
		return "storage missing"
	case errors.Is(err, ErrConfig):
		return "configuration error"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrIO):
		return "i/o failure"
	default:
		return "error"
	}
}
