package testutil

import (
	"rack-go/internal/rack"
)

// FaultyStorage wraps a rack.Storage and fails selected operations.
// A nil error field passes the call through.
type FaultyStorage struct {
	rack.Storage

	PublishErr error
	RenameErr  error
	RetireErr  error
	SweepErr   error
}

func (f *FaultyStorage) Publish(fp string) error {
	if f.PublishErr != nil {
		return f.PublishErr
	}
	return f.Storage.Publish(fp)
}

func (f *FaultyStorage) Rename(oldFP, newFP string) error {
	if f.RenameErr != nil {
		return f.RenameErr
	}
	return f.Storage.Rename(oldFP, newFP)
}

func (f *FaultyStorage) Retire(fp string) error {
	if f.RetireErr != nil {
		return f.RetireErr
	}
	return f.Storage.Retire(fp)
}

func (f *FaultyStorage) Sweep(fp string) error {
	if f.SweepErr != nil {
		return f.SweepErr
	}
	return f.Storage.Sweep(fp)
}

// FaultyFilesystem wraps a rack.FilesystemManager and fails ClearDir.
type FaultyFilesystem struct {
	rack.FilesystemManager

	ClearErr error
}

func (f *FaultyFilesystem) ClearDir(dir string) error {
	if f.ClearErr != nil {
		return f.ClearErr
	}
	return f.FilesystemManager.ClearDir(dir)
}
