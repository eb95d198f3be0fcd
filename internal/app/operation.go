package app

import (
	"errors"

	"rack-go/internal/history"
	"rack-go/internal/rack"
)

// Operation tracks the CLI command being run. It lives in memory with ID=0
// until a mutating command persists it to the journal.
type Operation struct {
	ID          int64
	Name        string
	Parameters  string
	Status      string
	Fingerprint string
	Message     string
}

// NewOperation creates an in-memory operation that succeeds unless told otherwise.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     history.StatusSuccess,
	}
}

// Persisted reports whether the operation has a journal row.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record notes the outcome of the command. A nil err keeps the current status.
func (op *Operation) Record(fingerprint string, err error) {
	if fingerprint != "" {
		op.Fingerprint = fingerprint
	}
	if err == nil {
		return
	}
	op.Status = history.StatusError
	if errors.Is(err, rack.ErrAborted) {
		op.Status = history.StatusAborted
	}
	op.Message = err.Error()
}
