// Package history records every mutating rack command in a SQLite journal
// kept next to the store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"rack-go/internal/history/migrations"
	"rack-go/internal/rack"
)

// FileName is the journal database inside the project's .rack directory.
const FileName = "history.db"

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusAborted = "aborted"
)

// Operation is one journal row.
type Operation struct {
	ID          int64
	Operation   string
	Parameters  string
	Status      string
	Fingerprint string
	Message     string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
}

// Finished reports whether the operation reached a final status.
func (o *Operation) Finished() bool {
	return o.FinishedAt.Valid
}

// Journal is the SQLite-backed operation journal.
type Journal struct {
	db    *sql.DB
	path  string
	clock rack.Clock
}

// Open opens the journal at path, creating and migrating it as needed.
// path may be ":memory:". A nil clock uses the wall clock.
func Open(path string, clock rack.Clock) (*Journal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	if clock == nil {
		clock = rack.RealClock{}
	}
	return &Journal{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens a SQLite connection configured for the journal.
// The pool is limited to one connection: the journal is written by a single
// command at a time, and an in-memory database exists per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring journal: %w", err)
	}
	return db, nil
}

// Start records a new running operation and returns its ID.
func (j *Journal) Start(operation, parameters string) (int64, error) {
	res, err := j.db.ExecContext(context.Background(),
		`INSERT INTO operations (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)`,
		operation, parameters, StatusRunning, j.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("recording operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// Finish sets the final status of operation id. fingerprint is the commit
// the operation produced or acted on, if any; message holds the error text
// for failed operations.
func (j *Journal) Finish(id int64, status, fingerprint, message string) error {
	res, err := j.db.ExecContext(context.Background(),
		`UPDATE operations SET status = ?, fingerprint = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, fingerprint, message, j.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing operation %d: no such operation", id)
	}
	return nil
}

// List returns up to limit operations, newest first. A limit of zero or
// less returns every operation.
func (j *Journal) List(limit int) ([]*Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(context.Background(),
		`SELECT id, operation, parameters, status, fingerprint, message, started_at, finished_at
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return scanOperations(rows)
}

// ForFingerprint returns the operations that touched fp, oldest first.
func (j *Journal) ForFingerprint(fp string) ([]*Operation, error) {
	rows, err := j.db.QueryContext(context.Background(),
		`SELECT id, operation, parameters, status, fingerprint, message, started_at, finished_at
		 FROM operations WHERE fingerprint = ? ORDER BY id`, fp)
	if err != nil {
		return nil, fmt.Errorf("listing operations for %s: %w", fp, err)
	}
	return scanOperations(rows)
}

func scanOperations(rows *sql.Rows) ([]*Operation, error) {
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.Fingerprint, &op.Message, &op.StartedAt, &op.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading operations: %w", err)
	}
	return ops, nil
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
