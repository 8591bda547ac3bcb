// Package store provides persistence implementations for the
// checkpoint DAG: in-memory, file-tree, and embedded relational
// (SQLite and MySQL) backends, all satisfying the same Backend
// interface.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested checkpoint or branch id
// does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Record is the backend's wire representation of a checkpoint. It
// mirrors checkpoint.Record field-for-field but stays free of an
// import cycle on the checkpoint package by carrying the serialized
// state/metadata blobs rather than checkpoint.Value directly.
type Record struct {
	ID           string
	Timestamp    time.Time
	StateBlob    []byte
	MetadataBlob []byte
	Description  string
	LogicStep    string
	Branch       string
	ParentID     *string
	Status       string
	Fingerprint  string
}

// Branch is the backend's wire representation of a branch record.
type Branch struct {
	Name        string
	HeadID      *string
	CreatedFrom *string
	IsCurrent   bool
}

// Filter restricts the results of List. A zero-value Filter matches
// everything. Branch and Status are exact-match; From/To bound
// Timestamp inclusively when non-zero.
type Filter struct {
	Branch string
	Status string
	From   time.Time
	To     time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Branch != "" && r.Branch != f.Branch {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Backend is the durable key/sequence store of checkpoint records,
// indexed by id and branch. Every operation must be
// idempotent under identical inputs.
type Backend interface {
	// Put durably stores a checkpoint record by id.
	Put(ctx context.Context, rec Record) error

	// Get retrieves a checkpoint record by id. Returns ErrNotFound if
	// absent.
	Get(ctx context.Context, id string) (Record, error)

	// List returns checkpoints matching filter, ordered by
	// (Timestamp, insertion index) ascending.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// UpdateStatus transitions a checkpoint's status. Only
	// active -> rolled_back|merged transitions are valid; callers
	// are expected to have already validated the transition (the DAG
	// engine owns that rule), the backend just persists it.
	UpdateStatus(ctx context.Context, id string, newStatus string) error

	// PutBranch durably stores a branch record by name.
	PutBranch(ctx context.Context, b Branch) error

	// GetBranch retrieves a branch record by name. Returns
	// ErrNotFound if absent.
	GetBranch(ctx context.Context, name string) (Branch, error)

	// ListBranches returns all branch records.
	ListBranches(ctx context.Context) ([]Branch, error)

	// DeleteBranch removes a branch record by name.
	DeleteBranch(ctx context.Context, name string) error

	// Clear removes all state for this backend's agent/session
	// namespace.
	Clear(ctx context.Context) error

	// Close releases any resources (file handles, connections) held
	// by the backend. Safe to call multiple times.
	Close() error
}
