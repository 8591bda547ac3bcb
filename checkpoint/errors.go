package checkpoint

import (
	"errors"
	"fmt"
)

// Sentinel errors for the package's error taxonomy. Callers should
// test with errors.Is against these, not against the concrete wrapper
// types below (which carry extra context for error messages).
var (
	// ErrSerialization indicates a state or metadata payload contains
	// a value outside the admissible JSON-representable subset.
	ErrSerialization = errors.New("serialization error")

	// ErrStorage indicates the persistence backend rejected a write
	// or read. The in-memory DAG is left unmutated when this occurs
	// during a mutating operation.
	ErrStorage = errors.New("storage error")

	// ErrRollback indicates a rollback target does not exist or there
	// are fewer ancestors than the requested step count.
	ErrRollback = errors.New("rollback error")

	// ErrBranch indicates a branch name collision or an unknown
	// branch name.
	ErrBranch = errors.New("branch error")

	// ErrMerge indicates the source branch of a merge is unknown or
	// has no checkpoints.
	ErrMerge = errors.New("merge error")

	// ErrImport indicates an export document failed invariant
	// validation and the import was aborted.
	ErrImport = errors.New("import error")

	// ErrExecution wraps the last user-callable error once a
	// safe-executed call exhausts retries with no fallback, or the
	// fallback itself fails.
	ErrExecution = errors.New("execution error")

	// ErrCancelled is returned when a safe-executed call's retry
	// delay is interrupted by the caller's cancellation signal.
	ErrCancelled = errors.New("execution cancelled")

	// ErrNotFound indicates a checkpoint id passed to Diff, Get, or the
	// CLI's inspect/diff commands does not exist.
	ErrNotFound = errors.New("checkpoint not found")
)

// SerializationError reports why a payload could not be serialized.
type SerializationError struct {
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSerialization, e.Reason)
}

func (e *SerializationError) Unwrap() error { return ErrSerialization }

// StorageError reports a backend operation that failed.
type StorageError struct {
	Op     string
	Reason error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStorage, e.Op, e.Reason)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// RollbackError reports why a rollback could not be performed.
type RollbackError struct {
	Reason string
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v: %s", ErrRollback, e.Reason)
}

func (e *RollbackError) Unwrap() error { return ErrRollback }

// BranchError reports a branch-name conflict or lookup miss.
type BranchError struct {
	Name   string
	Reason string
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%v: branch %q: %s", ErrBranch, e.Name, e.Reason)
}

func (e *BranchError) Unwrap() error { return ErrBranch }

// MergeError reports why a merge could not complete.
type MergeError struct {
	Reason string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMerge, e.Reason)
}

func (e *MergeError) Unwrap() error { return ErrMerge }

// ImportError reports why an export document failed validation.
type ImportError struct {
	Reason string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%v: %s", ErrImport, e.Reason)
}

func (e *ImportError) Unwrap() error { return ErrImport }

// ExecutionError wraps the last error observed by safe_execute once
// every recovery option has been exhausted.
type ExecutionError struct {
	Last error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrExecution, e.Last)
}

func (e *ExecutionError) Unwrap() error { return errors.Join(ErrExecution, e.Last) }
