package checkpoint

import (
	"errors"
	"testing"
)

func TestWrapperErrorsUnwrapToSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"SerializationError", &SerializationError{Reason: "x"}, ErrSerialization},
		{"StorageError", &StorageError{Op: "put", Reason: errors.New("disk full")}, ErrStorage},
		{"RollbackError", &RollbackError{Reason: "x"}, ErrRollback},
		{"BranchError", &BranchError{Name: "b", Reason: "x"}, ErrBranch},
		{"MergeError", &MergeError{Reason: "x"}, ErrMerge},
		{"ImportError", &ImportError{Reason: "x"}, ErrImport},
	}
	for _, c := range cases {
		if !errors.Is(c.err, c.sentinel) {
			t.Errorf("%s: errors.Is(err, sentinel) = false, want true", c.name)
		}
	}
}

func TestExecutionErrorUnwrapsToBothSentinelAndLast(t *testing.T) {
	last := errors.New("llm call failed")
	err := &ExecutionError{Last: last}
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("errors.Is(err, ErrExecution) = false, want true")
	}
	if !errors.Is(err, last) {
		t.Fatalf("errors.Is(err, last) = false, want true")
	}
}
