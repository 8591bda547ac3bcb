package store

import (
	"context"
	"testing"
)

func TestMemoryBackendConformance(t *testing.T) {
	assertBackendConformance(t, NewMemoryBackend())
}

func TestMemoryBackendAlwaysStartsEmpty(t *testing.T) {
	b := NewMemoryBackend()
	branches, err := b.ListBranches(context.Background())
	if err != nil {
		t.Fatalf("ListBranches() error = %v", err)
	}
	if len(branches) != 0 {
		t.Fatalf("expected a freshly constructed MemoryBackend to hold no branches, got %d", len(branches))
	}
}
