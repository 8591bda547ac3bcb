package store

import (
	"context"
	"testing"
	"time"
)

// assertBackendConformance runs the same sequence of operations against
// any Backend implementation, so memory, file-tree, and relational
// backends are all held to the same observable behavior.
func assertBackendConformance(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ID:          "cp1",
		Timestamp:   now,
		StateBlob:   []byte(`{"step":"one"}`),
		MetadataBlob: []byte(`{}`),
		Description: "first",
		LogicStep:   "gather",
		Branch:      "main",
		Status:      "active",
		Fingerprint: "sha256:abc",
	}
	if err := b.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := b.Get(ctx, "cp1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Description != "first" || got.Branch != "main" {
		t.Fatalf("Get() = %#v, want description=first branch=main", got)
	}

	if _, err := b.Get(ctx, "missing"); err == nil {
		t.Fatalf("Get() on a missing id should return an error")
	}

	rec2 := rec
	rec2.ID = "cp2"
	rec2.Timestamp = now.Add(time.Minute)
	rec2.Description = "second"
	if err := b.Put(ctx, rec2); err != nil {
		t.Fatalf("Put() second record error = %v", err)
	}

	list, err := b.List(ctx, Filter{Branch: "main"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "cp1" || list[1].ID != "cp2" {
		t.Fatalf("List() = %#v, want [cp1, cp2] in timestamp order", list)
	}

	if err := b.UpdateStatus(ctx, "cp1", "rolled_back"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, err = b.Get(ctx, "cp1")
	if err != nil {
		t.Fatalf("Get() after UpdateStatus error = %v", err)
	}
	if got.Status != "rolled_back" {
		t.Fatalf("Get().Status = %q, want rolled_back", got.Status)
	}

	headID := "cp2"
	branch := Branch{Name: "main", HeadID: &headID, IsCurrent: true}
	if err := b.PutBranch(ctx, branch); err != nil {
		t.Fatalf("PutBranch() error = %v", err)
	}
	gotBranch, err := b.GetBranch(ctx, "main")
	if err != nil {
		t.Fatalf("GetBranch() error = %v", err)
	}
	if gotBranch.HeadID == nil || *gotBranch.HeadID != "cp2" {
		t.Fatalf("GetBranch().HeadID = %v, want cp2", gotBranch.HeadID)
	}

	branches, err := b.ListBranches(ctx)
	if err != nil {
		t.Fatalf("ListBranches() error = %v", err)
	}
	if len(branches) != 1 || branches[0].Name != "main" {
		t.Fatalf("ListBranches() = %#v, want one branch named main", branches)
	}

	if err := b.DeleteBranch(ctx, "main"); err != nil {
		t.Fatalf("DeleteBranch() error = %v", err)
	}
	if _, err := b.GetBranch(ctx, "main"); err == nil {
		t.Fatalf("GetBranch() after DeleteBranch should return an error")
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := b.Get(ctx, "cp2"); err == nil {
		t.Fatalf("Get() after Clear should return an error")
	}
}
