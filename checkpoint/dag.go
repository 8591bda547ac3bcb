package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haldane-ai/checkpoint-go/checkpoint/store"
)

// DAG is the in-memory model of the reasoning DAG: creation, HEAD,
// branches, traversal, diff, and merge. It holds a complete cache of
// every checkpoint and branch record, kept write-through consistent
// with the configured Backend.
//
// A DAG is single-writer: Checkpoint, Rollback, NewBranch,
// SwitchBranch, and Merge all take the write lock; History, Diff, and
// VisualizeTree take the read lock and observe a consistent snapshot.
type DAG struct {
	mu sync.RWMutex

	backend    store.Backend
	serializer Serializer

	records  map[string]Record
	order    []string // creation order of every record seen, for History(all branches)
	branches map[string]BranchRecord
	current  string
}

// NewDAG constructs a DAG over backend, reusing whatever checkpoints
// and branches the backend already holds, so reopening an existing
// store picks up where it left off. If the backend is empty, main is
// created fresh.
func NewDAG(ctx context.Context, backend store.Backend, serializer Serializer) (*DAG, error) {
	d := &DAG{
		backend:    backend,
		serializer: serializer,
		records:    make(map[string]Record),
		branches:   make(map[string]BranchRecord),
	}

	storedBranches, err := backend.ListBranches(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list_branches", Reason: err}
	}
	storedRecords, err := backend.List(ctx, store.Filter{})
	if err != nil {
		return nil, &StorageError{Op: "list", Reason: err}
	}

	for _, sr := range storedRecords {
		rec, err := d.decodeRecord(sr)
		if err != nil {
			return nil, err
		}
		d.records[rec.ID] = rec
		d.order = append(d.order, rec.ID)
	}
	sort.SliceStable(d.order, func(i, j int) bool {
		return d.records[d.order[i]].Timestamp.Before(d.records[d.order[j]].Timestamp)
	})

	if len(storedBranches) == 0 {
		main := BranchRecord{Name: MainBranch, IsCurrent: true}
		if err := backend.PutBranch(ctx, toStoreBranch(main)); err != nil {
			return nil, &StorageError{Op: "put_branch", Reason: err}
		}
		d.branches[MainBranch] = main
		d.current = MainBranch
		return d, nil
	}

	for _, sb := range storedBranches {
		br := fromStoreBranch(sb)
		d.branches[br.Name] = br
		if br.IsCurrent {
			d.current = br.Name
		}
	}
	if d.current == "" {
		// Defensive repair: no branch was marked current (should not
		// happen under invariant 1). main becomes current.
		main := d.branches[MainBranch]
		main.IsCurrent = true
		d.branches[MainBranch] = main
		d.current = MainBranch
		if err := backend.PutBranch(ctx, toStoreBranch(main)); err != nil {
			return nil, &StorageError{Op: "put_branch", Reason: err}
		}
	}
	return d, nil
}

func (d *DAG) decodeRecord(sr store.Record) (Record, error) {
	state, err := DecodeValue(d.serializer, sr.StateBlob)
	if err != nil {
		return Record{}, &SerializationError{Reason: err.Error()}
	}
	meta, err := DecodeValue(d.serializer, sr.MetadataBlob)
	if err != nil {
		return Record{}, &SerializationError{Reason: err.Error()}
	}
	return Record{
		ID:          sr.ID,
		Timestamp:   sr.Timestamp,
		State:       state,
		Metadata:    meta,
		Description: sr.Description,
		LogicStep:   sr.LogicStep,
		Branch:      sr.Branch,
		ParentID:    sr.ParentID,
		Status:      Status(sr.Status),
		Fingerprint: sr.Fingerprint,
	}, nil
}

func toStoreRecord(r Record, serializer Serializer) (store.Record, error) {
	stateBlob, err := EncodeValue(serializer, r.State)
	if err != nil {
		return store.Record{}, &SerializationError{Reason: err.Error()}
	}
	metaBlob, err := EncodeValue(serializer, r.Metadata)
	if err != nil {
		return store.Record{}, &SerializationError{Reason: err.Error()}
	}
	return store.Record{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		StateBlob:    stateBlob,
		MetadataBlob: metaBlob,
		Description:  r.Description,
		LogicStep:    r.LogicStep,
		Branch:       r.Branch,
		ParentID:     r.ParentID,
		Status:       string(r.Status),
		Fingerprint:  r.Fingerprint,
	}, nil
}

func toStoreBranch(b BranchRecord) store.Branch {
	return store.Branch{Name: b.Name, HeadID: b.HeadID, CreatedFrom: b.CreatedFrom, IsCurrent: b.IsCurrent}
}

func fromStoreBranch(b store.Branch) BranchRecord {
	return BranchRecord{Name: b.Name, HeadID: b.HeadID, CreatedFrom: b.CreatedFrom, IsCurrent: b.IsCurrent}
}

// CurrentBranch returns the name of the branch currently checked out.
func (d *DAG) CurrentBranch() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Checkpoint creates a new node whose parent is the current branch's
// head (or nil if the branch is empty), stores it through the
// backend, and advances the branch head. A SerializationError aborts
// before any mutation, and a StorageError leaves the in-memory DAG
// untouched.
func (d *DAG) Checkpoint(ctx context.Context, state, metadata Value, description, logicStep string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.branches[d.current]
	rec := Record{
		ID:          newID(),
		Timestamp:   time.Now(),
		State:       state,
		Metadata:    metadata,
		Description: description,
		LogicStep:   logicStep,
		Branch:      d.current,
		ParentID:    cur.HeadID,
		Status:      StatusActive,
		Fingerprint: d.serializer.Fingerprint(state, metadata, logicStep),
	}

	sr, err := toStoreRecord(rec, d.serializer)
	if err != nil {
		return Record{}, err // SerializationError, nothing mutated
	}
	if err := d.backend.Put(ctx, sr); err != nil {
		return Record{}, &StorageError{Op: "checkpoint", Reason: err}
	}

	cur.HeadID = &rec.ID
	if err := d.backend.PutBranch(ctx, toStoreBranch(cur)); err != nil {
		return Record{}, &StorageError{Op: "checkpoint", Reason: err}
	}

	d.records[rec.ID] = rec
	d.order = append(d.order, rec.ID)
	d.branches[d.current] = cur
	return rec, nil
}

// ancestorChain walks parent_id links from id (inclusive) to the
// root, returning ids in head-to-root order.
func (d *DAG) ancestorChain(id string) []string {
	chain := []string{id}
	cur := id
	for {
		rec, ok := d.records[cur]
		if !ok || rec.ParentID == nil {
			return chain
		}
		chain = append(chain, *rec.ParentID)
		cur = *rec.ParentID
	}
}

// RollbackOptions selects one of the two Rollback forms: a step count
// from the current head, or a direct target id (which may resolve
// onto a different branch).
type RollbackOptions struct {
	// Steps walks up Steps ancestors from the current branch's head.
	// Defaults to 1 when zero and ToCheckpointID is empty.
	Steps int
	// ToCheckpointID rolls back directly to the named checkpoint,
	// switching the current branch if the target belongs to another
	// one.
	ToCheckpointID string
}

// Rollback walks up the DAG and marks every traversed checkpoint
// rolled_back. For the to_checkpoint_id form, every checkpoint
// strictly between the source head and the target on the walked path
// is marked, even when that path crosses into another branch — the
// target's own branch becomes current.
func (d *DAG) Rollback(ctx context.Context, opts RollbackOptions) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.branches[d.current]
	if cur.HeadID == nil {
		return Record{}, &RollbackError{Reason: "current branch has no checkpoints"}
	}
	headID := *cur.HeadID

	var path []string   // ids to mark rolled_back, head-first
	var target Record   // new head after rollback
	var targetBranch string

	if opts.ToCheckpointID != "" {
		targetRec, ok := d.records[opts.ToCheckpointID]
		if !ok {
			return Record{}, &RollbackError{Reason: fmt.Sprintf("unknown checkpoint %q", opts.ToCheckpointID)}
		}
		chain := d.ancestorChain(headID)
		idx := -1
		for i, id := range chain {
			if id == opts.ToCheckpointID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Record{}, &RollbackError{Reason: fmt.Sprintf("%q is not an ancestor of the current head", opts.ToCheckpointID)}
		}
		path = chain[:idx]
		target = targetRec
		targetBranch = targetRec.Branch
	} else {
		steps := opts.Steps
		if steps == 0 {
			steps = 1
		}
		chain := d.ancestorChain(headID)
		if steps >= len(chain) {
			return Record{}, &RollbackError{Reason: fmt.Sprintf("fewer than %d ancestors available", steps)}
		}
		path = chain[:steps]
		target = d.records[chain[steps]]
		targetBranch = d.current
	}

	for _, id := range path {
		if err := d.backend.UpdateStatus(ctx, id, string(StatusRolledBack)); err != nil {
			return Record{}, &StorageError{Op: "rollback", Reason: err}
		}
	}
	for _, id := range path {
		rec := d.records[id]
		rec.Status = StatusRolledBack
		d.records[id] = rec
	}

	if targetBranch != d.current {
		prev := d.branches[d.current]
		prev.IsCurrent = false
		next := d.branches[targetBranch]
		next.IsCurrent = true
		next.HeadID = &target.ID
		if err := d.backend.PutBranch(ctx, toStoreBranch(prev)); err != nil {
			return Record{}, &StorageError{Op: "rollback", Reason: err}
		}
		if err := d.backend.PutBranch(ctx, toStoreBranch(next)); err != nil {
			return Record{}, &StorageError{Op: "rollback", Reason: err}
		}
		d.branches[d.current] = prev
		d.branches[targetBranch] = next
		d.current = targetBranch
	} else {
		cur.HeadID = &target.ID
		if err := d.backend.PutBranch(ctx, toStoreBranch(cur)); err != nil {
			return Record{}, &StorageError{Op: "rollback", Reason: err}
		}
		d.branches[d.current] = cur
	}

	return target, nil
}

// NewBranch creates a new branch forked from the current head and
// switches to it. The new branch starts with the same head id, since
// forks share history.
func (d *DAG) NewBranch(ctx context.Context, name string) (BranchRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.branches[name]; exists {
		return BranchRecord{}, &BranchError{Name: name, Reason: "already exists"}
	}

	cur := d.branches[d.current]
	next := BranchRecord{Name: name, HeadID: cur.HeadID, CreatedFrom: cur.HeadID, IsCurrent: true}
	cur.IsCurrent = false

	if err := d.backend.PutBranch(ctx, toStoreBranch(cur)); err != nil {
		return BranchRecord{}, &StorageError{Op: "branch", Reason: err}
	}
	if err := d.backend.PutBranch(ctx, toStoreBranch(next)); err != nil {
		return BranchRecord{}, &StorageError{Op: "branch", Reason: err}
	}

	d.branches[d.current] = cur
	d.branches[name] = next
	d.current = name
	return next, nil
}

// SwitchBranch updates the current-branch cursor.
func (d *DAG) SwitchBranch(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.branches[name]
	if !ok {
		return &BranchError{Name: name, Reason: "unknown branch"}
	}
	if name == d.current {
		return nil
	}

	cur := d.branches[d.current]
	cur.IsCurrent = false
	target.IsCurrent = true

	if err := d.backend.PutBranch(ctx, toStoreBranch(cur)); err != nil {
		return &StorageError{Op: "switch_branch", Reason: err}
	}
	if err := d.backend.PutBranch(ctx, toStoreBranch(target)); err != nil {
		return &StorageError{Op: "switch_branch", Reason: err}
	}

	d.branches[d.current] = cur
	d.branches[name] = target
	d.current = name
	return nil
}

// Merge produces a merge checkpoint on the current branch whose state
// is derived from the source branch's head according to strategy.
// Both predecessors' status becomes merged on success.
func (d *DAG) Merge(ctx context.Context, sourceBranch string, strategy MergeStrategy) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	source, ok := d.branches[sourceBranch]
	if !ok {
		return Record{}, &MergeError{Reason: fmt.Sprintf("unknown branch %q", sourceBranch)}
	}
	if source.HeadID == nil {
		return Record{}, &MergeError{Reason: fmt.Sprintf("branch %q has no checkpoints", sourceBranch)}
	}
	cur := d.branches[d.current]
	if cur.HeadID == nil {
		return Record{}, &MergeError{Reason: "current branch has no checkpoints"}
	}

	sourceHead := d.records[*source.HeadID]
	targetHead := d.records[*cur.HeadID]

	mergedState := mergeState(strategy, targetHead, sourceHead)
	metaMap := map[string]Value{"merged_from": StrValue(sourceHead.ID)}
	metadata := MapValue(metaMap)

	rec := Record{
		ID:          newID(),
		Timestamp:   time.Now(),
		State:       mergedState,
		Metadata:    metadata,
		Description: fmt.Sprintf("merge %s into %s", sourceBranch, d.current),
		LogicStep:   "merge",
		Branch:      d.current,
		ParentID:    cur.HeadID,
		Status:      StatusActive,
	}
	rec.Fingerprint = d.serializer.Fingerprint(rec.State, rec.Metadata, rec.LogicStep)

	sr, err := toStoreRecord(rec, d.serializer)
	if err != nil {
		return Record{}, err
	}
	if err := d.backend.Put(ctx, sr); err != nil {
		return Record{}, &StorageError{Op: "merge", Reason: err}
	}
	if err := d.backend.UpdateStatus(ctx, sourceHead.ID, string(StatusMerged)); err != nil {
		return Record{}, &StorageError{Op: "merge", Reason: err}
	}
	if err := d.backend.UpdateStatus(ctx, targetHead.ID, string(StatusMerged)); err != nil {
		return Record{}, &StorageError{Op: "merge", Reason: err}
	}
	cur.HeadID = &rec.ID
	if err := d.backend.PutBranch(ctx, toStoreBranch(cur)); err != nil {
		return Record{}, &StorageError{Op: "merge", Reason: err}
	}

	sourceHead.Status = StatusMerged
	targetHead.Status = StatusMerged
	d.records[sourceHead.ID] = sourceHead
	d.records[targetHead.ID] = targetHead
	d.records[rec.ID] = rec
	d.order = append(d.order, rec.ID)
	d.branches[d.current] = cur
	return rec, nil
}

func mergeState(strategy MergeStrategy, target, source Record) Value {
	switch strategy {
	case StrategyPreferHigherConfidence:
		if source.Confidence() > target.Confidence() {
			return source.State
		}
		return target.State
	case StrategyPreferSource:
		return source.State
	case StrategyPreferTarget:
		return target.State
	case StrategyCombine:
		merged := map[string]Value{}
		if source.State.Kind == KindMap {
			for k, v := range source.State.Map {
				merged[k] = v
			}
		}
		if target.State.Kind == KindMap {
			for k, v := range target.State.Map {
				merged[k] = v
			}
		}
		return MapValue(merged)
	default:
		return target.State
	}
}

// Diff performs a key-wise comparison of two checkpoints' state
// mappings.
func (d *DAG) Diff(idA, idB string) (DiffResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.records[idA]
	if !ok {
		return DiffResult{}, fmt.Errorf("%w: %s", ErrNotFound, idA)
	}
	b, ok := d.records[idB]
	if !ok {
		return DiffResult{}, fmt.Errorf("%w: %s", ErrNotFound, idB)
	}

	aMap := map[string]Value{}
	if a.State.Kind == KindMap {
		aMap = a.State.Map
	}
	bMap := map[string]Value{}
	if b.State.Kind == KindMap {
		bMap = b.State.Map
	}

	result := DiffResult{
		Added:    map[string]Value{},
		Removed:  map[string]Value{},
		Modified: map[string]ModifiedValue{},
	}
	for k, v := range bMap {
		if _, ok := aMap[k]; !ok {
			result.Added[k] = v
		}
	}
	for k, v := range aMap {
		if _, ok := bMap[k]; !ok {
			result.Removed[k] = v
		}
	}
	for k, av := range aMap {
		if bv, ok := bMap[k]; ok && !av.Equal(bv) {
			result.Modified[k] = ModifiedValue{Old: av, New: bv}
		}
	}
	return result, nil
}

// Get returns a single checkpoint record by id.
func (d *DAG) Get(id string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// History returns checkpoints on branch (or every branch, if empty)
// in timestamp-ascending order, truncated to limit. limit <= 0 means
// unlimited.
func (d *DAG) History(limit int, branch string) []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.order))
	for _, id := range d.order {
		rec := d.records[id]
		if branch == "" || rec.Branch == branch {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// statusGlyph renders the single-rune marker VisualizeTree uses for a
// checkpoint's status.
func statusGlyph(s Status) string {
	switch s {
	case StatusRolledBack:
		return "✗"
	case StatusMerged:
		return "⇄"
	default:
		return "●"
	}
}

// shortID truncates id to the first 8 characters VisualizeTree
// renders; ids are already 8 characters from newID(), but this stays
// defensive against longer ids (e.g. imported from another id scheme).
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// VisualizeTree renders every checkpoint as one line, ordered by
// creation, indented by depth in the parent_id chain. The exact
// layout is not a compatibility surface — it exists for interactive
// and CLI use, not machine parsing.
func (d *DAG) VisualizeTree() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	depth := make(map[string]int, len(d.records))
	var out string
	for _, id := range d.order {
		rec := d.records[id]
		dep := 0
		if rec.ParentID != nil {
			dep = depth[*rec.ParentID] + 1
		}
		depth[id] = dep

		indent := ""
		for i := 0; i < dep; i++ {
			indent += "  "
		}
		desc := rec.Description
		if len(desc) > 48 {
			desc = desc[:45] + "..."
		}
		out += fmt.Sprintf("%s%s [%s] %s (%s)\n", indent, statusGlyph(rec.Status), shortID(rec.ID), desc, rec.Branch)
	}
	return out
}

// Branches returns every branch record, sorted by name.
func (d *DAG) Branches() []BranchRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]BranchRecord, 0, len(d.branches))
	for _, b := range d.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
