package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileTreeBackend is a directory-rooted Backend implementation.
//
// Layout:
//
//	<root>/
//	  index.json            {"ids":[...creation order...],"version":1}
//	  checkpoints/<id>.json  one checkpoint record, canonical keys
//	  branches/<name>.json   {"name","head_id","created_from","is_current"}
//
// Writes are atomic: each file is written to a temp sibling and
// renamed into place, so a crash mid-write never leaves a partial
// file visible under its real name. Directory creation is lazy; the
// root, checkpoints/, and branches/ directories are created on first
// Put/PutBranch rather than at construction time.
type FileTreeBackend struct {
	mu   sync.Mutex
	root string

	watcher *fsnotify.Watcher
	events  chan struct{}

	// Repaired is set once, at construction, if index.json disagreed
	// with the checkpoint files on disk and had to be rebuilt. Callers
	// can surface it as a one-time warning when opening a session.
	Repaired bool
}

type indexDoc struct {
	IDs     []string `json:"ids"`
	Version int      `json:"version"`
}

type branchFile struct {
	Name        string  `json:"name"`
	HeadID      *string `json:"head_id"`
	CreatedFrom *string `json:"created_from"`
	IsCurrent   bool    `json:"is_current"`
}

type checkpointFile struct {
	ID          string          `json:"id"`
	Timestamp   string          `json:"timestamp"`
	State       json.RawMessage `json:"state"`
	Metadata    json.RawMessage `json:"metadata"`
	Description string          `json:"description"`
	LogicStep   string          `json:"logic_step"`
	Branch      string          `json:"branch"`
	ParentID    *string         `json:"parent_id"`
	Status      string          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
}

// NewFileTreeBackend opens (or creates) a file-tree backend rooted at
// path. If index.json exists but disagrees with the files actually
// present under checkpoints/, the index is repaired in place rather
// than treated as fatal.
func NewFileTreeBackend(root string) (*FileTreeBackend, error) {
	b := &FileTreeBackend{root: root}
	if err := b.repairIndexIfNeeded(); err != nil {
		return nil, &StorageErr{Op: "open", Err: err}
	}
	return b, nil
}

func (b *FileTreeBackend) checkpointsDir() string { return filepath.Join(b.root, "checkpoints") }
func (b *FileTreeBackend) branchesDir() string     { return filepath.Join(b.root, "branches") }
func (b *FileTreeBackend) indexPath() string       { return filepath.Join(b.root, "index.json") }

func (b *FileTreeBackend) ensureDirs() error {
	if err := os.MkdirAll(b.checkpointsDir(), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(b.branchesDir(), 0o755); err != nil {
		return err
	}
	return nil
}

// repairIndexIfNeeded rebuilds index.json from the checkpoint files
// actually present whenever the store is reopened and the two
// disagree, rather than failing the open.
func (b *FileTreeBackend) repairIndexIfNeeded() error {
	if _, err := os.Stat(b.root); os.IsNotExist(err) {
		return nil // lazy creation: nothing to repair yet
	}

	entries, err := os.ReadDir(b.checkpointsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	present := make(map[string]os.FileInfo, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		info, err := e.Info()
		if err != nil {
			return err
		}
		present[id] = info
		order = append(order, id)
	}

	idx, err := b.readIndex()
	if err != nil {
		return err
	}

	needsRepair := idx == nil || len(idx.IDs) != len(present)
	if idx != nil && !needsRepair {
		for _, id := range idx.IDs {
			if _, ok := present[id]; !ok {
				needsRepair = true
				break
			}
		}
	}
	if !needsRepair {
		return nil
	}

	sort.Slice(order, func(i, j int) bool {
		return present[order[i]].ModTime().Before(present[order[j]].ModTime())
	})
	b.Repaired = true
	return b.writeIndex(indexDoc{IDs: order, Version: 1})
}

func (b *FileTreeBackend) readIndex() (*indexDoc, error) {
	data, err := os.ReadFile(b.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *FileTreeBackend) writeIndex(doc indexDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(b.root, b.indexPath(), data)
}

// atomicWrite writes data to path via a temp file in dir followed by
// a rename, so a crash mid-write never leaves a torn file at path.
func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

func (b *FileTreeBackend) Put(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureDirs(); err != nil {
		return &StorageErr{Op: "put", Err: err}
	}

	cf := checkpointFile{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp.Format(timeLayout),
		State:       rec.StateBlob,
		Metadata:    rec.MetadataBlob,
		Description: rec.Description,
		LogicStep:   rec.LogicStep,
		Branch:      rec.Branch,
		ParentID:    rec.ParentID,
		Status:      rec.Status,
		Fingerprint: rec.Fingerprint,
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	path := filepath.Join(b.checkpointsDir(), rec.ID+".json")
	if err := atomicWrite(b.checkpointsDir(), path, data); err != nil {
		return &StorageErr{Op: "put", Err: err}
	}

	idx, err := b.readIndex()
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	if idx == nil {
		idx = &indexDoc{Version: 1}
	}
	found := false
	for _, id := range idx.IDs {
		if id == rec.ID {
			found = true
			break
		}
	}
	if !found {
		idx.IDs = append(idx.IDs, rec.ID)
	}
	if err := b.writeIndex(*idx); err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func (b *FileTreeBackend) Get(_ context.Context, id string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readCheckpoint(id)
}

func (b *FileTreeBackend) readCheckpoint(id string) (Record, error) {
	path := filepath.Join(b.checkpointsDir(), id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StorageErr{Op: "get", Err: err}
	}
	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return Record{}, &StorageErr{Op: "get", Err: err}
	}
	ts, err := parseTimestamp(cf.Timestamp)
	if err != nil {
		return Record{}, &StorageErr{Op: "get", Err: err}
	}
	return Record{
		ID:           cf.ID,
		Timestamp:    ts,
		StateBlob:    cf.State,
		MetadataBlob: cf.Metadata,
		Description:  cf.Description,
		LogicStep:    cf.LogicStep,
		Branch:       cf.Branch,
		ParentID:     cf.ParentID,
		Status:       cf.Status,
		Fingerprint:  cf.Fingerprint,
	}, nil
}

func (b *FileTreeBackend) List(_ context.Context, filter Filter) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := b.readIndex()
	if err != nil {
		return nil, &StorageErr{Op: "list", Err: err}
	}
	if idx == nil {
		return nil, nil
	}

	out := make([]Record, 0, len(idx.IDs))
	for _, id := range idx.IDs {
		rec, err := b.readCheckpoint(id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, &StorageErr{Op: "list", Err: err}
		}
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (b *FileTreeBackend) UpdateStatus(_ context.Context, id string, newStatus string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.readCheckpoint(id)
	if err != nil {
		return err
	}
	rec.Status = newStatus
	cf := checkpointFile{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp.Format(timeLayout),
		State:       rec.StateBlob,
		Metadata:    rec.MetadataBlob,
		Description: rec.Description,
		LogicStep:   rec.LogicStep,
		Branch:      rec.Branch,
		ParentID:    rec.ParentID,
		Status:      rec.Status,
		Fingerprint: rec.Fingerprint,
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	path := filepath.Join(b.checkpointsDir(), id+".json")
	if err := atomicWrite(b.checkpointsDir(), path, data); err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	return nil
}

func (b *FileTreeBackend) PutBranch(_ context.Context, br Branch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureDirs(); err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	data, err := json.MarshalIndent(branchFile(br), "", "  ")
	if err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	path := filepath.Join(b.branchesDir(), br.Name+".json")
	if err := atomicWrite(b.branchesDir(), path, data); err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	return nil
}

func (b *FileTreeBackend) GetBranch(_ context.Context, name string) (Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readBranch(name)
}

func (b *FileTreeBackend) readBranch(name string) (Branch, error) {
	path := filepath.Join(b.branchesDir(), name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Branch{}, ErrNotFound
		}
		return Branch{}, &StorageErr{Op: "get_branch", Err: err}
	}
	var bf branchFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return Branch{}, &StorageErr{Op: "get_branch", Err: err}
	}
	return Branch(bf), nil
}

func (b *FileTreeBackend) ListBranches(_ context.Context) ([]Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.branchesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageErr{Op: "list_branches", Err: err}
	}
	out := make([]Branch, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		br, err := b.readBranch(name)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, &StorageErr{Op: "list_branches", Err: err}
		}
		out = append(out, br)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *FileTreeBackend) DeleteBranch(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := filepath.Join(b.branchesDir(), name+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageErr{Op: "delete_branch", Err: err}
	}
	return nil
}

func (b *FileTreeBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.RemoveAll(b.root); err != nil {
		return &StorageErr{Op: "clear", Err: err}
	}
	return nil
}

func (b *FileTreeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watcher != nil {
		err := b.watcher.Close()
		b.watcher = nil
		return err
	}
	return nil
}

// Watch starts an fsnotify watch on the backend's checkpoints and
// branches directories and returns a channel that receives a value
// whenever another process mutates the tree, for monitoring tools
// that want to observe cross-process writes without polling. The
// returned channel is closed when ctx is done or Close is called.
func (b *FileTreeBackend) Watch(ctx context.Context) (<-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureDirs(); err != nil {
		return nil, &StorageErr{Op: "watch", Err: err}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &StorageErr{Op: "watch", Err: err}
	}
	if err := w.Add(b.checkpointsDir()); err != nil {
		_ = w.Close()
		return nil, &StorageErr{Op: "watch", Err: err}
	}
	if err := w.Add(b.branchesDir()); err != nil {
		_ = w.Close()
		return nil, &StorageErr{Op: "watch", Err: err}
	}
	b.watcher = w

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// StorageErr wraps a backend-internal error with the operation name
// that failed.
type StorageErr struct {
	Op  string
	Err error
}

func (e *StorageErr) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StorageErr) Unwrap() error { return e.Err }

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
