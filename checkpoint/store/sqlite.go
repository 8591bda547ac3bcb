package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the embedded relational Backend implementation,
// backed by the pure-Go modernc.org/sqlite driver (no cgo toolchain
// required).
//
// Schema:
//
//	checkpoints(id PK, branch, parent_id, status, timestamp,
//	            logic_step, description, metadata_blob, state_blob,
//	            fingerprint)
//	branches(name PK, head_id, created_from, is_current)
//
// All writes run under a transaction; reads use the single pooled
// connection serially (SetMaxOpenConns(1), WAL mode, busy_timeout),
// since SQLite serializes writers at the file level regardless of how
// many connections a process opens.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteBackend opens (or creates) a SQLite-backed backend at
// path. Use ":memory:" for an ephemeral database useful in tests that
// still want to exercise the relational code path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageErr{Op: "open", Err: err}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, &StorageErr{Op: "open", Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}

	b := &SQLiteBackend{db: db}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageErr{Op: "open", Err: err}
	}
	return b, nil
}

func (b *SQLiteBackend) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			branch TEXT NOT NULL,
			parent_id TEXT,
			status TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			logic_step TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata_blob BLOB NOT NULL,
			state_blob BLOB NOT NULL,
			fingerprint TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_branch ON checkpoints(branch)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_timestamp ON checkpoints(timestamp)`,
		`CREATE TABLE IF NOT EXISTS branches (
			name TEXT PRIMARY KEY,
			head_id TEXT,
			created_from TEXT,
			is_current INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, rec Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, branch, parent_id, status, timestamp, logic_step, description, metadata_blob, state_blob, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			branch=excluded.branch, parent_id=excluded.parent_id, status=excluded.status,
			timestamp=excluded.timestamp, logic_step=excluded.logic_step, description=excluded.description,
			metadata_blob=excluded.metadata_blob, state_blob=excluded.state_blob, fingerprint=excluded.fingerprint
	`, rec.ID, rec.Branch, rec.ParentID, rec.Status, rec.Timestamp, rec.LogicStep, rec.Description, rec.MetadataBlob, rec.StateBlob, rec.Fingerprint)
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (Record, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, branch, parent_id, status, timestamp, logic_step, description, metadata_blob, state_blob, fingerprint
		FROM checkpoints WHERE id = ?`, id)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Branch, &rec.ParentID, &rec.Status, &rec.Timestamp, &rec.LogicStep, &rec.Description, &rec.MetadataBlob, &rec.StateBlob, &rec.Fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, &StorageErr{Op: "get", Err: err}
	}
	return rec, nil
}

func (b *SQLiteBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, branch, parent_id, status, timestamp, logic_step, description, metadata_blob, state_blob, fingerprint FROM checkpoints WHERE 1=1`
	var args []any
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.To)
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageErr{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Branch, &rec.ParentID, &rec.Status, &rec.Timestamp, &rec.LogicStep, &rec.Description, &rec.MetadataBlob, &rec.StateBlob, &rec.Fingerprint); err != nil {
			return nil, &StorageErr{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageErr{Op: "list", Err: err}
	}
	return out, nil
}

func (b *SQLiteBackend) UpdateStatus(ctx context.Context, id string, newStatus string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE checkpoints SET status = ? WHERE id = ?`, newStatus, id)
	if err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return &StorageErr{Op: "update_status", Err: err}
	}
	return nil
}

func (b *SQLiteBackend) PutBranch(ctx context.Context, br Branch) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (name, head_id, created_from, is_current)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET head_id=excluded.head_id, created_from=excluded.created_from, is_current=excluded.is_current
	`, br.Name, br.HeadID, br.CreatedFrom, br.IsCurrent)
	if err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	return nil
}

func (b *SQLiteBackend) GetBranch(ctx context.Context, name string) (Branch, error) {
	row := b.db.QueryRowContext(ctx, `SELECT name, head_id, created_from, is_current FROM branches WHERE name = ?`, name)
	var br Branch
	if err := row.Scan(&br.Name, &br.HeadID, &br.CreatedFrom, &br.IsCurrent); err != nil {
		if err == sql.ErrNoRows {
			return Branch{}, ErrNotFound
		}
		return Branch{}, &StorageErr{Op: "get_branch", Err: err}
	}
	return br, nil
}

func (b *SQLiteBackend) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, head_id, created_from, is_current FROM branches ORDER BY name ASC`)
	if err != nil {
		return nil, &StorageErr{Op: "list_branches", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []Branch
	for rows.Next() {
		var br Branch
		if err := rows.Scan(&br.Name, &br.HeadID, &br.CreatedFrom, &br.IsCurrent); err != nil {
			return nil, &StorageErr{Op: "list_branches", Err: err}
		}
		out = append(out, br)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeleteBranch(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name)
	if err != nil {
		return &StorageErr{Op: "delete_branch", Err: err}
	}
	return nil
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageErr{Op: "clear", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints`); err != nil {
		return &StorageErr{Op: "clear", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM branches`); err != nil {
		return &StorageErr{Op: "clear", Err: err}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
