package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend is a MySQL/MariaDB-backed Backend implementation, an
// additional relational variant alongside SQLiteBackend for operators
// who already run MySQL infrastructure — it satisfies the same
// Backend interface and the same two-table schema shape.
//
// The DSN format follows github.com/go-sql-driver/mysql:
//
//	user:password@tcp(localhost:3306)/dbname?parseTime=true
type MySQLBackend struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLBackend opens a MySQL-backed backend, creating the
// checkpoints/branches tables if they don't already exist.
func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, &StorageErr{Op: "open", Err: err}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageErr{Op: "open", Err: err}
	}

	b := &MySQLBackend{db: db}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageErr{Op: "open", Err: err}
	}
	return b, nil
}

func (b *MySQLBackend) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id VARCHAR(64) PRIMARY KEY,
			branch VARCHAR(255) NOT NULL,
			parent_id VARCHAR(64),
			status VARCHAR(32) NOT NULL,
			timestamp TIMESTAMP(6) NOT NULL,
			logic_step VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			metadata_blob LONGBLOB NOT NULL,
			state_blob LONGBLOB NOT NULL,
			fingerprint VARCHAR(128) NOT NULL,
			INDEX idx_checkpoints_branch (branch),
			INDEX idx_checkpoints_status (status),
			INDEX idx_checkpoints_timestamp (timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS branches (
			name VARCHAR(255) PRIMARY KEY,
			head_id VARCHAR(64),
			created_from VARCHAR(64),
			is_current TINYINT(1) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *MySQLBackend) Put(ctx context.Context, rec Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, branch, parent_id, status, timestamp, logic_step, description, metadata_blob, state_blob, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			branch=VALUES(branch), parent_id=VALUES(parent_id), status=VALUES(status),
			timestamp=VALUES(timestamp), logic_step=VALUES(logic_step), description=VALUES(description),
			metadata_blob=VALUES(metadata_blob), state_blob=VALUES(state_blob), fingerprint=VALUES(fingerprint)
	`, rec.ID, rec.Branch, rec.ParentID, rec.Status, rec.Timestamp, rec.LogicStep, rec.Description, rec.MetadataBlob, rec.StateBlob, rec.Fingerprint)
	if err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageErr{Op: "put", Err: err}
	}
	return nil
}

func (b *MySQLBackend) Get(ctx context.Context, id string) (Record, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, branch, parent_id, status, timestamp, logic_step, description, metadata_blob, state_blob, fingerprint
		FROM checkpoints WHERE id = ?`, id)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Branch, &rec.ParentID, &rec.Status, &rec.Timestamp, &rec.LogicStep, &rec.Description, &rec.MetadataBlob, &rec.StateBlob, &rec.Fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, &StorageErr{Op: "get", Err: err}
	}
	return rec, nil
}

func (b *MySQLBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
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
	// Ties on timestamp are ordered by id, not by insertion order.
	query += " ORDER BY timestamp ASC, id ASC"

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
	return out, rows.Err()
}

func (b *MySQLBackend) UpdateStatus(ctx context.Context, id string, newStatus string) error {
	res, err := b.db.ExecContext(ctx, `UPDATE checkpoints SET status = ? WHERE id = ?`, newStatus, id)
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
	return nil
}

func (b *MySQLBackend) PutBranch(ctx context.Context, br Branch) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO branches (name, head_id, created_from, is_current)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE head_id=VALUES(head_id), created_from=VALUES(created_from), is_current=VALUES(is_current)
	`, br.Name, br.HeadID, br.CreatedFrom, br.IsCurrent)
	if err != nil {
		return &StorageErr{Op: "put_branch", Err: err}
	}
	return nil
}

func (b *MySQLBackend) GetBranch(ctx context.Context, name string) (Branch, error) {
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

func (b *MySQLBackend) ListBranches(ctx context.Context) ([]Branch, error) {
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

func (b *MySQLBackend) DeleteBranch(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name)
	if err != nil {
		return &StorageErr{Op: "delete_branch", Err: err}
	}
	return nil
}

func (b *MySQLBackend) Clear(ctx context.Context) error {
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

func (b *MySQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
