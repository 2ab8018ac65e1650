package pagestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/arcanedb/arcanedb/pkg/cache"
)

// sqliteBusyTimeoutMs is the time SQLite waits when the database is locked.
const sqliteBusyTimeoutMs = 10000 // milliseconds

// SQLiteStore is a durable cache.PageStore backed by a single SQLite
// database file: one table for base images, one for the ordered deltas
// appended on top of them.
type SQLiteStore struct {
	db *sql.DB

	insertBase  *sql.Stmt
	deleteBase  *sql.Stmt
	insertDelta *sql.Stmt
	deletePage  *sql.Stmt
	selectBase  *sql.Stmt
	selectDelta *sql.Stmt
}

// OpenSQLiteStore opens (creating if absent) the page store at path and
// applies the pragmas a single-writer embedded store needs: WAL journaling,
// full synchronous durability, and a generous mmap/page cache.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openPageStoreDB(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := ensurePageStoreSchema(ctx, db); err != nil {
		closeErr := db.Close()

		return nil, errors.Join(err, closeErr)
	}

	s := &SQLiteStore{db: db}

	if err := s.prepare(ctx); err != nil {
		closeErr := db.Close()

		return nil, errors.Join(err, closeErr)
	}

	return s, nil
}

func openPageStoreDB(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("pagestore: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("pagestore: sqlite: %w", err)
	}

	// A single connection keeps every PRAGMA below in effect for every
	// statement: SQLite's pragmas are per-connection, not per-database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("pagestore: sqlite: ping: %w", err), closeErr)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA mmap_size = 268435456;
		PRAGMA cache_size = -20000;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeoutMs))
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("pagestore: sqlite: apply pragmas: %w", err), closeErr)
	}

	return db, nil
}

func ensurePageStoreSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS page_base (
			page_key BLOB PRIMARY KEY,
			bytes    BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS page_delta (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			page_key BLOB NOT NULL,
			bytes    BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS page_delta_page_key_idx ON page_delta (page_key, seq);
	`)
	if err != nil {
		return fmt.Errorf("pagestore: sqlite: create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStore) prepare(ctx context.Context) error {
	stmts := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.insertBase, `INSERT INTO page_base (page_key, bytes) VALUES (?, ?)
			ON CONFLICT(page_key) DO UPDATE SET bytes = excluded.bytes`},
		{&s.deleteBase, `DELETE FROM page_base WHERE page_key = ?`},
		{&s.insertDelta, `INSERT INTO page_delta (page_key, bytes) VALUES (?, ?)`},
		{&s.deletePage, `DELETE FROM page_delta WHERE page_key = ?`},
		{&s.selectBase, `SELECT bytes FROM page_base WHERE page_key = ?`},
		{&s.selectDelta, `SELECT bytes FROM page_delta WHERE page_key = ? ORDER BY seq DESC`},
	}

	for _, st := range stmts {
		stmt, err := s.db.PrepareContext(ctx, st.text)
		if err != nil {
			return fmt.Errorf("pagestore: sqlite: prepare: %w", err)
		}

		*st.dst = stmt
	}

	return nil
}

// ReadPage returns the page's blocks head-first: newest delta first, base
// last. A page with neither row is reported as absent, per cache.PageStore.
func (s *SQLiteStore) ReadPage(pageKey []byte) ([]cache.Block, error) {
	ctx := context.Background()

	rows, err := s.selectDelta.QueryContext(ctx, pageKey)
	if err != nil {
		return nil, fmt.Errorf("pagestore: sqlite: read deltas: %w", err)
	}

	var blocks []cache.Block

	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			rows.Close()

			return nil, fmt.Errorf("pagestore: sqlite: scan delta: %w", err)
		}

		blocks = append(blocks, cache.Block{Type: cache.BlockDelta, Bytes: b})
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("pagestore: sqlite: iterate deltas: %w", err)
	}

	rows.Close()

	var base []byte

	err = s.selectBase.QueryRowContext(ctx, pageKey).Scan(&base)

	switch {
	case err == nil:
		blocks = append(blocks, cache.Block{Type: cache.BlockBase, Bytes: base})
	case errors.Is(err, sql.ErrNoRows):
		// no base image; deltas (if any) stand alone
	default:
		return nil, fmt.Errorf("pagestore: sqlite: read base: %w", err)
	}

	return blocks, nil
}

// UpdateReplacement atomically replaces the page's base image, discarding
// any previously stored deltas, inside one transaction.
func (s *SQLiteStore) UpdateReplacement(pageKey []byte, bytes []byte) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pagestore: sqlite: begin: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.deletePage).ExecContext(ctx, pageKey); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("pagestore: sqlite: clear deltas: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.insertBase).ExecContext(ctx, pageKey, bytes); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("pagestore: sqlite: write base: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pagestore: sqlite: commit: %w", err)
	}

	return nil
}

// UpdateDelta appends an incremental delta for the page.
func (s *SQLiteStore) UpdateDelta(pageKey []byte, bytes []byte) error {
	if _, err := s.insertDelta.ExecContext(context.Background(), pageKey, bytes); err != nil {
		return fmt.Errorf("pagestore: sqlite: write delta: %w", err)
	}

	return nil
}

// DeletePage removes the page's base and deltas entirely.
func (s *SQLiteStore) DeletePage(pageKey []byte) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pagestore: sqlite: begin: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.deletePage).ExecContext(ctx, pageKey); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("pagestore: sqlite: delete deltas: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.deleteBase).ExecContext(ctx, pageKey); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("pagestore: sqlite: delete base: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pagestore: sqlite: commit: %w", err)
	}

	return nil
}

// Close releases every prepared statement and the underlying connection.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertBase, s.deleteBase, s.insertDelta, s.deletePage, s.selectBase, s.selectDelta} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	return s.db.Close()
}
