// Package durable implements the on-device relational store: entity
// tables, the mutation journal, and per-entity sync metadata. It is the
// only shared mutable resource in the core (§5) — multi-statement writes
// go through WithTx so a bulk-writer chunk or a customSave's
// parent+children write is atomic (B1, §4.5). Mutation-status transitions
// are single UPDATE statements issued directly on the connection.
package durable

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection configured for the single-writer,
// cooperative-scheduling model described in §5: one connection, WAL mode,
// a busy timeout so concurrent readers never collide with the one writer.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the durable store at path and applies
// any pending migrations. Use ":memory:" for an ephemeral store (tests).
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable: open %s: %w", path, err)
	}

	// SQLite supports exactly one writer; pinning the pool to a single
	// connection avoids opening extra connections that would otherwise
	// serialize behind SQLITE_BUSY instead of our own busy_timeout.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("durable: %s: %w", p, err)
		}
	}

	s := &Store{db: conn, path: path}

	if _, err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("durable: migrations: %w", err)
	}

	return s, nil
}

// OpenMemory opens a private, process-local in-memory store. Convenient for
// tests and short-lived tooling; not shared across connections.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Conn exposes the underlying *sql.DB for packages that need direct query
// access (mutation queue, bulk writer). All multi-statement writes must
// still go through WithTx.
func (s *Store) Conn() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. This is the atomicity primitive behind
// B1 (chunk atomicity) and §4.5's parent/children customSave contract.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("durable: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("durable: tx failed: %w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("durable: commit tx: %w", err)
	}
	return nil
}
