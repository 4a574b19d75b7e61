package durable

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build expects. Migrations
// run up to this version at Open time (§6.3: "Schema is versioned").
const CurrentSchemaVersion = 1

const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mutations_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	entity        TEXT NOT NULL,
	entityId      TEXT NOT NULL,
	operation     TEXT NOT NULL,
	payload       TEXT NOT NULL,
	createdAt     INTEGER NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	lastAttempt   INTEGER,
	status        TEXT NOT NULL DEFAULT 'pending',
	errorMessage  TEXT,
	terminal      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mutations_queue_status ON mutations_queue(status, createdAt);
CREATE INDEX IF NOT EXISTS idx_mutations_queue_target ON mutations_queue(entity, entityId);

CREATE TABLE IF NOT EXISTS sync_meta (
	entity     TEXT PRIMARY KEY,
	lastCursor TEXT,
	lastSyncAt TEXT
);
`

// tableExists reports whether table exists in the database.
func (s *Store) tableExists(table string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// columnExists reports whether column exists on table.
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// schemaVersion returns the current schema version, or 0 if unset.
func (s *Store) schemaVersion() (int, error) {
	ok, err := s.tableExists("schema_info")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	var raw string
	err = s.db.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("durable: malformed schema version %q: %w", raw, err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(v int) error {
	_, err := s.db.Exec(
		`INSERT INTO schema_info(key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", v),
	)
	return err
}

// runMigrations brings the database up to CurrentSchemaVersion. Every
// migration step is additive (new tables/columns); there is no destructive
// downgrade path.
func (s *Store) runMigrations() (int, error) {
	if _, err := s.db.Exec(baseSchema); err != nil {
		return 0, fmt.Errorf("apply base schema: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return 0, err
	}

	// Placeholder for future versioned steps: each step bumps version by
	// one and is idempotent (guarded by tableExists/columnExists checks),
	// matching the teacher's migration style.
	for version < CurrentSchemaVersion {
		version++
		if err := s.setSchemaVersion(version); err != nil {
			return version, err
		}
	}

	return version, nil
}
