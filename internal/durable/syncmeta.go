package durable

import "database/sql"

// SyncMeta is the per-entity pagination/delta bookmark described in §3.3.
// It is written only after the final page of a pull. LastCursor holds the
// last non-null cursor the server returned during that pull; the engine
// does not resume from it. Every pull starts at the first page, filtered by
// since=LastSyncAt, so an interrupted pull starts over.
type SyncMeta struct {
	Entity     string
	LastCursor *string
	LastSyncAt *string
}

// GetSyncMeta reads the sync bookmark for entity. The second return value
// is false if no row exists yet (first sync).
func (s *Store) GetSyncMeta(entity string) (SyncMeta, bool, error) {
	var meta SyncMeta
	meta.Entity = entity

	err := s.db.QueryRow(
		`SELECT lastCursor, lastSyncAt FROM sync_meta WHERE entity = ?`, entity,
	).Scan(&meta.LastCursor, &meta.LastSyncAt)

	if err == sql.ErrNoRows {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

// SetSyncMeta upserts the sync bookmark for entity. Called once per
// syncEntity cycle, after the final page (§4.4.4).
func (s *Store) SetSyncMeta(entity string, lastCursor *string, lastSyncAt string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_meta (entity, lastCursor, lastSyncAt)
		VALUES (?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			lastCursor = excluded.lastCursor,
			lastSyncAt = excluded.lastSyncAt
	`, entity, lastCursor, lastSyncAt)
	return err
}
