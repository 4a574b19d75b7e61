package mutationqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsync/sync-core/internal/durable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Hooks wires the queue to the rest of the engine without the queue
// depending on the engine or scheduler packages directly (§9: explicit
// injection over package-level singletons). All fields are optional; a nil
// hook is simply not invoked.
type Hooks struct {
	// Online reports current connectivity.
	Online func() bool
	// FastPushEnabled reports whether SYNC_OPT_FAST_PUSH_ONLY is set.
	FastPushEnabled func() bool
	// NotifyFastPush is called on enqueue when online and fast-push is
	// enabled, routing the push through the scheduler (§4.2).
	NotifyFastPush func()
	// ArmFullSyncDebounce is called on enqueue otherwise, arming the 2s
	// debounce that leads to a full sync (§4.2, §2 data flow step 1).
	ArmFullSyncDebounce func()
}

// Queue is the durable FIFO mutation journal (§3.2, §4.2).
type Queue struct {
	store *durable.Store
	hooks Hooks
	bus   *bus
	log   zerolog.Logger
}

// New constructs a Queue backed by store.
func New(store *durable.Store, hooks Hooks) *Queue {
	b := newBus()
	logger := log.With().Str("component", "mutationqueue").Logger()
	b.onPanic = func(r any) {
		logger.Error().Interface("panic", r).Msg("mutation queue listener panicked, isolated")
	}
	return &Queue{store: store, hooks: hooks, bus: b, log: logger}
}

// Subscribe registers a listener for queue-change events and returns an
// unsubscribe function.
func (q *Queue) Subscribe(l Listener) func() {
	return q.bus.subscribe(l)
}

// Enqueue persists a new pending mutation and emits mutation_added. If
// online and fast-push is enabled, the scheduler is notified directly;
// otherwise the debounced full-sync path is armed (§4.2).
func (q *Queue) Enqueue(ctx context.Context, entity, entityID string, op Operation, payload string) (int64, error) {
	now := time.Now().UTC().UnixMilli()

	res, err := q.store.Conn().ExecContext(ctx, `
		INSERT INTO mutations_queue (entity, entityId, operation, payload, createdAt, attempts, status)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, entity, entityID, string(op), payload, now, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("mutationqueue: enqueue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mutationqueue: enqueue: last insert id: %w", err)
	}

	pending, err := q.CountPending(ctx)
	if err != nil {
		q.log.Warn().Err(err).Msg("failed to compute pending count after enqueue")
	}

	q.bus.emit(Event{
		Type:         EventMutationAdded,
		PendingCount: pending,
		MutationID:   &id,
		Entity:       entity,
		EntityID:     entityID,
		At:           time.Now().UTC(),
	})

	online := q.hooks.Online != nil && q.hooks.Online()
	fastPush := q.hooks.FastPushEnabled != nil && q.hooks.FastPushEnabled()

	switch {
	case online && fastPush && q.hooks.NotifyFastPush != nil:
		q.hooks.NotifyFastPush()
	case q.hooks.ArmFullSyncDebounce != nil:
		q.hooks.ArmFullSyncDebounce()
	}

	return id, nil
}

// GetPending returns up to limit mutations eligible for the next push
// batch: pending, or failed-but-retryable, ordered ascending by createdAt
// (FIFO, P1).
func (q *Queue) GetPending(ctx context.Context, limit int) ([]Mutation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.store.Conn().QueryContext(ctx, `
		SELECT id, entity, entityId, operation, payload, createdAt, attempts, lastAttempt, status, errorMessage, terminal
		FROM mutations_queue
		WHERE status = ? OR (status = ? AND terminal = 0 AND attempts < ?)
		ORDER BY createdAt ASC, id ASC
		LIMIT ?
	`, string(StatusPending), string(StatusFailed), MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("mutationqueue: getPending: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// GetPendingByEntity returns the pending/retryable rows for one entity
// type (across all its entityIds), FIFO by createdAt. The engine's push
// protocol uses this to build one entity's push batch (§4.4.5) since
// getPending's contract is global; grouping by entity is left to the
// caller.
func (q *Queue) GetPendingByEntity(ctx context.Context, entity string, limit int) ([]Mutation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.store.Conn().QueryContext(ctx, `
		SELECT id, entity, entityId, operation, payload, createdAt, attempts, lastAttempt, status, errorMessage, terminal
		FROM mutations_queue
		WHERE entity = ? AND (status = ? OR (status = ? AND terminal = 0 AND attempts < ?))
		ORDER BY createdAt ASC, id ASC
		LIMIT ?
	`, entity, string(StatusPending), string(StatusFailed), MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("mutationqueue: getPendingByEntity: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// GetByEntity returns every journal row for (entity, entityID) in
// insertion order.
func (q *Queue) GetByEntity(ctx context.Context, entity, entityID string) ([]Mutation, error) {
	rows, err := q.store.Conn().QueryContext(ctx, `
		SELECT id, entity, entityId, operation, payload, createdAt, attempts, lastAttempt, status, errorMessage, terminal
		FROM mutations_queue
		WHERE entity = ? AND entityId = ?
		ORDER BY createdAt ASC, id ASC
	`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("mutationqueue: getByEntity: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// MarkProcessing transitions id to processing, incrementing attempts and
// stamping lastAttempt (M1).
func (q *Queue) MarkProcessing(ctx context.Context, id int64) error {
	now := time.Now().UTC().UnixMilli()
	_, err := q.store.Conn().ExecContext(ctx, `
		UPDATE mutations_queue
		SET status = ?, attempts = attempts + 1, lastAttempt = ?
		WHERE id = ?
	`, string(StatusProcessing), now, id)
	if err != nil {
		return fmt.Errorf("mutationqueue: markProcessing(%d): %w", id, err)
	}
	return nil
}

// MarkCompleted transitions id to completed (terminal, M2) and emits
// mutation_completed.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	entity, entityID, err := q.updateStatus(ctx, id, StatusCompleted, "", false)
	if err != nil {
		return err
	}
	q.emitAfter(ctx, EventMutationCompleted, id, entity, entityID)
	return nil
}

// MarkFailed transitions id to failed, storing errMsg, and emits
// mutation_failed. terminal=true records a business rejection (never
// retried regardless of attempts, per the spec's open-question decision);
// terminal=false records a transient transport failure, retried while
// attempts < MaxRetries (M3).
func (q *Queue) MarkFailed(ctx context.Context, id int64, errMsg string, terminal bool) error {
	entity, entityID, err := q.updateStatus(ctx, id, StatusFailed, errMsg, terminal)
	if err != nil {
		return err
	}
	q.emitAfter(ctx, EventMutationFailed, id, entity, entityID)
	return nil
}

func (q *Queue) updateStatus(ctx context.Context, id int64, status Status, errMsg string, terminal bool) (entity, entityID string, err error) {
	_, err = q.store.Conn().ExecContext(ctx, `
		UPDATE mutations_queue SET status = ?, errorMessage = ?, terminal = ? WHERE id = ?
	`, string(status), nullIfEmpty(errMsg), terminal, id)
	if err != nil {
		return "", "", fmt.Errorf("mutationqueue: update status(%d): %w", id, err)
	}

	err = q.store.Conn().QueryRowContext(ctx,
		`SELECT entity, entityId FROM mutations_queue WHERE id = ?`, id,
	).Scan(&entity, &entityID)
	if err != nil {
		return "", "", fmt.Errorf("mutationqueue: lookup after update(%d): %w", id, err)
	}
	return entity, entityID, nil
}

func (q *Queue) emitAfter(ctx context.Context, eventType EventType, id int64, entity, entityID string) {
	pending, err := q.CountPending(ctx)
	if err != nil {
		q.log.Warn().Err(err).Msg("failed to compute pending count after status change")
	}
	mid := id
	q.bus.emit(Event{
		Type:         eventType,
		PendingCount: pending,
		MutationID:   &mid,
		Entity:       entity,
		EntityID:     entityID,
		At:           time.Now().UTC(),
	})
}

// Remove deletes mutation id and emits mutation_removed.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	var entity, entityID string
	_ = q.store.Conn().QueryRowContext(ctx,
		`SELECT entity, entityId FROM mutations_queue WHERE id = ?`, id,
	).Scan(&entity, &entityID)

	if _, err := q.store.Conn().ExecContext(ctx, `DELETE FROM mutations_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mutationqueue: remove(%d): %w", id, err)
	}

	q.emitAfter(ctx, EventMutationRemoved, id, entity, entityID)
	return nil
}

// Cleanup deletes rows older than olderThanDays (by createdAt). Emits
// mutations_cleanup only if any row was deleted (§4.2).
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).UnixMilli()

	res, err := q.store.Conn().ExecContext(ctx, `DELETE FROM mutations_queue WHERE createdAt < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mutationqueue: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		pending, _ := q.CountPending(ctx)
		q.bus.emit(Event{Type: EventMutationsCleanup, PendingCount: pending, At: time.Now().UTC()})
	}
	return int(n), nil
}

// ResetFailed moves every failed row back to pending with attempts=0,
// including terminal (rejected) rows — an explicit operator action (M4).
// Emits mutations_reset only if any row changed.
func (q *Queue) ResetFailed(ctx context.Context) (int, error) {
	res, err := q.store.Conn().ExecContext(ctx, `
		UPDATE mutations_queue
		SET status = ?, attempts = 0, errorMessage = NULL, terminal = 0
		WHERE status = ?
	`, string(StatusPending), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("mutationqueue: resetFailed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		pending, _ := q.CountPending(ctx)
		q.bus.emit(Event{Type: EventMutationsReset, PendingCount: pending, At: time.Now().UTC()})
	}
	return int(n), nil
}

// CountPending returns the count of rows with status=pending.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var n int
	err := q.store.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutations_queue WHERE status = ?`, string(StatusPending),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("mutationqueue: countPending: %w", err)
	}
	return n, nil
}

// HasPendingFor reports whether (entity, entityID) has an outstanding
// mutation (pending or processing) — the overwrite-protection guard
// consumed by the engine's save-to-local-db policy (I3).
func (q *Queue) HasPendingFor(ctx context.Context, entity, entityID string) (bool, error) {
	var n int
	err := q.store.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutations_queue
		WHERE entity = ? AND entityId = ? AND status IN (?, ?)
	`, entity, entityID, string(StatusPending), string(StatusProcessing)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mutationqueue: hasPendingFor: %w", err)
	}
	return n > 0, nil
}

func scanMutations(rows *sql.Rows) ([]Mutation, error) {
	var out []Mutation
	for rows.Next() {
		var m Mutation
		var op, status string
		var errMsg sql.NullString
		var lastAttempt sql.NullInt64
		var terminal bool

		if err := rows.Scan(&m.ID, &m.Entity, &m.EntityID, &op, &m.Payload, &m.CreatedAt,
			&m.Attempts, &lastAttempt, &status, &errMsg, &terminal); err != nil {
			return nil, fmt.Errorf("mutationqueue: scan: %w", err)
		}

		m.Operation = Operation(op)
		m.Status = Status(status)
		m.Terminal = terminal
		if errMsg.Valid {
			m.ErrorMessage = errMsg.String
		}
		if lastAttempt.Valid {
			v := lastAttempt.Int64
			m.LastAttempt = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
