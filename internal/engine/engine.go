package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fieldsync/sync-core/internal/bulkwriter"
	"github.com/fieldsync/sync-core/internal/durable"
	"github.com/fieldsync/sync-core/internal/mutationqueue"
	"github.com/fieldsync/sync-core/internal/registry"
	"github.com/fieldsync/sync-core/internal/syncx"
	"github.com/fieldsync/sync-core/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine is the sync engine: state machine, pull/push orchestration, and
// the save-to-local-db conflict guard (§4.4).
type Engine struct {
	cfg      Config
	registry *registry.Registry
	queue    *mutationqueue.Queue
	writer   *bulkwriter.Writer
	store    *durable.Store
	client   *transport.Client

	st  *state
	bus *bus
	log zerolog.Logger

	entityLocks sync.Map // map[string]*sync.Mutex

	// OnConflict, if set, is invoked whenever the overwrite-protection
	// guard (I3) skips a pulled row, supplementing the transient
	// conflict_resolved event with an audit trail (§ SUPPLEMENTED
	// FEATURES: conflict audit trail).
	OnConflict func(entity, entityID string)

	// OnBulkResult, if set, is invoked after every default bulk-writer
	// path in saveToLocalDB (§4.4.6) with that entity's chunk/bisect/
	// failure metrics (§4.3 B3), so a metrics sink can stay current
	// without the engine depending on the metrics package directly.
	OnBulkResult func(entity string, res bulkwriter.Result)
}

// New constructs an Engine. cfg need not be valid yet; IsConfigured is
// checked per-cycle.
func New(cfg Config, reg *registry.Registry, queue *mutationqueue.Queue, writer *bulkwriter.Writer, store *durable.Store, client *transport.Client) *Engine {
	b := newBus()
	logger := log.With().Str("component", "engine").Logger()
	b.onPanic = func(r any) {
		logger.Error().Interface("panic", r).Msg("engine listener panicked, isolated")
	}
	return &Engine{
		cfg:      cfg,
		registry: reg,
		queue:    queue,
		writer:   writer,
		store:    store,
		client:   client,
		st:       newState(),
		bus:      b,
		log:      logger,
	}
}

// Subscribe registers a listener for engine events and returns an
// unsubscribe function (§4.4.8).
func (e *Engine) Subscribe(l Listener) func() {
	return e.bus.subscribe(l)
}

// Status returns the current engine state and, if in the error state, the
// last error message (§4.4.2).
func (e *Engine) Status() (Status, string) {
	return e.st.snapshot()
}

// SetOffline transitions the engine to offline (driven by the network
// port's disconnection notice, §4.4.2/§4.4.9).
func (e *Engine) SetOffline() {
	wasOffline := e.st.isOffline()
	e.st.setOffline()
	if !wasOffline {
		e.bus.emit(Event{Type: EventOfflineDetected, At: time.Now().UTC()})
	}
}

// SetOnline transitions the engine back to idle on reconnect and emits
// online_detected (§4.4.2/§4.4.9). Callers typically follow this with
// SyncWithRetry to drive the auto-sync.
func (e *Engine) SetOnline() {
	wasOffline := e.st.isOffline()
	e.st.setOnline()
	if wasOffline {
		e.bus.emit(Event{Type: EventOnlineDetected, At: time.Now().UTC()})
	}
}

func (e *Engine) lockEntity(name string) func() {
	v, _ := e.entityLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SyncAll runs the full cycle: push phase then pull phase, across every
// registered entity (§4.4.3). Returns an empty slice, with no events
// emitted, if offline, unconfigured, or already syncing.
func (e *Engine) SyncAll(ctx context.Context) []SyncResult {
	if e.st.isOffline() || !e.cfg.IsConfigured() {
		return nil
	}
	if !e.st.tryBeginSync() {
		return nil
	}

	correlationID := uuid.New().String()
	clog := e.log.With().Str("correlationId", correlationID).Logger()
	e.bus.emit(Event{Type: EventSyncStart, CorrelationID: correlationID, At: time.Now().UTC()})

	var results []SyncResult

	for _, d := range e.registry.Ordered() {
		if d.PullOnly() {
			continue
		}
		pr := e.pushEntityCycle(ctx, d, correlationID, &clog)
		results = append(results, pr)
	}

	parallel, sequential := e.partitionEntities()

	if len(parallel) > 0 {
		results = append(results, e.runBounded(ctx, parallel, e.cfg.maxParallel(), correlationID, &clog)...)
	}
	for _, d := range sequential {
		results = append(results, e.syncEntityCycle(ctx, d, correlationID, &clog))
	}

	failed := false
	var lastErrMsg string
	for _, r := range results {
		if !r.Success {
			failed = true
			if len(r.Errors) > 0 {
				lastErrMsg = r.Errors[len(r.Errors)-1].Message
			}
		}
	}

	if failed {
		e.st.finishErr(lastErrMsg)
		e.bus.emit(Event{Type: EventSyncError, CorrelationID: correlationID, Message: lastErrMsg, At: time.Now().UTC()})
	} else {
		e.st.finishOK()
	}

	e.bus.emit(Event{Type: EventSyncComplete, CorrelationID: correlationID, Results: results, At: time.Now().UTC()})

	return results
}

// partitionEntities splits pull-eligible descriptors into the parallel-safe
// group and the sequential group (§4.4.3 step 4). The parallel group keeps
// registration order. With ParallelEntities on, the sequential group runs
// the SequentialEntities names first, in their configured order, then any
// entity named in neither list, in registration order; with it off, every
// entity is sequential in registration order.
func (e *Engine) partitionEntities() (parallel, sequential []registry.Descriptor) {
	var rest []registry.Descriptor
	for _, d := range e.registry.Ordered() {
		if e.cfg.isParallelSafe(d.Name) {
			parallel = append(parallel, d)
		} else {
			rest = append(rest, d)
		}
	}
	if e.cfg.ParallelEntities {
		for _, name := range e.cfg.SequentialEntities {
			for i, d := range rest {
				if d.Name == name {
					sequential = append(sequential, d)
					rest = append(rest[:i], rest[i+1:]...)
					break
				}
			}
		}
	}
	return parallel, append(sequential, rest...)
}

// runBounded runs entity pull cycles with a concurrency cap of limit,
// processing every item even when individual items fail, tolerating an
// empty slice and a limit greater than len(items) (§5 bounded concurrency
// boundary behaviors).
func (e *Engine) runBounded(ctx context.Context, descriptors []registry.Descriptor, limit int, correlationID string, clog *zerolog.Logger) []SyncResult {
	if len(descriptors) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(descriptors) {
		limit = len(descriptors)
	}
	clog.Debug().Int("entities", len(descriptors)).Int("limit", limit).Msg("parallel pull group start")

	results := make([]SyncResult, len(descriptors))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, d := range descriptors {
		i, d := i, d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.syncEntityCycle(ctx, d, correlationID, clog)
		}()
	}
	wg.Wait()

	return results
}

// SyncEntity performs the pull phase for a single entity (§4.4.4).
func (e *Engine) SyncEntity(ctx context.Context, name string) (SyncResult, error) {
	d, err := e.registry.MustGet(name)
	if err != nil {
		return SyncResult{}, err
	}
	correlationID := uuid.New().String()
	clog := e.log.With().Str("correlationId", correlationID).Logger()
	return e.syncEntityCycle(ctx, d, correlationID, &clog), nil
}

func (e *Engine) syncEntityCycle(ctx context.Context, d registry.Descriptor, correlationID string, clog *zerolog.Logger) SyncResult {
	unlock := e.lockEntity(d.Name)
	defer unlock()

	start := time.Now()
	clog.Debug().Str("entity", d.Name).Msg("pull start")
	e.bus.emit(Event{Type: EventEntitySyncStart, CorrelationID: correlationID, Entity: d.Name, At: time.Now().UTC()})

	result, err := e.pullEntity(ctx, d, correlationID)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("pull failed")
		result = errorResult(d.Name, "pull", err, start)
	} else {
		result.Success = true
		result.Duration = time.Since(start)
		clog.Debug().Str("entity", d.Name).Int("pulled", result.Pulled).Dur("duration", result.Duration).Msg("pull complete")
	}

	e.bus.emit(Event{Type: EventEntitySyncComplete, CorrelationID: correlationID, Entity: d.Name, At: time.Now().UTC()})
	return result
}

func (e *Engine) pullEntity(ctx context.Context, d registry.Descriptor, correlationID string) (SyncResult, error) {
	meta, _, err := e.store.GetSyncMeta(d.Name)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read sync meta: %w", err)
	}

	cursor := ""
	var maxUpdatedAtMs int64
	totalPulled := 0
	hasMore := true

	for hasMore {
		page, err := e.fetchPullPage(ctx, d, meta, cursor, correlationID)
		if err != nil {
			return SyncResult{}, err
		}

		records := page.records()
		saved, err := e.saveToLocalDB(ctx, d, records)
		if err != nil {
			return SyncResult{}, fmt.Errorf("save page: %w", err)
		}
		totalPulled += saved

		for _, r := range records {
			extracted, err := syncx.ExtractCommon(r)
			if err != nil {
				continue
			}
			ms := extracted.UpdatedAtMs
			if d.CursorField != "" {
				if s, ok := syncx.GetString(r, d.CursorField); ok {
					if v, ok := syncx.ParseTimeToMs(s); ok {
						ms = v
					}
				}
			}
			if ms > maxUpdatedAtMs {
				maxUpdatedAtMs = ms
			}
		}

		if nc := page.nextPageCursor(); nc != nil {
			cursor = *nc
		}
		hasMore = page.HasMore

		if !hasMore {
			lastSyncAt := time.Now().UTC().Format(time.RFC3339)
			if maxUpdatedAtMs > 0 {
				lastSyncAt = syncx.RFC3339(maxUpdatedAtMs)
			}
			var lastCursor *string
			if cursor != "" {
				lastCursor = &cursor
			}
			if err := e.store.SetSyncMeta(d.Name, lastCursor, lastSyncAt); err != nil {
				return SyncResult{}, fmt.Errorf("write sync meta: %w", err)
			}
		}
	}

	return SyncResult{Entity: d.Name, Pulled: totalPulled}, nil
}

func (e *Engine) fetchPullPage(ctx context.Context, d registry.Descriptor, meta durable.SyncMeta, cursor, correlationID string) (pullResponse, error) {
	u, err := url.Parse(e.cfg.BaseURL + d.APIEndpoint)
	if err != nil {
		return pullResponse{}, err
	}

	q := u.Query()
	if meta.LastSyncAt != nil && *meta.LastSyncAt != "" {
		q.Set("since", *meta.LastSyncAt)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if d.BatchSize > 0 {
		q.Set("limit", strconv.Itoa(d.BatchSize))
	}
	if d.ScopeField != "" {
		q.Set(d.ScopeField, e.cfg.TechnicianID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pullResponse{}, err
	}

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return pullResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pullResponse{}, err
	}
	if resp.StatusCode >= 300 {
		return pullResponse{}, fmt.Errorf("pull %s: unexpected status %d", d.Name, resp.StatusCode)
	}

	return parsePullResponse(body)
}

// saveToLocalDB applies the save-to-local-db policy of §4.4.6: filter out
// rows whose target has an outstanding mutation (I3), then either call the
// descriptor's customSave or the default bulk-writer path. Returns the
// count of records actually saved (post-filter, post-transform).
func (e *Engine) saveToLocalDB(ctx context.Context, d registry.Descriptor, rawRecords []map[string]any) (int, error) {
	filtered := make([]map[string]any, 0, len(rawRecords))
	for _, raw := range rawRecords {
		id, hasID := syncx.GetString(raw, "id")
		if hasID && id != "" {
			hasPending, err := e.queue.HasPendingFor(ctx, d.Name, id)
			if err != nil {
				return 0, err
			}
			if hasPending {
				e.bus.emit(Event{Type: EventConflictResolved, Entity: d.Name, EntityID: id, At: time.Now().UTC()})
				if e.OnConflict != nil {
					e.OnConflict(d.Name, id)
				}
				continue
			}
		}
		filtered = append(filtered, raw)
	}

	if len(filtered) == 0 {
		return 0, nil
	}

	records := make([]registry.Record, len(filtered))
	for i, raw := range filtered {
		if d.TransformFromServer != nil {
			t, err := d.TransformFromServer(raw)
			if err != nil {
				return 0, fmt.Errorf("transformFromServer(%s): %w", d.Name, err)
			}
			records[i] = t
		} else {
			records[i] = raw
		}
	}

	if d.CustomSave != nil {
		if err := d.CustomSave(ctx, records, e.cfg.TechnicianID); err != nil {
			return 0, err
		}
		return len(records), nil
	}

	bwRecords := make([]bulkwriter.Record, len(records))
	for i, r := range records {
		bwRecords[i] = bulkwriter.Record(r)
	}

	res, err := e.writer.Insert(ctx, d.TableName, bwRecords, bulkwriter.Options{Columns: d.Columns})
	if err != nil {
		return 0, err
	}
	if e.OnBulkResult != nil {
		e.OnBulkResult(d.Name, res)
	}
	return res.InsertedRecords, nil
}

// pushEntityCycle runs the push protocol for one entity (§4.4.5) and wraps
// it as a SyncResult.
func (e *Engine) pushEntityCycle(ctx context.Context, d registry.Descriptor, correlationID string, clog *zerolog.Logger) SyncResult {
	start := time.Now()

	pending, err := e.queue.GetPendingByEntity(ctx, d.Name, 0)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("read pending mutations failed")
		return errorResult(d.Name, "push", err, start)
	}
	if len(pending) == 0 {
		return SyncResult{Success: true, Entity: d.Name}
	}
	clog.Debug().Str("entity", d.Name).Int("pending", len(pending)).Msg("push start")

	for _, m := range pending {
		if err := e.queue.MarkProcessing(ctx, m.ID); err != nil {
			clog.Error().Err(err).Str("entity", d.Name).Int64("mutationId", m.ID).Msg("mark processing failed")
			return errorResult(d.Name, "push", err, start)
		}
	}

	envelope := pushRequest{Mutations: make([]pushMutation, 0, len(pending))}
	for _, m := range pending {
		var payload map[string]any
		_ = json.Unmarshal([]byte(m.Payload), &payload)
		if d.TransformToServer != nil {
			if t, err := d.TransformToServer(payload); err == nil {
				payload = t
			}
		}
		envelope.Mutations = append(envelope.Mutations, pushMutation{
			MutationID: fmt.Sprintf("%s-%s-%d", m.EntityID, m.Operation, m.ID),
			Entity:     m.Entity,
			EntityID:   m.EntityID,
			Operation:  string(m.Operation),
			Payload:    payload,
		})
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("marshal push envelope failed")
		return errorResult(d.Name, "push", err, start)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+d.APIMutationEndpoint, bytes.NewReader(body))
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("build push request failed")
		return errorResult(d.Name, "push", err, start)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("push request failed")
		// Transport failure: every in-flight mutation in the batch is
		// marked failed with the transport message (§4.4.5 step 5).
		for _, m := range pending {
			_ = e.queue.MarkFailed(ctx, m.ID, err.Error(), false)
			e.bus.emit(Event{Type: EventMutationFailed, CorrelationID: correlationID, Entity: d.Name, EntityID: m.EntityID, Message: err.Error(), At: time.Now().UTC()})
		}
		return errorResult(d.Name, "push", err, start)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("read push response failed")
		return errorResult(d.Name, "push", err, start)
	}
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("push %s: unexpected status %d", d.Name, resp.StatusCode)
		clog.Error().Err(err).Str("entity", d.Name).Int("status", resp.StatusCode).Msg("push rejected by server")
		for _, m := range pending {
			_ = e.queue.MarkFailed(ctx, m.ID, err.Error(), false)
		}
		return errorResult(d.Name, "push", err, start)
	}

	parsed, err := parsePushResponse(respBody)
	if err != nil {
		clog.Error().Err(err).Str("entity", d.Name).Msg("parse push response failed")
		return errorResult(d.Name, "push", err, start)
	}

	byComposite := make(map[string]mutationqueue.Mutation, len(pending))
	for _, m := range pending {
		byComposite[fmt.Sprintf("%s-%s-%d", m.EntityID, m.Operation, m.ID)] = m
	}

	applied := 0
	var errs []ResultError
	for _, res := range parsed.Results {
		m, ok := byComposite[res.MutationID]
		if !ok {
			continue
		}
		switch res.Status {
		case pushStatusApplied:
			if err := e.queue.MarkCompleted(ctx, m.ID); err != nil {
				errs = append(errs, ResultError{Operation: "push", Message: err.Error()})
				continue
			}
			applied++
			e.bus.emit(Event{Type: EventMutationPushed, CorrelationID: correlationID, Entity: d.Name, EntityID: m.EntityID, At: time.Now().UTC()})
		case pushStatusRejected:
			_ = e.queue.MarkFailed(ctx, m.ID, res.Error, true)
			errs = append(errs, ResultError{Operation: "push", Message: res.Error})
			e.bus.emit(Event{Type: EventMutationFailed, CorrelationID: correlationID, Entity: d.Name, EntityID: m.EntityID, Message: res.Error, Terminal: true, At: time.Now().UTC()})
		case pushStatusFailed:
			_ = e.queue.MarkFailed(ctx, m.ID, res.Error, false)
			errs = append(errs, ResultError{Operation: "push", Message: res.Error})
			e.bus.emit(Event{Type: EventMutationFailed, CorrelationID: correlationID, Entity: d.Name, EntityID: m.EntityID, Message: res.Error, Terminal: false, At: time.Now().UTC()})
		}
	}

	e.bus.emit(Event{Type: EventMutationsBatchComplete, CorrelationID: correlationID, Entity: d.Name, At: time.Now().UTC()})

	clog.Debug().Str("entity", d.Name).Int("applied", applied).Int("errors", len(errs)).Dur("duration", time.Since(start)).Msg("push complete")

	return SyncResult{
		Success:  len(errs) == 0,
		Entity:   d.Name,
		Pushed:   applied,
		Errors:   errs,
		Duration: time.Since(start),
	}
}

// SyncWithRetry wraps SyncAll in a retry loop with exponential backoff:
// base 1s, factor 2, cap 3 attempts (§4.4.7). Never panics or propagates
// an error; the final state is captured in the returned results.
func (e *Engine) SyncWithRetry(ctx context.Context) []SyncResult {
	const maxAttempts = 3
	const baseBackoff = 1 * time.Second

	var results []SyncResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			e.bus.emit(Event{Type: EventSyncRetry, Attempt: attempt, At: time.Now().UTC()})
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return results
			}
		}

		results = e.SyncAll(ctx)

		anyFailed := false
		for _, r := range results {
			if !r.Success {
				anyFailed = true
				break
			}
		}
		if !anyFailed {
			return results
		}
	}

	e.bus.emit(Event{Type: EventSyncMaxRetriesExceeded, At: time.Now().UTC()})
	return results
}

// PushOnly runs only the push phase across every registered entity with a
// mutation endpoint, in registration order (the fast-push scheduler's
// push-only cycle, §4.6).
func (e *Engine) PushOnly(ctx context.Context) []SyncResult {
	if e.st.isOffline() || !e.cfg.IsConfigured() {
		return nil
	}

	correlationID := uuid.New().String()
	clog := e.log.With().Str("correlationId", correlationID).Logger()
	e.bus.emit(Event{Type: EventPushOnlyStart, CorrelationID: correlationID, At: time.Now().UTC()})

	var results []SyncResult
	var anyErr error
	for _, d := range e.registry.Ordered() {
		if d.PullOnly() {
			continue
		}
		r := e.pushEntityCycle(ctx, d, correlationID, &clog)
		results = append(results, r)
		if !r.Success && len(r.Errors) > 0 {
			anyErr = fmt.Errorf("%s", r.Errors[len(r.Errors)-1].Message)
		}
	}

	if anyErr != nil {
		e.bus.emit(Event{Type: EventPushOnlyError, CorrelationID: correlationID, Message: anyErr.Error(), At: time.Now().UTC()})
	} else {
		e.bus.emit(Event{Type: EventPushOnlyComplete, CorrelationID: correlationID, Results: results, At: time.Now().UTC()})
	}

	return results
}
