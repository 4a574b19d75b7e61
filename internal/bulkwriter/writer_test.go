package bulkwriter

import (
	"context"
	"testing"

	"github.com/fieldsync/sync-core/internal/durable"
)

func newTestWriter(t *testing.T) (*Writer, *durable.Store) {
	t.Helper()
	store, err := durable.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.EnsureEntityTable("catalog_items", []string{"id", "name"}, []string{"id"}); err != nil {
		t.Fatalf("EnsureEntityTable: %v", err)
	}
	// name is declared NOT NULL outside EnsureEntityTable's generic DDL so
	// a missing name can be used to force a chunk failure in tests.
	if _, err := store.Conn().Exec(`
		DROP TABLE catalog_items;
		CREATE TABLE catalog_items (id TEXT PRIMARY KEY, name TEXT NOT NULL)
	`); err != nil {
		t.Fatalf("recreate table with constraint: %v", err)
	}

	return New(store), store
}

func TestInsertHappyPath(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter(t)

	records := []Record{
		{"id": "1", "name": "Widget"},
		{"id": "2", "name": "Gadget"},
		{"id": "3", "name": "Gizmo"},
	}

	res, err := w.Insert(ctx, "catalog_items", records, Options{Columns: []string{"id", "name"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.InsertedRecords != 3 || res.FailedRecords != 0 || res.ChunksBisected != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	var count int
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM catalog_items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows, got %d", count)
	}
}

// TestInsertBisectIsolatesInvalidRecord mirrors S6: a chunk of three where
// the middle record violates the NOT NULL constraint; the chunk fails and
// bisection isolates exactly that record while the other two still land.
func TestInsertBisectIsolatesInvalidRecord(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter(t)

	records := []Record{
		{"id": "1", "name": "Widget"},
		{"id": "INVALID", "name": nil},
		{"id": "3", "name": "Gizmo"},
	}

	var invalidSeen []string
	res, err := w.Insert(ctx, "catalog_items", records, Options{
		Columns:   []string{"id", "name"},
		ChunkSize: 50,
		OnInvalidRecord: func(rec Record, err error) {
			invalidSeen = append(invalidSeen, recordID(rec))
		},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if res.InsertedRecords != 2 {
		t.Errorf("InsertedRecords = %d, want 2", res.InsertedRecords)
	}
	if res.FailedRecords != 1 {
		t.Errorf("FailedRecords = %d, want 1", res.FailedRecords)
	}
	if res.ChunksBisected != 1 {
		t.Errorf("ChunksBisected = %d, want 1", res.ChunksBisected)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "INVALID" {
		t.Errorf("FailedIDs = %v, want [INVALID]", res.FailedIDs)
	}
	if len(invalidSeen) != 1 || invalidSeen[0] != "INVALID" {
		t.Errorf("OnInvalidRecord saw %v, want [INVALID]", invalidSeen)
	}

	var count int
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM catalog_items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 surviving rows, got %d", count)
	}
}

func TestInsertContinueOnErrorFalseAborts(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)

	firstChunk := []Record{
		{"id": "1", "name": "Widget"},
		{"id": "BAD", "name": nil},
	}
	secondChunk := []Record{
		{"id": "2", "name": "Gadget"},
	}

	res, err := w.Insert(ctx, "catalog_items", append(firstChunk, secondChunk...), Options{
		Columns:         []string{"id", "name"},
		ChunkSize:       2,
		ContinueOnError: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !res.Aborted {
		t.Fatal("expected Aborted=true after first chunk's bisect failure")
	}
	if res.ChunksTotal != 1 {
		t.Errorf("ChunksTotal = %d, want 1 (second chunk must not run)", res.ChunksTotal)
	}
}

// TestInsertDefaultOptionsContinuesAcrossChunks guards against the
// zero-value Options{} silently behaving as ContinueOnError=false: §4.3
// documents the default as true, so a multi-chunk page where an early
// chunk bisects a failure must still insert every valid record in every
// later chunk (B2), with no ContinueOnError set at all.
func TestInsertDefaultOptionsContinuesAcrossChunks(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)

	firstChunk := []Record{
		{"id": "1", "name": "Widget"},
		{"id": "BAD", "name": nil},
	}
	secondChunk := []Record{
		{"id": "2", "name": "Gadget"},
		{"id": "3", "name": "Gizmo"},
	}

	res, err := w.Insert(ctx, "catalog_items", append(firstChunk, secondChunk...), Options{
		Columns:   []string{"id", "name"},
		ChunkSize: 2,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.Aborted {
		t.Fatal("expected Aborted=false: default ContinueOnError must be true")
	}
	if res.ChunksTotal != 2 {
		t.Errorf("ChunksTotal = %d, want 2 (second chunk must still run)", res.ChunksTotal)
	}
	if res.InsertedRecords != 3 {
		t.Errorf("InsertedRecords = %d, want 3 (1 valid from chunk 1, 2 from chunk 2)", res.InsertedRecords)
	}
	if res.FailedRecords != 1 {
		t.Errorf("FailedRecords = %d, want 1", res.FailedRecords)
	}
}

func boolPtr(v bool) *bool { return &v }

func TestInsertStreamAccumulatesAcrossBatches(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter(t)

	batches := make(chan []Record, 2)
	batches <- []Record{{"id": "1", "name": "A"}}
	batches <- []Record{{"id": "2", "name": "B"}}
	close(batches)

	res, err := w.InsertStream(ctx, "catalog_items", batches, Options{Columns: []string{"id", "name"}})
	if err != nil {
		t.Fatalf("InsertStream: %v", err)
	}
	if res.InsertedRecords != 2 {
		t.Errorf("InsertedRecords = %d, want 2", res.InsertedRecords)
	}

	var count int
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM catalog_items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}
