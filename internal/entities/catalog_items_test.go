package entities

import (
	"context"
	"testing"

	"github.com/fieldsync/sync-core/internal/durable"
	"github.com/fieldsync/sync-core/internal/registry"
)

func TestCustomSaveCatalogItemsReplacesLineItemsAtomically(t *testing.T) {
	store, err := durable.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer store.Close()

	d := CatalogItems(store)
	if err := store.EnsureEntityTable(d.TableName, d.Columns, d.PrimaryKeys); err != nil {
		t.Fatalf("EnsureEntityTable(parent): %v", err)
	}
	if err := EnsureCatalogItemsTables(store); err != nil {
		t.Fatalf("EnsureCatalogItemsTables: %v", err)
	}

	ctx := context.Background()

	record := registry.Record{
		"id":        "item-1",
		"name":      "Service Bundle",
		"price":     49.99,
		"updatedAt": "2024-01-01T00:00:00Z",
		"lineItems": []any{
			map[string]any{"id": "li-1", "description": "Labor", "quantity": 1, "unitPriceCents": 2000},
			map[string]any{"id": "li-2", "description": "Parts", "quantity": 2, "unitPriceCents": 1499},
		},
	}

	if err := d.CustomSave(ctx, []registry.Record{record}, "tech-1"); err != nil {
		t.Fatalf("CustomSave: %v", err)
	}

	var parentCount, lineCount int
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM catalog_items WHERE id = 'item-1'`).Scan(&parentCount); err != nil {
		t.Fatalf("count parent: %v", err)
	}
	if parentCount != 1 {
		t.Errorf("expected 1 parent row, got %d", parentCount)
	}
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM `+LineItemsTable+` WHERE parentId = 'item-1'`).Scan(&lineCount); err != nil {
		t.Fatalf("count line items: %v", err)
	}
	if lineCount != 2 {
		t.Errorf("expected 2 line items, got %d", lineCount)
	}

	// Second save with fewer line items must fully replace the children.
	record["lineItems"] = []any{
		map[string]any{"id": "li-3", "description": "Replacement", "quantity": 1, "unitPriceCents": 999},
	}
	if err := d.CustomSave(ctx, []registry.Record{record}, "tech-1"); err != nil {
		t.Fatalf("CustomSave (replace): %v", err)
	}

	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM `+LineItemsTable+` WHERE parentId = 'item-1'`).Scan(&lineCount); err != nil {
		t.Fatalf("count line items after replace: %v", err)
	}
	if lineCount != 1 {
		t.Errorf("expected line items fully replaced to 1, got %d", lineCount)
	}
}

func TestPlainDescriptorsHaveExpectedShape(t *testing.T) {
	if Clients().PullOnly() {
		t.Error("clients should have a mutation endpoint")
	}
	if !Categories().PullOnly() {
		t.Error("categories should be pull-only")
	}
	if Invoices().ConflictResolution != registry.ServerWins {
		t.Errorf("invoices conflictResolution = %s, want server_wins", Invoices().ConflictResolution)
	}
}
