package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldsync/sync-core/internal/durable"
	"github.com/fieldsync/sync-core/internal/registry"
)

// LineItemsTable is the dependent child table for catalogItems.
const LineItemsTable = "catalog_item_line_items"

// CatalogItems is the customSave parent/children example named by §4.5: a
// catalog item carries a dependent lineItems collection that must be
// replaced atomically alongside the parent row.
func CatalogItems(store *durable.Store) registry.Descriptor {
	return registry.Descriptor{
		Name:                "catalogItems",
		TableName:           "catalog_items",
		APIEndpoint:         "/api/catalog-items",
		APIMutationEndpoint: "/api/catalog-items/mutations",
		CursorField:         "updatedAt",
		PrimaryKeys:         []string{"id"},
		ScopeField:          "technicianId",
		BatchSize:           50,
		ConflictResolution:  registry.LastWriteWins,
		Columns:             []string{"id", "name", "price", "updatedAt", "technicianId", "syncedAt"},
		CustomSave:          customSaveCatalogItems(store),
	}
}

// EnsureCatalogItemsTables creates the parent and child tables up front.
// Called once at registration time (lifecycle.RegisterDescriptor already
// creates the parent table from Columns; this adds the child table
// customSave needs beyond the descriptor's own schema).
func EnsureCatalogItemsTables(store *durable.Store) error {
	return store.EnsureEntityTable(LineItemsTable,
		[]string{"id", "parentId", "description", "quantity", "unitPriceCents"},
		[]string{"id"})
}

// customSaveCatalogItems implements §4.5's three-step contract inside a
// single transaction per parent: upsert the parent row, delete its
// existing children, upsert the new children.
func customSaveCatalogItems(store *durable.Store) func(ctx context.Context, records []registry.Record, scope string) error {
	return func(ctx context.Context, records []registry.Record, scope string) error {
		for _, rec := range records {
			parentID, _ := rec["id"].(string)
			if parentID == "" {
				return fmt.Errorf("entities: catalogItems customSave: record missing id")
			}

			lineItems, _ := rec["lineItems"].([]any)

			err := store.WithTx(ctx, func(tx *sql.Tx) error {
				if err := upsertParent(ctx, tx, rec, scope); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM `+LineItemsTable+` WHERE parentId = ?`, parentID); err != nil {
					return fmt.Errorf("delete existing line items: %w", err)
				}
				for _, raw := range lineItems {
					li, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					if err := insertLineItem(ctx, tx, parentID, li); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func upsertParent(ctx context.Context, tx *sql.Tx, rec registry.Record, scope string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO catalog_items (id, name, price, updatedAt, technicianId, syncedAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec["id"], rec["name"], rec["price"], rec["updatedAt"], scope, rec["syncedAt"])
	if err != nil {
		return fmt.Errorf("upsert catalog item parent: %w", err)
	}
	return nil
}

func insertLineItem(ctx context.Context, tx *sql.Tx, parentID string, li map[string]any) error {
	id, _ := li["id"].(string)
	if id == "" {
		return fmt.Errorf("entities: catalogItems customSave: line item missing id")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO `+LineItemsTable+` (id, parentId, description, quantity, unitPriceCents)
		VALUES (?, ?, ?, ?, ?)
	`, id, parentID, li["description"], li["quantity"], li["unitPriceCents"])
	if err != nil {
		return fmt.Errorf("upsert line item: %w", err)
	}
	return nil
}
