// Package entities holds example entity descriptors wired into the
// registry: clients, categories, invoices (plain bulk-writer entities) and
// catalogItems (a customSave parent/children example, §4.5).
package entities

import "github.com/fieldsync/sync-core/internal/registry"

// Clients is a plain bulk-writer entity: push and pull, last-write-wins.
func Clients() registry.Descriptor {
	return registry.Descriptor{
		Name:                "clients",
		TableName:           "clients",
		APIEndpoint:         "/api/clients",
		APIMutationEndpoint: "/api/clients/mutations",
		CursorField:         "updatedAt",
		PrimaryKeys:         []string{"id"},
		ScopeField:          "technicianId",
		BatchSize:           100,
		ConflictResolution:  registry.LastWriteWins,
		Columns:             []string{"id", "name", "email", "phone", "address", "updatedAt", "technicianId", "syncedAt"},
	}
}

// Categories is pull-only (empty APIMutationEndpoint): a server-managed
// taxonomy the client never writes back.
func Categories() registry.Descriptor {
	return registry.Descriptor{
		Name:               "categories",
		TableName:          "categories",
		APIEndpoint:        "/api/categories",
		CursorField:        "updatedAt",
		PrimaryKeys:        []string{"id"},
		ScopeField:         "technicianId",
		BatchSize:          200,
		ConflictResolution: registry.ServerWins,
		Columns:            []string{"id", "name", "updatedAt", "technicianId", "syncedAt"},
	}
}

// Invoices is a plain bulk-writer entity using server_wins: once an
// invoice is finalized server-side, local edits never take precedence.
func Invoices() registry.Descriptor {
	return registry.Descriptor{
		Name:                "invoices",
		TableName:           "invoices",
		APIEndpoint:         "/api/invoices",
		APIMutationEndpoint: "/api/invoices/mutations",
		CursorField:         "updatedAt",
		PrimaryKeys:         []string{"id"},
		ScopeField:          "technicianId",
		BatchSize:           50,
		ConflictResolution:  registry.ServerWins,
		Columns:             []string{"id", "clientId", "status", "totalCents", "updatedAt", "technicianId", "syncedAt"},
	}
}
