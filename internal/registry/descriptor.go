// Package registry holds the entity descriptor registry: the ordered
// mapping from entity name to its server/local contract (§4.1).
package registry

import "context"

// ConflictResolution selects how a pulled server row is reconciled against
// a locally-modified one (§4.1, §4.4.6).
type ConflictResolution string

const (
	ServerWins     ConflictResolution = "server_wins"
	ClientWins     ConflictResolution = "client_wins"
	LastWriteWins  ConflictResolution = "last_write_wins"
)

// Record is a loosely-typed row as read from the wire or the local store.
type Record = map[string]any

// Descriptor binds an entity name to its server and local contract (§4.1).
// TransformFromServer, TransformToServer, and CustomSave are optional; a
// nil function means "pass the record through unchanged" (transforms) or
// "use the default bulk-writer path" (CustomSave).
type Descriptor struct {
	Name    string
	TableName string

	// APIEndpoint is the pull base path. APIMutationEndpoint is the push
	// path; empty means this entity is pull-only.
	APIEndpoint         string
	APIMutationEndpoint string

	// CursorField is read after a pull to compute lastSyncAt/lastCursor.
	CursorField string

	// PrimaryKeys is almost always ["id"], but multi-key entities are
	// supported.
	PrimaryKeys []string

	// ScopeField is always the tenancy scope column (e.g. technicianId).
	ScopeField string

	// BatchSize upper-bounds the page size requested from the server.
	BatchSize int

	ConflictResolution ConflictResolution

	// Columns lists every column the local table stores, in the order the
	// bulk writer should write them. Required so the registry, not the
	// bulk writer, owns the entity's shape.
	Columns []string

	// TransformFromServer maps one pulled wire record into the shape
	// stored locally. Optional.
	TransformFromServer func(wire Record) (Record, error)

	// TransformToServer maps one local record into the shape pushed to
	// the server. Optional.
	TransformToServer func(local Record) (Record, error)

	// CustomSave, if set, replaces the default bulk-writer path entirely
	// — used by entities with dependent child rows (§4.5).
	CustomSave func(ctx context.Context, records []Record, scope string) error
}

// PullOnly reports whether this entity has no push endpoint.
func (d Descriptor) PullOnly() bool {
	return d.APIMutationEndpoint == ""
}
