package durable

import (
	"fmt"
	"strings"
)

// EnsureEntityTable creates table (if absent) with the given columns and
// primary key columns. The registry — not a fixed schema — owns the set of
// synced entities (§4.1), so tables are created on demand at descriptor
// registration time rather than baked into the base schema.
//
// All declared columns are created without a declared type, so SQLite
// gives them no type affinity and stores each value as provided. Booleans
// are coerced to 0/1 and nested structures to serialized JSON text before
// insertion (§4.3 value coercion) — SQLite's dynamic typing accepts all of
// these in one column.
func (s *Store) EnsureEntityTable(tableName string, columns []string, primaryKeys []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("durable: %s: no columns declared", tableName)
	}
	if len(primaryKeys) == 0 {
		primaryKeys = []string{"id"}
	}

	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, quoteIdent(c))
	}

	pk := make([]string, 0, len(primaryKeys))
	for _, k := range primaryKeys {
		pk = append(pk, quoteIdent(k))
	}

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		quoteIdent(tableName),
		strings.Join(defs, ", "),
		strings.Join(pk, ", "),
	)

	_, err := s.db.Exec(stmt)
	if err != nil {
		return fmt.Errorf("durable: ensure table %s: %w", tableName, err)
	}
	return nil
}

// quoteIdent wraps an identifier in double quotes for safe interpolation
// into DDL/DML built from descriptor-declared names (never user input).
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
