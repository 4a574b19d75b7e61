// Package syncx holds small wire-format helpers: cursor encode/decode and
// timestamp parsing. The sync engine uses the timestamp and field helpers;
// the in-memory fake server does not use this package. Entities are keyed by an opaque textual id (§3.1 of
// the spec), not necessarily a UUID, so cursors are ordered by
// (updatedAt, id) rather than assuming any particular id shape.
package syncx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a position in a paginated delta stream.
// Format: base64("<updatedAtMs>|<id>"), ordered lexicographically by
// (Ms, ID) to give deterministic pagination even when many rows share
// the same updatedAt.
type Cursor struct {
	Ms int64  // Unix milliseconds timestamp of the last row on the prior page
	ID string // id of the last row on the prior page
}

// EncodeCursor creates a base64-encoded cursor string.
// Returns the empty string for the zero-value cursor (start of stream).
func EncodeCursor(c Cursor) string {
	if c.Ms == 0 && c.ID == "" {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Ms, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string produced by EncodeCursor.
// Returns the zero-value cursor and false if s is empty or malformed.
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}

	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, false
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, false
	}
	if parts[1] == "" {
		return Cursor{}, false
	}

	return Cursor{Ms: ms, ID: parts[1]}, true
}

// RFC3339 converts Unix milliseconds to an RFC3339Nano UTC timestamp string.
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns the current Unix milliseconds timestamp (UTC).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}
