package syncx

import (
	"errors"
	"strconv"
	"time"
)

// Extracted contains the sync envelope fields every entity row carries
// (§3.1): id, updatedAt, technicianId (tenancy scope), and an optional
// soft-delete marker.
type Extracted struct {
	ID           string
	UpdatedAtMs  int64
	DeletedAtMs  *int64
	TechnicianID string
}

// GetString safely extracts a string value from a map.
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// ParseTimeToMs converts various time formats to Unix milliseconds.
// Accepts RFC3339(Nano) and numeric milliseconds encoded as a string.
func ParseTimeToMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}

// ExtractCommon parses the common sync envelope from a raw record
// (as decoded from JSON, or as read back from the durable store).
// Tolerant of the historical field-name drift the wire contract allows
// for timestamps (updatedAt vs updated_at) the same way the engine
// tolerates items/data and cursor/nextCursor drift on pull responses (§6.1).
func ExtractCommon(item map[string]any) (Extracted, error) {
	var out Extracted

	id, ok := GetString(item, "id")
	if !ok || id == "" {
		return out, errors.New("syncx: missing or invalid id")
	}
	out.ID = id

	updated, ok := GetString(item, "updatedAt")
	if !ok {
		updated, ok = GetString(item, "updated_at")
	}
	if !ok {
		return out, errors.New("syncx: missing updatedAt")
	}
	ms, ok := ParseTimeToMs(updated)
	if !ok {
		return out, errors.New("syncx: invalid updatedAt")
	}
	out.UpdatedAtMs = ms

	if tid, ok := GetString(item, "technicianId"); ok {
		out.TechnicianID = tid
	}

	if ds, ok := GetString(item, "deletedAt"); ok && ds != "" {
		if dms, ok2 := ParseTimeToMs(ds); ok2 {
			out.DeletedAtMs = &dms
		}
	}

	return out, nil
}
