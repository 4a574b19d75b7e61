package bulkwriter

import "encoding/json"

// coerceValue applies §4.3 step 3: booleans become 0/1, nil passes through
// as SQL NULL, structured values (maps/slices) are serialized to JSON text,
// and every other scalar passes through unchanged. Mirrors the teacher's
// `payloadJSON, _ := json.Marshal(item)` pattern in sync_notes.go,
// generalized from "the whole payload" to "any declared column value".
func coerceValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string, int, int32, int64, float32, float64:
		return val, nil
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		// Any other structured type (custom structs, typed slices/maps)
		// is serialized the same way; a value json.Marshal cannot encode
		// is passed to the driver unchanged.
		b, err := json.Marshal(val)
		if err != nil {
			return v, nil
		}
		return string(b), nil
	}
}

func coerceRow(rec Record, columns []string) ([]any, error) {
	row := make([]any, len(columns))
	for i, col := range columns {
		coerced, err := coerceValue(rec[col])
		if err != nil {
			return nil, err
		}
		row[i] = coerced
	}
	return row, nil
}

func recordID(rec Record) string {
	if id, ok := rec["id"]; ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
