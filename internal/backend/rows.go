package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToRows normalises a row, a slice of rows, or raw JSON into generic maps using
// the rows' JSON encoding.
func ToRows(rows any) ([]map[string]any, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal rows: %w", err)
	}

	v := reflect.ValueOf(rows)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		var out []map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("unmarshal rows: %w", err)
		}
		return out, nil
	}

	var one map[string]any
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return []map[string]any{one}, nil
}

// Decode copies generic rows into dest through JSON. A nil dest is a no-op.
func Decode(rows any, dest any) error {
	if dest == nil {
		return nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	return DecodeJSON(data, dest)
}

// DecodeJSON unmarshals a JSON array of rows into dest. When dest points to a
// struct rather than a slice, the first row is used.
func DecodeJSON(data []byte, dest any) error {
	if dest == nil {
		return nil
	}
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("decode rows: dest must be a non-nil pointer")
	}
	if v.Elem().Kind() == reflect.Slice {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("decode rows: %w", err)
		}
		return nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return NewError(404, CodeNotFound, "no rows returned")
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
