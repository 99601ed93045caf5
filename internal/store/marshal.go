package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalValue converts a channel value to JSON TEXT. Undefined values
// become NULL.
func marshalValue(v any, defined bool) (sql.NullString, error) {
	if !defined {
		return sql.NullString{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return sql.NullString{String: strings.TrimSpace(buf.String()), Valid: true}, nil
}

// unmarshalValue parses JSON TEXT back into int64, float64, bool or string.
// Integers are decoded via json.Number to avoid float64 precision loss.
func unmarshalValue(s sql.NullString) (any, bool, error) {
	if !s.Valid {
		return nil, false, nil
	}
	dec := json.NewDecoder(strings.NewReader(s.String))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, false, fmt.Errorf("unmarshal value: %w", err)
		}
		return f, true, nil
	}
	return v, true, nil
}
