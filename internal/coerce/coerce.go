// Package coerce normalises per-type field values on cache ingress and on
// filter binding. It is a retraction: coercing an already-coerced value is a
// no-op.
package coerce

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Record normalises every known field of rec.Data in place and returns rec.
// Slugs absent from the structure are kept untouched; the payload is opaque.
func Record(structure []types.Field, rec types.Record) types.Record {
	if rec.Data == nil {
		return rec
	}
	byType := make(map[string]string, len(structure))
	for _, f := range structure {
		byType[f.Slug] = f.FieldType
	}
	for slug, v := range rec.Data {
		ft, ok := byType[slug]
		if !ok {
			continue
		}
		rec.Data[slug] = Value(ft, v)
	}
	return rec
}

// Value normalises one value according to its field type.
func Value(fieldType string, v any) any {
	if v == nil {
		return nil
	}

	info, ok := fieldtypes.Lookup(fieldType)
	if !ok {
		return v
	}

	switch info.Category {
	case fieldtypes.CatScalarBoolean:
		if b, ok := Bool(v); ok {
			return b
		}
		return v
	case fieldtypes.CatScalarNumeric:
		if n, ok := Number(v); ok {
			return n
		}
		return v
	case fieldtypes.CatNestedStatus:
		// Single selects sometimes arrive as a bare scalar; status must be
		// the full nested object.
		if s, ok := v.(string); ok {
			return map[string]any{"value": s}
		}
		return v
	case fieldtypes.CatArrayScalars, fieldtypes.CatArrayObjects:
		return asArray(v)
	default:
		// Nested date shapes, documents, and scalars are stored verbatim.
		return v
	}
}

// asArray materialises a single collapsed value as a one-element array.
// The upstream sometimes collapses single-valued user, linked-record, and
// multi-select fields.
func asArray(v any) any {
	switch arr := v.(type) {
	case []any:
		return arr
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Bool coerces common boolean spellings to the 0/1 integers the store keeps.
func Bool(v any) (int, bool) {
	switch b := v.(type) {
	case bool:
		if b {
			return 1, true
		}
		return 0, true
	case int:
		if b == 0 || b == 1 {
			return b, true
		}
	case float64:
		if b == 0 || b == 1 {
			return int(b), true
		}
	case json.Number:
		return Bool(b.String())
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1", "on":
			return 1, true
		case "false", "no", "0", "off":
			return 0, true
		}
	}
	return 0, false
}

// Number coerces numeric spellings, including currency and percent strings,
// to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimLeft(s, "$€£¥")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// DatePrefix extracts the YYYY-MM-DD prefix from a date-shaped value: the
// nested to_date path first, then a bare date key, then the value itself when
// it is calendar shaped.
func DatePrefix(v any) (string, bool) {
	switch d := v.(type) {
	case string:
		return calendarPrefix(d)
	case map[string]any:
		if to, ok := d["to_date"].(map[string]any); ok {
			if s, ok := to["date"].(string); ok {
				return calendarPrefix(s)
			}
		}
		if s, ok := d["date"].(string); ok {
			return calendarPrefix(s)
		}
		if s, ok := d["on"].(string); ok {
			return calendarPrefix(s)
		}
	}
	return "", false
}

func calendarPrefix(s string) (string, bool) {
	if len(s) < 10 {
		return "", false
	}
	for i, r := range s[:10] {
		if i == 4 || i == 7 {
			if r != '-' {
				return "", false
			}
			continue
		}
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s[:10], true
}
