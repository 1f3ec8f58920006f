// Package shape turns cached or fetched record rows into compact,
// token-minimised output for the AI on the other side of the pipe. It trims
// and formats; it never rewrites field semantics.
package shape

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Format names the two output forms.
const (
	FormatTabular = "tabular"
	FormatJSON    = "json"
)

// Request configures one shaping pass.
type Request struct {
	Fields    []string // requested slugs; id and the title field are implicit
	Structure []types.Field
	Format    string // FormatTabular (default) or FormatJSON
	Timezone  *time.Location
	Warnings  []string

	FilteredCount int
	TotalCount    int
}

// Records renders rows per the request. Tabular output is preferred; JSON is
// used on request or when the row shape is too irregular for a table.
func Records(rows []types.Record, req Request) string {
	if req.Timezone == nil {
		req.Timezone = time.Local
	}

	slugs := projectionSlugs(req, rows)
	warnings := append([]string{}, req.Warnings...)
	warnings = append(warnings, largeContentWarnings(slugs, req.Structure)...)

	projected := make([]map[string]string, len(rows))
	irregular := 0
	cells := 0
	for i, row := range rows {
		projected[i] = make(map[string]string, len(slugs))
		for _, slug := range slugs {
			text, isObject := renderValue(slug, valueFor(row, slug), req)
			projected[i][slug] = text
			cells++
			if isObject {
				irregular++
			}
		}
	}

	if req.Format == FormatJSON || (cells > 0 && irregular*2 >= cells) {
		return renderJSON(rows, slugs, req, warnings)
	}
	return renderTabular(projected, slugs, req, warnings)
}

// projectionSlugs resolves the requested field list, always including id and
// the table's title field first. With no structure and no requested fields
// (a mutation response before any populate) the rows' own keys drive the
// projection.
func projectionSlugs(req Request, rows []types.Record) []string {
	title := types.Table{Structure: req.Structure}.PrimaryFieldSlug()

	slugs := []string{"id"}
	seen := map[string]bool{"id": true}
	if hasField(req.Structure, title) {
		slugs = append(slugs, title)
		seen[title] = true
	}

	requested := req.Fields
	if len(requested) == 0 {
		for _, f := range req.Structure {
			requested = append(requested, f.Slug)
		}
	}
	if len(requested) == 0 {
		keys := map[string]bool{}
		for _, row := range rows {
			for k := range row.Data {
				keys[k] = true
			}
		}
		for k := range keys {
			requested = append(requested, k)
		}
		sort.Strings(requested)
	}
	for _, slug := range requested {
		if !seen[slug] {
			seen[slug] = true
			slugs = append(slugs, slug)
		}
	}
	return slugs
}

func hasField(structure []types.Field, slug string) bool {
	for _, f := range structure {
		if f.Slug == slug {
			return true
		}
	}
	return false
}

// largeContentWarnings flags requested fields the registry marks as large,
// so the caller knows the response may be token-heavy.
func largeContentWarnings(slugs []string, structure []types.Field) []string {
	var warnings []string
	for _, f := range structure {
		if info, ok := fieldtypes.Lookup(f.FieldType); ok && info.LargeContent {
			for _, slug := range slugs {
				if slug == f.Slug {
					warnings = append(warnings,
						fmt.Sprintf("field %q is a large-content field (%s); consider omitting it", f.Slug, f.FieldType))
				}
			}
		}
	}
	return warnings
}

func valueFor(row types.Record, slug string) any {
	if slug == "id" {
		return row.ID
	}
	return row.Data[slug]
}

// renderValue produces the display text for one cell. The second return
// reports an irregular cell (raw JSON object), which drives the automatic
// JSON fallback.
func renderValue(slug string, v any, req Request) (string, bool) {
	if v == nil {
		return "", false
	}

	fieldType := ""
	for _, f := range req.Structure {
		if f.Slug == slug {
			fieldType = f.FieldType
			break
		}
	}
	info, known := fieldtypes.Lookup(fieldType)

	switch val := v.(type) {
	case string:
		return renderTimestamp(val, req.Timezone), false
	case bool:
		return fmt.Sprint(val), false
	case float64:
		if known && info.Category == fieldtypes.CatScalarBoolean {
			return fmt.Sprint(val != 0), false
		}
		return trimFloat(val), false
	case int:
		if known && info.Category == fieldtypes.CatScalarBoolean {
			return fmt.Sprint(val != 0), false
		}
		return fmt.Sprint(val), false
	case []any:
		return renderArray(val, known, info), false
	case map[string]any:
		return renderObject(val, known, info, req.Timezone)
	default:
		return fmt.Sprint(val), false
	}
}

func renderArray(list []any, known bool, info fieldtypes.Info) string {
	parts := make([]string, 0, len(list))
	for _, item := range list {
		switch elem := item.(type) {
		case map[string]any:
			// file entries show their name; other objects their value
			if name, ok := elem["name"].(string); ok && known && info.Category == fieldtypes.CatArrayObjects {
				parts = append(parts, name)
			} else if value, ok := elem["value"]; ok {
				parts = append(parts, fmt.Sprint(value))
			} else if blob, err := json.Marshal(elem); err == nil {
				parts = append(parts, string(blob))
			}
		default:
			parts = append(parts, fmt.Sprint(item))
		}
	}
	return strings.Join(parts, ", ")
}

// renderObject handles the nested shapes: status objects show their value,
// date objects their calendar date, rich documents their preview (the cache
// keeps the full payload). Anything else renders as compact JSON and counts
// as irregular.
func renderObject(m map[string]any, known bool, info fieldtypes.Info, tz *time.Location) (string, bool) {
	if known {
		switch info.Category {
		case fieldtypes.CatNestedDocument:
			if preview, ok := m["preview"].(string); ok && preview != "" {
				return flattenText(preview), false
			}
			if html, ok := m["html"].(string); ok && html != "" {
				return flattenText(html), false
			}
			return "", false
		case fieldtypes.CatNestedStatus:
			if value, ok := m["value"]; ok {
				return fmt.Sprint(value), false
			}
			return "", false
		case fieldtypes.CatNestedDate, fieldtypes.CatNestedDueDate, fieldtypes.CatNestedDateRange:
			return renderDateObject(m, tz), false
		}
	}
	if value, ok := m["value"]; ok && len(m) <= 2 {
		return fmt.Sprint(value), false
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m), true
	}
	return string(blob), true
}

func renderDateObject(m map[string]any, tz *time.Location) string {
	for _, path := range []string{"date", "on"} {
		if s, ok := m[path].(string); ok && s != "" {
			return renderTimestamp(s, tz)
		}
	}
	if to, ok := m["to_date"].(map[string]any); ok {
		if s, ok := to["date"].(string); ok {
			var out string
			if from, ok := m["from_date"].(map[string]any); ok {
				if f, ok := from["date"].(string); ok {
					out = renderTimestamp(f, tz) + " → "
				}
			}
			return out + renderTimestamp(s, tz)
		}
	}
	blob, _ := json.Marshal(m)
	return string(blob)
}

// renderTimestamp converts ISO timestamp strings to the configured zone.
// Plain calendar dates and non-timestamp strings pass through.
func renderTimestamp(s string, tz *time.Location) string {
	if len(s) < 19 {
		return flattenText(s)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(tz).Format("2006-01-02 15:04")
		}
	}
	return flattenText(s)
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func flattenText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
