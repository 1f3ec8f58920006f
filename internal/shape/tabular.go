package shape

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gridbase/gridbase-mcp/internal/types"
)

const cellDelimiter = " | "

// renderTabular emits the compact text form:
//
//	⚠️ FILTER WARNINGS:        (only when warnings exist)
//	<one warning per line>
//
//	=== Showing X of Y filtered records (Z total) ===
//	id | title | status
//	rec1 | First | active
func renderTabular(rows []map[string]string, slugs []string, req Request, warnings []string) string {
	var b strings.Builder
	writeWarnings(&b, warnings)

	fmt.Fprintf(&b, "=== Showing %d of %d filtered records (%d total) ===\n",
		len(rows), req.FilteredCount, req.TotalCount)
	b.WriteString(strings.Join(slugs, cellDelimiter))
	b.WriteByte('\n')

	for _, row := range rows {
		cells := make([]string, len(slugs))
		for i, slug := range slugs {
			cells[i] = escapeCell(row[slug])
		}
		b.WriteString(strings.Join(cells, cellDelimiter))
		b.WriteByte('\n')
	}
	return b.String()
}

func writeWarnings(b *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("⚠️ FILTER WARNINGS:\n")
	for _, w := range warnings {
		b.WriteString(w)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "|", "\\|")
}

func unescapeCell(s string) string {
	s = strings.ReplaceAll(s, "\\|", "|")
	return strings.ReplaceAll(s, "\\\\", "\\")
}

// ParseTabular recovers the projected rows from tabular output. For rows
// containing only primitive fields this inverts renderTabular exactly; it
// exists for tests and downstream tooling.
func ParseTabular(text string) (header []string, rows []map[string]string, err error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "=== Showing ") {
			start = i
			break
		}
	}
	if start == -1 || start+1 >= len(lines) {
		return nil, nil, fmt.Errorf("no tabular header found")
	}

	header = splitCells(lines[start+1])
	for _, line := range lines[start+2:] {
		cells := splitCells(line)
		if len(cells) != len(header) {
			return nil, nil, fmt.Errorf("row has %d cells, header has %d", len(cells), len(header))
		}
		row := make(map[string]string, len(header))
		for i, slug := range header {
			row[slug] = unescapeCell(cells[i])
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// splitCells splits on the delimiter, honouring backslash escapes.
func splitCells(line string) []string {
	var cells []string
	var cur strings.Builder
	i := 0
	for i < len(line) {
		if line[i] == '\\' && i+1 < len(line) {
			cur.WriteByte(line[i])
			cur.WriteByte(line[i+1])
			i += 2
			continue
		}
		if strings.HasPrefix(line[i:], cellDelimiter) {
			cells = append(cells, cur.String())
			cur.Reset()
			i += len(cellDelimiter)
			continue
		}
		cur.WriteByte(line[i])
		i++
	}
	cells = append(cells, cur.String())
	return cells
}

// jsonResponse is the JSON output envelope.
type jsonResponse struct {
	Items      []map[string]any `json:"items"`
	TotalCount int              `json:"total_count"`
	Count      int              `json:"count"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// renderJSON emits the JSON form, projecting each row to the requested slugs
// but keeping the raw values (nested shapes survive in JSON).
func renderJSON(rows []types.Record, slugs []string, req Request, warnings []string) string {
	resp := jsonResponse{
		Items:      make([]map[string]any, len(rows)),
		TotalCount: req.TotalCount,
		Count:      req.FilteredCount,
		Warnings:   warnings,
	}
	for i, row := range rows {
		item := make(map[string]any, len(slugs))
		for _, slug := range slugs {
			if v := valueFor(row, slug); v != nil {
				item[slug] = v
			}
		}
		resp.Items[i] = item
	}
	blob, err := json.Marshal(resp)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(blob)
}
