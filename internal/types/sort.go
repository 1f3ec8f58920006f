package types

import "strings"

// SortDirection orders a sort key ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// IsValid reports whether the direction is one of the two known values.
func (d SortDirection) IsValid() bool {
	return d == SortAsc || d == SortDesc
}

// SortOption is one {field, direction} pair of a record sort. Field is a
// field slug; paths route through the same JSON accessors the filter
// compiler uses. Rows with a null sort key order last regardless of
// direction.
type SortOption struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// ParseSortOrder converts a comma-delimited string (e.g. "due_date-desc,title-asc")
// into a slice of SortOption values. Tokens without a direction default to
// ascending; duplicate fields and empty tokens are skipped.
func ParseSortOrder(raw string) []SortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]SortOption, 0, len(parts))
	seen := make(map[string]bool)

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		field, dir := splitSortToken(token)
		if field == "" {
			continue
		}

		direction := mapSortDirection(dir)
		if direction == "" {
			continue
		}

		if seen[field] {
			continue
		}
		seen[field] = true

		options = append(options, SortOption{Field: field, Direction: direction})
	}

	return options
}

// EncodeSortOrder converts sort options into the canonical comma-delimited
// string form.
func EncodeSortOrder(options []SortOption) string {
	if len(options) == 0 {
		return ""
	}

	tokens := make([]string, 0, len(options))
	for _, opt := range options {
		if opt.Field == "" || !opt.Direction.IsValid() {
			continue
		}
		tokens = append(tokens, opt.Field+"-"+string(opt.Direction))
	}
	return strings.Join(tokens, ",")
}

// splitSortToken separates "field-dir" or "field:dir" into its halves.
// Slugs may themselves contain underscores but never '-' or ':', so the
// last separator wins.
func splitSortToken(token string) (string, string) {
	if idx := strings.LastIndexAny(token, ":-"); idx >= 0 {
		left := strings.TrimSpace(token[:idx])
		right := strings.ToLower(strings.TrimSpace(token[idx+1:]))
		if right == "asc" || right == "desc" {
			return left, right
		}
	}
	return strings.TrimSpace(token), "asc"
}

func mapSortDirection(raw string) SortDirection {
	switch raw {
	case "asc", "ascending", "":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	}
	return ""
}
