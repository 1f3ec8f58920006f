package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/coerce"
	"github.com/gridbase/gridbase-mcp/internal/datemode"
	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
)

// Condition is a compiled filter: a boolean SQL expression over the records
// table's JSON data column, plus the parallel bound parameters. Field names
// are sanitised before splicing; only values are ever parameterised.
type Condition struct {
	SQL  string
	Args []any
}

// TrueCondition matches every row.
func TrueCondition() Condition {
	return Condition{SQL: "1"}
}

// Compiler compiles one request's filter tree against a table schema.
type Compiler struct {
	Schema   map[string]string // field slug → field-type name
	Now      time.Time         // reference clock for date modes, in the configured zone
	Strict   bool
	Warnings *Warnings
}

// Compile validates and compiles the tree. A nil tree compiles to a
// condition matching everything.
func (c *Compiler) Compile(node Node) (Condition, error) {
	if node == nil {
		return TrueCondition(), nil
	}
	if err := Validate(node, c.Schema, c.Strict, c.Warnings); err != nil {
		return Condition{}, err
	}
	return c.compileNode(node)
}

func (c *Compiler) compileNode(node Node) (Condition, error) {
	switch n := node.(type) {
	case *Group:
		return c.compileGroup(n)
	case *Predicate:
		return c.compilePredicate(n)
	default:
		return Condition{}, validationErrorf("malformed filter node %T", node)
	}
}

func (c *Compiler) compileGroup(g *Group) (Condition, error) {
	if len(g.Children) == 0 {
		// Vacuous truth for and, vacuous falsity for or.
		if g.Operator == "or" {
			return Condition{SQL: "0"}, nil
		}
		return TrueCondition(), nil
	}

	joiner := " AND "
	if g.Operator == "or" {
		joiner = " OR "
	}

	parts := make([]string, 0, len(g.Children))
	var args []any
	for _, child := range g.Children {
		cond, err := c.compileNode(child)
		if err != nil {
			return Condition{}, err
		}
		parts = append(parts, cond.SQL)
		args = append(args, cond.Args...)
	}
	return Condition{SQL: "(" + strings.Join(parts, joiner) + ")", Args: args}, nil
}

func (c *Compiler) compilePredicate(p *Predicate) (Condition, error) {
	field, err := sanitizeField(p.Field)
	if err != nil {
		return Condition{}, err
	}

	fieldType := c.Schema[p.Field]
	info, _ := fieldtypes.Lookup(fieldType)

	// Dispatch on the operator; the field type informs the access path. This
	// also compiles warned mismatches the way the warning text promises
	// (contains on a numeric field runs as text contains over the raw value).
	switch p.Comparison {
	case fieldtypes.OpIsEmpty:
		return Condition{SQL: emptyExpr(field)}, nil
	case fieldtypes.OpIsNotEmpty:
		return Condition{SQL: "NOT " + emptyExpr(field)}, nil

	case fieldtypes.OpIs, fieldtypes.OpIsNot:
		return c.compileEquality(p, field, info)

	case fieldtypes.OpContains, fieldtypes.OpNotContains:
		if info.Family == fieldtypes.FamilyLinked || info.Category.IsArray() {
			return compileArraySubstring(field, p.Comparison, p.Value)
		}
		return compileTextSubstring(textExpr(field, info), p.Comparison, p.Value)

	case fieldtypes.OpIsEqualTo, fieldtypes.OpIsNotEqualTo, fieldtypes.OpIsGreaterThan,
		fieldtypes.OpIsLessThan, fieldtypes.OpIsEqualOrGreaterThan, fieldtypes.OpIsEqualOrLessThan:
		return compileNumeric(field, p.Comparison, p.Value)

	case fieldtypes.OpIsBefore, fieldtypes.OpIsAfter, fieldtypes.OpIsOnOrBefore, fieldtypes.OpIsOnOrAfter:
		return c.compileDateCompare(field, p.Comparison, p.Value)

	case fieldtypes.OpIsOverdue, fieldtypes.OpIsNotOverdue:
		return c.compileOverdue(field, p.Comparison)

	case fieldtypes.OpIsAnyOf, fieldtypes.OpIsNoneOf:
		return compileMembership(field, p.Comparison, p.Value)

	case fieldtypes.OpHasAnyOf, fieldtypes.OpHasAllOf, fieldtypes.OpHasNoneOf, fieldtypes.OpIsExactly:
		return compileContainment(field, p.Comparison, p.Value)

	case fieldtypes.OpFileNameContains, fieldtypes.OpFileTypeIs:
		return compileFile(field, p.Comparison, p.Value)
	}

	return Condition{}, validationErrorf("unknown comparison %q on field %q", p.Comparison, p.Field)
}

// compileEquality handles is/is_not, whose meaning shifts with the field
// type: selects coalesce the nested value attribute, dates compare the
// extracted calendar prefix, booleans compare the stringified flag, numerics
// compare decimally, and everything else compares the raw text.
func (c *Compiler) compileEquality(p *Predicate, field string, info fieldtypes.Info) (Condition, error) {
	negate := p.Comparison == fieldtypes.OpIsNot

	switch info.Family {
	case fieldtypes.FamilySelect:
		expr := selectExpr(field)
		op := "="
		if negate {
			op = "<>"
		}
		return Condition{
			SQL:  fmt.Sprintf("%s %s ?", expr, op),
			Args: []any{scalarValue(p.Value)},
		}, nil

	case fieldtypes.FamilyDate, fieldtypes.FamilyDueDate:
		op := "="
		if negate {
			op = "<>"
		}
		return Condition{
			SQL:  fmt.Sprintf("%s %s ?", dateExpr(field), op),
			Args: []any{datemode.Resolve(p.Value, c.Now)},
		}, nil

	case fieldtypes.FamilyBool:
		return compileBool(field, p.Value)

	case fieldtypes.FamilyNumeric:
		op := fieldtypes.OpIsEqualTo
		if negate {
			op = fieldtypes.OpIsNotEqualTo
		}
		return compileNumeric(field, op, p.Value)

	default:
		expr := textExpr(field, info)
		op := "="
		if negate {
			op = "<>"
		}
		return Condition{
			SQL:  fmt.Sprintf("CAST(%s AS TEXT) %s CAST(? AS TEXT)", expr, op),
			Args: []any{scalarValue(p.Value)},
		}, nil
	}
}

func compileTextSubstring(expr, op string, value any) (Condition, error) {
	arg := scalarValue(value)
	if op == fieldtypes.OpNotContains {
		// A missing value does not contain anything.
		return Condition{
			SQL:  fmt.Sprintf("(%s IS NULL OR instr(LOWER(CAST(%s AS TEXT)), LOWER(?)) = 0)", expr, expr),
			Args: []any{arg},
		}, nil
	}
	return Condition{
		SQL:  fmt.Sprintf("instr(LOWER(CAST(%s AS TEXT)), LOWER(?)) > 0", expr),
		Args: []any{arg},
	}, nil
}

// compileArraySubstring gives linked-record contains/not_contains an
// existential case-insensitive substring over the array elements.
func compileArraySubstring(field, op string, value any) (Condition, error) {
	exists := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE instr(LOWER(CAST(json_each.value AS TEXT)), LOWER(?)) > 0)",
		field)
	if op == fieldtypes.OpNotContains {
		return Condition{SQL: "NOT " + exists, Args: []any{scalarValue(value)}}, nil
	}
	return Condition{SQL: exists, Args: []any{scalarValue(value)}}, nil
}

func compileNumeric(field, op string, value any) (Condition, error) {
	sqlOp, ok := map[string]string{
		fieldtypes.OpIsEqualTo:            "=",
		fieldtypes.OpIsNotEqualTo:         "<>",
		fieldtypes.OpIsGreaterThan:        ">",
		fieldtypes.OpIsLessThan:           "<",
		fieldtypes.OpIsEqualOrGreaterThan: ">=",
		fieldtypes.OpIsEqualOrLessThan:    "<=",
	}[op]
	if !ok {
		return Condition{}, validationErrorf("unknown numeric comparison %q", op)
	}

	var arg any
	if n, parsed := coerce.Number(value); parsed {
		arg = n
	} else {
		arg = scalarValue(value)
	}

	ext := extractExpr(field)
	// The decimal cast never runs on raw equality; empty strings are fenced
	// off so they cannot equal zero.
	return Condition{
		SQL: fmt.Sprintf("(%s IS NOT NULL AND CAST(%s AS TEXT) <> '' AND CAST(%s AS REAL) %s CAST(? AS REAL))",
			ext, ext, ext, sqlOp),
		Args: []any{arg},
	}, nil
}

func (c *Compiler) compileDateCompare(field, op string, value any) (Condition, error) {
	sqlOp, ok := map[string]string{
		fieldtypes.OpIsBefore:     "<",
		fieldtypes.OpIsAfter:      ">",
		fieldtypes.OpIsOnOrBefore: "<=",
		fieldtypes.OpIsOnOrAfter:  ">=",
	}[op]
	if !ok {
		return Condition{}, validationErrorf("unknown date comparison %q", op)
	}
	// NULL extractions reject the row through SQL comparison semantics.
	return Condition{
		SQL:  fmt.Sprintf("%s %s ?", dateExpr(field), sqlOp),
		Args: []any{datemode.Resolve(value, c.Now)},
	}, nil
}

func (c *Compiler) compileOverdue(field, op string) (Condition, error) {
	today := c.Now.Format(datemode.ISODate)
	completed := fmt.Sprintf("COALESCE(json_extract(data, '$.%s.is_completed'), 0) IN (1, 'true')", field)
	date := dateExpr(field)

	if op == fieldtypes.OpIsNotOverdue {
		return Condition{
			SQL:  fmt.Sprintf("(%s IS NULL OR %s >= ? OR %s)", date, date, completed),
			Args: []any{today},
		}, nil
	}
	return Condition{
		SQL:  fmt.Sprintf("(%s < ? AND NOT %s)", date, completed),
		Args: []any{today},
	}, nil
}

// compileMembership handles is_any_of/is_none_of on select-family fields.
// Empty lists short-circuit: any-of matches nothing, none-of everything.
// A nil value compiles to the false literal; callers wanting absent values
// must use is_empty.
func compileMembership(field, op string, value any) (Condition, error) {
	values := listValues(value)
	expr := selectExpr(field)

	if len(values) == 0 {
		if op == fieldtypes.OpIsNoneOf {
			return TrueCondition(), nil
		}
		return Condition{SQL: "0"}, nil
	}

	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = scalarValue(v)
	}
	in := fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ","))

	if op == fieldtypes.OpIsNoneOf {
		return Condition{
			SQL:  fmt.Sprintf("(%s IS NULL OR NOT %s)", expr, in),
			Args: args,
		}, nil
	}
	return Condition{SQL: in, Args: args}, nil
}

// compileContainment handles array containment for multi-select, tags,
// linked-record, and user fields. has_any_of ORs single-element
// containments, has_all_of ANDs them, has_none_of ANDs the negations, and
// is_exactly adds a length equality on top of has_all_of.
func compileContainment(field, op string, value any) (Condition, error) {
	values := listValues(value)

	contains := func(v any) (string, any) {
		// Bare value binds to json_each's column inside the subquery scope.
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE value = ?)", field),
			scalarValue(v)
	}

	switch op {
	case fieldtypes.OpHasAnyOf:
		if len(values) == 0 {
			return Condition{SQL: "0"}, nil
		}
		parts := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			parts[i], args[i] = contains(v)
		}
		return Condition{SQL: "(" + strings.Join(parts, " OR ") + ")", Args: args}, nil

	case fieldtypes.OpHasAllOf:
		if len(values) == 0 {
			return TrueCondition(), nil
		}
		parts := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			parts[i], args[i] = contains(v)
		}
		return Condition{SQL: "(" + strings.Join(parts, " AND ") + ")", Args: args}, nil

	case fieldtypes.OpHasNoneOf:
		if len(values) == 0 {
			return TrueCondition(), nil
		}
		parts := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			sql, arg := contains(v)
			parts[i] = "NOT " + sql
			args[i] = arg
		}
		return Condition{SQL: "(" + strings.Join(parts, " AND ") + ")", Args: args}, nil

	case fieldtypes.OpIsExactly:
		length := fmt.Sprintf("json_array_length(COALESCE(json_extract(data, '$.%s'), '[]')) = %d", field, len(values))
		if len(values) == 0 {
			return Condition{SQL: "(" + length + ")"}, nil
		}
		parts := make([]string, 0, len(values)+1)
		args := make([]any, 0, len(values))
		parts = append(parts, length)
		for _, v := range values {
			sql, arg := contains(v)
			parts = append(parts, sql)
			args = append(args, arg)
		}
		return Condition{SQL: "(" + strings.Join(parts, " AND ") + ")", Args: args}, nil
	}

	return Condition{}, validationErrorf("unknown containment comparison %q", op)
}

func compileFile(field, op string, value any) (Condition, error) {
	switch op {
	case fieldtypes.OpFileNameContains:
		return Condition{
			SQL: fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE instr(LOWER(COALESCE(json_extract(json_each.value, '$.name'), '')), LOWER(?)) > 0)",
				field),
			Args: []any{scalarValue(value)},
		}, nil
	case fieldtypes.OpFileTypeIs:
		return Condition{
			SQL: fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE json_extract(json_each.value, '$.type') = ?)",
				field),
			Args: []any{scalarValue(value)},
		}, nil
	}
	return Condition{}, validationErrorf("unknown file comparison %q", op)
}

func compileBool(field string, value any) (Condition, error) {
	var arg string
	if b, ok := coerce.Bool(value); ok {
		arg = fmt.Sprint(b)
	} else {
		arg = fmt.Sprint(scalarValue(value))
	}
	return Condition{
		SQL:  fmt.Sprintf("CAST(%s AS TEXT) = ?", extractExpr(field)),
		Args: []any{arg},
	}, nil
}

// --- access expressions ---

func extractExpr(field string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

// textExpr is the raw text access, except rich documents read their preview
// (falling back to html, then the raw payload).
func textExpr(field string, info fieldtypes.Info) string {
	if info.Category == fieldtypes.CatNestedDocument {
		return fmt.Sprintf(
			"COALESCE(json_extract(data, '$.%s.preview'), json_extract(data, '$.%s.html'), json_extract(data, '$.%s'))",
			field, field, field)
	}
	return extractExpr(field)
}

// selectExpr coalesces the nested value attribute with the bare scalar:
// status always stores an object, single selects sometimes a plain string.
func selectExpr(field string) string {
	return fmt.Sprintf("COALESCE(json_extract(data, '$.%s.value'), json_extract(data, '$.%s'))", field, field)
}

// dateExpr extracts the YYYY-MM-DD prefix, trying the nested to_date path,
// then the nested date and system timestamp shapes, then the field itself
// when it is calendar shaped. NULL when nothing matches.
func dateExpr(field string) string {
	return fmt.Sprintf(`CASE
WHEN json_extract(data, '$.%[1]s.to_date.date') IS NOT NULL THEN substr(json_extract(data, '$.%[1]s.to_date.date'), 1, 10)
WHEN json_extract(data, '$.%[1]s.date') IS NOT NULL THEN substr(json_extract(data, '$.%[1]s.date'), 1, 10)
WHEN json_extract(data, '$.%[1]s.on') IS NOT NULL THEN substr(json_extract(data, '$.%[1]s.on'), 1, 10)
WHEN json_extract(data, '$.%[1]s') GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]*' THEN substr(json_extract(data, '$.%[1]s'), 1, 10)
ELSE NULL
END`, field)
}

// emptyExpr is satisfied by an absent value, SQL/JSON null, the empty
// string, the empty array, and the degenerate empty object.
func emptyExpr(field string) string {
	ext := extractExpr(field)
	return fmt.Sprintf("(%s IS NULL OR %s = '' OR %s = '[]' OR %s = '{}')", ext, ext, ext, ext)
}

// SortExpr returns the ORDER BY expression for slug, routed through the same
// accessors predicates use so sorting and filtering agree on a field's value.
func SortExpr(schema map[string]string, slug string) (string, error) {
	field, err := sanitizeField(slug)
	if err != nil {
		return "", err
	}
	info, _ := fieldtypes.Lookup(schema[slug])
	switch info.Family {
	case fieldtypes.FamilyDate, fieldtypes.FamilyDueDate:
		return dateExpr(field), nil
	case fieldtypes.FamilySelect:
		return selectExpr(field), nil
	case fieldtypes.FamilyNumeric:
		return fmt.Sprintf("CAST(%s AS REAL)", extractExpr(field)), nil
	default:
		return textExpr(field, info), nil
	}
}

// --- value plumbing ---

var fieldSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]`)

func sanitizeField(slug string) (string, error) {
	clean := fieldSanitizer.ReplaceAllString(slug, "")
	if clean == "" {
		return "", validationErrorf("invalid field name %q", slug)
	}
	return clean, nil
}

// scalarValue unwraps {value: x} objects and leaves driver-bindable scalars
// alone.
func scalarValue(v any) any {
	switch s := v.(type) {
	case map[string]any:
		if inner, ok := s["value"]; ok {
			return scalarValue(inner)
		}
		return fmt.Sprint(s)
	case nil:
		return ""
	default:
		return v
	}
}

// listValues normalises a filter value into a list: arrays stay arrays, nil
// stays empty, a bare scalar becomes a one-element list.
func listValues(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
