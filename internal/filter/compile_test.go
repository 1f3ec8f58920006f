package filter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
)

var compileNow = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func newCompiler(strict bool) (*Compiler, *Warnings) {
	w := NewWarnings()
	return &Compiler{Schema: testSchema, Now: compileNow, Strict: strict, Warnings: w}, w
}

func TestCompileNilTree(t *testing.T) {
	c, _ := newCompiler(false)
	cond, err := c.Compile(nil)
	if err != nil {
		t.Fatalf("Compile(nil): %v", err)
	}
	if cond.SQL != "1" || len(cond.Args) != 0 {
		t.Errorf("Compile(nil) = %+v, want constant true", cond)
	}
}

func TestCompileTextOps(t *testing.T) {
	c, _ := newCompiler(false)

	cond, err := c.Compile(&Predicate{Field: "title", Comparison: "contains", Value: "Report"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "instr(LOWER(") {
		t.Errorf("contains should be case-insensitive substring, got %s", cond.SQL)
	}
	if len(cond.Args) != 1 || cond.Args[0] != "Report" {
		t.Errorf("args = %v", cond.Args)
	}

	cond, err = c.Compile(&Predicate{Field: "title", Comparison: "is_empty"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, literal := range []string{"IS NULL", "= ''", "= '[]'", "= '{}'"} {
		if !strings.Contains(cond.SQL, literal) {
			t.Errorf("is_empty should cover %s, got %s", literal, cond.SQL)
		}
	}
	if len(cond.Args) != 0 {
		t.Errorf("is_empty should bind nothing, got %v", cond.Args)
	}
}

func TestCompileNumericNeverLexical(t *testing.T) {
	c, _ := newCompiler(false)
	for _, op := range []string{"is", "is_equal_to", "is_greater_than"} {
		cond, err := c.Compile(&Predicate{Field: "amount", Comparison: op, Value: "250"})
		if err != nil {
			t.Fatalf("Compile(%s): %v", op, err)
		}
		if !strings.Contains(cond.SQL, "AS REAL") {
			t.Errorf("%s on number should cast to REAL, got %s", op, cond.SQL)
		}
		if cond.Args[0] != 250.0 {
			t.Errorf("%s arg = %v, want coerced float", op, cond.Args[0])
		}
	}
}

func TestCompileDateBindsResolvedMode(t *testing.T) {
	c, _ := newCompiler(false)
	cond, err := c.Compile(&Predicate{
		Field:      "due_date",
		Comparison: "is_before",
		Value:      map[string]any{"date_mode": "today"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cond.Args) != 1 || cond.Args[0] != "2024-12-01" {
		t.Errorf("args = %v, want resolved today", cond.Args)
	}
	if !strings.Contains(cond.SQL, "to_date.date") {
		t.Errorf("date access should try the nested to_date path, got %s", cond.SQL)
	}
}

// Calendar-date equality for is/is_not on date fields: the remote's own
// comparison semantics are unverified, so these assertions pin the local
// behaviour deliberately.
func TestCompileDateEqualityUsesCalendarPrefix(t *testing.T) {
	c, _ := newCompiler(false)
	cond, err := c.Compile(&Predicate{Field: "due_date", Comparison: "is", Value: "2024-06-15T12:00:00Z"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if cond.Args[0] != "2024-06-15" {
		t.Errorf("arg = %v, want calendar prefix", cond.Args[0])
	}
	if !strings.Contains(cond.SQL, "substr(") {
		t.Errorf("comparison should run on the extracted prefix, got %s", cond.SQL)
	}
}

func TestCompileOverdue(t *testing.T) {
	c, _ := newCompiler(false)

	cond, err := c.Compile(&Predicate{Field: "due_date", Comparison: "is_overdue"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "is_completed") {
		t.Errorf("is_overdue should honour the completed flag, got %s", cond.SQL)
	}
	if cond.Args[0] != "2024-12-01" {
		t.Errorf("args = %v, want today", cond.Args)
	}

	cond, err = c.Compile(&Predicate{Field: "due_date", Comparison: "is_not_overdue"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "IS NULL OR") {
		t.Errorf("records without a due date are never overdue, got %s", cond.SQL)
	}
}

func TestCompileEmptyListShortCircuits(t *testing.T) {
	c, _ := newCompiler(false)

	tests := []struct {
		field string
		op    string
		value any
		want  string
	}{
		{"tags", "has_any_of", []any{}, "0"},
		{"tags", "has_all_of", []any{}, "1"},
		{"tags", "has_none_of", []any{}, "1"},
		{"priority", "is_any_of", []any{}, "0"},
		{"priority", "is_any_of", nil, "0"}, // nil is deliberate false, not empty-match
		{"priority", "is_none_of", []any{}, "1"},
	}
	for _, tt := range tests {
		cond, err := c.Compile(&Predicate{Field: tt.field, Comparison: tt.op, Value: tt.value})
		if err != nil {
			t.Fatalf("Compile(%s %s): %v", tt.field, tt.op, err)
		}
		if cond.SQL != tt.want || len(cond.Args) != 0 {
			t.Errorf("%s %s %v = %+v, want bare %s", tt.field, tt.op, tt.value, cond, tt.want)
		}
	}
}

func TestCompileContainment(t *testing.T) {
	c, _ := newCompiler(false)

	cond, err := c.Compile(&Predicate{Field: "tags", Comparison: "has_any_of", Value: []any{"urgent", "bug"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := strings.Count(cond.SQL, "json_each"); got != 2 {
		t.Errorf("has_any_of [2 values] should emit 2 containments, got %d in %s", got, cond.SQL)
	}
	if !strings.Contains(cond.SQL, " OR ") {
		t.Errorf("has_any_of joins with OR, got %s", cond.SQL)
	}
	if len(cond.Args) != 2 {
		t.Errorf("args = %v", cond.Args)
	}

	cond, err = c.Compile(&Predicate{Field: "tags", Comparison: "has_none_of", Value: []any{"spam"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "NOT EXISTS") {
		t.Errorf("has_none_of negates containment, got %s", cond.SQL)
	}

	cond, err = c.Compile(&Predicate{Field: "tags", Comparison: "is_exactly", Value: []any{"a", "b"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "json_array_length") {
		t.Errorf("is_exactly checks length, got %s", cond.SQL)
	}
}

func TestCompileMembershipCoalescesNestedValue(t *testing.T) {
	c, _ := newCompiler(false)
	cond, err := c.Compile(&Predicate{Field: "status", Comparison: "is_any_of", Value: []any{"active", "paused"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, ".value'") {
		t.Errorf("select access should coalesce the nested value attribute, got %s", cond.SQL)
	}
	if !strings.Contains(cond.SQL, "IN (?,?)") {
		t.Errorf("is_any_of emits an IN list, got %s", cond.SQL)
	}
}

func TestCompileFileOps(t *testing.T) {
	schema := map[string]string{"attachments": fieldtypes.TypeFile}
	c := &Compiler{Schema: schema, Now: compileNow, Warnings: NewWarnings()}

	cond, err := c.Compile(&Predicate{Field: "attachments", Comparison: "file_name_contains", Value: "invoice"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "'$.name'") || !strings.Contains(cond.SQL, "instr(LOWER(") {
		t.Errorf("file_name_contains = %s", cond.SQL)
	}

	cond, err = c.Compile(&Predicate{Field: "attachments", Comparison: "file_type_is", Value: "pdf"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cond.SQL, "'$.type'") || strings.Contains(cond.SQL, "LOWER") {
		t.Errorf("file_type_is should be exact, got %s", cond.SQL)
	}
}

func TestCompileYesNo(t *testing.T) {
	c, _ := newCompiler(false)
	cond, err := c.Compile(&Predicate{Field: "done", Comparison: "is", Value: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if cond.Args[0] != "1" {
		t.Errorf("yes/no binds a stringified boolean, got %v", cond.Args)
	}
}

func TestCompileDeeplyNestedGroups(t *testing.T) {
	// Four levels: and(or(and(or(p1, p2), p3), p4), p5).
	tree := &Group{Operator: "and", Children: []Node{
		&Group{Operator: "or", Children: []Node{
			&Group{Operator: "and", Children: []Node{
				&Group{Operator: "or", Children: []Node{
					&Predicate{Field: "title", Comparison: "is", Value: "a"},
					&Predicate{Field: "title", Comparison: "is", Value: "b"},
				}},
				&Predicate{Field: "amount", Comparison: "is_greater_than", Value: 5},
			}},
			&Predicate{Field: "done", Comparison: "is", Value: false},
		}},
		&Predicate{Field: "priority", Comparison: "is", Value: "high"},
	}}

	c, w := newCompiler(false)
	cond, err := c.Compile(tree)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if w.Len() != 0 {
		t.Errorf("unexpected warnings: %v", w.Items())
	}
	if strings.Count(cond.SQL, "(") != strings.Count(cond.SQL, ")") {
		t.Errorf("unbalanced parens: %s", cond.SQL)
	}
	// a, b, 5, "0" (bool), "high" in document order.
	want := []any{"a", "b", 5.0, "0", "high"}
	if len(cond.Args) != len(want) {
		t.Fatalf("args = %v, want %v", cond.Args, want)
	}
	for i := range want {
		if cond.Args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, cond.Args[i], want[i])
		}
	}
}

func TestCompileEmptyGroups(t *testing.T) {
	c, _ := newCompiler(false)

	cond, err := c.Compile(&Group{Operator: "and"})
	if err != nil || cond.SQL != "1" {
		t.Errorf("empty and = (%+v, %v), want constant true", cond, err)
	}
	cond, err = c.Compile(&Group{Operator: "or"})
	if err != nil || cond.SQL != "0" {
		t.Errorf("empty or = (%+v, %v), want constant false", cond, err)
	}
}

func TestCompileSanitisesFieldNames(t *testing.T) {
	c, _ := newCompiler(false)

	cond, err := c.Compile(&Predicate{Field: "ti'tle; DROP TABLE records--", Comparison: "is", Value: "x"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, bad := range []string{";", "'t", "--", "DROP TABLE r"} {
		if strings.Contains(cond.SQL, bad) {
			t.Errorf("unsanitised fragment %q in %s", bad, cond.SQL)
		}
	}

	_, err = c.Compile(&Predicate{Field: "💥", Comparison: "is", Value: "x"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("fully invalid field = %v, want ValidationError", err)
	}
}

// Validate and Compile agree: both fail on unknown comparisons, and in
// non-strict mode a compiling tree carries one warning per failing predicate.
func TestCompileAndValidateAgree(t *testing.T) {
	mismatched := &Group{Operator: "and", Children: []Node{
		&Predicate{Field: "tags", Comparison: "is", Value: "x"},
		&Predicate{Field: "amount", Comparison: "contains", Value: "7"},
	}}

	c, w := newCompiler(false)
	if _, err := c.Compile(mismatched); err != nil {
		t.Fatalf("non-strict Compile: %v", err)
	}
	if w.Len() != 2 {
		t.Errorf("warnings = %v, want 2", w.Items())
	}

	strictC, _ := newCompiler(true)
	if _, err := strictC.Compile(mismatched); err == nil {
		t.Error("strict Compile should fail")
	}

	unknown := &Predicate{Field: "title", Comparison: "resembles", Value: "x"}
	if _, err := c.Compile(unknown); err == nil {
		t.Error("unknown comparison should fail Compile in any mode")
	}
}

func TestSortExprRoutesThroughAccessors(t *testing.T) {
	tests := []struct {
		slug string
		want string
	}{
		{"due_date", "to_date.date"},
		{"status", ".value'"},
		{"amount", "AS REAL"},
		{"title", "json_extract(data, '$.title')"},
	}
	for _, tt := range tests {
		expr, err := SortExpr(testSchema, tt.slug)
		if err != nil {
			t.Fatalf("SortExpr(%s): %v", tt.slug, err)
		}
		if !strings.Contains(expr, tt.want) {
			t.Errorf("SortExpr(%s) = %s, want fragment %q", tt.slug, expr, tt.want)
		}
	}
}
