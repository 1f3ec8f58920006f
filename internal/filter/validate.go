package filter

import (
	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
)

// knownOps is the closed comparison set across all families.
var knownOps = func() map[string]bool {
	ops := make(map[string]bool)
	for _, family := range []fieldtypes.Family{
		fieldtypes.FamilyText, fieldtypes.FamilyNumeric, fieldtypes.FamilyDate,
		fieldtypes.FamilyDueDate, fieldtypes.FamilySelect, fieldtypes.FamilyMulti,
		fieldtypes.FamilyLinked, fieldtypes.FamilyUser, fieldtypes.FamilyFile,
		fieldtypes.FamilyBool,
	} {
		for _, op := range family.Operators() {
			ops[op] = true
		}
	}
	return ops
}()

// KnownOperator reports whether op belongs to the closed comparison set.
func KnownOperator(op string) bool {
	return knownOps[op]
}

// Validate checks every predicate's operator against its field type. schema
// maps field slug to field-type name. In non-strict mode mismatches become
// warnings and the filter still compiles; in strict mode the first mismatch
// fails with ValidationError. Operators outside the closed set always fail.
// Unknown field types and formula fields skip validation entirely.
func Validate(node Node, schema map[string]string, strict bool, warnings *Warnings) error {
	var firstErr error
	Walk(node, func(p *Predicate) {
		if firstErr != nil {
			return
		}
		firstErr = validatePredicate(p, schema, strict, warnings)
	})
	return firstErr
}

func validatePredicate(p *Predicate, schema map[string]string, strict bool, warnings *Warnings) error {
	if !KnownOperator(p.Comparison) {
		return validationErrorf("unknown comparison %q on field %q", p.Comparison, p.Field)
	}

	fieldType, ok := schema[p.Field]
	if !ok {
		return nil // cannot infer, skip
	}
	info, ok := fieldtypes.Lookup(fieldType)
	if !ok || info.Family == fieldtypes.FamilyFormula {
		return nil
	}

	if info.Family.Allows(p.Comparison) {
		return nil
	}

	suggestion := Suggest(info.Family, p.Comparison)
	if strict {
		if suggestion != "" {
			return validationErrorf("invalid operator %q for field %q (type %s); use %q",
				p.Comparison, p.Field, fieldType, suggestion)
		}
		return validationErrorf("invalid operator %q for field %q (type %s)",
			p.Comparison, p.Field, fieldType)
	}

	if suggestion != "" {
		warnings.Addf("operator %q is not valid for field %q (type %s); did you mean %q?",
			p.Comparison, p.Field, fieldType, suggestion)
	} else {
		warnings.Addf("operator %q is not valid for field %q (type %s)",
			p.Comparison, p.Field, fieldType)
	}
	return nil
}

// Suggest proposes the operator a caller probably wanted when op mismatches
// the family.
func Suggest(family fieldtypes.Family, op string) string {
	switch family {
	case fieldtypes.FamilyMulti, fieldtypes.FamilyUser:
		if op == fieldtypes.OpIs || op == fieldtypes.OpIsAnyOf {
			return fieldtypes.OpHasAnyOf
		}
	case fieldtypes.FamilySelect:
		if op == fieldtypes.OpHasAnyOf {
			return fieldtypes.OpIsAnyOf
		}
	case fieldtypes.FamilyNumeric:
		if op == fieldtypes.OpContains {
			return fieldtypes.OpIsEqualTo
		}
	case fieldtypes.FamilyText:
		switch op {
		case fieldtypes.OpIsEqualTo, fieldtypes.OpIsNotEqualTo, fieldtypes.OpIsGreaterThan,
			fieldtypes.OpIsLessThan, fieldtypes.OpIsEqualOrGreaterThan, fieldtypes.OpIsEqualOrLessThan:
			return fieldtypes.OpIs
		}
	}
	return ""
}
