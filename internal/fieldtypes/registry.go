// Package fieldtypes is the static registry of field-type knowledge: for each
// field-type name, its storage shape, its valid comparison operators, its TTL
// category, and its indexing preference. The registry is an immutable
// process-wide constant; adding a field type is a one-entry change.
package fieldtypes

import "time"

// Comparison operator names. The set is closed; the filter validator rejects
// anything outside it.
const (
	OpIs       = "is"
	OpIsNot    = "is_not"
	OpContains = "contains"
	OpNotContains = "not_contains"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"

	OpIsEqualTo           = "is_equal_to"
	OpIsNotEqualTo        = "is_not_equal_to"
	OpIsGreaterThan       = "is_greater_than"
	OpIsLessThan          = "is_less_than"
	OpIsEqualOrGreaterThan = "is_equal_or_greater_than"
	OpIsEqualOrLessThan    = "is_equal_or_less_than"

	OpIsBefore     = "is_before"
	OpIsAfter      = "is_after"
	OpIsOnOrBefore = "is_on_or_before"
	OpIsOnOrAfter  = "is_on_or_after"
	OpIsOverdue    = "is_overdue"
	OpIsNotOverdue = "is_not_overdue"

	OpIsAnyOf  = "is_any_of"
	OpIsNoneOf = "is_none_of"

	OpHasAnyOf  = "has_any_of"
	OpHasAllOf  = "has_all_of"
	OpIsExactly = "is_exactly"
	OpHasNoneOf = "has_none_of"

	OpFileNameContains = "file_name_contains"
	OpFileTypeIs       = "file_type_is"
)

// Family groups field types that share one valid-operator set. The
// (family, operator) matrix is the compatibility model; the compiler also
// dispatches on it.
type Family string

const (
	FamilyText    Family = "text"
	FamilyNumeric Family = "numeric"
	FamilyDate    Family = "date"
	FamilyDueDate Family = "due_date"
	FamilySelect  Family = "select"  // single-select and status
	FamilyMulti   Family = "multi"   // multi-select and tags
	FamilyLinked  Family = "linked"  // linked records
	FamilyUser    Family = "user"    // assigned-to style member references
	FamilyFile    Family = "file"
	FamilyBool    Family = "bool"
	FamilyFormula Family = "formula" // return type unknown; validation skipped
)

var familyOperators = map[Family][]string{
	FamilyText: {OpIs, OpIsNot, OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty},
	FamilyNumeric: {
		OpIs, OpIsNot, OpIsEqualTo, OpIsNotEqualTo, OpIsGreaterThan, OpIsLessThan,
		OpIsEqualOrGreaterThan, OpIsEqualOrLessThan, OpIsEmpty, OpIsNotEmpty,
	},
	FamilyDate: {
		OpIs, OpIsNot, OpIsBefore, OpIsAfter, OpIsOnOrBefore, OpIsOnOrAfter,
		OpIsEmpty, OpIsNotEmpty,
	},
	FamilyDueDate: {
		OpIs, OpIsNot, OpIsBefore, OpIsAfter, OpIsOnOrBefore, OpIsOnOrAfter,
		OpIsEmpty, OpIsNotEmpty, OpIsOverdue, OpIsNotOverdue,
	},
	FamilySelect: {OpIs, OpIsNot, OpIsAnyOf, OpIsNoneOf, OpIsEmpty, OpIsNotEmpty},
	FamilyMulti:  {OpHasAnyOf, OpHasAllOf, OpIsExactly, OpHasNoneOf, OpIsEmpty, OpIsNotEmpty},
	FamilyLinked: {
		OpContains, OpNotContains, OpHasAnyOf, OpHasAllOf, OpIsExactly, OpHasNoneOf,
		OpIsEmpty, OpIsNotEmpty,
	},
	FamilyUser: {OpHasAnyOf, OpHasAllOf, OpIsExactly, OpHasNoneOf, OpIsEmpty, OpIsNotEmpty},
	FamilyFile: {OpFileNameContains, OpFileTypeIs, OpIsEmpty, OpIsNotEmpty},
	FamilyBool: {OpIs},
}

// Operators returns the valid operator set for the family, nil for formula.
func (f Family) Operators() []string {
	return familyOperators[f]
}

// Allows reports whether op is valid for the family. Formula fields allow
// everything because their return type cannot be inferred.
func (f Family) Allows(op string) bool {
	if f == FamilyFormula {
		return true
	}
	for _, candidate := range familyOperators[f] {
		if candidate == op {
			return true
		}
	}
	return false
}

// StorageCategory classifies the concrete value shape a field type stores in
// the record data map.
type StorageCategory string

const (
	CatScalarText     StorageCategory = "scalar-text"
	CatScalarNumeric  StorageCategory = "scalar-numeric"
	CatScalarBoolean  StorageCategory = "scalar-boolean"
	CatNestedStatus   StorageCategory = "nested-status"
	CatNestedDate     StorageCategory = "nested-date"
	CatNestedDateRange StorageCategory = "nested-date-range"
	CatNestedDueDate   StorageCategory = "nested-due-date"
	CatArrayScalars    StorageCategory = "array-of-scalars"
	CatArrayObjects    StorageCategory = "array-of-objects"
	CatNestedDocument  StorageCategory = "nested-document"
	CatSystemReadonly  StorageCategory = "system-readonly"
)

// IsNested reports whether values of this category are stored as fully
// nested objects the upstream supplies, never flattened.
func (c StorageCategory) IsNested() bool {
	switch c {
	case CatNestedStatus, CatNestedDate, CatNestedDateRange, CatNestedDueDate, CatNestedDocument:
		return true
	}
	return false
}

// IsArray reports whether values of this category are JSON arrays.
func (c StorageCategory) IsArray() bool {
	return c == CatArrayScalars || c == CatArrayObjects
}

// TTLCategory buckets field types by expected volatility. A table's record
// TTL is the shortest category present in its schema unless overridden.
type TTLCategory string

const (
	TTLVeryShort TTLCategory = "very-short" // time tracking
	TTLShort     TTLCategory = "short"      // activity counts and timestamps
	TTLMedium    TTLCategory = "medium"     // workflow metadata
	TTLLong      TTLCategory = "long"       // static content and system constants
)

// Duration returns the concrete TTL for the category.
func (c TTLCategory) Duration() time.Duration {
	switch c {
	case TTLVeryShort:
		return time.Minute
	case TTLShort:
		return 5 * time.Minute
	case TTLLong:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// IndexPreference hints whether a materialised column for the field would pay
// its way.
type IndexPreference string

const (
	IndexAlways      IndexPreference = "always"
	IndexConditional IndexPreference = "conditional"
	IndexNever       IndexPreference = "never"
)

// Info is one registry row.
type Info struct {
	Name         string
	Family       Family
	Category     StorageCategory
	TTL          TTLCategory
	Index        IndexPreference
	LargeContent bool // shaper warns when the field is requested
}

// Field type names (closed set).
const (
	TypeText          = "text"
	TypeLongText      = "long_text"
	TypeRichText      = "rich_text"
	TypeNumber        = "number"
	TypeCurrency      = "currency"
	TypePercent       = "percent"
	TypeRating        = "rating"
	TypeDuration      = "duration"
	TypeDate          = "date"
	TypeDueDate       = "due_date"
	TypeDateRange     = "date_range"
	TypeSingleSelect  = "single_select"
	TypeStatus        = "status"
	TypeMultiSelect   = "multi_select"
	TypeTags          = "tags"
	TypeLinkedRecord  = "linked_record"
	TypeUser          = "user"
	TypeFile          = "file"
	TypeYesNo         = "yes_no"
	TypeFormula       = "formula"
	TypeAutoNumber    = "auto_number"
	TypeFirstCreated  = "first_created"
	TypeLastUpdated   = "last_updated"
	TypeCommentsCount = "comments_count"
	TypeRecordID      = "record_id"
)

var registry = map[string]Info{
	TypeText:     {TypeText, FamilyText, CatScalarText, TTLLong, IndexConditional, false},
	TypeLongText: {TypeLongText, FamilyText, CatScalarText, TTLLong, IndexNever, true},
	TypeRichText: {TypeRichText, FamilyText, CatNestedDocument, TTLLong, IndexNever, true},

	TypeNumber:   {TypeNumber, FamilyNumeric, CatScalarNumeric, TTLMedium, IndexAlways, false},
	TypeCurrency: {TypeCurrency, FamilyNumeric, CatScalarNumeric, TTLMedium, IndexAlways, false},
	TypePercent:  {TypePercent, FamilyNumeric, CatScalarNumeric, TTLMedium, IndexAlways, false},
	TypeRating:   {TypeRating, FamilyNumeric, CatScalarNumeric, TTLMedium, IndexConditional, false},
	TypeDuration: {TypeDuration, FamilyNumeric, CatScalarNumeric, TTLVeryShort, IndexNever, false},

	TypeDate:      {TypeDate, FamilyDate, CatNestedDate, TTLMedium, IndexAlways, false},
	TypeDueDate:   {TypeDueDate, FamilyDueDate, CatNestedDueDate, TTLMedium, IndexAlways, false},
	TypeDateRange: {TypeDateRange, FamilyDate, CatNestedDateRange, TTLMedium, IndexConditional, false},

	TypeSingleSelect: {TypeSingleSelect, FamilySelect, CatScalarText, TTLMedium, IndexAlways, false},
	TypeStatus:       {TypeStatus, FamilySelect, CatNestedStatus, TTLMedium, IndexAlways, false},

	TypeMultiSelect:  {TypeMultiSelect, FamilyMulti, CatArrayScalars, TTLMedium, IndexConditional, false},
	TypeTags:         {TypeTags, FamilyMulti, CatArrayScalars, TTLMedium, IndexConditional, false},
	TypeLinkedRecord: {TypeLinkedRecord, FamilyLinked, CatArrayScalars, TTLMedium, IndexConditional, false},
	TypeUser:         {TypeUser, FamilyUser, CatArrayScalars, TTLMedium, IndexConditional, false},

	TypeFile:  {TypeFile, FamilyFile, CatArrayObjects, TTLLong, IndexNever, true},
	TypeYesNo: {TypeYesNo, FamilyBool, CatScalarBoolean, TTLMedium, IndexAlways, false},

	TypeFormula: {TypeFormula, FamilyFormula, CatScalarText, TTLMedium, IndexNever, false},

	TypeAutoNumber:    {TypeAutoNumber, FamilyNumeric, CatSystemReadonly, TTLLong, IndexConditional, false},
	TypeFirstCreated:  {TypeFirstCreated, FamilyDate, CatSystemReadonly, TTLLong, IndexNever, false},
	TypeLastUpdated:   {TypeLastUpdated, FamilyDate, CatSystemReadonly, TTLShort, IndexNever, false},
	TypeCommentsCount: {TypeCommentsCount, FamilyNumeric, CatSystemReadonly, TTLShort, IndexNever, false},
	TypeRecordID:      {TypeRecordID, FamilyText, CatSystemReadonly, TTLLong, IndexNever, false},
}

// Lookup returns the registry row for a field-type name.
func Lookup(name string) (Info, bool) {
	info, ok := registry[name]
	return info, ok
}

// Known reports whether the field-type name is in the closed set.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// All returns every registry row. The result is a copy; the registry itself
// never changes after init.
func All() []Info {
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	return out
}

// ValidOperator reports whether op is valid for the named field type.
// Unknown types and formula fields cannot be checked and report true.
func ValidOperator(fieldType, op string) bool {
	info, ok := registry[fieldType]
	if !ok {
		return true
	}
	return info.Family.Allows(op)
}
