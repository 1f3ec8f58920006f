package fieldtypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperatorMatrix(t *testing.T) {
	// One row per family: representative allowed and rejected operators.
	tests := []struct {
		fieldType string
		allowed   []string
		rejected  []string
	}{
		{TypeText, []string{OpIs, OpContains, OpIsEmpty}, []string{OpIsGreaterThan, OpHasAnyOf, OpFileTypeIs}},
		{TypeNumber, []string{OpIsEqualTo, OpIsGreaterThan, OpIsNotEmpty}, []string{OpContains, OpHasAllOf, OpIsBefore}},
		{TypeDate, []string{OpIsBefore, OpIsOnOrAfter, OpIs}, []string{OpIsOverdue, OpHasAnyOf, OpIsGreaterThan}},
		{TypeDueDate, []string{OpIsOverdue, OpIsNotOverdue, OpIsBefore}, []string{OpHasAnyOf, OpIsGreaterThan}},
		{TypeSingleSelect, []string{OpIsAnyOf, OpIsNoneOf, OpIs}, []string{OpHasAnyOf, OpContains}},
		{TypeStatus, []string{OpIsAnyOf, OpIsNoneOf, OpIs}, []string{OpHasAnyOf, OpContains}},
		{TypeMultiSelect, []string{OpHasAnyOf, OpHasAllOf, OpIsExactly, OpHasNoneOf}, []string{OpIs, OpIsAnyOf, OpContains}},
		{TypeTags, []string{OpHasAnyOf, OpIsEmpty}, []string{OpIs}},
		{TypeLinkedRecord, []string{OpContains, OpHasAnyOf, OpIsExactly}, []string{OpIs, OpIsAnyOf}},
		{TypeUser, []string{OpHasAnyOf, OpHasNoneOf}, []string{OpIs, OpContains}},
		{TypeFile, []string{OpFileNameContains, OpFileTypeIs, OpIsEmpty}, []string{OpIs, OpContains}},
		{TypeYesNo, []string{OpIs}, []string{OpIsNot, OpIsEmpty}},
	}

	for _, tt := range tests {
		t.Run(tt.fieldType, func(t *testing.T) {
			for _, op := range tt.allowed {
				assert.True(t, ValidOperator(tt.fieldType, op), "%s should allow %s", tt.fieldType, op)
			}
			for _, op := range tt.rejected {
				assert.False(t, ValidOperator(tt.fieldType, op), "%s should reject %s", tt.fieldType, op)
			}
		})
	}
}

func TestFormulaAndUnknownSkipValidation(t *testing.T) {
	assert.True(t, ValidOperator(TypeFormula, OpHasAnyOf))
	assert.True(t, ValidOperator(TypeFormula, "no_such_operator"))
	assert.True(t, ValidOperator("mystery_type", OpIs))
}

func TestEveryRegisteredTypeHasOperators(t *testing.T) {
	for _, info := range All() {
		if info.Family == FamilyFormula {
			continue
		}
		assert.NotEmpty(t, info.Family.Operators(), "type %s has no operator set", info.Name)
	}
}

func TestTTLCategoryDurations(t *testing.T) {
	assert.Equal(t, time.Minute, TTLVeryShort.Duration())
	assert.Equal(t, 5*time.Minute, TTLShort.Duration())
	assert.Equal(t, time.Hour, TTLMedium.Duration())
	assert.Equal(t, 24*time.Hour, TTLLong.Duration())
	// Unrecognised categories fall back to medium.
	assert.Equal(t, time.Hour, TTLCategory("weird").Duration())
}

func TestTTLAssignmentsFollowVolatility(t *testing.T) {
	ttl := func(name string) TTLCategory {
		info, ok := Lookup(name)
		if !ok {
			t.Fatalf("type %s not registered", name)
		}
		return info.TTL
	}

	assert.Equal(t, TTLVeryShort, ttl(TypeDuration), "time tracking is the most volatile")
	assert.Equal(t, TTLShort, ttl(TypeCommentsCount), "activity counts are short")
	assert.Equal(t, TTLShort, ttl(TypeLastUpdated), "activity timestamps are short")
	assert.Equal(t, TTLMedium, ttl(TypeStatus), "workflow metadata is medium")
	assert.Equal(t, TTLMedium, ttl(TypeUser), "assignments are medium")
	assert.Equal(t, TTLLong, ttl(TypeText), "static text is long")
	assert.Equal(t, TTLLong, ttl(TypeFirstCreated), "immutable system fields are long")
}

func TestCategoryPredicates(t *testing.T) {
	nested := []StorageCategory{CatNestedStatus, CatNestedDate, CatNestedDateRange, CatNestedDueDate, CatNestedDocument}
	for _, cat := range nested {
		assert.True(t, cat.IsNested(), "%s is nested", cat)
	}
	assert.False(t, CatScalarText.IsNested())
	assert.True(t, CatArrayScalars.IsArray())
	assert.True(t, CatArrayObjects.IsArray())
	assert.False(t, CatNestedStatus.IsArray())
}

func TestLargeContentFlags(t *testing.T) {
	for _, name := range []string{TypeLongText, TypeRichText, TypeFile} {
		info, _ := Lookup(name)
		assert.True(t, info.LargeContent, "%s is large content", name)
	}
	info, _ := Lookup(TypeText)
	assert.False(t, info.LargeContent)
}
