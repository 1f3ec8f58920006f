// Package types defines core data structures shared across the gridbase-mcp bridge.
package types

import (
	"encoding/json"
	"time"
)

// EntityKind identifies a class of cached entities. Records and table schemas
// live in dedicated storage and are not addressed through EntityKind.
type EntityKind string

const (
	KindSolutions      EntityKind = "solutions"
	KindTables         EntityKind = "tables"
	KindMembers        EntityKind = "members"
	KindTeams          EntityKind = "teams"
	KindViews          EntityKind = "views"
	KindDeletedRecords EntityKind = "deleted_records"

	// KindRecords addresses record rows in invalidation scopes only; records
	// live in dedicated storage, not the generic envelope table.
	KindRecords EntityKind = "records"
)

// IsValid returns true if the kind is one of the cached entity classes.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindSolutions, KindTables, KindMembers, KindTeams, KindViews, KindDeletedRecords:
		return true
	}
	return false
}

// AllEntityKinds lists the cached entity classes in status-report order.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindSolutions,
		KindTables,
		KindMembers,
		KindTeams,
		KindViews,
		KindDeletedRecords,
	}
}

// Solution is a top-level workspace container. It owns zero or more tables.
type Solution struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	LogoIcon     string               `json:"logo_icon,omitempty"`
	LogoColor    string               `json:"logo_color,omitempty"`
	RecordsCount *int                 `json:"records_count,omitempty"`
	LastActivity *time.Time           `json:"last_activity,omitempty"`
	Permissions  *SolutionPermissions `json:"permissions,omitempty"`
}

// SolutionPermissions carries the ownership metadata the upstream exposes.
type SolutionPermissions struct {
	Owners []string `json:"owners,omitempty"` // member ids
}

// Table is a collection of records sharing a schema. Structure is the ordered
// field descriptor list; it may be absent when the upstream returned a
// shallow listing.
type Table struct {
	ID         string  `json:"id"`
	SolutionID string  `json:"solution_id"`
	Name       string  `json:"name"`
	Structure  []Field `json:"structure,omitempty"`
}

// PrimaryFieldSlug returns the slug of the table's title field, or "title"
// when the structure does not mark one.
func (t Table) PrimaryFieldSlug() string {
	for _, f := range t.Structure {
		if f.Params != nil && f.Params.Primary {
			return f.Slug
		}
	}
	return "title"
}

// Field describes one column of a table. Slug is the stable machine
// identifier, distinct from the human-facing Label.
type Field struct {
	Slug      string       `json:"slug"`
	Label     string       `json:"label"`
	FieldType string       `json:"field_type"`
	Params    *FieldParams `json:"params,omitempty"`
}

// FieldParams carries per-type extras: choices for select types, numeric
// bounds, the linked-table target for linked records, and the primary marker
// on the table's title field.
type FieldParams struct {
	Choices       []Choice `json:"choices,omitempty"`
	LinkedTableID string   `json:"linked_table_id,omitempty"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	Primary       bool     `json:"primary,omitempty"`
}

// Choice is one selectable option on a select-family field.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Record is a single row of a table. Data is keyed by field slug; each
// value's concrete shape is determined by the field's type. Nested-object
// types (status, date range, rich document, assigned-to) are always stored
// as the fully nested structure the upstream supplies, never flattened.
type Record struct {
	ID      string         `json:"id"`
	TableID string         `json:"table_id,omitempty"`
	Data    map[string]any `json:"data"`
}

// Member is a workspace user directory entry.
type Member struct {
	ID        string   `json:"id"`
	Email     string   `json:"email,omitempty"`
	FullName  string   `json:"full_name,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
	Teams     []string `json:"teams,omitempty"` // team ids
}

// DisplayName returns the best human-readable name available for the member.
func (m Member) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	name := m.FirstName
	if m.LastName != "" {
		if name != "" {
			name += " "
		}
		name += m.LastName
	}
	if name != "" {
		return name
	}
	return m.Email
}

// Team is a named group of members.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"` // member ids
}

// View is a named, persisted filter+sort+paging plan attached to a table.
// Filter is kept raw; the filter package parses it on use.
type View struct {
	ID      string          `json:"id"`
	TableID string          `json:"table_id"`
	Name    string          `json:"name"`
	Filter  json.RawMessage `json:"filter,omitempty"`
	Sort    []SortOption    `json:"sort,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// DeletedRecord is a record snapshot plus deletion metadata. Tombstones are
// enumerated per solution.
type DeletedRecord struct {
	Record     Record     `json:"record"`
	TableID    string     `json:"table_id"`
	SolutionID string     `json:"solution_id,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty"`
}

// Comment is a remote discussion entry on a record. Comments pass through
// the bridge uncached.
type Comment struct {
	ID        string     `json:"id"`
	RecordID  string     `json:"record_id"`
	Author    string     `json:"author,omitempty"` // member id
	Text      string     `json:"text,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
