// Package filter parses, validates, and compiles record filter trees: AND/OR
// groups over {field, comparison, value} predicates, compiled to
// parameterised SQL against the cache store's JSON data column.
package filter

import (
	"encoding/json"
	"fmt"
)

// Node is a filter tree node: either a *Group or a *Predicate.
type Node interface {
	node()
}

// Group is an inner tree node combining child nodes with and/or.
type Group struct {
	Operator string // "and" or "or"
	Children []Node
}

// Predicate is a leaf comparison against one field.
type Predicate struct {
	Field      string
	Comparison string
	Value      any
}

func (*Group) node()     {}
func (*Predicate) node() {}

// ValidationError reports a filter the bridge cannot accept: a malformed
// tree, an unknown comparison, or an operator mismatch in strict mode.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// rawNode is the wire shape of a filter node. Groups carry operator+fields,
// predicates carry field+comparison+value.
type rawNode struct {
	Operator   string            `json:"operator,omitempty"`
	Fields     []json.RawMessage `json:"fields,omitempty"`
	Field      string            `json:"field,omitempty"`
	Comparison string            `json:"comparison,omitempty"`
	Value      any               `json:"value,omitempty"`
}

// Parse decodes a JSON filter tree. A nil or empty document parses to nil
// (no filter). Malformed trees return ValidationError.
func Parse(raw json.RawMessage) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := string(raw)
	if trimmed == "null" || trimmed == "{}" || trimmed == `""` {
		return nil, nil
	}
	return parseNode(raw)
}

func parseNode(raw json.RawMessage) (Node, error) {
	var rn rawNode
	if err := json.Unmarshal(raw, &rn); err != nil {
		return nil, validationErrorf("malformed filter: %v", err)
	}

	// Group shape wins when both spellings are present.
	if rn.Operator != "" || rn.Fields != nil {
		if rn.Operator != "and" && rn.Operator != "or" {
			return nil, validationErrorf("unknown group operator %q (want and/or)", rn.Operator)
		}
		group := &Group{Operator: rn.Operator, Children: make([]Node, 0, len(rn.Fields))}
		for _, childRaw := range rn.Fields {
			child, err := parseNode(childRaw)
			if err != nil {
				return nil, err
			}
			group.Children = append(group.Children, child)
		}
		return group, nil
	}

	if rn.Field == "" || rn.Comparison == "" {
		return nil, validationErrorf("malformed filter node: need operator+fields or field+comparison")
	}
	return &Predicate{Field: rn.Field, Comparison: rn.Comparison, Value: rn.Value}, nil
}

// Walk visits every predicate in the tree in document order.
func Walk(node Node, visit func(*Predicate)) {
	switch n := node.(type) {
	case nil:
		return
	case *Predicate:
		visit(n)
	case *Group:
		for _, child := range n.Children {
			Walk(child, visit)
		}
	}
}
