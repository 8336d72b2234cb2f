// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taibuivan/mongate/internal/platform/apperr"
)

// # Selection AST

// NodeKind discriminates the selection AST variants.
type NodeKind int

const (
	// KindField selects one scalar property.
	KindField NodeKind = iota
	// KindRelationship expands a declared relationship.
	KindRelationship
	// KindAggregate computes one aggregate over a relationship. Aggregates
	// are leaves; they never nest.
	KindAggregate
)

// Aggregate kinds.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// SortEntry is one component of a relationship sort modifier.
type SortEntry struct {
	Field string
	Desc  bool
}

// Modifiers are the trailing !key.value chain of a relationship expression.
type Modifiers struct {
	// Sort entries compose in the order written.
	Sort []SortEntry
	// Limit is a positive page size; zero means unset.
	Limit int
	// Skip is a non-negative offset; zero is equivalent to absent.
	Skip int
	// Inner requests inner-join semantics for the expansion.
	Inner bool
}

// Node is one selection AST node.
type Node struct {
	Kind NodeKind

	// Name is the property name (KindField only).
	Name string

	// Alias is the caller-facing name the result attaches under.
	Alias string
	// Relation is the descriptor relationship alias; it equals Alias unless
	// the caller renamed the expansion with "alias:relation".
	Relation string

	// Wildcard marks an "alias(*)" expansion of all target properties.
	Wildcard bool
	// SubFields are the nested selections (KindRelationship, non-wildcard).
	SubFields []*Node

	// Aggregate is the aggregate kind (KindAggregate only); AggregateField
	// is its operand, empty for count.
	Aggregate      string
	AggregateField string

	Modifiers Modifiers
}

// # Parsing

// Parse turns a selection string into its AST.
//
// The tokenizer is single-pass and position-aware: top-level commas are those
// at parenthesis depth zero. Inputs whose depth goes negative or ends non-zero
// are rejected.
func Parse(input string) ([]*Node, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	elements, err := splitTop(trimmed, ',')
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(elements))
	for _, element := range elements {
		node, err := parseElement(strings.TrimSpace(element))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// parseElement parses one comma-separated selection element.
func parseElement(element string) (*Node, error) {
	if element == "" {
		return nil, apperr.QueryParse("Empty selection element")
	}

	segments, err := splitTop(element, '!')
	if err != nil {
		return nil, err
	}

	head := segments[0]
	namePart, subExpr, hasParens, err := splitHead(head)
	if err != nil {
		return nil, err
	}

	alias, relation := namePart, namePart
	if before, after, renamed := strings.Cut(namePart, ":"); renamed {
		if before == "" || after == "" || strings.Contains(after, ":") {
			return nil, apperr.QueryParse(fmt.Sprintf("Malformed alias expression '%s'", namePart))
		}
		alias, relation = before, after
	}
	if alias == "" {
		return nil, apperr.QueryParse(fmt.Sprintf("Selection element '%s' has no name", element))
	}

	// Aggregate form: the first bang segment is an aggregate keyword and the
	// head carries no sub-selection.
	if len(segments) > 1 {
		if kind, field, ok := parseAggregate(segments[1]); ok {
			if hasParens {
				return nil, apperr.QueryParse(fmt.Sprintf("Aggregate '%s' cannot follow a sub-selection", segments[1]))
			}
			if len(segments) > 2 {
				return nil, apperr.QueryParse(fmt.Sprintf("Unexpected modifier after aggregate '%s'", segments[1]))
			}
			return &Node{
				Kind:           KindAggregate,
				Alias:          alias,
				Relation:       relation,
				Aggregate:      kind,
				AggregateField: field,
			}, nil
		}
	}

	// Plain field form.
	if !hasParens {
		if len(segments) > 1 {
			return nil, apperr.QueryParse(fmt.Sprintf("Modifiers require a relationship expression: '%s'", element))
		}
		if alias != relation {
			return nil, apperr.QueryParse(fmt.Sprintf("Field '%s' cannot be renamed", element))
		}
		return &Node{Kind: KindField, Name: namePart}, nil
	}

	// Relationship form.
	node := &Node{Kind: KindRelationship, Alias: alias, Relation: relation}
	if subExpr == "*" {
		node.Wildcard = true
	} else {
		subNodes, err := Parse(subExpr)
		if err != nil {
			return nil, err
		}
		if len(subNodes) == 0 {
			return nil, apperr.QueryParse(fmt.Sprintf("Relationship '%s' selects no fields", alias))
		}
		node.SubFields = subNodes
	}

	for _, segment := range segments[1:] {
		if err := parseModifier(segment, &node.Modifiers); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// splitHead separates "name(inner)" into its name and inner expression.
func splitHead(head string) (name, inner string, hasParens bool, err error) {
	open := strings.IndexByte(head, '(')
	if open < 0 {
		if strings.ContainsAny(head, ")") {
			return "", "", false, apperr.QueryParse(fmt.Sprintf("Unbalanced parentheses in '%s'", head))
		}
		return head, "", false, nil
	}
	if !strings.HasSuffix(head, ")") {
		return "", "", false, apperr.QueryParse(fmt.Sprintf("Unbalanced parentheses in '%s'", head))
	}
	return head[:open], head[open+1 : len(head)-1], true, nil
}

// parseAggregate recognizes count | sum(f) | avg(f) | min(f) | max(f).
func parseAggregate(segment string) (kind, field string, ok bool) {
	if segment == AggCount {
		return AggCount, "", true
	}
	for _, candidate := range []string{AggSum, AggAvg, AggMin, AggMax} {
		prefix := candidate + "("
		if strings.HasPrefix(segment, prefix) && strings.HasSuffix(segment, ")") {
			operand := segment[len(prefix) : len(segment)-1]
			if operand == "" || strings.ContainsAny(operand, "(),") {
				return "", "", false
			}
			return candidate, operand, true
		}
	}
	return "", "", false
}

// parseModifier applies one !key.value segment.
func parseModifier(segment string, mods *Modifiers) error {
	switch {
	case segment == "inner":
		mods.Inner = true
		return nil

	case strings.HasPrefix(segment, "order."):
		rest := strings.TrimPrefix(segment, "order.")
		field, direction, found := strings.Cut(rest, ".")
		if !found || field == "" {
			return apperr.QueryParse(fmt.Sprintf("Malformed order modifier '%s'", segment))
		}
		switch direction {
		case "asc":
			mods.Sort = append(mods.Sort, SortEntry{Field: field})
		case "desc":
			mods.Sort = append(mods.Sort, SortEntry{Field: field, Desc: true})
		default:
			return apperr.QueryParse(fmt.Sprintf("Order direction must be asc or desc, got '%s'", direction))
		}
		return nil

	case strings.HasPrefix(segment, "limit."):
		value, err := strconv.Atoi(strings.TrimPrefix(segment, "limit."))
		if err != nil || value <= 0 {
			return apperr.QueryParse(fmt.Sprintf("Limit modifier requires a positive integer: '%s'", segment))
		}
		mods.Limit = value
		return nil

	case strings.HasPrefix(segment, "skip."):
		value, err := strconv.Atoi(strings.TrimPrefix(segment, "skip."))
		if err != nil || value < 0 {
			return apperr.QueryParse(fmt.Sprintf("Skip modifier requires a non-negative integer: '%s'", segment))
		}
		mods.Skip = value
		return nil
	}

	return apperr.QueryParse(fmt.Sprintf("Unknown modifier '%s'", segment))
}

// splitTop splits s on sep at parenthesis depth zero.
func splitTop(s string, sep byte) ([]string, error) {
	depth := 0
	var parts []string
	start := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, apperr.QueryParse(fmt.Sprintf("Unbalanced parentheses in '%s'", s))
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, apperr.QueryParse(fmt.Sprintf("Unbalanced parentheses in '%s'", s))
	}
	parts = append(parts, s[start:])
	return parts, nil
}

// # Printing

// Print renders an AST back to its canonical selection string. The canonical
// form is compact (no whitespace) with modifiers ordered sort, limit, skip,
// inner; re-parsing it yields an equal AST.
func Print(nodes []*Node) string {
	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		parts = append(parts, printNode(node))
	}
	return strings.Join(parts, ",")
}

func printNode(node *Node) string {
	var b strings.Builder

	switch node.Kind {
	case KindField:
		return node.Name

	case KindAggregate:
		b.WriteString(node.Alias)
		if node.Relation != node.Alias {
			b.WriteByte(':')
			b.WriteString(node.Relation)
		}
		b.WriteByte('!')
		b.WriteString(node.Aggregate)
		if node.AggregateField != "" {
			b.WriteByte('(')
			b.WriteString(node.AggregateField)
			b.WriteByte(')')
		}
		return b.String()

	case KindRelationship:
		b.WriteString(node.Alias)
		if node.Relation != node.Alias {
			b.WriteByte(':')
			b.WriteString(node.Relation)
		}
		b.WriteByte('(')
		if node.Wildcard {
			b.WriteByte('*')
		} else {
			b.WriteString(Print(node.SubFields))
		}
		b.WriteByte(')')

		for _, entry := range node.Modifiers.Sort {
			direction := "asc"
			if entry.Desc {
				direction = "desc"
			}
			fmt.Fprintf(&b, "!order.%s.%s", entry.Field, direction)
		}
		if node.Modifiers.Limit > 0 {
			fmt.Fprintf(&b, "!limit.%d", node.Modifiers.Limit)
		}
		if node.Modifiers.Skip > 0 {
			fmt.Fprintf(&b, "!skip.%d", node.Modifiers.Skip)
		}
		if node.Modifiers.Inner {
			b.WriteString("!inner")
		}
		return b.String()
	}

	return ""
}
