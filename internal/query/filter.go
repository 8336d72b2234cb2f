// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"regexp"
	"strings"

	"github.com/taibuivan/mongate/internal/platform/constants"
)

// # Filter Conditions

// Condition operators.
const (
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpGte    = "gte"
	OpLt     = "lt"
	OpLte    = "lte"
	OpIn     = "in"
	OpNin    = "nin"
	OpLike   = "like"
	OpILike  = "ilike"
	OpRegex  = "regex"
	OpExists = "exists"
	OpNull   = "null"
	OpEmpty  = "empty"
)

// operatorAliases maps accepted prefixes onto canonical operators.
var operatorAliases = map[string]string{
	OpEq: OpEq, OpNe: OpNe, "neq": OpNe,
	OpGt: OpGt, OpGte: OpGte, OpLt: OpLt, OpLte: OpLte,
	OpIn: OpIn, OpNin: OpNin,
	OpLike: OpLike, OpILike: OpILike, OpRegex: OpRegex,
	OpExists: OpExists, OpNull: OpNull, OpEmpty: OpEmpty,
}

// Condition is one parsed filter condition with a coerced operand.
type Condition struct {
	Op    string
	Value any
}

// Filters is the parsed filter surface of one request.
type Filters struct {
	// Direct filters apply to the root collection's own fields.
	Direct map[string]Condition

	// Relationship filters are keyed alias → target field → condition.
	Relationship map[string]map[string]Condition

	// Special carries the reserved parameters (search, searchFields, raw
	// $-prefixed keys) verbatim.
	Special map[string]string
}

// HasRelationshipFilters reports whether any alias carries a filter.
func (f Filters) HasRelationshipFilters() bool {
	return len(f.Relationship) > 0
}

// # Parsing

// ParseFilters classifies a flat key/value map into direct, relationship, and
// special filters, resolving operator prefixes and coercing operands.
//
// Parsing never fails: an unrecognized operator prefix degrades to an eq
// condition over the whole raw value.
func ParseFilters(params map[string]string) Filters {
	filters := Filters{
		Direct:       map[string]Condition{},
		Relationship: map[string]map[string]Condition{},
		Special:      map[string]string{},
	}

	for key, raw := range params {
		// Reserved names and raw operator keys bypass condition parsing.
		if constants.ReservedParams[key] || strings.HasPrefix(key, "$") {
			filters.Special[key] = raw
			continue
		}

		condition := ParseCondition(raw)

		// A dotted key navigates a relationship: alias, then target field.
		if alias, field, dotted := strings.Cut(key, "."); dotted {
			byField := filters.Relationship[alias]
			if byField == nil {
				byField = map[string]Condition{}
				filters.Relationship[alias] = byField
			}
			byField[field] = condition
			continue
		}

		filters.Direct[key] = condition
	}

	return filters
}

// ParseCondition resolves one "op.operand" value into a condition.
func ParseCondition(raw string) Condition {
	prefix, operand, found := strings.Cut(raw, ".")
	if !found {
		return Condition{Op: OpEq, Value: Coerce(raw)}
	}

	op, known := operatorAliases[prefix]
	if !known {
		// No prefix recognized: the entire value is an equality operand.
		return Condition{Op: OpEq, Value: Coerce(raw)}
	}

	switch op {
	case OpIn, OpNin:
		return Condition{Op: op, Value: CoerceList(operand)}

	case OpLike, OpILike:
		return Condition{Op: op, Value: GlobToRegex(operand)}

	case OpRegex:
		return Condition{Op: op, Value: operand}

	case OpExists, OpNull, OpEmpty:
		return Condition{Op: op, Value: operand == "true"}
	}

	return Condition{Op: op, Value: Coerce(operand)}
}

// GlobToRegex rewrites a glob pattern into a regular expression: every
// non-star rune is escaped and each '*' becomes '.*'.
func GlobToRegex(glob string) string {
	var b strings.Builder
	for i, part := range strings.Split(glob, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	return b.String()
}
