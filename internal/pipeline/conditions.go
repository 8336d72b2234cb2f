// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongate/internal/query"
	"github.com/taibuivan/mongate/internal/schema"
)

// # Condition Compilation

// compileConditions lowers a field→condition map into one deterministic match
// document. Fields are emitted in sorted order so identical inputs always
// produce byte-identical stages.
func compileConditions(conditions map[string]query.Condition, descriptor *schema.CollectionDescriptor) bson.D {
	if len(conditions) == 0 {
		return nil
	}

	fields := make([]string, 0, len(conditions))
	for field := range conditions {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	doc := bson.D{}
	var compound []bson.D

	for _, field := range fields {
		condition := conditions[field]

		// The empty operator needs a document-level disjunction; it cannot
		// live under its field key like the others.
		if condition.Op == query.OpEmpty {
			compound = append(compound, compileEmpty(field, condition.Value == true))
			continue
		}

		doc = append(doc, bson.E{Key: field, Value: compileOperand(field, condition, descriptor)})
	}

	switch len(compound) {
	case 0:
	case 1:
		doc = append(doc, compound[0]...)
	default:
		doc = append(doc, bson.E{Key: "$and", Value: compound})
	}

	return doc
}

// compileOperand produces the value side of one field's match entry.
func compileOperand(field string, condition query.Condition, descriptor *schema.CollectionDescriptor) any {
	switch condition.Op {
	case query.OpEq:
		return castID(field, condition.Value, descriptor)

	case query.OpNe:
		return bson.D{{Key: "$ne", Value: castID(field, condition.Value, descriptor)}}

	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return bson.D{{Key: "$" + condition.Op, Value: condition.Value}}

	case query.OpIn, query.OpNin:
		values, _ := condition.Value.([]any)
		cast := make([]any, len(values))
		for i, value := range values {
			cast[i] = castID(field, value, descriptor)
		}
		return bson.D{{Key: "$" + condition.Op, Value: cast}}

	case query.OpLike, query.OpILike:
		return bson.D{
			{Key: "$regex", Value: condition.Value},
			{Key: "$options", Value: "i"},
		}

	case query.OpRegex:
		return bson.D{{Key: "$regex", Value: condition.Value}}

	case query.OpExists:
		return bson.D{{Key: "$exists", Value: condition.Value == true}}

	case query.OpNull:
		if condition.Value == true {
			return nil
		}
		return bson.D{{Key: "$ne", Value: nil}}
	}

	// Unknown operators were degraded to eq at parse time; reaching here
	// means a new operator was added without a compile arm.
	return condition.Value
}

// compileEmpty matches (or excludes) empty string, empty array, and missing.
func compileEmpty(field string, wantEmpty bool) bson.D {
	branches := []bson.D{
		{{Key: field, Value: ""}},
		{{Key: field, Value: []any{}}},
		{{Key: field, Value: bson.D{{Key: "$exists", Value: false}}}},
	}
	if wantEmpty {
		return bson.D{{Key: "$or", Value: branches}}
	}
	return bson.D{{Key: "$nor", Value: branches}}
}

// castID re-casts 24-hex strings into object ids for id-typed properties.
// Coercion keeps them as strings because only the descriptor knows the type.
func castID(field string, value any, descriptor *schema.CollectionDescriptor) any {
	if descriptor == nil || !descriptor.IDProperty(field) {
		return value
	}
	hex, ok := value.(string)
	if !ok {
		return value
	}
	if id, err := bson.ObjectIDFromHex(hex); err == nil {
		return id
	}
	return value
}
