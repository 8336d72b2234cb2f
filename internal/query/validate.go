// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/schema"
)

// # Selection Validation

// Resolver answers collection lookups during validation. The schema registry
// snapshot satisfies it.
type Resolver interface {
	GetCollection(name string) (*schema.CollectionDescriptor, bool)
}

// ValidateSelection walks a selection AST against a collection descriptor:
// every field must be a declared property or _id, every relationship alias
// must resolve, and recursion descends into the target collection. Depth
// beyond maxDepth is rejected.
func ValidateSelection(nodes []*Node, collection *schema.CollectionDescriptor, resolver Resolver, maxDepth int) error {
	return validateLevel(nodes, collection, resolver, 1, maxDepth)
}

func validateLevel(nodes []*Node, collection *schema.CollectionDescriptor, resolver Resolver, depth, maxDepth int) error {
	for _, node := range nodes {
		switch node.Kind {
		case KindField:
			if !collection.HasProperty(node.Name) {
				return apperr.QueryParse(fmt.Sprintf("Unknown field '%s' on collection '%s'", node.Name, collection.Name))
			}

		case KindAggregate:
			rel := collection.Relationship(node.Relation)
			if rel == nil {
				return apperr.QueryParse(fmt.Sprintf("Unknown relationship '%s' on collection '%s'", node.Relation, collection.Name))
			}
			if node.Aggregate != AggCount {
				target, ok := resolver.GetCollection(rel.Target)
				if !ok {
					return apperr.Internal(fmt.Errorf("query: relationship %q targets unregistered collection %q", node.Relation, rel.Target))
				}
				if !target.HasProperty(node.AggregateField) {
					return apperr.QueryParse(fmt.Sprintf("Unknown field '%s' on collection '%s'", node.AggregateField, target.Name))
				}
			}

		case KindRelationship:
			if depth > maxDepth {
				return apperr.RelationshipDepth(depth, maxDepth)
			}
			rel := collection.Relationship(node.Relation)
			if rel == nil {
				return apperr.QueryParse(fmt.Sprintf("Unknown relationship '%s' on collection '%s'", node.Relation, collection.Name))
			}
			target, ok := resolver.GetCollection(rel.Target)
			if !ok {
				return apperr.Internal(fmt.Errorf("query: relationship %q targets unregistered collection %q", node.Relation, rel.Target))
			}
			for _, entry := range node.Modifiers.Sort {
				if !target.HasProperty(entry.Field) {
					return apperr.QueryParse(fmt.Sprintf("Unknown sort field '%s' on collection '%s'", entry.Field, target.Name))
				}
			}
			if !node.Wildcard {
				if err := validateLevel(node.SubFields, target, resolver, depth+1, maxDepth); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// # Filter Validation

// ValidateFilters checks the parsed filter surface against the collection:
// direct fields and relationship aliases must exist, and relationship filter
// fields must exist on the relationship's target.
func ValidateFilters(filters Filters, collection *schema.CollectionDescriptor, resolver Resolver) error {
	for field := range filters.Direct {
		if !collection.HasProperty(field) {
			return apperr.QueryParse(fmt.Sprintf("Unknown filter field '%s' on collection '%s'", field, collection.Name))
		}
	}

	for alias, byField := range filters.Relationship {
		rel := collection.Relationship(alias)
		if rel == nil {
			return apperr.QueryParse(fmt.Sprintf("Unknown relationship '%s' on collection '%s'", alias, collection.Name))
		}
		target, ok := resolver.GetCollection(rel.Target)
		if !ok {
			return apperr.Internal(fmt.Errorf("query: relationship %q targets unregistered collection %q", alias, rel.Target))
		}
		for field := range byField {
			if !target.HasProperty(field) {
				return apperr.QueryParse(fmt.Sprintf("Unknown filter field '%s' on collection '%s'", field, target.Name))
			}
		}
	}

	return nil
}

// RelationshipDepth returns the maximum relationship nesting depth of an AST.
func RelationshipDepth(nodes []*Node) int {
	max := 0
	for _, node := range nodes {
		if node.Kind != KindRelationship {
			continue
		}
		depth := 1 + RelationshipDepth(node.SubFields)
		if depth > max {
			max = depth
		}
	}
	return max
}

// CountFields returns the number of field and aggregate leaves in an AST.
func CountFields(nodes []*Node) int {
	count := 0
	for _, node := range nodes {
		switch node.Kind {
		case KindField, KindAggregate:
			count++
		case KindRelationship:
			count += CountFields(node.SubFields)
		}
	}
	return count
}

// CountRelationships returns the number of relationship expansions (including
// aggregates, which join the same way) in an AST.
func CountRelationships(nodes []*Node) int {
	count := 0
	for _, node := range nodes {
		switch node.Kind {
		case KindAggregate:
			count++
		case KindRelationship:
			count += 1 + CountRelationships(node.SubFields)
		}
	}
	return count
}
