// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pipeline lowers a parsed query — selection AST, filters, sort, and
pagination — into a MongoDB aggregation pipeline.

Architecture:

  - Stage ordering: direct match → search → relationship joins (AST order) →
    sort → skip/limit → final projection.
  - Relationship semantics: belongsTo reduces its join array to element zero
    or null; hasMany and manyToMany stay arrays; manyToMany goes through the
    junction collection in two joins and drops the junction afterwards.
  - Determinism: identical inputs emit byte-identical pipelines (bson.D
    everywhere, sorted filter fields, AST-ordered joins).

The builder is pure: it performs no I/O and never mutates its inputs.
*/
package pipeline

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/query"
	"github.com/taibuivan/mongate/internal/schema"
)

// # Builder

// Resolver answers collection lookups during pipeline construction. The
// schema registry satisfies it.
type Resolver interface {
	GetCollection(name string) (*schema.CollectionDescriptor, bool)
}

// Builder lowers parsed queries into aggregation pipelines.
type Builder struct {
	resolver Resolver

	// Process-wide pagination defaults; descriptors may tighten them.
	defaultLimit int
	maxLimit     int

	// recursionBudget bounds relationship descent independently of the
	// parse-time depth validation.
	recursionBudget int
}

// NewBuilder constructs a Builder with the configured pagination defaults.
func NewBuilder(resolver Resolver, defaultLimit, maxLimit, recursionBudget int) *Builder {
	return &Builder{
		resolver:        resolver,
		defaultLimit:    defaultLimit,
		maxLimit:        maxLimit,
		recursionBudget: recursionBudget,
	}
}

// Request is one fully-parsed query ready for lowering.
type Request struct {
	Collection *schema.CollectionDescriptor
	Selection  []*query.Node
	Filters    query.Filters

	// Sort is the top-level sort; empty falls back to the collection default.
	Sort []schema.SortField

	// Page is 1-indexed; values below 1 are clamped.
	Page int
	// Limit is the requested page size; zero means the default.
	Limit int
	// Offset overrides page-derived skip when positive.
	Offset int
}

// Build emits the ordered stage array for one request.
func (b *Builder) Build(request Request) ([]bson.D, error) {
	var stages []bson.D

	// 1. Direct filters as a single match stage.
	if match := compileConditions(request.Filters.Direct, request.Collection); len(match) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: match}})
	}

	// 2. Search stage.
	if term := request.Filters.Special["search"]; term != "" {
		stage, err := searchStage(request.Collection, term, request.Filters.Special["searchFields"])
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	// 3. Relationship stages, in AST order.
	budget := b.recursionBudget
	for _, node := range request.Selection {
		switch node.Kind {
		case query.KindRelationship:
			relStages, err := b.relationshipStages(node, request.Collection, request.Filters.Relationship[node.Alias], &budget)
			if err != nil {
				return nil, err
			}
			stages = append(stages, relStages...)

		case query.KindAggregate:
			aggStages, err := b.aggregateStages(node, request.Collection, request.Filters.Relationship[node.Alias])
			if err != nil {
				return nil, err
			}
			stages = append(stages, aggStages...)
		}
	}

	// 4. Top-level sort.
	sortSpec := request.Sort
	if len(sortSpec) == 0 {
		sortSpec = request.Collection.DefaultSort
	}
	if len(sortSpec) > 0 {
		stages = append(stages, bson.D{{Key: "$sort", Value: sortDoc(sortSpec)}})
	}

	// 5. Pagination: skip then limit.
	limit := b.effectiveLimit(request.Collection, request.Limit)
	page := request.Page
	if page < 1 {
		page = 1
	}
	skip := int64(page-1) * int64(limit)
	if request.Offset > 0 {
		skip = int64(request.Offset)
	}
	stages = append(stages,
		bson.D{{Key: "$skip", Value: skip}},
		bson.D{{Key: "$limit", Value: int64(limit)}},
	)

	// 6. Final projection over the requested top-level names.
	if projection := topProjection(request.Selection); len(projection) > 0 {
		stages = append(stages, bson.D{{Key: "$project", Value: projection}})
	}

	return stages, nil
}

// effectiveLimit resolves limit = min(requested ?? default, max), letting the
// descriptor tighten the process-wide defaults.
func (b *Builder) effectiveLimit(descriptor *schema.CollectionDescriptor, requested int) int {
	defaultLimit := b.defaultLimit
	if descriptor.DefaultLimit > 0 {
		defaultLimit = descriptor.DefaultLimit
	}
	maxLimit := b.maxLimit
	if descriptor.MaxLimit > 0 {
		maxLimit = descriptor.MaxLimit
	}

	limit := requested
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// # Relationship Lowering

// relationshipStages emits the join stages for one relationship expansion.
func (b *Builder) relationshipStages(node *query.Node, parent *schema.CollectionDescriptor, relFilter map[string]query.Condition, budget *int) ([]bson.D, error) {
	if *budget <= 0 {
		return nil, apperr.Internal(fmt.Errorf("pipeline: relationship recursion budget exhausted at alias %q", node.Alias))
	}
	*budget--

	rel := parent.Relationship(node.Relation)
	if rel == nil {
		return nil, apperr.Internal(fmt.Errorf("pipeline: unvalidated relationship %q on %q", node.Relation, parent.Name))
	}
	target, ok := b.resolver.GetCollection(rel.Target)
	if !ok {
		return nil, apperr.Internal(fmt.Errorf("pipeline: relationship %q targets unregistered collection %q", node.Relation, rel.Target))
	}

	sub, err := b.subPipeline(node, rel, target, relFilter, budget)
	if err != nil {
		return nil, err
	}

	switch rel.Type {
	case schema.RelBelongsTo:
		stages := []bson.D{
			lookupStage(rel.Target, rel.LocalField, rel.ForeignField, node.Alias, sub),
			// Reduce the join array to its first element or null; belongsTo
			// callers always see a single subdocument.
			bson.D{{Key: "$addFields", Value: bson.D{{Key: node.Alias, Value: bson.D{
				{Key: "$ifNull", Value: bson.A{
					bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + node.Alias, 0}}},
					nil,
				}},
			}}}}},
		}
		// A filtered (or inner-joined) belongsTo drops parents whose
		// subdocument did not survive the sub-pipeline.
		if len(relFilter) > 0 || node.Modifiers.Inner {
			stages = append(stages, bson.D{{Key: "$match", Value: bson.D{
				{Key: node.Alias, Value: bson.D{{Key: "$ne", Value: nil}}},
			}}})
		}
		return stages, nil

	case schema.RelHasMany:
		stages := []bson.D{lookupStage(rel.Target, rel.LocalField, rel.ForeignField, node.Alias, sub)}
		if node.Modifiers.Inner {
			stages = append(stages, bson.D{{Key: "$match", Value: bson.D{
				{Key: node.Alias, Value: bson.D{{Key: "$ne", Value: bson.A{}}}},
			}}})
		}
		return stages, nil

	case schema.RelManyToMany:
		junction := node.Alias + "_junction"
		stages := []bson.D{
			lookupStage(rel.Through, rel.LocalField, rel.ThroughLocalField, junction, nil),
			lookupStage(rel.Target, junction+"."+rel.ThroughForeignField, rel.ForeignField, node.Alias, sub),
			bson.D{{Key: "$project", Value: bson.D{{Key: junction, Value: 0}}}},
		}
		if node.Modifiers.Inner {
			stages = append(stages, bson.D{{Key: "$match", Value: bson.D{
				{Key: node.Alias, Value: bson.D{{Key: "$ne", Value: bson.A{}}}},
			}}})
		}
		return stages, nil
	}

	return nil, apperr.Internal(fmt.Errorf("pipeline: unknown relationship type %q", rel.Type))
}

// subPipeline builds the stages embedded inside a relationship's lookup.
//
// Ordering inside the sub-pipeline: the request's relationship filter first,
// then descriptor default filters, then nested expansions, then modifiers
// (sort, skip, limit), then the trailing sub-projection.
func (b *Builder) subPipeline(node *query.Node, rel *schema.RelationshipDescriptor, target *schema.CollectionDescriptor, relFilter map[string]query.Condition, budget *int) ([]bson.D, error) {
	var sub []bson.D

	if match := compileConditions(relFilter, target); len(match) > 0 {
		sub = append(sub, bson.D{{Key: "$match", Value: match}})
	}

	if len(rel.DefaultFilters) > 0 {
		defaults := make(map[string]query.Condition, len(rel.DefaultFilters))
		for field, raw := range rel.DefaultFilters {
			defaults[field] = query.ParseCondition(raw)
		}
		if match := compileConditions(defaults, target); len(match) > 0 {
			sub = append(sub, bson.D{{Key: "$match", Value: match}})
		}
	}

	// Nested expansions recurse inside the sub-pipeline. Nested aliases are
	// not addressable by request filters, so they join unfiltered.
	for _, child := range node.SubFields {
		switch child.Kind {
		case query.KindRelationship:
			childStages, err := b.relationshipStages(child, target, nil, budget)
			if err != nil {
				return nil, err
			}
			sub = append(sub, childStages...)
		case query.KindAggregate:
			childStages, err := b.aggregateStages(child, target, nil)
			if err != nil {
				return nil, err
			}
			sub = append(sub, childStages...)
		}
	}

	// Plural relationships honor sort/skip/limit modifiers and descriptor
	// defaults; a belongsTo reduction makes them meaningless.
	if rel.IsPlural() {
		sortSpec := node.Modifiers.Sort
		if len(sortSpec) == 0 {
			for _, entry := range rel.DefaultSort {
				sortSpec = append(sortSpec, query.SortEntry{Field: entry.Field, Desc: entry.Desc})
			}
		}
		if len(sortSpec) > 0 {
			doc := bson.D{}
			for _, entry := range sortSpec {
				direction := 1
				if entry.Desc {
					direction = -1
				}
				doc = append(doc, bson.E{Key: entry.Field, Value: direction})
			}
			sub = append(sub, bson.D{{Key: "$sort", Value: doc}})
		}

		if node.Modifiers.Skip > 0 {
			sub = append(sub, bson.D{{Key: "$skip", Value: int64(node.Modifiers.Skip)}})
		}
		if limit := b.relationshipLimit(rel, node.Modifiers.Limit); limit > 0 {
			sub = append(sub, bson.D{{Key: "$limit", Value: int64(limit)}})
		}
	}

	if projection := subProjection(node); len(projection) > 0 {
		sub = append(sub, bson.D{{Key: "$project", Value: projection}})
	}

	return sub, nil
}

// relationshipLimit resolves the sub-pipeline limit from the modifier and the
// relationship's pagination bounds. Zero means unbounded.
func (b *Builder) relationshipLimit(rel *schema.RelationshipDescriptor, requested int) int {
	limit := requested
	if limit == 0 && rel.Pagination != nil {
		limit = rel.Pagination.DefaultLimit
	}
	if rel.Pagination != nil && rel.Pagination.MaxLimit > 0 && limit > rel.Pagination.MaxLimit {
		limit = rel.Pagination.MaxLimit
	}
	return limit
}

// # Aggregate Lowering

// aggregateStages joins like the underlying relationship, then replaces the
// join array with the aggregate expression under the aggregate's alias.
func (b *Builder) aggregateStages(node *query.Node, parent *schema.CollectionDescriptor, relFilter map[string]query.Condition) ([]bson.D, error) {
	rel := parent.Relationship(node.Relation)
	if rel == nil {
		return nil, apperr.Internal(fmt.Errorf("pipeline: unvalidated relationship %q on %q", node.Relation, parent.Name))
	}
	target, ok := b.resolver.GetCollection(rel.Target)
	if !ok {
		return nil, apperr.Internal(fmt.Errorf("pipeline: relationship %q targets unregistered collection %q", node.Relation, rel.Target))
	}

	var sub []bson.D
	if match := compileConditions(relFilter, target); len(match) > 0 {
		sub = append(sub, bson.D{{Key: "$match", Value: match}})
	}

	var stages []bson.D
	if rel.Type == schema.RelManyToMany {
		junction := node.Alias + "_junction"
		stages = append(stages,
			lookupStage(rel.Through, rel.LocalField, rel.ThroughLocalField, junction, nil),
			lookupStage(rel.Target, junction+"."+rel.ThroughForeignField, rel.ForeignField, node.Alias, sub),
			bson.D{{Key: "$project", Value: bson.D{{Key: junction, Value: 0}}}},
		)
	} else {
		stages = append(stages, lookupStage(rel.Target, rel.LocalField, rel.ForeignField, node.Alias, sub))
	}

	stages = append(stages, bson.D{{Key: "$addFields", Value: bson.D{
		{Key: node.Alias, Value: aggregateExpr(node)},
	}}})
	return stages, nil
}

// aggregateExpr builds the replacement expression for one aggregate node.
func aggregateExpr(node *query.Node) bson.D {
	arrayRef := "$" + node.Alias
	if node.Aggregate == query.AggCount {
		return bson.D{{Key: "$size", Value: arrayRef}}
	}
	return bson.D{{Key: "$" + node.Aggregate, Value: arrayRef + "." + node.AggregateField}}
}

// # Stage Helpers

// lookupStage emits one $lookup. The localField/foreignField form composes
// with an embedded pipeline, which carries the relationship filter and the
// trailing sub-projection.
func lookupStage(from, localField, foreignField, as string, sub []bson.D) bson.D {
	spec := bson.D{
		{Key: "from", Value: from},
		{Key: "localField", Value: localField},
		{Key: "foreignField", Value: foreignField},
		{Key: "as", Value: as},
	}
	if len(sub) > 0 {
		spec = append(spec, bson.E{Key: "pipeline", Value: sub})
	}
	return bson.D{{Key: "$lookup", Value: spec}}
}

// sortDoc lowers an ordered sort specification.
func sortDoc(spec []schema.SortField) bson.D {
	doc := bson.D{}
	for _, entry := range spec {
		direction := 1
		if entry.Desc {
			direction = -1
		}
		doc = append(doc, bson.E{Key: entry.Field, Value: direction})
	}
	return doc
}

// topProjection retains exactly the requested top-level fields and aliases,
// excluding _id unless it was selected.
func topProjection(selection []*query.Node) bson.D {
	if len(selection) == 0 {
		return nil
	}

	doc := bson.D{}
	sawID := false
	for _, node := range selection {
		name := node.Alias
		if node.Kind == query.KindField {
			name = node.Name
		}
		if name == "_id" {
			sawID = true
		}
		doc = append(doc, bson.E{Key: name, Value: 1})
	}
	if !sawID {
		doc = append(doc, bson.E{Key: "_id", Value: 0})
	}
	return doc
}

// subProjection builds the trailing projection of a relationship sub-pipeline.
// Wildcard expansions include everything; otherwise only the requested
// sub-fields (and nested aliases) survive.
func subProjection(node *query.Node) bson.D {
	if node.Wildcard || len(node.SubFields) == 0 {
		return nil
	}

	doc := bson.D{}
	sawID := false
	for _, child := range node.SubFields {
		name := child.Alias
		if child.Kind == query.KindField {
			name = child.Name
		}
		if name == "_id" {
			sawID = true
		}
		doc = append(doc, bson.E{Key: name, Value: 1})
	}
	if !sawID {
		doc = append(doc, bson.E{Key: "_id", Value: 0})
	}
	return doc
}

// # Write-Stage Detection

// writeStages are aggregation stages that redirect output to storage.
var writeStages = map[string]bool{
	"$out":   true,
	"$merge": true,
}

// ContainsWriteStage scans an emitted pipeline by first stage key.
func ContainsWriteStage(stages []bson.D) bool {
	for _, stage := range stages {
		if len(stage) > 0 && writeStages[stage[0].Key] {
			return true
		}
	}
	return false
}

// RawContainsWriteStage scans a caller-supplied raw pipeline (decoded JSON).
func RawContainsWriteStage(stages []map[string]any) bool {
	for _, stage := range stages {
		for key := range stage {
			if writeStages[key] {
				return true
			}
		}
	}
	return false
}
