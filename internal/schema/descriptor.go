// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package schema holds the in-memory, validated catalog of collection and
procedure descriptors that drives the whole gateway.

Architecture:

  - Descriptors: JSON files loaded once at startup (and atomically reloaded
    when hot reload is enabled).
  - Registry: Immutable snapshot answering all lookups during parsing.
  - Validators: Each descriptor's document/input schema is compiled once and
    memoized on the descriptor.

A descriptor failing validation at load time is fatal; the process refuses to
serve rather than expose a partially-described collection.
*/
package schema

import (
	"sort"
	"time"
)

// # Collection Descriptors

// CollectionDescriptor is the authoritative description of one stored collection.
type CollectionDescriptor struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Properties maps property name to its JSON-schema-like shape.
	Properties map[string]*PropertySchema `json:"properties"`

	// Required lists properties that must be present on full documents.
	Required []string `json:"required,omitempty"`

	// AdditionalProperties allows fields beyond the declared properties.
	AdditionalProperties bool `json:"additionalProperties,omitempty"`

	Indexes       []IndexDescriptor                  `json:"indexes,omitempty"`
	Relationships map[string]*RelationshipDescriptor `json:"relationships,omitempty"`

	// Operational policy bundle.
	Permissions  map[string][]string    `json:"permissions,omitempty"` // operation -> allowed roles
	RateLimits   map[string]OpRateLimit `json:"rateLimits,omitempty"`  // operation -> ceiling
	SearchFields []string               `json:"searchFields,omitempty"`
	DefaultSort  []SortField            `json:"defaultSort,omitempty"`
	DefaultLimit int                    `json:"defaultLimit,omitempty"`
	MaxLimit     int                    `json:"maxLimit,omitempty"`
	Hooks        map[string][]string    `json:"hooks,omitempty"` // lifecycle -> hook names

	// Compiled document validators, memoized at load time. The partial
	// validator drops the required list for additive (PATCH) validation.
	fullValidator    documentValidator
	partialValidator documentValidator
}

// PropertySchema is the JSON-schema-like shape of one property.
type PropertySchema struct {
	Type      string   `json:"type,omitempty"`
	Format    string   `json:"format,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Enum      []any    `json:"enum,omitempty"`

	// Object nesting
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`

	// Array item shape
	Items *PropertySchema `json:"items,omitempty"`
}

// SortField is one entry of an ordered sort specification.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// OpRateLimit is a per-operation request ceiling over a rolling window.
type OpRateLimit struct {
	Requests int `json:"requests"`
	// WindowSeconds is the window length; descriptors carry seconds to stay
	// language-neutral.
	WindowSeconds int `json:"window"`
}

// Window returns the rolling window as a duration.
func (r OpRateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// # Index Descriptors

// IndexDescriptor declares one index on a collection.
type IndexDescriptor struct {
	Name   string     `json:"name,omitempty"`
	Keys   []IndexKey `json:"keys"`
	Unique bool       `json:"unique,omitempty"`
}

// IndexKey is one ordered component of an index.
type IndexKey struct {
	Field string `json:"field"`
	// Type is "asc", "desc", or "text".
	Type string `json:"type,omitempty"`
}

// # Relationship Descriptors

// Relationship kinds.
const (
	RelBelongsTo  = "belongsTo"
	RelHasMany    = "hasMany"
	RelManyToMany = "manyToMany"
)

// RelationshipDescriptor declares a navigation from one collection to another.
type RelationshipDescriptor struct {
	// Type is one of belongsTo, hasMany, manyToMany.
	Type string `json:"type"`

	// Target is the name of the collection the relationship points at.
	Target string `json:"target"`

	LocalField   string `json:"localField"`
	ForeignField string `json:"foreignField"`

	// Junction plumbing for manyToMany.
	Through             string `json:"through,omitempty"`
	ThroughLocalField   string `json:"throughLocalField,omitempty"`
	ThroughForeignField string `json:"throughForeignField,omitempty"`

	// DefaultFilters are op-coded filter values (same syntax as query
	// parameters) always applied inside the relationship's sub-pipeline.
	DefaultFilters map[string]string `json:"defaultFilters,omitempty"`
	DefaultSort    []SortField       `json:"defaultSort,omitempty"`

	Pagination *RelationshipPagination `json:"pagination,omitempty"`

	// Permissions optionally overrides the target collection's policy for
	// traversals through this relationship.
	Permissions map[string][]string `json:"permissions,omitempty"`
}

// RelationshipPagination bounds relationship expansions.
type RelationshipPagination struct {
	DefaultLimit int `json:"defaultLimit,omitempty"`
	MaxLimit     int `json:"maxLimit,omitempty"`
}

// IsPlural reports whether the relationship's result shape is an array.
func (r *RelationshipDescriptor) IsPlural() bool {
	return r.Type == RelHasMany || r.Type == RelManyToMany
}

// # Descriptor Lookups

// HasProperty reports whether a field is a declared property or _id.
func (d *CollectionDescriptor) HasProperty(name string) bool {
	if name == "_id" {
		return true
	}
	_, ok := d.Properties[name]
	return ok
}

// Property returns the schema of a declared property, or nil.
func (d *CollectionDescriptor) Property(name string) *PropertySchema {
	return d.Properties[name]
}

// Relationship resolves a relationship alias, or nil.
func (d *CollectionDescriptor) Relationship(alias string) *RelationshipDescriptor {
	return d.Relationships[alias]
}

// PropertyNames returns all declared property names in sorted order.
func (d *CollectionDescriptor) PropertyNames() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTextIndex reports whether any declared index carries a text key.
// The search planner uses this to decide between $text and regex fallback.
func (d *CollectionDescriptor) HasTextIndex() bool {
	for _, index := range d.Indexes {
		for _, key := range index.Keys {
			if key.Type == "text" {
				return true
			}
		}
	}
	return false
}

// IDProperty reports whether a property is declared (or conventionally typed)
// as an object id, so filter compilation can re-cast 24-hex strings.
func (d *CollectionDescriptor) IDProperty(name string) bool {
	if name == "_id" {
		return true
	}
	if prop := d.Properties[name]; prop != nil {
		return prop.Format == "objectId" || prop.Format == "objectid"
	}
	return false
}

// # Procedure Descriptors

// ProcedureDescriptor declares one multi-step named procedure.
type ProcedureDescriptor struct {
	Name     string `json:"name"`
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`

	Steps []*Step `json:"steps"`

	// Input/Output are optional object schemas. When Output is present, the
	// last step's output is returned; otherwise a step-id keyed map is.
	Input  *PropertySchema `json:"input,omitempty"`
	Output *PropertySchema `json:"output,omitempty"`

	// Permissions lists roles allowed to execute.
	Permissions []string     `json:"permissions,omitempty"`
	RateLimits  *OpRateLimit `json:"rateLimits,omitempty"`

	Hooks         ProcedureHooks `json:"hooks,omitempty"`
	ErrorHandling ErrorHandling  `json:"errorHandling,omitempty"`

	// TimeoutMS bounds the whole invocation; zero means the process default.
	TimeoutMS int `json:"timeout,omitempty"`

	// Transactional wraps all database steps in a single driver session.
	Transactional bool `json:"transactional,omitempty"`

	inputValidator documentValidator
}

// ProcedureHooks names host-provided functions run around execution.
type ProcedureHooks struct {
	BeforeExecution []string `json:"beforeExecution,omitempty"`
	AfterExecution  []string `json:"afterExecution,omitempty"`
	OnError         []string `json:"onError,omitempty"`
}

// Error handling strategies.
const (
	StrategyRollback = "rollback"
	StrategyRetry    = "retry"
	StrategyIgnore   = "ignore"
)

// ErrorHandling declares what happens when a step fails.
type ErrorHandling struct {
	Strategy      string   `json:"strategy,omitempty"`
	RollbackSteps []string `json:"rollbackSteps,omitempty"`
	RetryCount    int      `json:"retryCount,omitempty"`
}

// Step kinds.
const (
	StepFind           = "find"
	StepFindOne        = "findOne"
	StepInsertOne      = "insertOne"
	StepInsertMany     = "insertMany"
	StepUpdateOne      = "updateOne"
	StepUpdateMany     = "updateMany"
	StepDeleteOne      = "deleteOne"
	StepDeleteMany     = "deleteMany"
	StepAggregate      = "aggregate"
	StepCountDocuments = "countDocuments"
	StepDistinct       = "distinct"
	StepTransform      = "transform"
	StepCondition      = "condition"
	StepHTTP           = "http"
	StepDelay          = "delay"
)

// stepKinds is the closed set of recognized step types.
var stepKinds = map[string]bool{
	StepFind: true, StepFindOne: true, StepInsertOne: true, StepInsertMany: true,
	StepUpdateOne: true, StepUpdateMany: true, StepDeleteOne: true, StepDeleteMany: true,
	StepAggregate: true, StepCountDocuments: true, StepDistinct: true,
	StepTransform: true, StepCondition: true, StepHTTP: true, StepDelay: true,
}

// DatabaseStep reports whether a step kind touches the database.
func DatabaseStep(kind string) bool {
	switch kind {
	case StepTransform, StepCondition, StepHTTP, StepDelay:
		return false
	}
	return stepKinds[kind]
}

// Step is one unit of work inside a procedure.
//
// Params is the raw, type-specific parameter bundle; the executor deep-clones
// and template-renders it before dispatch, so descriptors stay immutable.
type Step struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`

	// TimeoutMS bounds this step; zero means the process default.
	TimeoutMS int `json:"timeout,omitempty"`
}
