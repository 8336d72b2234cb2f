// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/taibuivan/mongate/internal/platform/apperr"
)

// # Registry

// Registry owns the descriptor catalog for the process lifetime.
//
// # Concurrency
//
// The active [Snapshot] is immutable; readers take it lock-free through an
// atomic pointer. Hot reload builds a complete replacement snapshot and swaps
// it in one store — in-flight requests keep the snapshot they started with.
type Registry struct {
	snapshot atomic.Pointer[Snapshot]
	log      *slog.Logger
}

// Snapshot is one immutable, fully-validated descriptor catalog.
type Snapshot struct {
	Collections map[string]*CollectionDescriptor
	Procedures  map[string]*ProcedureDescriptor

	// Incoming is the reverse relationship index: for every collection, the
	// relationships on other collections that point at it.
	Incoming map[string][]IncomingRelationship
}

// IncomingRelationship is one entry of the reverse relationship index.
type IncomingRelationship struct {
	// Source is the collection declaring the relationship.
	Source string `json:"source"`
	// Alias is the relationship's caller-facing name on the source.
	Alias string `json:"alias"`
	// Type is the relationship kind.
	Type string `json:"type"`
}

// NewRegistry creates an empty registry. Call [Registry.Load] before serving.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// Load reads, validates, and compiles every descriptor under dir, then swaps
// the active snapshot. Any invalid descriptor fails the whole load; the
// previous snapshot (if any) stays active.
func (r *Registry) Load(dir string) error {
	snapshot, err := loadSnapshot(dir)
	if err != nil {
		return err
	}
	r.snapshot.Store(snapshot)
	r.log.Info("schema registry loaded",
		slog.Int("collections", len(snapshot.Collections)),
		slog.Int("procedures", len(snapshot.Procedures)),
	)
	return nil
}

// Snapshot returns the active catalog. It panics if Load has never succeeded,
// which is a wiring bug, not a runtime condition.
func (r *Registry) Snapshot() *Snapshot {
	snapshot := r.snapshot.Load()
	if snapshot == nil {
		panic("schema: registry read before first successful Load")
	}
	return snapshot
}

// # Lookups

// GetCollection resolves a collection descriptor by name.
func (r *Registry) GetCollection(name string) (*CollectionDescriptor, bool) {
	descriptor, ok := r.Snapshot().Collections[name]
	return descriptor, ok
}

// GetProcedure resolves a procedure descriptor by name.
func (r *Registry) GetProcedure(name string) (*ProcedureDescriptor, bool) {
	descriptor, ok := r.Snapshot().Procedures[name]
	return descriptor, ok
}

// CollectionNames returns all collection names in sorted order.
func (r *Registry) CollectionNames() []string {
	snapshot := r.Snapshot()
	names := make([]string, 0, len(snapshot.Collections))
	for name := range snapshot.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IncomingRelationships returns the reverse index entries for a collection.
func (r *Registry) IncomingRelationships(collection string) []IncomingRelationship {
	return r.Snapshot().Incoming[collection]
}

// # Document Validation

// ValidateDocument checks a decoded document against a collection's compiled
// validator. Partial mode (additive) skips the required list, which is what
// PATCH-style updates need.
func (r *Registry) ValidateDocument(collection string, doc any, partial bool) ([]apperr.FieldError, error) {
	descriptor, ok := r.GetCollection(collection)
	if !ok {
		return nil, fmt.Errorf("schema: unknown collection %q", collection)
	}
	if partial {
		return descriptor.partialValidator.validate(doc), nil
	}
	return descriptor.fullValidator.validate(doc), nil
}

// ValidateProcedureInput checks invocation params against the procedure's
// input schema. Procedures without an input schema accept anything.
func (r *Registry) ValidateProcedureInput(name string, params map[string]any) ([]apperr.FieldError, error) {
	descriptor, ok := r.GetProcedure(name)
	if !ok {
		return nil, fmt.Errorf("schema: unknown procedure %q", name)
	}
	if descriptor.Input == nil {
		return nil, nil
	}
	// JSON round-trips happen at the HTTP boundary, so params already hold
	// plain map/slice/scalar shapes.
	var doc any = params
	if params == nil {
		doc = map[string]any{}
	}
	return descriptor.inputValidator.validate(doc), nil
}

// # Snapshot Construction

// buildSnapshot validates the full descriptor set, compiles validators, and
// assembles the reverse relationship index.
func buildSnapshot(collections map[string]*CollectionDescriptor, procedures map[string]*ProcedureDescriptor) (*Snapshot, error) {

	// Cross-collection structural validation first; compilation is pointless
	// if the reference graph is broken.
	for _, descriptor := range collections {
		if err := validateCollection(descriptor, collections); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}
	for _, descriptor := range procedures {
		if err := validateProcedure(descriptor); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}

	// Compile document validators once and memoize them on the descriptor.
	for name, descriptor := range collections {
		full, err := compileValidator(name+".full.json", descriptor.schemaDoc(false))
		if err != nil {
			return nil, err
		}
		partial, err := compileValidator(name+".partial.json", descriptor.schemaDoc(true))
		if err != nil {
			return nil, err
		}
		descriptor.fullValidator = full
		descriptor.partialValidator = partial
	}
	for name, descriptor := range procedures {
		if descriptor.Input == nil {
			continue
		}
		validator, err := compileValidator(name+".input.json", propertySchemaDoc(descriptor.Input))
		if err != nil {
			return nil, err
		}
		descriptor.inputValidator = validator
	}

	// Reverse relationship index for /crud/{collection}/relationships.
	incoming := map[string][]IncomingRelationship{}
	sources := make([]string, 0, len(collections))
	for name := range collections {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	for _, source := range sources {
		descriptor := collections[source]
		aliases := make([]string, 0, len(descriptor.Relationships))
		for alias := range descriptor.Relationships {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			rel := descriptor.Relationships[alias]
			incoming[rel.Target] = append(incoming[rel.Target], IncomingRelationship{
				Source: source,
				Alias:  alias,
				Type:   rel.Type,
			})
		}
	}

	return &Snapshot{
		Collections: collections,
		Procedures:  procedures,
		Incoming:    incoming,
	}, nil
}
