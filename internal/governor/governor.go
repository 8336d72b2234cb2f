// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package governor computes a cost for every parsed query or script and
enforces the per-role ceilings.

One unified cost model serves both routes:

  - Parsed queries: base + 0.1·fields + 5·relationships + 10·depth
  - Scripts: operation weight + stage/depth terms + a dangerous-operator
    penalty (computed by the script parser, charged here)

Ceilings come from boot configuration and never change at runtime.
*/
package governor

import (
	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/query"
)

// Query-route cost weights.
const (
	baseCost           = 2
	fieldWeight        = 0.1
	relationshipWeight = 5
	depthWeight        = 10

	// fallbackCeiling applies to roles missing from the configured table.
	fallbackCeiling = 100
)

// Governor enforces per-role complexity ceilings.
type Governor struct {
	ceilings map[string]int
}

// New creates a Governor from the configured role→ceiling table.
func New(ceilings map[string]int) *Governor {
	return &Governor{ceilings: ceilings}
}

// QueryCost scores a parsed selection. Filters ride along almost for free;
// joins and nesting dominate the real database work, so they dominate the
// score.
func (g *Governor) QueryCost(selection []*query.Node) int {
	fields := query.CountFields(selection)
	relationships := query.CountRelationships(selection)
	depth := query.RelationshipDepth(selection)

	return baseCost +
		int(fieldWeight*float64(fields)) +
		relationshipWeight*relationships +
		depthWeight*depth
}

// Ceiling resolves a role's configured ceiling.
func (g *Governor) Ceiling(role string) int {
	if ceiling, ok := g.ceilings[role]; ok {
		return ceiling
	}
	if ceiling, ok := g.ceilings["user"]; ok {
		return ceiling
	}
	return fallbackCeiling
}

// Check rejects costs above the role's ceiling.
func (g *Governor) Check(role string, cost int) error {
	ceiling := g.Ceiling(role)
	if cost > ceiling {
		return apperr.Complexity(cost, ceiling)
	}
	return nil
}
