// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"net/http"

	"github.com/taibuivan/mongate/internal/platform/apperr"
)

// # Method / Operation Guard

// defaultAllowed is the per-method operation allowlist. PUT is replace-only:
// update operations carry $-operators and belong to PATCH, which is also what
// the mismatch suggestion steers callers toward.
var defaultAllowed = map[string][]string{
	http.MethodGet:    {"find", "findOne", "countDocuments", "distinct", "aggregate", "explain"},
	http.MethodPost:   {"insertOne", "insertMany", "aggregate"},
	http.MethodPut:    {"replaceOne"},
	http.MethodPatch:  {"updateOne", "updateMany"},
	http.MethodDelete: {"deleteOne", "deleteMany"},
}

// preferredMethod names the method suggested when a mismatch is rejected.
var preferredMethod = map[string]string{
	"find": http.MethodGet, "findOne": http.MethodGet,
	"countDocuments": http.MethodGet, "distinct": http.MethodGet, "explain": http.MethodGet,
	"insertOne": http.MethodPost, "insertMany": http.MethodPost, "aggregate": http.MethodPost,
	"replaceOne": http.MethodPut,
	"updateOne":  http.MethodPatch, "updateMany": http.MethodPatch,
	"deleteOne": http.MethodDelete, "deleteMany": http.MethodDelete,
}

// Guard validates HTTP-method → operation mappings.
type Guard struct {
	strict  bool
	allowed map[string]map[string]bool
}

// NewGuard builds a Guard over the default allowlist.
func NewGuard(strict bool) *Guard {
	return NewGuardWithTable(strict, defaultAllowed)
}

// NewGuardWithTable builds a Guard over a custom method→operations table.
func NewGuardWithTable(strict bool, table map[string][]string) *Guard {
	allowed := make(map[string]map[string]bool, len(table))
	for method, operations := range table {
		set := make(map[string]bool, len(operations))
		for _, operation := range operations {
			set[operation] = true
		}
		allowed[method] = set
	}
	return &Guard{strict: strict, allowed: allowed}
}

// Check rejects a method/operation mismatch in strict mode, suggesting the
// method that would work. Non-strict mode allows everything.
func (g *Guard) Check(method, operation string) error {
	if !g.strict {
		return nil
	}
	if g.allowed[method][operation] {
		return nil
	}

	suggested := preferredMethod[operation]
	if suggested == "" {
		suggested = http.MethodPost
	}
	return apperr.MethodMismatch(method, operation, suggested)
}
