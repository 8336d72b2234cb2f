// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/query"
)

/*
TestParseFilters_Classification checks direct vs relationship vs special
routing of flat parameters.
*/
func TestParseFilters_Classification(t *testing.T) {
	filters := query.ParseFilters(map[string]string{
		"status":             "eq.active",
		"orders.totalAmount": "gte.100",
		"select":             "name,orders(totalAmount)",
		"page":               "2",
		"$hint":              "whatever",
		"search":             "john",
	})

	require.Contains(t, filters.Direct, "status")
	assert.Equal(t, query.OpEq, filters.Direct["status"].Op)
	assert.Equal(t, "active", filters.Direct["status"].Value)

	require.Contains(t, filters.Relationship, "orders")
	condition := filters.Relationship["orders"]["totalAmount"]
	assert.Equal(t, query.OpGte, condition.Op)
	assert.Equal(t, int64(100), condition.Value)

	assert.Contains(t, filters.Special, "select")
	assert.Contains(t, filters.Special, "page")
	assert.Contains(t, filters.Special, "$hint")
	assert.Contains(t, filters.Special, "search")

	assert.True(t, filters.HasRelationshipFilters())
}

/*
TestParseCondition_Operators walks the operator table.
*/
func TestParseCondition_Operators(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		op       string
		expected any
	}{
		{"eq", "eq.active", query.OpEq, "active"},
		{"ne", "ne.active", query.OpNe, "active"},
		{"neq_alias", "neq.active", query.OpNe, "active"},
		{"gt", "gt.5", query.OpGt, int64(5)},
		{"gte", "gte.100", query.OpGte, int64(100)},
		{"lt", "lt.2.5", query.OpLt, 2.5},
		{"lte", "lte.10", query.OpLte, int64(10)},
		{"regex", "regex.^ORD-[0-9]+$", query.OpRegex, "^ORD-[0-9]+$"},
		{"exists_true", "exists.true", query.OpExists, true},
		{"exists_false", "exists.false", query.OpExists, false},
		{"null_true", "null.true", query.OpNull, true},
		{"empty_true", "empty.true", query.OpEmpty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			condition := query.ParseCondition(tt.raw)
			assert.Equal(t, tt.op, condition.Op)
			assert.Equal(t, tt.expected, condition.Value)
		})
	}
}

/*
TestParseCondition_Membership checks in/nin list operands.
*/
func TestParseCondition_Membership(t *testing.T) {
	condition := query.ParseCondition("in.(pending,shipped,delivered)")
	assert.Equal(t, query.OpIn, condition.Op)
	assert.Equal(t, []any{"pending", "shipped", "delivered"}, condition.Value)

	condition = query.ParseCondition("nin.(1,2,3)")
	assert.Equal(t, query.OpNin, condition.Op)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, condition.Value)
}

/*
TestParseCondition_Globs checks the like/ilike glob translation.
*/
func TestParseCondition_Globs(t *testing.T) {
	condition := query.ParseCondition("like.John*")
	assert.Equal(t, query.OpLike, condition.Op)
	assert.Equal(t, "John.*", condition.Value)

	condition = query.ParseCondition("ilike.*son")
	assert.Equal(t, ".*son", condition.Value)

	// Regex metacharacters in the glob are escaped.
	condition = query.ParseCondition("like.a.b*")
	assert.Equal(t, `a\.b.*`, condition.Value)
}

/*
TestParseCondition_NoPrefix verifies that unprefixed and unknown-prefixed
values degrade to equality over the whole raw value.
*/
func TestParseCondition_NoPrefix(t *testing.T) {
	condition := query.ParseCondition("delivered")
	assert.Equal(t, query.OpEq, condition.Op)
	assert.Equal(t, "delivered", condition.Value)

	// Unknown prefix: the entire value (dot included) is the operand.
	condition = query.ParseCondition("foo.bar")
	assert.Equal(t, query.OpEq, condition.Op)
	assert.Equal(t, "foo.bar", condition.Value)
}
