// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/query"
)

/*
TestParse_Fields checks plain field lists.
*/
func TestParse_Fields(t *testing.T) {
	nodes, err := query.Parse("orderNumber,totalAmount,status")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	for _, node := range nodes {
		assert.Equal(t, query.KindField, node.Kind)
	}
	assert.Equal(t, "orderNumber", nodes[0].Name)
	assert.Equal(t, "status", nodes[2].Name)
}

/*
TestParse_Relationships checks relationship expansions, renames, nesting, and
wildcards.
*/
func TestParse_Relationships(t *testing.T) {
	t.Run("simple_expansion", func(t *testing.T) {
		nodes, err := query.Parse("orderNumber,customer(name,email)")
		require.NoError(t, err)
		require.Len(t, nodes, 2)

		rel := nodes[1]
		assert.Equal(t, query.KindRelationship, rel.Kind)
		assert.Equal(t, "customer", rel.Alias)
		assert.Equal(t, "customer", rel.Relation)
		require.Len(t, rel.SubFields, 2)
		assert.Equal(t, "name", rel.SubFields[0].Name)
	})

	t.Run("renamed_expansion", func(t *testing.T) {
		nodes, err := query.Parse("buyer:customer(name)")
		require.NoError(t, err)

		rel := nodes[0]
		assert.Equal(t, "buyer", rel.Alias)
		assert.Equal(t, "customer", rel.Relation)
	})

	t.Run("nested_expansion", func(t *testing.T) {
		nodes, err := query.Parse("name,orders(orderNumber,items(sku,quantity))")
		require.NoError(t, err)

		orders := nodes[1]
		require.Len(t, orders.SubFields, 2)
		items := orders.SubFields[1]
		assert.Equal(t, query.KindRelationship, items.Kind)
		require.Len(t, items.SubFields, 2)
	})

	t.Run("wildcard", func(t *testing.T) {
		nodes, err := query.Parse("customer(*)")
		require.NoError(t, err)
		assert.True(t, nodes[0].Wildcard)
		assert.Empty(t, nodes[0].SubFields)
	})
}

/*
TestParse_Modifiers checks the trailing !key.value chains.
*/
func TestParse_Modifiers(t *testing.T) {
	nodes, err := query.Parse("orders(total)!order.total.desc!order.createdAt.asc!limit.5!skip.10!inner")
	require.NoError(t, err)

	mods := nodes[0].Modifiers
	require.Len(t, mods.Sort, 2)
	assert.Equal(t, "total", mods.Sort[0].Field)
	assert.True(t, mods.Sort[0].Desc)
	assert.Equal(t, "createdAt", mods.Sort[1].Field)
	assert.False(t, mods.Sort[1].Desc)
	assert.Equal(t, 5, mods.Limit)
	assert.Equal(t, 10, mods.Skip)
	assert.True(t, mods.Inner)
}

/*
TestParse_Aggregates checks the aggregate leaf forms.
*/
func TestParse_Aggregates(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     string
		field    string
		relation string
	}{
		{"count", "orders!count", "count", "", "orders"},
		{"sum", "orders!sum(totalAmount)", "sum", "totalAmount", "orders"},
		{"avg_renamed", "spend:orders!avg(totalAmount)", "avg", "totalAmount", "orders"},
		{"min", "orders!min(totalAmount)", "min", "totalAmount", "orders"},
		{"max", "orders!max(totalAmount)", "max", "totalAmount", "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := query.Parse(tt.input)
			require.NoError(t, err)
			require.Len(t, nodes, 1)

			node := nodes[0]
			assert.Equal(t, query.KindAggregate, node.Kind)
			assert.Equal(t, tt.kind, node.Aggregate)
			assert.Equal(t, tt.field, node.AggregateField)
			assert.Equal(t, tt.relation, node.Relation)
		})
	}
}

/*
TestParse_Rejections checks the malformed inputs the tokenizer must refuse.
*/
func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unbalanced_open", "customer(name"},
		{"unbalanced_close", "customer)name("},
		{"depth_goes_negative", "a)b("},
		{"empty_element", "name,,email"},
		{"empty_subselection", "customer()"},
		{"modifier_on_field", "name!limit.5"},
		{"unknown_modifier", "orders(total)!shuffle"},
		{"order_without_direction", "orders(total)!order.total"},
		{"zero_limit", "orders(total)!limit.0"},
		{"aggregate_after_parens", "orders(total)!count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Parse(tt.input)
			require.Error(t, err)

			ae := apperr.As(err)
			require.NotNil(t, ae)
			assert.Equal(t, apperr.KindQueryParse, ae.Kind)
		})
	}
}

/*
TestPrint_RoundTrip verifies that print(parse(s)) re-parses to an equal AST
for every well-formed selection.
*/
func TestPrint_RoundTrip(t *testing.T) {
	inputs := []string{
		"orderNumber,customer(name,email)",
		"buyer:customer(*)",
		"name,orders(orderNumber,items(sku))!order.createdAt.desc!limit.5",
		"orders!count,spend:orders!sum(totalAmount)",
		"a(b,c(d))!inner,e",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := query.Parse(input)
			require.NoError(t, err)

			printed := query.Print(first)
			second, err := query.Parse(printed)
			require.NoError(t, err)

			assert.Equal(t, first, second, "round trip changed the AST: %s -> %s", input, printed)
			// The canonical form is a fixed point of print∘parse.
			assert.Equal(t, printed, query.Print(second))
		})
	}
}
