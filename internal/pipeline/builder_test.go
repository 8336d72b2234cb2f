// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongate/internal/pipeline"
	"github.com/taibuivan/mongate/internal/query"
	"github.com/taibuivan/mongate/internal/schema"
)

// catalog mirrors the fixture set the query tests use.
type catalog map[string]*schema.CollectionDescriptor

func (c catalog) GetCollection(name string) (*schema.CollectionDescriptor, bool) {
	descriptor, ok := c[name]
	return descriptor, ok
}

func newCatalog() catalog {
	props := func(names ...string) map[string]*schema.PropertySchema {
		out := map[string]*schema.PropertySchema{}
		for _, name := range names {
			out[name] = &schema.PropertySchema{Type: "string"}
		}
		return out
	}

	return catalog{
		"users": {
			Name:       "users",
			Properties: props("name", "email", "age", "status"),
			Relationships: map[string]*schema.RelationshipDescriptor{
				"orders": {
					Type: schema.RelHasMany, Target: "orders",
					LocalField: "_id", ForeignField: "customerId",
				},
			},
		},
		"orders": {
			Name:       "orders",
			Properties: props("orderNumber", "customerId", "totalAmount", "status"),
			Relationships: map[string]*schema.RelationshipDescriptor{
				"customer": {
					Type: schema.RelBelongsTo, Target: "users",
					LocalField: "customerId", ForeignField: "_id",
				},
			},
		},
		"products": {
			Name:       "products",
			Properties: props("name", "sku"),
			Relationships: map[string]*schema.RelationshipDescriptor{
				"categories": {
					Type: schema.RelManyToMany, Target: "categories",
					LocalField: "_id", ForeignField: "_id",
					Through:           "product_categories",
					ThroughLocalField: "productId", ThroughForeignField: "categoryId",
				},
			},
		},
		"categories":         {Name: "categories", Properties: props("name", "slug")},
		"product_categories": {Name: "product_categories", Properties: props("productId", "categoryId")},
	}
}

func newBuilder(c catalog) *pipeline.Builder {
	return pipeline.NewBuilder(c, 20, 100, 16)
}

func build(t *testing.T, c catalog, collection, selection string, params map[string]string, page, limit int) []bson.D {
	t.Helper()

	descriptor, ok := c.GetCollection(collection)
	require.True(t, ok)

	nodes, err := query.Parse(selection)
	require.NoError(t, err)

	stages, err := newBuilder(c).Build(pipeline.Request{
		Collection: descriptor,
		Selection:  nodes,
		Filters:    query.ParseFilters(params),
		Page:       page,
		Limit:      limit,
	})
	require.NoError(t, err)
	return stages
}

// stageKey returns the single key of one pipeline stage.
func stageKey(stage bson.D) string { return stage[0].Key }

// lookupSpec digs the $lookup document out of a stage.
func lookupSpec(t *testing.T, stage bson.D) bson.D {
	t.Helper()
	require.Equal(t, "$lookup", stageKey(stage))
	spec, ok := stage[0].Value.(bson.D)
	require.True(t, ok)
	return spec
}

func specField(spec bson.D, key string) any {
	for _, entry := range spec {
		if entry.Key == key {
			return entry.Value
		}
	}
	return nil
}

/*
TestBuild_BelongsTo covers scenario S1: a belongsTo expansion joins, reduces
to element-zero-or-null, and projects the requested names.
*/
func TestBuild_BelongsTo(t *testing.T) {
	c := newCatalog()
	stages := build(t, c, "orders", "orderNumber,customer(name,email)", nil, 1, 0)

	// lookup, addFields reduction, skip, limit, projection
	require.Len(t, stages, 5)

	spec := lookupSpec(t, stages[0])
	assert.Equal(t, "users", specField(spec, "from"))
	assert.Equal(t, "customerId", specField(spec, "localField"))
	assert.Equal(t, "_id", specField(spec, "foreignField"))
	assert.Equal(t, "customer", specField(spec, "as"))

	// The sub-pipeline carries only the trailing projection of name/email.
	sub, ok := specField(spec, "pipeline").([]bson.D)
	require.True(t, ok)
	require.Len(t, sub, 1)
	assert.Equal(t, "$project", stageKey(sub[0]))

	// Element-zero-or-null reduction keeps the result a single subdocument.
	assert.Equal(t, "$addFields", stageKey(stages[1]))
	reduction, _ := bson.Marshal(stages[1])
	assert.Contains(t, string(reduction), "$arrayElemAt")
	assert.Contains(t, string(reduction), "$ifNull")

	// No outer match: an unfiltered belongsTo keeps parents without a match.
	assert.Equal(t, "$skip", stageKey(stages[2]))
	assert.Equal(t, "$limit", stageKey(stages[3]))
	assert.Equal(t, "$project", stageKey(stages[4]))

	projection, ok := stages[4][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{
		{Key: "orderNumber", Value: 1},
		{Key: "customer", Value: 1},
		{Key: "_id", Value: 0},
	}, projection)
}

/*
TestBuild_HasManyRelationshipFilter covers scenario S2: a relationship filter
is the first stage inside the join's sub-pipeline, never at top level.
*/
func TestBuild_HasManyRelationshipFilter(t *testing.T) {
	c := newCatalog()
	stages := build(t, c, "users", "name,orders(orderNumber)",
		map[string]string{"orders.status": "eq.delivered"}, 1, 0)

	// No top-level $match: the only filter lives inside the join.
	assert.NotEqual(t, "$match", stageKey(stages[0]))

	spec := lookupSpec(t, stages[0])
	sub, ok := specField(spec, "pipeline").([]bson.D)
	require.True(t, ok)
	require.NotEmpty(t, sub)

	// Property 5: the relationship filter is the sub-pipeline's first stage.
	assert.Equal(t, "$match", stageKey(sub[0]))
	match, ok := sub[0][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "status", Value: "delivered"}}, match)

	// The result stays an array; no reduction stage follows the lookup.
	for _, stage := range stages[1:] {
		assert.NotEqual(t, "$addFields", stageKey(stage))
	}
}

/*
TestBuild_ManyToMany covers scenario S3: two joins through the junction and a
projection that drops the synthetic junction field.
*/
func TestBuild_ManyToMany(t *testing.T) {
	c := newCatalog()
	stages := build(t, c, "products", "name,categories(name,slug)", nil, 1, 0)

	// junction lookup, target lookup, junction drop, skip, limit, projection
	require.Len(t, stages, 6)

	junction := lookupSpec(t, stages[0])
	assert.Equal(t, "product_categories", specField(junction, "from"))
	assert.Equal(t, "_id", specField(junction, "localField"))
	assert.Equal(t, "productId", specField(junction, "foreignField"))
	assert.Equal(t, "categories_junction", specField(junction, "as"))

	target := lookupSpec(t, stages[1])
	assert.Equal(t, "categories", specField(target, "from"))
	assert.Equal(t, "categories_junction.categoryId", specField(target, "localField"))
	assert.Equal(t, "categories", specField(target, "as"))

	// The junction is dropped immediately after the second join.
	assert.Equal(t, "$project", stageKey(stages[2]))
	drop, ok := stages[2][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "categories_junction", Value: 0}}, drop)

	// The final projection never re-admits the junction field.
	final, ok := stages[5][0].Value.(bson.D)
	require.True(t, ok)
	for _, entry := range final {
		assert.NotEqual(t, "categories_junction", entry.Key)
	}
}

/*
TestBuild_DirectAndRelationshipFilters covers scenario S4 literally.
*/
func TestBuild_DirectAndRelationshipFilters(t *testing.T) {
	c := newCatalog()
	stages := build(t, c, "users", "name,orders(totalAmount)", map[string]string{
		"name":               "like.John*",
		"orders.totalAmount": "gte.100",
	}, 1, 0)

	// First stage: the direct match with the translated glob.
	require.Equal(t, "$match", stageKey(stages[0]))
	match, ok := stages[0][0].Value.(bson.D)
	require.True(t, ok)
	require.Len(t, match, 1)
	assert.Equal(t, "name", match[0].Key)
	assert.Equal(t, bson.D{
		{Key: "$regex", Value: "John.*"},
		{Key: "$options", Value: "i"},
	}, match[0].Value)

	// The orders join's sub-pipeline begins with the gte filter.
	spec := lookupSpec(t, stages[1])
	sub, ok := specField(spec, "pipeline").([]bson.D)
	require.True(t, ok)
	assert.Equal(t, "$match", stageKey(sub[0]))
	subMatch, ok := sub[0][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "totalAmount", Value: bson.D{{Key: "$gte", Value: int64(100)}}}}, subMatch)
}

/*
TestBuild_FilteredBelongsToIsInner verifies that a filtered belongsTo embeds
its filter in the sub-pipeline and drops parents whose subdocument is null.
*/
func TestBuild_FilteredBelongsToIsInner(t *testing.T) {
	c := newCatalog()
	stages := build(t, c, "orders", "orderNumber,customer(name)",
		map[string]string{"customer.status": "eq.active"}, 1, 0)

	spec := lookupSpec(t, stages[0])
	sub, ok := specField(spec, "pipeline").([]bson.D)
	require.True(t, ok)
	assert.Equal(t, "$match", stageKey(sub[0]))

	// lookup, reduction, outer null-drop match.
	assert.Equal(t, "$addFields", stageKey(stages[1]))
	require.Equal(t, "$match", stageKey(stages[2]))
	outer, ok := stages[2][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "customer", Value: bson.D{{Key: "$ne", Value: nil}}}}, outer)
}

/*
TestBuild_Aggregates verifies the join-then-replace lowering of aggregates.
*/
func TestBuild_Aggregates(t *testing.T) {
	c := newCatalog()

	t.Run("count", func(t *testing.T) {
		stages := build(t, c, "users", "name,orders!count", nil, 1, 0)

		spec := lookupSpec(t, stages[0])
		assert.Equal(t, "orders", specField(spec, "as"))

		require.Equal(t, "$addFields", stageKey(stages[1]))
		replaced, ok := stages[1][0].Value.(bson.D)
		require.True(t, ok)
		assert.Equal(t, bson.D{{Key: "orders", Value: bson.D{{Key: "$size", Value: "$orders"}}}}, replaced)
	})

	t.Run("sum", func(t *testing.T) {
		stages := build(t, c, "users", "spend:orders!sum(totalAmount)", nil, 1, 0)

		require.Equal(t, "$addFields", stageKey(stages[1]))
		replaced, ok := stages[1][0].Value.(bson.D)
		require.True(t, ok)
		assert.Equal(t, bson.D{{Key: "spend", Value: bson.D{{Key: "$sum", Value: "$spend.totalAmount"}}}}, replaced)
	})
}

/*
TestBuild_Pagination checks property 6 over a grid of page/limit inputs.
*/
func TestBuild_Pagination(t *testing.T) {
	c := newCatalog()

	tests := []struct {
		name          string
		page, limit   int
		expectedSkip  int64
		expectedLimit int64
	}{
		{"defaults", 0, 0, 0, 20},
		{"first_page", 1, 10, 0, 10},
		{"third_page", 3, 10, 20, 10},
		{"limit_clamped_to_max", 1, 500, 0, 100},
		{"negative_page_clamped", -4, 10, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := build(t, c, "users", "name", nil, tt.page, tt.limit)

			require.GreaterOrEqual(t, len(stages), 3)
			skipStage := stages[len(stages)-3]
			limitStage := stages[len(stages)-2]

			require.Equal(t, "$skip", stageKey(skipStage))
			require.Equal(t, "$limit", stageKey(limitStage))
			assert.Equal(t, tt.expectedSkip, skipStage[0].Value)
			assert.Equal(t, tt.expectedLimit, limitStage[0].Value)
		})
	}
}

/*
TestBuild_Determinism checks property 1: identical inputs emit byte-identical
pipelines.
*/
func TestBuild_Determinism(t *testing.T) {
	c := newCatalog()
	params := map[string]string{
		"status":        "in.(active,pending)",
		"orders.status": "eq.delivered",
		"age":           "gte.21",
	}

	first := build(t, c, "users", "name,orders(orderNumber)!order.orderNumber.desc,orders!count", params, 2, 25)
	second := build(t, c, "users", "name,orders(orderNumber)!order.orderNumber.desc,orders!count", params, 2, 25)

	firstBytes, err := bson.Marshal(bson.D{{Key: "p", Value: first}})
	require.NoError(t, err)
	secondBytes, err := bson.Marshal(bson.D{{Key: "p", Value: second}})
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

/*
TestBuild_IDCasting verifies 24-hex re-casting for id-typed properties.
*/
func TestBuild_IDCasting(t *testing.T) {
	c := newCatalog()
	hex := "507f1f77bcf86cd799439011"

	descriptor, _ := c.GetCollection("users")
	stages, err := newBuilder(c).Build(pipeline.Request{
		Collection: descriptor,
		Filters: query.Filters{
			Direct:  map[string]query.Condition{"_id": {Op: query.OpEq, Value: hex}},
			Special: map[string]string{},
		},
		Page: 1,
	})
	require.NoError(t, err)

	match, ok := stages[0][0].Value.(bson.D)
	require.True(t, ok)
	id, ok := match[0].Value.(bson.ObjectID)
	require.True(t, ok, "expected bson.ObjectID, got %T", match[0].Value)
	assert.Equal(t, hex, id.Hex())
}

/*
TestBuild_Search checks the search stage planning rules.
*/
func TestBuild_Search(t *testing.T) {
	c := newCatalog()

	t.Run("explicit_fields_become_regex_disjunction", func(t *testing.T) {
		stages := build(t, c, "users", "name", map[string]string{
			"search":       "john",
			"searchFields": "name,email",
		}, 1, 0)

		require.Equal(t, "$match", stageKey(stages[0]))
		payload, _ := bson.Marshal(stages[0])
		assert.Contains(t, string(payload), "$or")
		assert.Contains(t, string(payload), "john")
	})

	t.Run("text_index_fallback", func(t *testing.T) {
		descriptor, _ := c.GetCollection("categories")
		descriptor.Indexes = []schema.IndexDescriptor{
			{Keys: []schema.IndexKey{{Field: "name", Type: "text"}}},
		}

		stages := build(t, c, "categories", "name", map[string]string{"search": "tools"}, 1, 0)
		payload, _ := bson.Marshal(stages[0])
		assert.Contains(t, string(payload), "$text")
	})

	t.Run("unsearchable_collection_rejected", func(t *testing.T) {
		descriptor, _ := c.GetCollection("product_categories")
		_, err := newBuilder(c).Build(pipeline.Request{
			Collection: descriptor,
			Filters: query.Filters{
				Direct:  map[string]query.Condition{},
				Special: map[string]string{"search": "x"},
			},
			Page: 1,
		})
		require.Error(t, err)
	})
}

/*
TestContainsWriteStage checks property 7's detection primitive.
*/
func TestContainsWriteStage(t *testing.T) {
	clean := []bson.D{
		{{Key: "$match", Value: bson.D{}}},
		{{Key: "$sort", Value: bson.D{{Key: "a", Value: 1}}}},
	}
	assert.False(t, pipeline.ContainsWriteStage(clean))

	withOut := append(clean, bson.D{{Key: "$out", Value: "elsewhere"}})
	assert.True(t, pipeline.ContainsWriteStage(withOut))

	raw := []map[string]any{{"$match": map[string]any{}}, {"$merge": map[string]any{"into": "x"}}}
	assert.True(t, pipeline.RawContainsWriteStage(raw))
	assert.False(t, pipeline.RawContainsWriteStage(raw[:1]))
}

/*
TestBuild_EmittedPipelinesNeverContainWriteStages re-checks property 7 on the
builder's own output.
*/
func TestBuild_EmittedPipelinesNeverContainWriteStages(t *testing.T) {
	c := newCatalog()
	selections := []string{
		"name",
		"name,orders(orderNumber)",
		"orders!count",
	}
	for _, selection := range selections {
		stages := build(t, c, "users", selection, map[string]string{"age": "gte.18"}, 2, 10)
		assert.False(t, pipeline.ContainsWriteStage(stages), "selection %q", selection)
	}
}
