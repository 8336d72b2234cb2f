// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"github.com/taibuivan/mongate/internal/schema"
)

// fixtureResolver satisfies query.Resolver over an in-memory descriptor set.
type fixtureResolver map[string]*schema.CollectionDescriptor

func (f fixtureResolver) GetCollection(name string) (*schema.CollectionDescriptor, bool) {
	descriptor, ok := f[name]
	return descriptor, ok
}

// fixtures builds the users/orders/products catalog the parser tests share.
func fixtures() fixtureResolver {
	props := func(names ...string) map[string]*schema.PropertySchema {
		out := map[string]*schema.PropertySchema{}
		for _, name := range names {
			out[name] = &schema.PropertySchema{Type: "string"}
		}
		return out
	}

	users := &schema.CollectionDescriptor{
		Name:       "users",
		Properties: props("name", "email", "age", "status"),
		Relationships: map[string]*schema.RelationshipDescriptor{
			"orders": {
				Type:         schema.RelHasMany,
				Target:       "orders",
				LocalField:   "_id",
				ForeignField: "customerId",
			},
		},
	}

	orders := &schema.CollectionDescriptor{
		Name:       "orders",
		Properties: props("orderNumber", "customerId", "totalAmount", "status", "createdAt"),
		Relationships: map[string]*schema.RelationshipDescriptor{
			"customer": {
				Type:         schema.RelBelongsTo,
				Target:       "users",
				LocalField:   "customerId",
				ForeignField: "_id",
			},
		},
	}

	products := &schema.CollectionDescriptor{
		Name:       "products",
		Properties: props("name", "sku", "price"),
		Relationships: map[string]*schema.RelationshipDescriptor{
			"categories": {
				Type:                schema.RelManyToMany,
				Target:              "categories",
				LocalField:          "_id",
				ForeignField:        "_id",
				Through:             "product_categories",
				ThroughLocalField:   "productId",
				ThroughForeignField: "categoryId",
			},
		},
	}

	categories := &schema.CollectionDescriptor{
		Name:       "categories",
		Properties: props("name", "slug"),
	}

	junction := &schema.CollectionDescriptor{
		Name:       "product_categories",
		Properties: props("productId", "categoryId"),
	}

	return fixtureResolver{
		"users":              users,
		"orders":             orders,
		"products":           products,
		"categories":         categories,
		"product_categories": junction,
	}
}
