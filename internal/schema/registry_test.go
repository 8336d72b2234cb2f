// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/schema"
)

// writeDescriptors lays out a schema root with the given file contents.
func writeDescriptors(t *testing.T, collections, procedures map[string]string) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "collections"), 0o755))
	for name, content := range collections {
		require.NoError(t, os.WriteFile(filepath.Join(root, "collections", name), []byte(content), 0o644))
	}
	if len(procedures) > 0 {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "procedures"), 0o755))
		for name, content := range procedures {
			require.NoError(t, os.WriteFile(filepath.Join(root, "procedures", name), []byte(content), 0o644))
		}
	}
	return root
}

const usersDescriptor = `{
	"name": "users",
	"title": "Users",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"email": {"type": "string"},
		"age":   {"type": "integer", "minimum": 0}
	},
	"required": ["name", "email"],
	"relationships": {
		"orders": {
			"type": "hasMany",
			"target": "orders",
			"localField": "_id",
			"foreignField": "customerId"
		}
	},
	"searchFields": ["name", "email"],
	"permissions": {"find": ["anonymous"], "insertOne": ["user"]}
}`

const ordersDescriptor = `{
	"name": "orders",
	"properties": {
		"orderNumber": {"type": "string"},
		"customerId":  {"type": "string", "format": "objectId"},
		"totalAmount": {"type": "number"}
	},
	"required": ["orderNumber"],
	"relationships": {
		"customer": {
			"type": "belongsTo",
			"target": "users",
			"localField": "customerId",
			"foreignField": "_id"
		}
	}
}`

const notifyProcedure = `{
	"name": "notify",
	"method": "POST",
	"endpoint": "/functions/notify",
	"input": {
		"type": "object",
		"properties": {"message": {"type": "string"}},
		"required": ["message"]
	},
	"steps": [
		{"id": "load", "type": "findOne", "params": {"collection": "users", "filter": {"email": "{{params.email}}"}}},
		{"id": "ping", "type": "http", "params": {"url": "https://example.test", "method": "POST"}}
	]
}`

func loadRegistry(t *testing.T, root string) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, registry.Load(root))
	return registry
}

/*
TestRegistry_Load checks the happy path: lookups, reverse index, validators.
*/
func TestRegistry_Load(t *testing.T) {
	root := writeDescriptors(t,
		map[string]string{"users.json": usersDescriptor, "orders.json": ordersDescriptor},
		map[string]string{"notify.json": notifyProcedure},
	)
	registry := loadRegistry(t, root)

	t.Run("collection_lookup", func(t *testing.T) {
		users, ok := registry.GetCollection("users")
		require.True(t, ok)
		assert.Equal(t, "Users", users.Title)
		assert.True(t, users.HasProperty("_id"))
		assert.True(t, users.HasProperty("email"))
		assert.False(t, users.HasProperty("shoeSize"))

		_, ok = registry.GetCollection("ghosts")
		assert.False(t, ok)
	})

	t.Run("id_property_detection", func(t *testing.T) {
		orders, _ := registry.GetCollection("orders")
		assert.True(t, orders.IDProperty("customerId"))
		assert.False(t, orders.IDProperty("orderNumber"))
	})

	t.Run("procedure_lookup", func(t *testing.T) {
		proc, ok := registry.GetProcedure("notify")
		require.True(t, ok)
		assert.Equal(t, "POST", proc.Method)
		require.Len(t, proc.Steps, 2)
	})

	t.Run("reverse_index", func(t *testing.T) {
		incoming := registry.IncomingRelationships("users")
		require.Len(t, incoming, 1)
		assert.Equal(t, "orders", incoming[0].Source)
		assert.Equal(t, "customer", incoming[0].Alias)
		assert.Equal(t, schema.RelBelongsTo, incoming[0].Type)
	})
}

/*
TestRegistry_ValidateDocument checks full vs additive validation modes.
*/
func TestRegistry_ValidateDocument(t *testing.T) {
	root := writeDescriptors(t, map[string]string{
		"users.json": usersDescriptor, "orders.json": ordersDescriptor,
	}, nil)
	registry := loadRegistry(t, root)

	t.Run("valid_full_document", func(t *testing.T) {
		fields, err := registry.ValidateDocument("users", map[string]any{
			"name": "Ada", "email": "ada@example.test", "age": float64(36),
		}, false)
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("missing_required_field", func(t *testing.T) {
		fields, err := registry.ValidateDocument("users", map[string]any{"name": "Ada"}, false)
		require.NoError(t, err)
		assert.NotEmpty(t, fields)
	})

	t.Run("partial_mode_skips_required", func(t *testing.T) {
		fields, err := registry.ValidateDocument("users", map[string]any{"name": "Ada"}, true)
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("type_violation_still_caught_in_partial_mode", func(t *testing.T) {
		fields, err := registry.ValidateDocument("users", map[string]any{"age": "old"}, true)
		require.NoError(t, err)
		assert.NotEmpty(t, fields)
	})

	t.Run("unknown_collection", func(t *testing.T) {
		_, err := registry.ValidateDocument("ghosts", map[string]any{}, false)
		require.Error(t, err)
	})
}

/*
TestRegistry_ValidateProcedureInput checks the memoized input validator.
*/
func TestRegistry_ValidateProcedureInput(t *testing.T) {
	root := writeDescriptors(t,
		map[string]string{"users.json": usersDescriptor, "orders.json": ordersDescriptor},
		map[string]string{"notify.json": notifyProcedure},
	)
	registry := loadRegistry(t, root)

	fields, err := registry.ValidateProcedureInput("notify", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Empty(t, fields)

	fields, err = registry.ValidateProcedureInput("notify", map[string]any{})
	require.NoError(t, err)
	assert.NotEmpty(t, fields)
}

/*
TestRegistry_LoadFailures checks that broken descriptor sets refuse to load.
*/
func TestRegistry_LoadFailures(t *testing.T) {
	tests := []struct {
		name        string
		collections map[string]string
		procedures  map[string]string
	}{
		{
			name: "required_not_in_properties",
			collections: map[string]string{"bad.json": `{
				"name": "bad",
				"properties": {"a": {"type": "string"}},
				"required": ["missing"]
			}`},
		},
		{
			name: "relationship_target_missing",
			collections: map[string]string{"bad.json": `{
				"name": "bad",
				"properties": {"refId": {"type": "string"}},
				"relationships": {
					"ref": {"type": "belongsTo", "target": "nowhere", "localField": "refId", "foreignField": "_id"}
				}
			}`},
		},
		{
			name: "junction_missing_for_many_to_many",
			collections: map[string]string{"bad.json": `{
				"name": "bad",
				"properties": {"x": {"type": "string"}},
				"relationships": {
					"others": {"type": "manyToMany", "target": "bad", "localField": "x", "foreignField": "x",
						"through": "nowhere", "throughLocalField": "a", "throughForeignField": "b"}
				}
			}`},
		},
		{
			name: "index_on_undeclared_property",
			collections: map[string]string{"bad.json": `{
				"name": "bad",
				"properties": {"a": {"type": "string"}},
				"indexes": [{"keys": [{"field": "ghost"}]}]
			}`},
		},
		{
			name:        "procedure_with_duplicate_step_ids",
			collections: map[string]string{"users.json": usersDescriptor, "orders.json": ordersDescriptor},
			procedures: map[string]string{"bad.json": `{
				"name": "bad", "method": "POST", "endpoint": "/functions/bad",
				"steps": [
					{"id": "one", "type": "findOne", "params": {"collection": "users"}},
					{"id": "one", "type": "delay", "params": {"ms": 1}}
				]
			}`},
		},
		{
			name:        "transactional_procedure_with_http_step",
			collections: map[string]string{"users.json": usersDescriptor, "orders.json": ordersDescriptor},
			procedures: map[string]string{"bad.json": `{
				"name": "bad", "method": "POST", "endpoint": "/functions/bad",
				"transactional": true,
				"steps": [{"id": "call", "type": "http", "params": {"url": "https://example.test"}}]
			}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collections := tt.collections
			root := writeDescriptors(t, collections, tt.procedures)
			registry := schema.NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			require.Error(t, registry.Load(root))
		})
	}
}
