// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	execCtx := newContext(
		map[string]any{
			"email": "ada@example.test",
			"items": []any{
				map[string]any{"sku": "A-1", "quantity": int64(2)},
				map[string]any{"sku": "B-9", "quantity": int64(1)},
			},
		},
		map[string]any{"subject": "u-1", "role": "user"},
		map[string]any{"region": "eu"},
	)
	execCtx.commit("load", map[string]any{"name": "Ada", "age": int64(36)}, 5*time.Millisecond, nil)
	return execCtx
}

/*
TestTemplate_TypedSubstitution checks that whole-string tokens substitute the
typed value, not its string form.
*/
func TestTemplate_TypedSubstitution(t *testing.T) {
	execCtx := testContext()

	node := compileValue(map[string]any{
		"filter": map[string]any{"email": "{{params.email}}"},
		"age":    "{{steps.load.output.age}}",
		"first":  "{{params.items[0].sku}}",
		"qty":    "{{params.items[1].quantity}}",
	})

	rendered, ok := node.render(execCtx).(map[string]any)
	require.True(t, ok)

	filter := rendered["filter"].(map[string]any)
	assert.Equal(t, "ada@example.test", filter["email"])
	assert.Equal(t, int64(36), rendered["age"])
	assert.Equal(t, "A-1", rendered["first"])
	assert.Equal(t, int64(1), rendered["qty"])
	assert.Empty(t, execCtx.Warnings)
}

/*
TestTemplate_Interpolation checks embedded tokens inside larger strings.
*/
func TestTemplate_Interpolation(t *testing.T) {
	execCtx := testContext()

	node := compileValue("Hello {{steps.load.output.name}}, you are {{steps.load.output.age}}")
	assert.Equal(t, "Hello Ada, you are 36", node.render(execCtx))
}

/*
TestTemplate_MissKeepsTokenAndWarns pins down the unresolved-path behavior:
the token stays verbatim and a warning is recorded.
*/
func TestTemplate_MissKeepsTokenAndWarns(t *testing.T) {
	execCtx := testContext()

	node := compileValue("{{steps.ghost.output.value}}")
	assert.Equal(t, "{{steps.ghost.output.value}}", node.render(execCtx))
	require.Len(t, execCtx.Warnings, 1)
	assert.Contains(t, execCtx.Warnings[0], "steps.ghost.output.value")

	// Out-of-range indexes miss the same way.
	node = compileValue("{{params.items[9].sku}}")
	assert.Equal(t, "{{params.items[9].sku}}", node.render(execCtx))
	assert.Len(t, execCtx.Warnings, 2)
}

/*
TestTemplate_ContextRoots checks every addressable root.
*/
func TestTemplate_ContextRoots(t *testing.T) {
	execCtx := testContext()

	node := compileValue(map[string]any{
		"who":    "{{user.subject}}",
		"where":  "{{config.region}}",
		"when":   "{{now}}",
		"took":   "{{steps.load.executionTime}}",
		"plain":  int64(7),
		"nested": []any{"{{params.email}}"},
	})
	rendered := node.render(execCtx).(map[string]any)

	assert.Equal(t, "u-1", rendered["who"])
	assert.Equal(t, "eu", rendered["where"])
	_, isTime := rendered["when"].(time.Time)
	assert.True(t, isTime)
	assert.Equal(t, int64(5), rendered["took"])
	assert.Equal(t, int64(7), rendered["plain"])
	assert.Equal(t, []any{"ada@example.test"}, rendered["nested"])
}

/*
TestParsePath checks the dotted/indexed path grammar.
*/
func TestParsePath(t *testing.T) {
	path := parsePath("steps.load.output.items[2].sku")
	require.Len(t, path.segments, 6)
	assert.Equal(t, "steps", path.segments[0].key)
	assert.True(t, path.segments[4].isIndex)
	assert.Equal(t, 2, path.segments[4].index)
	assert.Equal(t, "sku", path.segments[5].key)
}
