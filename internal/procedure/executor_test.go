// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/procedure"
	"github.com/taibuivan/mongate/internal/schema"
)

func newExecutor() *procedure.Executor {
	return procedure.NewExecutor(procedure.Options{
		Config:           map[string]any{"region": "eu"},
		ProcedureTimeout: 5 * time.Second,
		StepTimeout:      time.Second,
		RetryInterval:    time.Millisecond,
	})
}

/*
TestExecute_TransformAndFraming checks template flow between steps and the
step-id→output framing when no output schema is declared.
*/
func TestExecute_TransformAndFraming(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "shape", Method: "POST", Endpoint: "/functions/shape",
		Steps: []*schema.Step{
			{ID: "first", Type: schema.StepTransform, Params: map[string]any{
				"output": map[string]any{"greeting": "Hello {{params.name}}"},
			}},
			{ID: "second", Type: schema.StepTransform, Params: map[string]any{
				"output": map[string]any{
					"echo":   "{{steps.first.output.greeting}}",
					"region": "{{config.region}}",
					"who":    "{{user.subject}}",
				},
			}},
		},
	}

	output, execCtx, err := executor.Execute(context.Background(), proc,
		map[string]any{"name": "Ada"}, map[string]any{"subject": "u-1"})
	require.NoError(t, err)

	framed, ok := output.(map[string]any)
	require.True(t, ok)
	require.Contains(t, framed, "first")
	require.Contains(t, framed, "second")

	second := framed["second"].(map[string]any)
	assert.Equal(t, "Hello Ada", second["echo"])
	assert.Equal(t, "eu", second["region"])
	assert.Equal(t, "u-1", second["who"])

	// Step i+1 observed step i's committed result.
	require.Contains(t, execCtx.Steps, "first")
	assert.NotZero(t, execCtx.Steps["first"].Timestamp)
}

/*
TestExecute_OutputSchemaFraming checks last-step framing with an output schema.
*/
func TestExecute_OutputSchemaFraming(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "last", Method: "POST", Endpoint: "/functions/last",
		Output: &schema.PropertySchema{Type: "object"},
		Steps: []*schema.Step{
			{ID: "a", Type: schema.StepTransform, Params: map[string]any{"output": map[string]any{"v": int64(1)}}},
			{ID: "b", Type: schema.StepTransform, Params: map[string]any{"output": map[string]any{"v": int64(2)}}},
		},
	}

	output, _, err := executor.Execute(context.Background(), proc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": int64(2)}, output)
}

/*
TestExecute_ConditionSkips checks that the losing branch's steps are skipped.
*/
func TestExecute_ConditionSkips(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "branch", Method: "POST", Endpoint: "/functions/branch",
		Steps: []*schema.Step{
			{ID: "check", Type: schema.StepCondition, Params: map[string]any{
				"if":   `params.amount > 100`,
				"then": []any{"big"},
				"else": []any{"small"},
			}},
			{ID: "big", Type: schema.StepTransform, Params: map[string]any{"output": "big order"}},
			{ID: "small", Type: schema.StepTransform, Params: map[string]any{"output": "small order"}},
		},
	}

	output, _, err := executor.Execute(context.Background(), proc, map[string]any{"amount": 250}, nil)
	require.NoError(t, err)

	framed := output.(map[string]any)
	assert.Equal(t, true, framed["check"])
	assert.Equal(t, "big order", framed["big"])
	assert.NotContains(t, framed, "small")
}

/*
TestExecute_HTTPStep drives the outbound http step against a local server.
*/
func TestExecute_HTTPStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	executor := newExecutor()
	proc := &schema.ProcedureDescriptor{
		Name: "call", Method: "POST", Endpoint: "/functions/call",
		Steps: []*schema.Step{
			{ID: "ping", Type: schema.StepHTTP, Params: map[string]any{
				"url":     server.URL,
				"method":  "POST",
				"headers": map[string]any{"X-Token": "secret"},
				"body":    map[string]any{"name": "{{params.name}}"},
			}},
		},
	}

	output, _, err := executor.Execute(context.Background(), proc, map[string]any{"name": "Ada"}, nil)
	require.NoError(t, err)

	framed := output.(map[string]any)
	result := framed["ping"].(map[string]any)
	assert.Equal(t, 200, result["status"])
	assert.Equal(t, map[string]any{"ok": true}, result["body"])
}

/*
TestExecute_RetryStrategy checks the fixed-backoff retry loop.
*/
func TestExecute_RetryStrategy(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			// Drop the connection so the client sees a transport error.
			hijacker, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hijacker.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`"finally"`))
	}))
	defer server.Close()

	executor := newExecutor()
	proc := &schema.ProcedureDescriptor{
		Name: "flaky", Method: "POST", Endpoint: "/functions/flaky",
		ErrorHandling: schema.ErrorHandling{Strategy: schema.StrategyRetry, RetryCount: 3},
		Steps: []*schema.Step{
			{ID: "call", Type: schema.StepHTTP, Params: map[string]any{"url": server.URL}},
		},
	}

	_, _, err := executor.Execute(context.Background(), proc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

/*
TestExecute_StepTimeout checks that a stalled step surfaces as a timeout with
the partial steps map in the details.
*/
func TestExecute_StepTimeout(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "slow", Method: "POST", Endpoint: "/functions/slow",
		Steps: []*schema.Step{
			{ID: "fast", Type: schema.StepTransform, Params: map[string]any{"output": "done"}},
			{ID: "stall", Type: schema.StepDelay, TimeoutMS: 20, Params: map[string]any{"ms": int64(60000)}},
		},
	}

	_, execCtx, err := executor.Execute(context.Background(), proc, nil, nil)
	require.Error(t, err)

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.KindTimeout, ae.Kind)

	details, ok := ae.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stall", details["failedStep"])
	steps, ok := details["steps"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, steps, "fast")

	// The completed step stayed committed on the context.
	assert.Contains(t, execCtx.Steps, "fast")
}

/*
TestExecute_UnresolvedTemplatesWarn pins the template-miss decision: token
kept verbatim, warning surfaced on the context.
*/
func TestExecute_UnresolvedTemplatesWarn(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "warned", Method: "POST", Endpoint: "/functions/warned",
		Steps: []*schema.Step{
			{ID: "only", Type: schema.StepTransform, Params: map[string]any{
				"output": "{{steps.missing.output}}",
			}},
		},
	}

	output, execCtx, err := executor.Execute(context.Background(), proc, nil, nil)
	require.NoError(t, err)

	framed := output.(map[string]any)
	assert.Equal(t, "{{steps.missing.output}}", framed["only"])
	require.NotEmpty(t, execCtx.Warnings)
	assert.Contains(t, execCtx.Warnings[0], "steps.missing.output")
}

/*
TestExecute_CompileFailureIsFatal checks that malformed conditions fail the
invocation before any step runs.
*/
func TestExecute_CompileFailureIsFatal(t *testing.T) {
	executor := newExecutor()

	proc := &schema.ProcedureDescriptor{
		Name: "broken", Method: "POST", Endpoint: "/functions/broken",
		Steps: []*schema.Step{
			{ID: "check", Type: schema.StepCondition, Params: map[string]any{"if": "((("}},
		},
	}

	_, _, err := executor.Execute(context.Background(), proc, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.As(err).Kind)
}
