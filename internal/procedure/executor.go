// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package procedure executes declarative multi-step workflows.

Architecture:

  - Steps run strictly sequentially; step i+1 observes the committed output
    of step i through the execution context.
  - Parameter bundles are compiled into template trees once per descriptor;
    rendering walks the context in O(depth).
  - Each step races a per-step timeout; the whole invocation races the
    procedure timeout.
  - Failures apply the descriptor's error strategy: rollback (best-effort,
    reverse order), retry (fixed backoff), or surfacing the error.

Condition steps evaluate a bounded expression language — never host code.
*/
package procedure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/schema"
)

// # Executor

// Options configure an Executor.
type Options struct {
	DB         *mongo.Database
	Hooks      *HookRegistry
	HTTPClient *http.Client
	Log        *slog.Logger

	// Config backs {{config.*}} template paths.
	Config map[string]any

	ProcedureTimeout time.Duration
	StepTimeout      time.Duration
	RetryInterval    time.Duration
}

// Executor runs procedure descriptors against the database.
type Executor struct {
	db         *mongo.Database
	hooks      *HookRegistry
	httpClient *http.Client
	log        *slog.Logger
	config     map[string]any

	procedureTimeout time.Duration
	stepTimeout      time.Duration
	retryInterval    time.Duration

	// prepared memoizes compiled step templates per descriptor. Descriptors
	// are immutable after registry load, so pointer identity is a safe key.
	prepared sync.Map
}

// NewExecutor constructs an Executor.
func NewExecutor(opts Options) *Executor {
	executor := &Executor{
		db:               opts.DB,
		hooks:            opts.Hooks,
		httpClient:       opts.HTTPClient,
		log:              opts.Log,
		config:           opts.Config,
		procedureTimeout: opts.ProcedureTimeout,
		stepTimeout:      opts.StepTimeout,
		retryInterval:    opts.RetryInterval,
	}
	if executor.hooks == nil {
		executor.hooks = NewHookRegistry(nil)
	}
	if executor.httpClient == nil {
		executor.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if executor.log == nil {
		executor.log = slog.Default()
	}
	return executor
}

// compiledStep pairs a step with its compiled template and condition.
type compiledStep struct {
	step      *schema.Step
	params    tmplNode
	condition *compiledCondition
}

// prepare compiles every step of a descriptor once.
func (e *Executor) prepare(proc *schema.ProcedureDescriptor) ([]*compiledStep, error) {
	if cached, ok := e.prepared.Load(proc); ok {
		return cached.([]*compiledStep), nil
	}

	compiled := make([]*compiledStep, 0, len(proc.Steps))
	for _, step := range proc.Steps {
		cs := &compiledStep{step: step}
		if step.Params != nil {
			cs.params = compileValue(step.Params)
		}
		if step.Type == schema.StepCondition {
			source, _ := step.Params["if"].(string)
			if source == "" {
				return nil, fmt.Errorf("procedure %q step %q: condition steps require an 'if' expression", proc.Name, step.ID)
			}
			condition, err := compileCondition(source)
			if err != nil {
				return nil, err
			}
			cs.condition = condition
		}
		compiled = append(compiled, cs)
	}

	e.prepared.Store(proc, compiled)
	return compiled, nil
}

// # Execution

// Execute runs one procedure invocation. The returned context carries the
// per-step results and warnings even when execution fails.
func (e *Executor) Execute(ctx context.Context, proc *schema.ProcedureDescriptor, params, user map[string]any) (any, *Context, error) {
	execCtx := newContext(params, user, e.config)

	compiled, err := e.prepare(proc)
	if err != nil {
		return nil, execCtx, apperr.Internal(err)
	}

	timeout := e.procedureTimeout
	if proc.TimeoutMS > 0 {
		timeout = time.Duration(proc.TimeoutMS) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.hooks.Run(runCtx, e.log, proc.Hooks.BeforeExecution, execCtx)

	if proc.Transactional {
		err = e.runTransactional(runCtx, proc, compiled, execCtx)
	} else {
		err = e.runSteps(runCtx, proc, compiled, execCtx)
	}
	if err != nil {
		return nil, execCtx, err
	}

	// Post-success hooks never run after a cancellation or failure.
	e.hooks.Run(runCtx, e.log, proc.Hooks.AfterExecution, execCtx)

	return e.frameOutput(proc, compiled, execCtx), execCtx, nil
}

// runTransactional executes all steps inside one driver session; any step
// error aborts the whole transaction.
func (e *Executor) runTransactional(ctx context.Context, proc *schema.ProcedureDescriptor, compiled []*compiledStep, execCtx *Context) error {
	session, err := e.db.Client().StartSession()
	if err != nil {
		return apperr.Internal(fmt.Errorf("procedure: start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return nil, e.runSteps(txCtx, proc, compiled, execCtx)
	})
	return err
}

// runSteps drives the sequential step loop with condition skip handling.
func (e *Executor) runSteps(ctx context.Context, proc *schema.ProcedureDescriptor, compiled []*compiledStep, execCtx *Context) error {
	skip := map[string]bool{}

	for _, cs := range compiled {
		if skip[cs.step.ID] {
			continue
		}

		start := time.Now()
		rendered := e.renderParams(cs, execCtx)

		output, err := e.runWithPolicy(ctx, proc, cs, rendered, execCtx, skip)
		if err != nil {
			return e.failStep(ctx, proc, cs.step, execCtx, err)
		}

		execCtx.commit(cs.step.ID, output, time.Since(start), rendered)
	}
	return nil
}

// renderParams renders a step's compiled parameter template.
func (e *Executor) renderParams(cs *compiledStep, execCtx *Context) map[string]any {
	if cs.params == nil {
		return map[string]any{}
	}
	rendered, ok := cs.params.render(execCtx).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return rendered
}

// runWithPolicy races the step against its timeout, applying the retry
// strategy when configured.
func (e *Executor) runWithPolicy(ctx context.Context, proc *schema.ProcedureDescriptor, cs *compiledStep, rendered map[string]any, execCtx *Context, skip map[string]bool) (any, error) {
	attempt := func() (any, error) {
		stepTimeout := e.stepTimeout
		if cs.step.TimeoutMS > 0 {
			stepTimeout = time.Duration(cs.step.TimeoutMS) * time.Millisecond
		}
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()

		output, err := e.executeStep(stepCtx, cs, rendered, execCtx, skip)
		if err != nil && ctx.Err() != nil {
			// The whole procedure is cancelled; retrying is pointless.
			return nil, backoff.Permanent(err)
		}
		return output, err
	}

	if proc.ErrorHandling.Strategy != schema.StrategyRetry || proc.ErrorHandling.RetryCount <= 0 {
		return attempt()
	}

	interval := e.retryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(proc.ErrorHandling.RetryCount+1)),
	)
}

// failStep applies onError hooks and the rollback strategy, then shapes the
// surfaced error with the partial steps map for diagnosis.
func (e *Executor) failStep(ctx context.Context, proc *schema.ProcedureDescriptor, step *schema.Step, execCtx *Context, cause error) error {
	execCtx.Errors = append(execCtx.Errors, cause)
	e.hooks.Run(ctx, e.log, proc.Hooks.OnError, execCtx)

	if proc.ErrorHandling.Strategy == schema.StrategyRollback {
		e.rollback(ctx, proc, execCtx)
	}

	details := map[string]any{"steps": execCtx.partialSteps(), "failedStep": step.ID}

	// An already-shaped error (e.g. a nested validation failure) keeps its
	// kind; raw causes become procedureStep or timeout.
	var shaped *apperr.AppError
	if errors.As(cause, &shaped) {
		return shaped.WithDetails(details)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return apperr.Timeout(fmt.Sprintf("Procedure step '%s' timed out", step.ID)).WithDetails(details)
	}
	return apperr.ProcedureStep(step.ID, cause).WithDetails(details)
}

// frameOutput returns the last executed step's output when the descriptor
// declares an output schema, or the full step-id→output map otherwise.
func (e *Executor) frameOutput(proc *schema.ProcedureDescriptor, compiled []*compiledStep, execCtx *Context) any {
	if proc.Output == nil {
		return execCtx.stepOutputs()
	}
	for i := len(compiled) - 1; i >= 0; i-- {
		if result, ok := execCtx.Steps[compiled[i].step.ID]; ok {
			return result.Output
		}
	}
	return nil
}
