// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// # Condition Evaluation
//
// Condition steps evaluate a bounded expression — comparisons, boolean
// operators, and property access over the execution context. The expression
// VM runs compiled bytecode against a plain map environment; there is no
// host-language evaluation anywhere on this path.

// compiledCondition is one compiled boolean expression.
type compiledCondition struct {
	source  string
	program *vm.Program
}

// compileCondition compiles an expression at descriptor preparation time (the
// descriptor's first invocation), so a malformed condition fails that
// invocation before any step runs.
func compileCondition(source string) (*compiledCondition, error) {
	program, err := expr.Compile(source,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("procedure: compile condition %q: %w", source, err)
	}
	return &compiledCondition{source: source, program: program}, nil
}

// evaluate runs the condition against the context environment.
func (c *compiledCondition) evaluate(execCtx *Context) (bool, error) {
	output, err := expr.Run(c.program, execCtx.rootView())
	if err != nil {
		return false, fmt.Errorf("procedure: evaluate condition %q: %w", c.source, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("procedure: condition %q did not yield a boolean", c.source)
	}
	return result, nil
}
