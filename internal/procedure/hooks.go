// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"context"
	"log/slog"
)

// # Hook Registry

// Hook is one host-provided lifecycle function.
type Hook func(ctx context.Context, execCtx *Context) error

// HookRegistry resolves descriptor hook names to host functions.
//
// # Immutability
//
// The table is built once at process start; there is deliberately no way to
// add hooks after construction.
type HookRegistry struct {
	hooks map[string]Hook
}

// NewHookRegistry builds the immutable name→hook table.
func NewHookRegistry(hooks map[string]Hook) *HookRegistry {
	table := make(map[string]Hook, len(hooks))
	for name, hook := range hooks {
		table[name] = hook
	}
	return &HookRegistry{hooks: table}
}

// Run invokes each named hook in order. Unknown names are logged and
// skipped; hook errors are logged and do not interrupt the caller.
func (r *HookRegistry) Run(ctx context.Context, log *slog.Logger, names []string, execCtx *Context) {
	for _, name := range names {
		hook, ok := r.hooks[name]
		if !ok {
			log.Warn("unknown procedure hook skipped", slog.String("hook", name))
			continue
		}
		if err := hook(ctx, execCtx); err != nil {
			log.Error("procedure hook failed",
				slog.String("hook", name),
				slog.Any("error", err),
			)
		}
	}
}
