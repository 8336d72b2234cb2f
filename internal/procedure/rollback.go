// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongate/internal/schema"
)

// rollbackTimeout bounds the whole best-effort rollback pass. The original
// request context may already be cancelled, so rollback gets its own clock.
const rollbackTimeout = 10 * time.Second

// # Rollback

// rollback undoes the descriptor's rollbackSteps in reverse order.
//
// Only inserts have a mechanical inverse; other step kinds are logged as
// non-reversible. Every rollback failure is logged and never propagated —
// the original cause must stay visible.
func (e *Executor) rollback(ctx context.Context, proc *schema.ProcedureDescriptor, execCtx *Context) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	stepsByID := make(map[string]*schema.Step, len(proc.Steps))
	for _, step := range proc.Steps {
		stepsByID[step.ID] = step
	}

	ids := proc.ErrorHandling.RollbackSteps
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		step := stepsByID[id]
		result := execCtx.Steps[id]
		if step == nil || result == nil {
			// The step never ran; nothing to undo.
			continue
		}
		if err := e.rollbackStep(rollbackCtx, step, result); err != nil {
			e.log.Error("procedure rollback step failed",
				slog.String("procedure", proc.Name),
				slog.String("step", id),
				slog.Any("error", err),
			)
		}
	}
}

// rollbackStep undoes one committed step where an inverse exists.
func (e *Executor) rollbackStep(ctx context.Context, step *schema.Step, result *StepResult) error {
	collection, _ := result.rendered["collection"].(string)
	output, _ := result.Output.(map[string]any)

	switch step.Type {
	case schema.StepInsertOne:
		if collection == "" || output == nil {
			return nil
		}
		id, present := output["insertedId"]
		if !present {
			return nil
		}
		_, err := e.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
		return err

	case schema.StepInsertMany:
		if collection == "" || output == nil {
			return nil
		}
		ids, _ := output["insertedIds"].([]any)
		if len(ids) == 0 {
			return nil
		}
		_, err := e.db.Collection(collection).DeleteMany(ctx, bson.D{
			{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}},
		})
		return err
	}

	e.log.Warn("procedure step has no automatic rollback",
		slog.String("step", step.ID),
		slog.String("type", step.Type),
	)
	return nil
}
