// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	"github.com/taibuivan/mongate/internal/platform/respond"
	"github.com/taibuivan/mongate/internal/script"
)

// # Script Handler

// ScriptHandler serves the shell-style script endpoint.
type ScriptHandler struct {
	deps *Deps
}

// NewScriptHandler constructs the script handler.
func NewScriptHandler(deps *Deps) *ScriptHandler {
	return &ScriptHandler{deps: deps}
}

// Routes mounts the script surface.
func (h *ScriptHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/execute", h.execute)
	return router
}

// scriptRequest accepts the script under any of its accepted field names.
type scriptRequest struct {
	Script      string `json:"script,omitempty"`
	MongoScript string `json:"mongoScript,omitempty"`
	Query       string `json:"query,omitempty"`
}

func (r scriptRequest) source() string {
	if r.Script != "" {
		return r.Script
	}
	if r.MongoScript != "" {
		return r.MongoScript
	}
	return r.Query
}

// execute handles POST /scripts/execute.
func (h *ScriptHandler) execute(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	var body scriptRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body"))
		return
	}
	source := body.source()
	if source == "" {
		respond.Error(writer, request, apperr.ScriptParse("Request body must carry 'script', 'mongoScript', or 'query'"))
		return
	}

	parsed, err := h.deps.ScriptParser.Parse(source)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Scripts walk the same admission sequence as CRUD: descriptor lookup,
	// authorization, complexity, rate limiting. The method guard does not
	// apply — the script itself names the operation.
	descriptor, ok := h.deps.Registry.GetCollection(parsed.Collection)
	if !ok {
		respond.Error(writer, request, apperr.NotFound("Collection", parsed.Collection))
		return
	}

	set := middleware.PermissionSetFor(request)
	if err := middleware.AuthorizeCollection(set, descriptor, parsed.Operation); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := h.deps.Governor.Check(string(set.Role), parsed.Meta.Complexity); err != nil {
		respond.Error(writer, request, err)
		return
	}

	subject := middleware.SubjectFor(request)
	if ok, _, err := h.deps.Limiter.Allow(request.Context(), subject, h.deps.RoleLimits[string(set.Role)]); err != nil {
		respond.Error(writer, request, apperr.Internal(err))
		return
	} else if !ok {
		respond.Error(writer, request, apperr.RateLimited(1))
		return
	}

	data, err := h.run(request.Context(), parsed)
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}

	if isWriteOperation(parsed.Operation) {
		_ = h.deps.Cache.InvalidateCollection(request.Context(), parsed.Collection)
	}

	meta := respond.NewMeta(start)
	meta.Warnings = parsed.Meta.Warnings
	respond.OK(writer, data, meta)
}

// run dispatches the parsed script to the driver.
func (h *ScriptHandler) run(ctx context.Context, parsed *script.Script) (any, error) {
	coll := h.deps.DB.Collection(parsed.Collection)
	params := parsed.Params

	filter := scriptDoc(params, "filter")

	switch parsed.Operation {
	case "find":
		opts := options.Find()
		if sortSpec := scriptDoc(params, "sort"); len(sortSpec) > 0 {
			opts = opts.SetSort(sortSpec)
		}
		if projection := scriptDoc(params, "projection"); len(projection) > 0 {
			opts = opts.SetProjection(projection)
		} else if projection := scriptDoc(params, "project"); len(projection) > 0 {
			opts = opts.SetProjection(projection)
		}
		if limit, ok := params["limit"].(int64); ok {
			opts = opts.SetLimit(limit)
		}
		if skip, ok := params["skip"].(int64); ok {
			opts = opts.SetSkip(skip)
		}

		cursor, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		defer func() { _ = cursor.Close(ctx) }()
		return collectDocuments(ctx, cursor)

	case "findOne":
		var result map[string]any
		err := coll.FindOne(ctx, filter).Decode(&result)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return result, nil

	case "insertOne":
		result, err := coll.InsertOne(ctx, scriptDoc(params, "document"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"insertedId": result.InsertedID}, nil

	case "insertMany":
		documents, _ := params["documents"].([]any)
		result, err := coll.InsertMany(ctx, documents)
		if err != nil {
			return nil, err
		}
		return map[string]any{"insertedCount": len(result.InsertedIDs)}, nil

	case "updateOne", "updateMany":
		update := scriptDoc(params, "update")
		var result *mongo.UpdateResult
		var err error
		if parsed.Operation == "updateOne" {
			result, err = coll.UpdateOne(ctx, filter, update)
		} else {
			result, err = coll.UpdateMany(ctx, filter, update)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"matchedCount": result.MatchedCount, "modifiedCount": result.ModifiedCount}, nil

	case "replaceOne":
		result, err := coll.ReplaceOne(ctx, filter, scriptDoc(params, "replacement"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"matchedCount": result.MatchedCount, "modifiedCount": result.ModifiedCount}, nil

	case "deleteOne", "deleteMany":
		var result *mongo.DeleteResult
		var err error
		if parsed.Operation == "deleteOne" {
			result, err = coll.DeleteOne(ctx, filter)
		} else {
			result, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deletedCount": result.DeletedCount}, nil

	case "aggregate":
		stages, _ := params["pipeline"].([]any)
		cursor, err := coll.Aggregate(ctx, stages)
		if err != nil {
			return nil, err
		}
		defer func() { _ = cursor.Close(ctx) }()
		return collectDocuments(ctx, cursor)

	case "countDocuments":
		count, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": count}, nil

	case "distinct":
		field, _ := params["field"].(string)
		var values []any
		if err := coll.Distinct(ctx, field, scriptFilterOr(params, "query")).Decode(&values); err != nil {
			return nil, err
		}
		return values, nil
	}

	return nil, apperr.ScriptParse("Unsupported operation '" + parsed.Operation + "'")
}

// collectDocuments drains a cursor into a slice.
func collectDocuments(ctx context.Context, cursor *mongo.Cursor) ([]map[string]any, error) {
	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []map[string]any{}
	}
	return results, nil
}

// scriptDoc extracts a document-shaped parameter.
func scriptDoc(params map[string]any, key string) map[string]any {
	doc, _ := params[key].(map[string]any)
	if doc == nil {
		return map[string]any{}
	}
	return doc
}

// scriptFilterOr prefers the named key, falling back to match-all.
func scriptFilterOr(params map[string]any, key string) any {
	if doc, ok := params[key].(map[string]any); ok {
		return doc
	}
	return map[string]any{}
}

// isWriteOperation reports whether a script operation mutates data.
func isWriteOperation(operation string) bool {
	switch operation {
	case "insertOne", "insertMany", "updateOne", "updateMany", "replaceOne", "deleteOne", "deleteMany":
		return true
	}
	return false
}
