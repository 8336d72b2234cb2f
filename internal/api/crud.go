// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/taibuivan/mongate/internal/pipeline"
	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/cache"
	"github.com/taibuivan/mongate/internal/platform/constants"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	"github.com/taibuivan/mongate/internal/platform/respond"
	"github.com/taibuivan/mongate/internal/platform/sec"
	"github.com/taibuivan/mongate/internal/query"
	"github.com/taibuivan/mongate/internal/schema"
	"github.com/taibuivan/mongate/pkg/convert"
)

// # CRUD Handler

// CRUDHandler serves the mechanical, descriptor-driven CRUD surface.
type CRUDHandler struct {
	deps *Deps
}

// NewCRUDHandler constructs the CRUD handler set.
func NewCRUDHandler(deps *Deps) *CRUDHandler {
	return &CRUDHandler{deps: deps}
}

// Routes mounts the CRUD surface.
func (h *CRUDHandler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/bulk", h.bulk)

	router.Get("/{collection}", h.list)
	router.Post("/{collection}", h.insert)
	router.Get("/{collection}/schema", h.describe)
	router.Get("/{collection}/relationships", h.relationships)
	router.Route("/{collection}/aggregate", func(r chi.Router) {
		r.Get("/", h.aggregate)
		r.Post("/", h.aggregate)
	})
	router.Get("/{collection}/{id}", h.get)
	router.Put("/{collection}/{id}", h.replace)
	router.Patch("/{collection}/{id}", h.update)
	router.Delete("/{collection}/{id}", h.remove)

	return router
}

// # Request Admission
//
// Every CRUD request walks the same admission sequence: resolve descriptor,
// method/operation guard, authorization, rate limiting. Complexity is
// checked after parsing, once the selection's true cost is known.

func (h *CRUDHandler) admit(writer http.ResponseWriter, request *http.Request, operation string) (*schema.CollectionDescriptor, *sec.PermissionSet, error) {
	name := chi.URLParam(request, "collection")

	descriptor, ok := h.deps.Registry.GetCollection(name)
	if !ok {
		return nil, nil, apperr.NotFound("Collection", name)
	}

	if err := h.deps.Guard.Check(request.Method, operation); err != nil {
		return nil, nil, err
	}

	set := middleware.PermissionSetFor(request)
	if err := middleware.AuthorizeCollection(set, descriptor, operation); err != nil {
		return nil, nil, err
	}

	if err := h.rateLimit(writer, request, set, descriptor, operation); err != nil {
		return nil, nil, err
	}

	return descriptor, set, nil
}

// rateLimit charges the role bucket and, when declared, the descriptor's
// per-operation bucket. Exhaustion sets the Retry-After hint.
func (h *CRUDHandler) rateLimit(writer http.ResponseWriter, request *http.Request, set *sec.PermissionSet, descriptor *schema.CollectionDescriptor, operation string) error {
	subject := middleware.SubjectFor(request)

	roleLimit := h.deps.RoleLimits[string(set.Role)]
	ok, retryAfter, err := h.deps.Limiter.Allow(request.Context(), subject, roleLimit)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return h.limited(writer, retryAfter)
	}

	if opLimit, declared := descriptor.RateLimits[operation]; declared {
		key := subject + ":" + descriptor.Name + ":" + operation
		limit := limitFromDescriptor(opLimit)
		ok, retryAfter, err = h.deps.Limiter.Allow(request.Context(), key, limit)
		if err != nil {
			return apperr.Internal(err)
		}
		if !ok {
			return h.limited(writer, retryAfter)
		}
	}
	return nil
}

func (h *CRUDHandler) limited(writer http.ResponseWriter, retryAfter time.Duration) error {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	writer.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(seconds))
	return apperr.RateLimited(seconds)
}

// # Read Handlers

// list handles GET /crud/{collection}.
func (h *CRUDHandler) list(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, set, err := h.admit(writer, request, "find")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	parsed, err := h.parseListQuery(request, descriptor, set)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	stages, err := h.deps.Builder.Build(parsed)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	results, err := h.executeRead(request, descriptor, stages)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	meta := respond.NewMeta(start)
	meta.PipelineStages = len(stages)
	meta.HasRelationships = query.CountRelationships(parsed.Selection) > 0
	respond.OK(writer, results, meta)
}

// get handles GET /crud/{collection}/{id}.
func (h *CRUDHandler) get(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, set, err := h.admit(writer, request, "findOne")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	parsed, err := h.parseListQuery(request, descriptor, set)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Narrow the query to the addressed document.
	id := chi.URLParam(request, "id")
	parsed.Filters.Direct["_id"] = query.Condition{Op: query.OpEq, Value: id}
	parsed.Limit = 1
	parsed.Page = 1
	parsed.Offset = 0

	stages, err := h.deps.Builder.Build(parsed)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	results, err := h.executeRead(request, descriptor, stages)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	if len(results) == 0 {
		respond.Error(writer, request, apperr.NotFound("Document", id))
		return
	}

	meta := respond.NewMeta(start)
	meta.PipelineStages = len(stages)
	meta.HasRelationships = query.CountRelationships(parsed.Selection) > 0
	respond.OK(writer, results[0], meta)
}

// parseListQuery parses select/filters/sort/pagination and runs validation,
// relationship authorization, and the complexity governor.
func (h *CRUDHandler) parseListQuery(request *http.Request, descriptor *schema.CollectionDescriptor, set *sec.PermissionSet) (pipeline.Request, error) {
	values := request.URL.Query()

	selection, err := query.Parse(values.Get("select"))
	if err != nil {
		return pipeline.Request{}, err
	}
	if err := query.ValidateSelection(selection, descriptor, h.deps.Registry, h.deps.MaxDepth); err != nil {
		return pipeline.Request{}, err
	}
	if err := middleware.AuthorizeSelection(set, h.deps.Registry, descriptor, selection); err != nil {
		return pipeline.Request{}, err
	}
	if err := h.deps.Governor.Check(string(set.Role), h.deps.Governor.QueryCost(selection)); err != nil {
		return pipeline.Request{}, err
	}

	filters := query.ParseFilters(flattenQuery(values))
	if err := query.ValidateFilters(filters, descriptor, h.deps.Registry); err != nil {
		return pipeline.Request{}, err
	}

	return pipeline.Request{
		Collection: descriptor,
		Selection:  selection,
		Filters:    filters,
		Sort:       parseSort(values.Get("sort"), values.Get("order")),
		Page:       intQuery(values.Get("page")),
		Limit:      intQuery(values.Get("limit")),
		Offset:     intQuery(values.Get("offset")),
	}, nil
}

// executeRead runs a read pipeline, serving from the result cache when the
// identical pipeline was executed recently.
func (h *CRUDHandler) executeRead(request *http.Request, descriptor *schema.CollectionDescriptor, stages []bson.D) ([]map[string]any, error) {
	ctx := request.Context()

	cacheKey, keyed := h.cacheKey(descriptor.Name, stages)
	if keyed {
		if payload, hit, err := h.deps.Cache.Get(ctx, cacheKey); err == nil && hit {
			var cached []map[string]any
			if json.Unmarshal(payload, &cached) == nil {
				return cached, nil
			}
		}
	}

	cursor, err := h.deps.DB.Collection(descriptor.Name).Aggregate(ctx, stages)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapDriverError(err)
	}
	if results == nil {
		results = []map[string]any{}
	}

	if keyed {
		if payload, err := json.Marshal(results); err == nil {
			_ = h.deps.Cache.Set(ctx, cacheKey, payload, resultCacheTTL)
		}
	}
	return results, nil
}

// cacheKey derives the result-cache key from the deterministic stage bytes.
func (h *CRUDHandler) cacheKey(collection string, stages []bson.D) (string, bool) {
	payload, err := bson.Marshal(bson.D{{Key: "p", Value: stages}})
	if err != nil {
		return "", false
	}
	return cache.Key(collection, payload), true
}

// # Write Handlers

// insert handles POST /crud/{collection}: insertOne, or insertMany when the
// body is an array.
func (h *CRUDHandler) insert(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	var body any
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body"))
		return
	}

	documents, many := body.([]any)
	operation := "insertOne"
	if many {
		operation = "insertMany"
	}

	descriptor, _, err := h.admit(writer, request, operation)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	ctx := request.Context()
	coll := h.deps.DB.Collection(descriptor.Name)

	var data any
	if many {
		for i, document := range documents {
			if err := h.validateDocument(descriptor.Name, document, false, fmt.Sprintf("documents[%d]", i)); err != nil {
				respond.Error(writer, request, err)
				return
			}
		}
		result, err := coll.InsertMany(ctx, documents)
		if err != nil {
			respond.Error(writer, request, wrapDriverError(err))
			return
		}
		data = map[string]any{
			"insertedIds":   result.InsertedIDs,
			"insertedCount": len(result.InsertedIDs),
		}
	} else {
		if err := h.validateDocument(descriptor.Name, body, false, ""); err != nil {
			respond.Error(writer, request, err)
			return
		}
		result, err := coll.InsertOne(ctx, body)
		if err != nil {
			respond.Error(writer, request, wrapDriverError(err))
			return
		}
		data = map[string]any{"insertedId": result.InsertedID}
	}

	_ = h.deps.Cache.InvalidateCollection(ctx, descriptor.Name)
	respond.Created(writer, data, respond.NewMeta(start))
}

// replace handles PUT /crud/{collection}/{id}.
//
// A body carrying $-operators is an updateOne in disguise; the guard rejects
// it with the PATCH suggestion instead of silently replacing the document.
func (h *CRUDHandler) replace(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	var body map[string]any
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body"))
		return
	}

	operation := "replaceOne"
	if hasOperatorKeys(body) {
		operation = "updateOne"
	}

	descriptor, _, err := h.admit(writer, request, operation)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := h.validateDocument(descriptor.Name, body, false, ""); err != nil {
		respond.Error(writer, request, err)
		return
	}

	ctx := request.Context()
	result, err := h.deps.DB.Collection(descriptor.Name).ReplaceOne(ctx, h.idFilter(request), body)
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}
	if result.MatchedCount == 0 {
		respond.Error(writer, request, apperr.NotFound("Document", chi.URLParam(request, "id")))
		return
	}

	_ = h.deps.Cache.InvalidateCollection(ctx, descriptor.Name)
	respond.OK(writer, map[string]any{
		"matchedCount":  result.MatchedCount,
		"modifiedCount": result.ModifiedCount,
	}, respond.NewMeta(start))
}

// update handles PATCH /crud/{collection}/{id}. Plain bodies are wrapped in
// $set; operator bodies pass through.
func (h *CRUDHandler) update(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, _, err := h.admit(writer, request, "updateOne")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body"))
		return
	}

	update := body
	if !hasOperatorKeys(body) {
		// Additive validation: the partial document only needs to match the
		// declared property shapes, not the required list.
		if err := h.validateDocument(descriptor.Name, body, true, ""); err != nil {
			respond.Error(writer, request, err)
			return
		}
		update = map[string]any{"$set": body}
	} else if setDoc, ok := body["$set"].(map[string]any); ok {
		if err := h.validateDocument(descriptor.Name, setDoc, true, "$set"); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	ctx := request.Context()
	result, err := h.deps.DB.Collection(descriptor.Name).UpdateOne(ctx, h.idFilter(request), update)
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}
	if result.MatchedCount == 0 {
		respond.Error(writer, request, apperr.NotFound("Document", chi.URLParam(request, "id")))
		return
	}

	_ = h.deps.Cache.InvalidateCollection(ctx, descriptor.Name)
	respond.OK(writer, map[string]any{
		"matchedCount":  result.MatchedCount,
		"modifiedCount": result.ModifiedCount,
	}, respond.NewMeta(start))
}

// remove handles DELETE /crud/{collection}/{id}.
func (h *CRUDHandler) remove(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, _, err := h.admit(writer, request, "deleteOne")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	ctx := request.Context()
	result, err := h.deps.DB.Collection(descriptor.Name).DeleteOne(ctx, h.idFilter(request))
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}
	if result.DeletedCount == 0 {
		respond.Error(writer, request, apperr.NotFound("Document", chi.URLParam(request, "id")))
		return
	}

	_ = h.deps.Cache.InvalidateCollection(ctx, descriptor.Name)
	respond.OK(writer, map[string]any{"deletedCount": result.DeletedCount}, respond.NewMeta(start))
}

// # Raw Aggregate & Bulk

// aggregate handles /crud/{collection}/aggregate with a caller-supplied raw
// pipeline. Read verbs must not carry write stages.
func (h *CRUDHandler) aggregate(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, set, err := h.admit(writer, request, "aggregate")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body struct {
		Pipeline []map[string]any `json:"pipeline"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body: expected {\"pipeline\": [...]}"))
		return
	}

	if request.Method == http.MethodGet && pipeline.RawContainsWriteStage(body.Pipeline) {
		respond.Error(writer, request, apperr.Authorization("Write stages are not allowed on read requests").
			WithSuggestion("Use POST for pipelines containing $out or $merge"))
		return
	}

	// Raw pipelines bypass the selection parser, so their cost is scored
	// from stage count alone.
	cost := 10 + 2*len(body.Pipeline)
	if err := h.deps.Governor.Check(string(set.Role), cost); err != nil {
		respond.Error(writer, request, err)
		return
	}

	stages := make([]any, len(body.Pipeline))
	for i, stage := range body.Pipeline {
		stages[i] = stage
	}

	ctx := request.Context()
	cursor, err := h.deps.DB.Collection(descriptor.Name).Aggregate(ctx, stages)
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}
	if results == nil {
		results = []map[string]any{}
	}

	meta := respond.NewMeta(start)
	meta.PipelineStages = len(body.Pipeline)
	respond.OK(writer, results, meta)
}

// bulkOperation is one entry of a heterogeneous batch.
type bulkOperation struct {
	Collection string           `json:"collection"`
	Operation  string           `json:"operation"`
	Document   map[string]any   `json:"document,omitempty"`
	Documents  []map[string]any `json:"documents,omitempty"`
	Filter     map[string]any   `json:"filter,omitempty"`
	Update     map[string]any   `json:"update,omitempty"`
}

// bulk handles POST /crud/bulk: a heterogeneous batch, optionally atomic.
func (h *CRUDHandler) bulk(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	var body struct {
		Operations []bulkOperation `json:"operations"`
		Atomic     bool            `json:"atomic,omitempty"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		respond.Error(writer, request, apperr.QueryParse("Invalid JSON body"))
		return
	}
	if len(body.Operations) == 0 {
		respond.Error(writer, request, apperr.QueryParse("Bulk request has no operations"))
		return
	}

	// Authorize every entry before touching the database.
	set := middleware.PermissionSetFor(request)
	for i, op := range body.Operations {
		descriptor, ok := h.deps.Registry.GetCollection(op.Collection)
		if !ok {
			respond.Error(writer, request, apperr.NotFound("Collection", op.Collection))
			return
		}
		if err := middleware.AuthorizeCollection(set, descriptor, op.Operation); err != nil {
			respond.Error(writer, request, err)
			return
		}
		if !isBulkOperation(op.Operation) {
			respond.Error(writer, request, apperr.QueryParse(fmt.Sprintf("operations[%d]: unsupported bulk operation '%s'", i, op.Operation)))
			return
		}
	}

	ctx := request.Context()
	run := func(runCtx context.Context) ([]map[string]any, error) {
		results := make([]map[string]any, 0, len(body.Operations))
		for _, op := range body.Operations {
			result, err := h.runBulkOperation(runCtx, op)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
		return results, nil
	}

	var results []map[string]any
	var err error
	if body.Atomic {
		session, serr := h.deps.DB.Client().StartSession()
		if serr != nil {
			respond.Error(writer, request, apperr.Internal(serr))
			return
		}
		defer session.EndSession(ctx)

		var out any
		out, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
			return run(txCtx)
		})
		if err == nil {
			results = out.([]map[string]any)
		}
	} else {
		results, err = run(ctx)
	}
	if err != nil {
		respond.Error(writer, request, wrapDriverError(err))
		return
	}

	for _, op := range body.Operations {
		_ = h.deps.Cache.InvalidateCollection(ctx, op.Collection)
	}
	respond.OK(writer, results, respond.NewMeta(start))
}

// runBulkOperation executes one batch entry.
func (h *CRUDHandler) runBulkOperation(ctx context.Context, op bulkOperation) (map[string]any, error) {
	coll := h.deps.DB.Collection(op.Collection)
	filter := op.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	switch op.Operation {
	case "insertOne":
		if err := h.validateDocument(op.Collection, op.Document, false, ""); err != nil {
			return nil, err
		}
		result, err := coll.InsertOne(ctx, op.Document)
		if err != nil {
			return nil, err
		}
		return map[string]any{"insertedId": result.InsertedID}, nil

	case "insertMany":
		documents := make([]any, len(op.Documents))
		for i, document := range op.Documents {
			if err := h.validateDocument(op.Collection, document, false, fmt.Sprintf("documents[%d]", i)); err != nil {
				return nil, err
			}
			documents[i] = document
		}
		result, err := coll.InsertMany(ctx, documents)
		if err != nil {
			return nil, err
		}
		return map[string]any{"insertedCount": len(result.InsertedIDs)}, nil

	case "updateOne", "updateMany":
		var result *mongo.UpdateResult
		var err error
		if op.Operation == "updateOne" {
			result, err = coll.UpdateOne(ctx, filter, op.Update)
		} else {
			result, err = coll.UpdateMany(ctx, filter, op.Update)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"matchedCount": result.MatchedCount, "modifiedCount": result.ModifiedCount}, nil

	case "deleteOne", "deleteMany":
		var result *mongo.DeleteResult
		var err error
		if op.Operation == "deleteOne" {
			result, err = coll.DeleteOne(ctx, filter)
		} else {
			result, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deletedCount": result.DeletedCount}, nil
	}

	return nil, apperr.QueryParse(fmt.Sprintf("Unsupported bulk operation '%s'", op.Operation))
}

// # Introspection

// describe handles GET /crud/{collection}/schema: the descriptor minus its
// policy bundle.
func (h *CRUDHandler) describe(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, _, err := h.admit(writer, request, "find")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"name":          descriptor.Name,
		"title":         descriptor.Title,
		"description":   descriptor.Description,
		"properties":    descriptor.Properties,
		"required":      descriptor.Required,
		"relationships": descriptor.Relationships,
	}, respond.NewMeta(start))
}

// relationships handles GET /crud/{collection}/relationships: declared plus
// incoming relationships from the registry's reverse index.
func (h *CRUDHandler) relationships(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	descriptor, _, err := h.admit(writer, request, "find")
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"declared": descriptor.Relationships,
		"incoming": h.deps.Registry.IncomingRelationships(descriptor.Name),
	}, respond.NewMeta(start))
}

// # Shared Helpers

// validateDocument runs the registry's compiled validator and shapes failures.
func (h *CRUDHandler) validateDocument(collection string, document any, partial bool, prefix string) error {
	fields, err := h.deps.Registry.ValidateDocument(collection, document, partial)
	if err != nil {
		return apperr.Internal(err)
	}
	if len(fields) == 0 {
		return nil
	}
	if prefix != "" {
		for i := range fields {
			fields[i].Field = prefix + "." + fields[i].Field
		}
	}
	return apperr.SchemaValidation("Document failed schema validation", fields...)
}

// idFilter builds the _id filter for addressed documents, re-casting 24-hex
// ids into object ids.
func (h *CRUDHandler) idFilter(request *http.Request) bson.D {
	id := chi.URLParam(request, "id")
	var value any = id
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		value = oid
	}
	return bson.D{{Key: "_id", Value: value}}
}

// hasOperatorKeys reports whether a document carries top-level $-operators.
func hasOperatorKeys(document map[string]any) bool {
	for key := range document {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

// isBulkOperation gates the operations the batch surface accepts.
func isBulkOperation(operation string) bool {
	switch operation {
	case "insertOne", "insertMany", "updateOne", "updateMany", "deleteOne", "deleteMany":
		return true
	}
	return false
}

// wrapDriverError classifies driver failures into wire error kinds.
func wrapDriverError(err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("A document with the same unique key already exists")
	}
	if mongo.IsTimeout(err) {
		return apperr.Timeout("Database operation timed out")
	}
	return apperr.Internal(err)
}

// flattenQuery keeps the first value of every query parameter.
func flattenQuery(values map[string][]string) map[string]string {
	flat := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) > 0 {
			flat[key] = list[0]
		}
	}
	return flat
}

// parseSort parses the sort/order parameters. A leading '-' on a field wins
// over the order parameter.
func parseSort(sortParam, orderParam string) []schema.SortField {
	if sortParam == "" {
		return nil
	}

	descAll := orderParam == "desc" || orderParam == "-1"

	var spec []schema.SortField
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.HasPrefix(field, "-") {
			spec = append(spec, schema.SortField{Field: field[1:], Desc: true})
			continue
		}
		spec = append(spec, schema.SortField{Field: field, Desc: descAll})
	}
	return spec
}

// intQuery parses a non-negative integer parameter; malformed input is zero.
func intQuery(raw string) int {
	value := convert.ToIntD(raw, 0)
	if value < 0 {
		return 0
	}
	return value
}
