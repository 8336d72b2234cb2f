// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taibuivan/mongate/internal/schema"
)

// # Step Dispatch

// executeStep dispatches one rendered step by its kind.
func (e *Executor) executeStep(ctx context.Context, cs *compiledStep, rendered map[string]any, execCtx *Context, skip map[string]bool) (any, error) {
	switch cs.step.Type {
	case schema.StepFind:
		return e.stepFind(ctx, rendered)
	case schema.StepFindOne:
		return e.stepFindOne(ctx, rendered)
	case schema.StepInsertOne:
		return e.stepInsertOne(ctx, rendered)
	case schema.StepInsertMany:
		return e.stepInsertMany(ctx, rendered)
	case schema.StepUpdateOne:
		return e.stepUpdate(ctx, rendered, false)
	case schema.StepUpdateMany:
		return e.stepUpdate(ctx, rendered, true)
	case schema.StepDeleteOne:
		return e.stepDelete(ctx, rendered, false)
	case schema.StepDeleteMany:
		return e.stepDelete(ctx, rendered, true)
	case schema.StepAggregate:
		return e.stepAggregate(ctx, rendered)
	case schema.StepCountDocuments:
		return e.stepCount(ctx, rendered)
	case schema.StepDistinct:
		return e.stepDistinct(ctx, rendered)
	case schema.StepTransform:
		return rendered["output"], nil
	case schema.StepCondition:
		return e.stepCondition(cs, rendered, execCtx, skip)
	case schema.StepHTTP:
		return e.stepHTTP(ctx, rendered)
	case schema.StepDelay:
		return e.stepDelay(ctx, rendered)
	}
	return nil, fmt.Errorf("procedure: unknown step type %q", cs.step.Type)
}

// # Database Steps

func (e *Executor) collection(rendered map[string]any) (*mongo.Collection, error) {
	name, _ := rendered["collection"].(string)
	if name == "" {
		return nil, fmt.Errorf("procedure: step missing collection")
	}
	return e.db.Collection(name), nil
}

func (e *Executor) stepFind(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if sortSpec := docParam(rendered, "sort"); len(sortSpec) > 0 {
		opts = opts.SetSort(sortSpec)
	}
	if limit, ok := intParam(rendered, "limit"); ok {
		opts = opts.SetLimit(limit)
	}
	if skip, ok := intParam(rendered, "skip"); ok {
		opts = opts.SetSkip(skip)
	}
	if projection := docParam(rendered, "projection"); len(projection) > 0 {
		opts = opts.SetProjection(projection)
	}

	cursor, err := coll.Find(ctx, filterParam(rendered), opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []map[string]any{}
	}
	return results, nil
}

func (e *Executor) stepFindOne(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if projection := docParam(rendered, "projection"); len(projection) > 0 {
		opts = opts.SetProjection(projection)
	}

	var result map[string]any
	err = coll.FindOne(ctx, filterParam(rendered), opts).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) stepInsertOne(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	document := docParam(rendered, "document")
	if document == nil {
		return nil, fmt.Errorf("procedure: insertOne requires a document")
	}

	result, err := coll.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return map[string]any{"insertedId": result.InsertedID}, nil
}

func (e *Executor) stepInsertMany(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	documents, _ := rendered["documents"].([]any)
	if len(documents) == 0 {
		return nil, fmt.Errorf("procedure: insertMany requires documents")
	}

	result, err := coll.InsertMany(ctx, documents)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"insertedIds":   result.InsertedIDs,
		"insertedCount": len(result.InsertedIDs),
	}, nil
}

func (e *Executor) stepUpdate(ctx context.Context, rendered map[string]any, many bool) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	update := docParam(rendered, "update")
	if update == nil {
		return nil, fmt.Errorf("procedure: update steps require an update document")
	}

	var result *mongo.UpdateResult
	if many {
		result, err = coll.UpdateMany(ctx, filterParam(rendered), update)
	} else {
		result, err = coll.UpdateOne(ctx, filterParam(rendered), update)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"matchedCount":  result.MatchedCount,
		"modifiedCount": result.ModifiedCount,
	}, nil
}

func (e *Executor) stepDelete(ctx context.Context, rendered map[string]any, many bool) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}

	var result *mongo.DeleteResult
	if many {
		result, err = coll.DeleteMany(ctx, filterParam(rendered))
	} else {
		result, err = coll.DeleteOne(ctx, filterParam(rendered))
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"deletedCount": result.DeletedCount}, nil
}

func (e *Executor) stepAggregate(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	stages, _ := rendered["pipeline"].([]any)
	if stages == nil {
		stages = []any{}
	}

	cursor, err := coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []map[string]any{}
	}
	return results, nil
}

func (e *Executor) stepCount(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	count, err := coll.CountDocuments(ctx, filterParam(rendered))
	if err != nil {
		return nil, err
	}
	return count, nil
}

func (e *Executor) stepDistinct(ctx context.Context, rendered map[string]any) (any, error) {
	coll, err := e.collection(rendered)
	if err != nil {
		return nil, err
	}
	field, _ := rendered["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("procedure: distinct requires a field")
	}

	var values []any
	if err := coll.Distinct(ctx, field, filterParam(rendered, "query", "filter")).Decode(&values); err != nil {
		return nil, err
	}
	return values, nil
}

// # Utility Steps

// stepCondition evaluates the compiled expression and marks the losing
// branch's step ids as skipped.
func (e *Executor) stepCondition(cs *compiledStep, rendered map[string]any, execCtx *Context, skip map[string]bool) (any, error) {
	result, err := cs.condition.evaluate(execCtx)
	if err != nil {
		return nil, err
	}

	losing := "then"
	if result {
		losing = "else"
	}
	if ids, ok := rendered[losing].([]any); ok {
		for _, id := range ids {
			if name, ok := id.(string); ok {
				skip[name] = true
			}
		}
	}
	return result, nil
}

func (e *Executor) stepHTTP(ctx context.Context, rendered map[string]any) (any, error) {
	url, _ := rendered["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("procedure: http steps require a url")
	}
	method, _ := rendered["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, present := rendered["body"]; present && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("procedure: encode http body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	if headers := docParam(rendered, "headers"); headers != nil {
		for key, value := range headers {
			if text, ok := value.(string); ok {
				request.Header.Set(key, text)
			}
		}
	}

	response, err := e.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = response.Body.Close() }()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		decoded = string(payload)
	}
	return map[string]any{
		"status": response.StatusCode,
		"body":   decoded,
	}, nil
}

func (e *Executor) stepDelay(ctx context.Context, rendered map[string]any) (any, error) {
	ms, ok := intParam(rendered, "ms")
	if !ok || ms < 0 {
		return nil, fmt.Errorf("procedure: delay requires a non-negative ms")
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"delayedMs": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// # Parameter Helpers

// filterParam extracts the step's filter, accepting the named keys in order
// and defaulting to match-all.
func filterParam(rendered map[string]any, keys ...string) any {
	if len(keys) == 0 {
		keys = []string{"filter"}
	}
	for _, key := range keys {
		if doc, ok := rendered[key].(map[string]any); ok {
			return doc
		}
	}
	return bson.D{}
}

// docParam extracts a document-shaped parameter.
func docParam(rendered map[string]any, key string) map[string]any {
	doc, _ := rendered[key].(map[string]any)
	return doc
}

// intParam extracts an integer parameter across the JSON number shapes.
func intParam(rendered map[string]any, key string) (int64, bool) {
	switch value := rendered[key].(type) {
	case int:
		return int64(value), true
	case int64:
		return value, true
	case float64:
		return int64(value), true
	}
	return 0, false
}
