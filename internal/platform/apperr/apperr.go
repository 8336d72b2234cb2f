// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error handling framework for Mongate.

It provides a rich error type that bridges the gap between low-level parser,
registry, and driver errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing a wire-stable Kind and user-friendly messages.
  - Suggestion: Optional "which method/operator would work" hints for callers.
  - Mapping: Explicit mapping from each Kind to a standard HTTP status code.

Every error that leaves the gateway's execution plane should be wrapped as an
[AppError] to ensure consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// # Error Kinds

// Kind is a wire-stable, machine-readable error identifier.
//
// Kinds are part of the public API contract: clients switch on them, so they
// must never be renamed once released.
type Kind string

const (
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "notFound"
	KindSchemaValidation  Kind = "schemaValidation"
	KindQueryParse        Kind = "queryParse"
	KindMethodMismatch    Kind = "methodOperationMismatch"
	KindRelationshipDepth Kind = "relationshipDepth"
	KindComplexity        Kind = "complexityExceeded"
	KindRateLimit         Kind = "rateLimit"
	KindDuplicateKey      Kind = "duplicateKey"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
	KindScriptParse       Kind = "scriptParse"
	KindScriptSecurity    Kind = "scriptSecurity"
	KindProcedureStep     Kind = "procedureStep"
)

// AppError is the canonical error type for the Mongate API.
//
// It carries an HTTP status code, a wire-stable kind, a client-safe message,
// an optional actionable suggestion, and optional structured details.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking descriptor internals or raw driver errors.
type AppError struct {
	// Kind is the wire-stable error identifier (e.g. "queryParse").
	Kind Kind `json:"error"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"message"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Suggestion tells the caller the minimum change that would make the
	// request succeed (e.g. the correct HTTP method).
	Suggestion string `json:"suggestion,omitempty"`
	// Details holds structured diagnostics (field errors, partial step
	// outputs) for responses that carry them.
	Details any `json:"details,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// WithSuggestion attaches an actionable hint and returns the same error.
func (e *AppError) WithSuggestion(s string) *AppError {
	e.Suggestion = s
	return e
}

// WithDetails attaches structured diagnostics and returns the same error.
func (e *AppError) WithDetails(d any) *AppError {
	e.Details = d
	return e
}

// # Client Errors (4xx)

// Authentication creates a 401 [AppError].
func Authentication(msg string) *AppError {
	return &AppError{
		Kind:       KindAuthentication,
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Authorization creates a 403 [AppError].
func Authorization(msg string) *AppError {
	return &AppError{
		Kind:       KindAuthorization,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Collection", "orders") // "Collection 'orders' not found"
func NotFound(resource, name string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, name),
		HTTPStatus: http.StatusNotFound,
	}
}

// QueryParse creates a 400 [AppError] for selection/filter parse failures.
func QueryParse(msg string) *AppError {
	return &AppError{
		Kind:       KindQueryParse,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// SchemaValidation creates a 400 [AppError] with per-field details.
func SchemaValidation(msg string, details ...FieldError) *AppError {
	ae := &AppError{
		Kind:       KindSchemaValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
	if len(details) > 0 {
		ae.Details = details
	}
	return ae
}

// MethodMismatch creates a 400 [AppError] for strict-mode method/operation
// mismatches, suggesting the method that would work.
func MethodMismatch(method, operation, suggested string) *AppError {
	return &AppError{
		Kind:       KindMethodMismatch,
		Message:    fmt.Sprintf("Operation '%s' is not allowed for %s requests", operation, method),
		HTTPStatus: http.StatusBadRequest,
		Suggestion: fmt.Sprintf("Use %s for %s", suggested, operation),
	}
}

// RelationshipDepth creates a 400 [AppError] for selections that nest too deep.
func RelationshipDepth(depth, max int) *AppError {
	return &AppError{
		Kind:       KindRelationshipDepth,
		Message:    fmt.Sprintf("Relationship depth %d exceeds the maximum of %d", depth, max),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ScriptParse creates a 400 [AppError] for shell script parse failures.
func ScriptParse(msg string) *AppError {
	return &AppError{
		Kind:       KindScriptParse,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ScriptSecurity creates a 403 [AppError] for rejected dangerous operators.
func ScriptSecurity(msg string) *AppError {
	return &AppError{
		Kind:       KindScriptSecurity,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for duplicate-key violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Kind:       KindDuplicateKey,
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// Complexity creates a 429 [AppError] for queries above the caller's ceiling.
func Complexity(cost, ceiling int) *AppError {
	return &AppError{
		Kind:       KindComplexity,
		Message:    fmt.Sprintf("Query complexity %d exceeds your limit of %d", cost, ceiling),
		HTTPStatus: http.StatusTooManyRequests,
		Suggestion: "Reduce selected relationships, nesting depth, or use pagination",
	}
}

// RateLimited creates a 429 [AppError] with a retry-after hint.
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Kind:       KindRateLimit,
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// # Server Errors (5xx)

// Timeout creates a 504 [AppError] for cancelled or timed-out operations.
func Timeout(msg string) *AppError {
	return &AppError{
		Kind:       KindTimeout,
		Message:    msg,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// ProcedureStep creates a 500 [AppError] for a failed procedure step.
// The step id is client-safe; the cause is not.
func ProcedureStep(stepID string, cause error) *AppError {
	return &AppError{
		Kind:       KindProcedureStep,
		Message:    fmt.Sprintf("Procedure step '%s' failed", stepID),
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}
