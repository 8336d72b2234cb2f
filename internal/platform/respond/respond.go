// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package respond provides the unified API response envelope for the gateway.

It ensures that every HTTP response, whether a success payload or an error
diagnostic, follows a predictable JSON structure for client robustness.

Architecture:

  - Envelope: success responses carry {success, data, meta}; failures carry
    {success, error, message, details?, suggestion?}.
  - JSON: Default content-type is 'application/json; charset=utf-8'.
  - Errors: Integrates with 'apperr' for consistent error reporting.

This package eliminates the need for manual JSON marshalling in individual handlers.
*/
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/ctxutil"
)

// # JSON Envelopes

// Meta carries execution diagnostics alongside successful responses.
type Meta struct {
	// ExecutionTime is the server-side handling duration in milliseconds.
	ExecutionTime int64 `json:"executionTime"`

	// PipelineStages is the number of aggregation stages executed, when the
	// request went through the pipeline builder.
	PipelineStages int `json:"pipelineStages,omitempty"`

	// HasRelationships flags responses whose documents embed joined aliases.
	HasRelationships bool `json:"hasRelationships,omitempty"`

	// Warnings surfaces non-fatal diagnostics (script parse tolerances,
	// unresolved procedure templates).
	Warnings []string `json:"warnings,omitempty"`

	// Timestamp is when the response was framed.
	Timestamp time.Time `json:"timestamp"`
}

// NewMeta stamps a Meta with the elapsed time since start and the current time.
func NewMeta(start time.Time) Meta {
	return Meta{
		ExecutionTime: time.Since(start).Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}
}

// SuccessEnvelope is the JSON envelope for successful responses.
type SuccessEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

// ErrorEnvelope is the JSON envelope for error responses.
type ErrorEnvelope struct {
	Success    bool        `json:"success"`
	Error      apperr.Kind `json:"error"`
	Message    string      `json:"message"`
	Details    any         `json:"details,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// # Response Helpers

// JSON writes a JSON response with the given status code.
func JSON(writer http.ResponseWriter, statusCode int, payload any) {

	// Set the common JSON header
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")

	// Write the status first
	writer.WriteHeader(statusCode)

	// Encode the payload directly to the stream
	_ = json.NewEncoder(writer).Encode(payload)
}

// OK writes a 200 OK response with data wrapped in the standard success envelope.
func OK(writer http.ResponseWriter, data any, meta Meta) {
	JSON(writer, http.StatusOK, SuccessEnvelope{Success: true, Data: data, Meta: meta})
}

// Created writes a 201 Created response with data wrapped in the standard success envelope.
func Created(writer http.ResponseWriter, data any, meta Meta) {
	JSON(writer, http.StatusCreated, SuccessEnvelope{Success: true, Data: data, Meta: meta})
}

// # Error Handling

// Error converts any Go error into a standardized JSON API error response.
func Error(writer http.ResponseWriter, request *http.Request, err error) {
	var appError *apperr.AppError

	// If the error is not already an [apperr.AppError], wrap it as an Internal Server Error
	if !errors.As(err, &appError) {
		logger := ctxutil.GetLogger(request.Context())
		logger.ErrorContext(request.Context(), "unhandled_error_wrapped",
			slog.String("error", err.Error()),
			slog.String("request_id", ctxutil.GetRequestID(request.Context())),
		)

		appError = apperr.Internal(err)
	}

	// Always log 5xx errors as they indicate server-side failures that need attention.
	// The request ID doubles as the correlation id promised to clients.
	if appError.HTTPStatus >= 500 {
		logger := ctxutil.GetLogger(request.Context())
		logger.ErrorContext(request.Context(), "api_server_error",
			slog.String("kind", string(appError.Kind)),
			slog.String("request_id", ctxutil.GetRequestID(request.Context())),
			slog.Any("cause", appError.Cause),
		)
	}

	// Write the final standardized JSON error payload
	JSON(writer, appError.HTTPStatus, ErrorEnvelope{
		Success:    false,
		Error:      appError.Kind,
		Message:    appError.Message,
		Details:    appError.Details,
		Suggestion: appError.Suggestion,
	})
}
