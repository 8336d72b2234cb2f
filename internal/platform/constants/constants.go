// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Query Limits: Pagination and relationship-depth defaults.
  - Security: JWT issuer and header names.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "mongate-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// AggregateRequestTimeout is a longer deadline value for raw aggregate
	// requests. No handler or middleware applies it; aggregate requests run
	// under GlobalRequestTimeout like every other route.
	AggregateRequestTimeout = 120 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Query Limits

const (
	// DefaultLimit is the number of documents per page if not specified.
	DefaultLimit = 20

	// DefaultMaxLimit is the upper bound for documents per page.
	DefaultMaxLimit = 100

	// DefaultMaxRelationshipDepth bounds selection nesting.
	DefaultMaxRelationshipDepth = 3

	// PipelineRecursionBudget bounds the pipeline builder's relationship
	// descent independently of parse-time depth validation. Exceeding it is
	// an invariant violation, not a user error.
	PipelineRecursionBudget = 16
)

// # Procedures

const (
	// DefaultProcedureTimeout bounds one whole procedure invocation.
	DefaultProcedureTimeout = 30 * time.Second

	// DefaultStepTimeout bounds a single procedure step.
	DefaultStepTimeout = 10 * time.Second

	// DefaultRetryInterval is the fixed backoff between step retry attempts.
	DefaultRetryInterval = 500 * time.Millisecond
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "mongate.dev"
)

// # Header Names

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderRetryAfter    = "Retry-After"
)

// # Reserved Query Parameters

// ReservedParams are query-string keys that are never treated as filters.
var ReservedParams = map[string]bool{
	"select":       true,
	"sort":         true,
	"order":        true,
	"page":         true,
	"limit":        true,
	"offset":       true,
	"search":       true,
	"searchFields": true,
}

// # JSON Field Identifiers

const (
	FieldSuccess = "success"
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldMessage = "message"
	FieldDetails = "details"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixRateLimit   = "gw:rate:"
	RedisPrefixResultCache = "gw:cache:"
)
