// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/taibuivan/mongate/internal/governor"
	"github.com/taibuivan/mongate/internal/pipeline"
	"github.com/taibuivan/mongate/internal/platform/cache"
	"github.com/taibuivan/mongate/internal/platform/config"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	"github.com/taibuivan/mongate/internal/platform/ratelimit"
	"github.com/taibuivan/mongate/internal/procedure"
	"github.com/taibuivan/mongate/internal/schema"
	"github.com/taibuivan/mongate/internal/script"
)

// resultCacheTTL bounds how stale a cached read may be.
const resultCacheTTL = 30 * time.Second

// Deps bundles the execution-plane services every handler needs.
//
// It is assembled once in main.go; handlers hold it read-only.
type Deps struct {
	Registry *schema.Registry
	Builder  *pipeline.Builder
	DB       *mongo.Database

	Guard    *middleware.Guard
	Governor *governor.Governor
	Limiter  ratelimit.Limiter

	// RoleLimits is the per-role rate ceiling table from boot config.
	RoleLimits map[string]config.RateLimit

	Cache        cache.Cache
	Executor     *procedure.Executor
	ScriptParser *script.Parser

	// MaxDepth bounds selection nesting (maxRelationshipDepth).
	MaxDepth int

	Log *slog.Logger
}

// limitFromDescriptor converts a descriptor's per-operation ceiling into the
// limiter's shape.
func limitFromDescriptor(limit schema.OpRateLimit) config.RateLimit {
	return config.RateLimit{Requests: limit.Requests, Window: limit.Window()}
}
