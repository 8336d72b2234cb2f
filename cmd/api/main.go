// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Api is the entry point for the Mongate HTTP API server.

The server exposes a document database through a uniform, schema-driven REST
interface: a generated CRUD surface, a relational query language compiled to
aggregation pipelines, declarative multi-step procedures, and a shell-style
script endpoint.

Usage:

	go run cmd/api/main.go

The main environment variables are:

	SERVER_PORT          Port to listen on (default: 8080)
	ENVIRONMENT          deployment environment (development, production)
	MONGODB_URL          MongoDB connection string (required)
	MONGODB_DATABASE     Database name (required)
	SCHEMA_DIR           Descriptor root directory (default: ./schemas)
	REDIS_URL            Redis connection string (optional)

Startup Sequence:

 1. Logger: Initialize structured JSON logging (slog).
 2. Config: Load and validate environment variables.
 3. Storage: Establish connections to MongoDB (and Redis if configured).
 4. Registry: Load and validate every descriptor; refuse to serve otherwise.
 5. Wiring: Inject dependencies into the execution-plane services/handlers.
 6. Server: Bind HTTP listener and handle graceful shutdown.

No business logic lives here. This file is strictly for orchestration and wiring.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/mongate/internal/api"
	"github.com/taibuivan/mongate/internal/governor"
	"github.com/taibuivan/mongate/internal/pipeline"
	"github.com/taibuivan/mongate/internal/platform/cache"
	"github.com/taibuivan/mongate/internal/platform/config"
	"github.com/taibuivan/mongate/internal/platform/constants"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	mongostore "github.com/taibuivan/mongate/internal/platform/mongo"
	"github.com/taibuivan/mongate/internal/platform/ratelimit"
	redisstore "github.com/taibuivan/mongate/internal/platform/redis"
	"github.com/taibuivan/mongate/internal/platform/sec"
	"github.com/taibuivan/mongate/internal/procedure"
	"github.com/taibuivan/mongate/internal/schema"
	"github.com/taibuivan/mongate/internal/script"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application_startup_failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// # 1. Logger
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries for trace correlation
	log := rawLog.With(slog.String("app", "mongate"))
	slog.SetDefault(log)

	log.Info("[Mongate] service_initializing")

	// # 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Adjust log level if debug mode is explicitly enabled
	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "mongate"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. A 30s deadline prevents the app from hanging.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// # 3. MongoDB
	client, err := mongostore.Connect(startupCtx, cfg.MongoURL, log)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer func() {
		log.Info("disconnecting mongo client")
		_ = client.Disconnect(context.Background())
	}()
	db := client.Database(cfg.MongoDatabase)

	// Create a background context for the whole application lifecycle
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// # 4. Redis (optional)
	// Without Redis the gateway runs with in-process rate buckets and no
	// result cache.
	var limiter ratelimit.Limiter = ratelimit.NewMemory(appCtx)
	var resultCache cache.Cache = cache.Noop{}
	var checkCache func() error

	if cfg.RedisURL != "" {
		rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()
		limiter = ratelimit.NewRedis(rdb)
		resultCache = cache.NewRedis(rdb)
		checkCache = func() error {
			return redisstore.Ping(context.Background(), rdb)
		}
	}

	// # 5. Schema Registry
	// A descriptor failing validation here is fatal: the process refuses to
	// serve rather than expose a partially-described collection.
	registry := schema.NewRegistry(log)
	if err := registry.Load(cfg.SchemaDir); err != nil {
		return fmt.Errorf("load schema registry: %w", err)
	}
	if err := registry.EnsureIndexes(startupCtx, db); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	if cfg.HotReload {
		go func() {
			if err := registry.Watch(appCtx, cfg.SchemaDir, cfg.HotReloadDebounce); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("schema watch stopped", slog.Any("error", err))
			}
		}()
	}

	// # 6. Platform Services
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	if err != nil {
		return fmt.Errorf("initialize jwt service: %w", err)
	}

	ceilings, err := cfg.ComplexityCeilings()
	if err != nil {
		return err
	}
	roleLimits, err := cfg.RateLimits()
	if err != nil {
		return err
	}

	// # 7. Execution Plane
	builder := pipeline.NewBuilder(registry, cfg.DefaultLimit, cfg.MaxLimit, constants.PipelineRecursionBudget)
	executor := procedure.NewExecutor(procedure.Options{
		DB:               db,
		Log:              log,
		ProcedureTimeout: cfg.ProcedureTimeout,
		StepTimeout:      cfg.StepTimeout,
		RetryInterval:    constants.DefaultRetryInterval,
	})

	deps := &api.Deps{
		Registry:     registry,
		Builder:      builder,
		DB:           db,
		Guard:        middleware.NewGuard(cfg.StrictMethods),
		Governor:     governor.New(ceilings),
		Limiter:      limiter,
		RoleLimits:   roleLimits,
		Cache:        resultCache,
		Executor:     executor,
		ScriptParser: script.NewParser(cfg.AllowDangerousOperators),
		MaxDepth:     cfg.MaxRelationshipDepth,
		Log:          log,
	}

	// # 8. Health Wiring
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return mongostore.Ping(context.Background(), client)
		},
		CheckCache: checkCache,
	}, log)

	// # 9. API Assembly
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		CRUD:      api.NewCRUDHandler(deps),
		Procedure: api.NewProcedureHandler(deps),
		Script:    api.NewScriptHandler(deps),
	}

	server := api.NewServer(cfg, log, jwtSvc, handlers)

	// # 10. Lifecycle Handling
	shutdownErr := make(chan error, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr <- fmt.Errorf("http_server_crash: %w", err)
		}
	}()

	log.Info("mongate_api_running", slog.String("port", cfg.ServerPort))

	// Block until signal or error
	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case err := <-shutdownErr:
		return err
	}

	// Start Graceful Shutdown Sequence
	appCancel() // Signal background workers to stop

	log.Info("shutting_down_api_server", slog.Duration("timeout", constants.ShutdownTimeout))
	if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
		return fmt.Errorf("server_shutdown_failed: %w", err)
	}

	log.Info("graceful_shutdown_complete")
	return nil
}
