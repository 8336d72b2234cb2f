// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mongo provides the managed MongoDB client and connection pool.

It specializes in constructing driver clients with opinionated pool tuning,
ensuring that connections are recycled efficiently and timeouts are enforced
at the driver level.

Architecture:

  - Client: Thread-safe connection pooling owned by the driver.
  - Tuning: Configures MaxPoolSize, MinPoolSize, and idle time for scalability.
  - Safety: Integrates context deadlines to prevent runaway queries.

This package acts as the bridge between the query plane and the physical
storage layer.
*/
package mongo

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// # Pool Configuration (Tuning)

// Opinionated pool settings for the gateway workload.
const (
	// maxPoolSize is the maximum number of connections in the pool.
	maxPoolSize = 50

	// minPoolSize keeps a warm set of connections to avoid cold-start latency.
	minPoolSize = 5

	// maxConnIdleTime closes connections that have been idle too long.
	maxConnIdleTime = 10 * time.Minute

	// connectTimeout is the maximum time allowed to establish a new connection.
	connectTimeout = 5 * time.Second

	// pingTimeout is the maximum duration for a health check ping.
	pingTimeout = 2 * time.Second
)

// # Lifecycle Management

// Connect creates and validates a new MongoDB client.
func Connect(context stdctx.Context, uri string, logger *slog.Logger) (*mongo.Client, error) {

	// Step 1: Build the client options from the URI
	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetMinPoolSize(minPoolSize).
		SetMaxConnIdleTime(maxConnIdleTime).
		SetConnectTimeout(connectTimeout)

	// Step 2: Establish the client (connections are created lazily)
	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: failed to create client: %w", err)
	}

	// Step 3: Validate that we can actually reach the database
	if err := Ping(context, client); err != nil {
		_ = client.Disconnect(context)
		return nil, err
	}

	// Step 4: Log pool settings on startup
	logger.Info("mongo client connected",
		slog.Int("max_pool_size", maxPoolSize),
		slog.Int("min_pool_size", minPoolSize),
	)

	return client, nil
}

// # Health Checks

// Ping verifies that the MongoDB client is healthy.
func Ping(context stdctx.Context, client *mongo.Client) error {

	// Execute a lightweight ping with a strict timeout
	pingCtx, cancel := stdctx.WithTimeout(context, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo: ping failed: %w", err)
	}

	return nil
}
