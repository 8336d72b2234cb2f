// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (Mongo, Redis, Registry) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Mongate API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Document Database (MongoDB)
	MongoURL      string `env:"MONGODB_URL,required"`
	MongoDatabase string `env:"MONGODB_DATABASE,required"`

	// Key-Value store for rate-limit buckets and the result cache. Optional:
	// when empty the gateway falls back to in-process buckets and no cache.
	RedisURL string `env:"REDIS_URL"`

	// SchemaDir is the root holding collections/*.json and procedures/*.json.
	SchemaDir string `env:"SCHEMA_DIR" envDefault:"./schemas"`

	// Cryptographic keys for identity verification (and optional signing)
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`

	// Query plane behavior
	StrictMethods        bool `env:"STRICT_METHODS"         envDefault:"true"`
	MaxRelationshipDepth int  `env:"MAX_RELATIONSHIP_DEPTH" envDefault:"3"`
	DefaultLimit         int  `env:"DEFAULT_LIMIT"          envDefault:"20"`
	MaxLimit             int  `env:"MAX_LIMIT"              envDefault:"100"`

	// Procedure execution
	ProcedureTimeout time.Duration `env:"PROCEDURE_TIMEOUT" envDefault:"30s"`
	StepTimeout      time.Duration `env:"STEP_TIMEOUT"      envDefault:"10s"`

	// Script endpoint
	AllowDangerousOperators bool `env:"ALLOW_DANGEROUS_OPERATORS" envDefault:"false"`

	// Hot reload of descriptor files
	HotReload         bool          `env:"HOT_RELOAD"          envDefault:"false"`
	HotReloadDebounce time.Duration `env:"HOT_RELOAD_DEBOUNCE" envDefault:"500ms"`

	// Per-role ceilings. Raw forms:
	//   COMPLEXITY_CEILINGS="admin=1000,dev=500,analyst=300,user=200,anonymous=50"
	//   RATE_LIMITS="admin=1000/1m,dev=500/1m,analyst=300/1m,user=100/1m,anonymous=20/1m"
	ComplexityCeilingsRaw string `env:"COMPLEXITY_CEILINGS" envDefault:"admin=1000,dev=500,analyst=300,user=200,anonymous=50"`
	RateLimitsRaw         string `env:"RATE_LIMITS"         envDefault:"admin=1000/1m,dev=500/1m,analyst=300/1m,user=100/1m,anonymous=20/1m"`
}

// RateLimit is one role's request ceiling over a rolling window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	// Fail fast on malformed ceiling tables rather than at first request.
	if _, err := cfg.ComplexityCeilings(); err != nil {
		return nil, err
	}
	if _, err := cfg.RateLimits(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// # Ceiling Tables

// ComplexityCeilings parses the per-role complexity ceiling table.
func (c *Config) ComplexityCeilings() (map[string]int, error) {
	out := map[string]int{}
	for _, pair := range splitPairs(c.ComplexityCeilingsRaw) {
		role, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("config: malformed COMPLEXITY_CEILINGS entry %q", pair)
		}
		ceiling, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("config: malformed COMPLEXITY_CEILINGS entry %q: %w", pair, err)
		}
		out[strings.TrimSpace(role)] = ceiling
	}
	return out, nil
}

// RateLimits parses the per-role rate limit table ("role=requests/window").
func (c *Config) RateLimits() (map[string]RateLimit, error) {
	out := map[string]RateLimit{}
	for _, pair := range splitPairs(c.RateLimitsRaw) {
		role, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("config: malformed RATE_LIMITS entry %q", pair)
		}
		reqStr, windowStr, found := strings.Cut(strings.TrimSpace(value), "/")
		if !found {
			return nil, fmt.Errorf("config: malformed RATE_LIMITS entry %q (want requests/window)", pair)
		}
		requests, err := strconv.Atoi(reqStr)
		if err != nil {
			return nil, fmt.Errorf("config: malformed RATE_LIMITS entry %q: %w", pair, err)
		}
		window, err := time.ParseDuration(windowStr)
		if err != nil {
			return nil, fmt.Errorf("config: malformed RATE_LIMITS entry %q: %w", pair, err)
		}
		out[strings.TrimSpace(role)] = RateLimit{Requests: requests, Window: window}
	}
	return out, nil
}

// splitPairs splits a comma-separated list, dropping empty entries.
func splitPairs(raw string) []string {
	var pairs []string
	for _, pair := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(pair); trimmed != "" {
			pairs = append(pairs, trimmed)
		}
	}
	return pairs
}
