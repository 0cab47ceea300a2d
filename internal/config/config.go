/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus selection for cross-node notifications.
type EventBusKind string

const (
	EventBusMemory EventBusKind = "memory"
	EventBusRedis  EventBusKind = "redis"
	EventBusNATS   EventBusKind = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	LogLevel      string // Optional zerolog level name
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string // Optional; mutating API routes are open when empty
	PolicyFile    string // YAML automation policy, watched for changes
	PlayerSlots   int    // Size of the in-process player bank

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	LockFile              string // Host-wide manager lock used when leader election is off

	// Notifications
	EventBus EventBusKind
	NATSURL  string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the
// result. Malformed numeric or boolean values are reported together.
func Load() (*Config, error) {
	var e env
	cfg := &Config{
		Environment:   e.str("GRIMNIR_ENV", "development"),
		LogLevel:      e.str("GRIMNIR_LOG_LEVEL", ""),
		HTTPBind:      e.str("GRIMNIR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      parseEnv(&e, "GRIMNIR_HTTP_PORT", 8080, strconv.Atoi),
		DBBackend:     DatabaseBackend(e.str("GRIMNIR_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         e.str("GRIMNIR_DB_DSN", ""),
		JWTSigningKey: e.str("GRIMNIR_JWT_SIGNING_KEY", ""),
		PolicyFile:    e.str("GRIMNIR_POLICY_FILE", ""),
		PlayerSlots:   parseEnv(&e, "GRIMNIR_PLAYER_SLOTS", 8, strconv.Atoi),

		TracingEnabled:    parseEnv(&e, "GRIMNIR_TRACING_ENABLED", false, parseBool),
		OTLPEndpoint:      e.str("GRIMNIR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: parseEnv(&e, "GRIMNIR_TRACING_SAMPLE_RATE", 1.0, parseFloat),

		LeaderElectionEnabled: parseEnv(&e, "GRIMNIR_LEADER_ELECTION_ENABLED", false, parseBool),
		RedisAddr:             e.str("GRIMNIR_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         e.str("GRIMNIR_REDIS_PASSWORD", ""),
		RedisDB:               parseEnv(&e, "GRIMNIR_REDIS_DB", 0, strconv.Atoi),
		InstanceID:            e.str("GRIMNIR_INSTANCE_ID", ""),
		LockFile:              e.str("GRIMNIR_LOCK_FILE", filepath.Join(os.TempDir(), "grimnirautomation.lock")),

		EventBus: EventBusKind(e.str("GRIMNIR_EVENTBUS", string(EventBusMemory))),
		NATSURL:  e.str("GRIMNIR_NATS_URL", "nats://localhost:4222", "NATS_URL"),
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}

	switch cfg.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, errors.New("GRIMNIR_DB_DSN must be provided")
	}
	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
	if cfg.PlayerSlots <= 0 {
		return nil, fmt.Errorf("GRIMNIR_PLAYER_SLOTS must be positive, got %d", cfg.PlayerSlots)
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("GRIMNIR_TRACING_SAMPLE_RATE must be within [0,1], got %v", cfg.TracingSampleRate)
	}
	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, errors.New("GRIMNIR_JWT_SIGNING_KEY must be provided in production")
	}
	cfg.LegacyEnvWarnings = unprefixedEnvWarnings()

	return cfg, nil
}

// unprefixedEnvWarnings flags bare keys that look like settings but are
// ignored.
func unprefixedEnvWarnings() []string {
	var warnings []string
	for _, key := range []string{"ENVIRONMENT", "LEADER_ELECTION_ENABLED", "JWT_SIGNING_KEY", "TRACING_ENABLED", "EVENTBUS", "POLICY_FILE"} {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("env key %s is ignored; use GRIMNIR_%s", key, key))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the API server.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPBind, strconv.Itoa(c.HTTPPort))
}

// env reads keys and collects parse failures.
type env struct {
	errs []error
}

// str returns the first non-empty value of key or its fallbacks.
func (e *env) str(key, def string, fallbacks ...string) string {
	for _, k := range append([]string{key}, fallbacks...) {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func parseEnv[T any](e *env, key string, def T, parse func(string) (T, error)) T {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid value %q", key, raw))
		return def
	}
	return v
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
