// Package config parses the environment and flag configuration
// cmd/collabd needs to wire the coordinator, persistence, and auth gate
// together: a getEnvOrDefault-backed flag set covering host/port/env/db
// settings, plus auth and CORS options.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration for cmd/collabd.
type Config struct {
	Host       string
	Port       string
	Env        string
	LogLevel   string
	CORSOrigin string

	DatabaseURL string

	AuthRequired bool
	AuthSecret   string
	AuthIssuer   string

	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Load parses flags (falling back to environment variables for their
// defaults) into a Config. args is normally os.Args[1:].
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("collabd", flag.ContinueOnError)

	host := fs.String("host", getEnvOrDefault("HOST", "0.0.0.0"), "listen host")
	port := fs.String("port", getEnvOrDefault("PORT", "8080"), "listen port")
	env := fs.String("env", getEnvOrDefault("ENVIRONMENT", "dev"), "environment (dev, production)")
	logLevel := fs.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	corsOrigin := fs.String("cors-origin", getEnvOrDefault("CORS_ORIGIN", "*"), "allowed WebSocket origin, or * for any")

	dbDSN := fs.String("db-dsn", getEnvOrDefault("DATABASE_URL", ""), "Postgres DSN; empty uses an in-memory store")

	authRequired := fs.Bool("auth", getEnvBoolOrDefault("AUTH_REQUIRED", false), "require AUTHENTICATE tokens to verify against --auth-secret")
	authSecret := fs.String("auth-secret", getEnvOrDefault("AUTH_SECRET", ""), "HMAC signing secret for JWT verification")
	authIssuer := fs.String("auth-issuer", getEnvOrDefault("AUTH_ISSUER", ""), "expected JWT issuer claim, empty skips the check")

	idleTimeout := fs.Duration("idle-timeout", 10*time.Minute, "disconnect clients idle longer than this")
	sweepInterval := fs.Duration("sweep-interval", 5*time.Minute, "idle client/document sweep interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *authRequired && *authSecret == "" {
		return nil, fmt.Errorf("config: --auth requires --auth-secret")
	}

	return &Config{
		Host:          *host,
		Port:          *port,
		Env:           *env,
		LogLevel:      *logLevel,
		CORSOrigin:    *corsOrigin,
		DatabaseURL:   *dbDSN,
		AuthRequired:  *authRequired,
		AuthSecret:    *authSecret,
		AuthIssuer:    *authIssuer,
		IdleTimeout:   *idleTimeout,
		SweepInterval: *sweepInterval,
	}, nil
}

// Addr is the listen address derived from Host and Port.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
