// Package config validates environment configuration at startup so the server
// fails fast on a bad deployment instead of misbehaving at runtime.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Server
	Port           string
	AllowedOrigins string

	// Environment
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Redis (rate-limit store only; the server itself is single-instance)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits (ulule/limiter formatted rates, e.g. "100-M")
	RateLimitAPIGlobal string
	RateLimitWsIP      string

	// Optional OTLP trace collector ("host:port"); tracing is off when empty
	OtelCollectorAddr string
}

const (
	// DefaultPort matches the port the editor frontend expects to reach.
	DefaultPort = "3001"

	// DefaultAllowedOrigins is the Vite dev-server origin of the editor UI.
	DefaultAllowedOrigins = "http://localhost:5173"
)

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Optional: PORT (defaults to 3001)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: ALLOWED_ORIGINS (comma separated, defaults to the dev frontend)
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}

	// Conditional: REDIS_ADDR (required format if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	// Rate limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	// Optional: OTEL_COLLECTOR_ADDR enables tracing
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OtelCollectorAddr != "" && !isValidHostPort(cfg.OtelCollectorAddr) {
		errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"allowed_origins", cfg.AllowedOrigins,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"otel_collector_addr", cfg.OtelCollectorAddr,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
