package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the floor manager process.
type Config struct {
	Port string

	GoEnv    string
	LogLevel string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	FloorMaxHoldTime time.Duration
	FloorQueueCap    int

	RouterPerDeliveryTimeout time.Duration
	RouterQueueSize          int

	SubscriptionBufferSize      int
	SubscriptionHeartbeatPeriod time.Duration

	AllowedOrigins string

	ConvenerAuthEnabled bool
	JWKSURL             string
	JWTAudience         string

	RateLimitEnvelopeSubmit string
	RateLimitFloorRequest   string
	RateLimitWsConnect      string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.FloorMaxHoldTime = durationOrDefault("FLOOR_MAX_HOLD_TIME", 300*time.Second, &errors)
	cfg.FloorQueueCap = intOrDefault("FLOOR_QUEUE_MAX_SIZE", 100, &errors)
	cfg.RouterPerDeliveryTimeout = durationOrDefault("ROUTER_TIMEOUT", 10*time.Second, &errors)
	cfg.RouterQueueSize = intOrDefault("ROUTER_QUEUE_SIZE", 1000, &errors)
	cfg.SubscriptionBufferSize = intOrDefault("SUBSCRIPTION_BUFFER_SIZE", 64, &errors)
	cfg.SubscriptionHeartbeatPeriod = durationOrDefault("SUBSCRIPTION_HEARTBEAT_INTERVAL", 30*time.Second, &errors)

	cfg.AllowedOrigins = getEnvOrDefault("CORS_ORIGINS", "*")

	cfg.ConvenerAuthEnabled = os.Getenv("CONVENER_AUTH_ENABLED") == "true"
	cfg.JWKSURL = os.Getenv("CONVENER_JWKS_URL")
	cfg.JWTAudience = os.Getenv("CONVENER_JWT_AUDIENCE")
	if cfg.ConvenerAuthEnabled && cfg.JWKSURL == "" {
		errors = append(errors, "CONVENER_JWKS_URL is required when CONVENER_AUTH_ENABLED=true")
	}

	cfg.RateLimitEnvelopeSubmit = getEnvOrDefault("RATE_LIMIT_ENVELOPE_SUBMIT", "500-M")
	cfg.RateLimitFloorRequest = getEnvOrDefault("RATE_LIMIT_FLOOR_REQUEST", "100-M")
	cfg.RateLimitWsConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "20-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func durationOrDefault(key string, def time.Duration, errors *[]string) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a non-negative integer number of seconds (got '%s')", key, raw))
		return def
	}
	return time.Duration(seconds) * time.Second
}

func intOrDefault(key string, def int, errors *[]string) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a non-negative integer (got '%s')", key, raw))
		return def
	}
	return n
}

// isValidHostPort checks if a string is in the format "host:port".
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

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
		"floor_max_hold_time", cfg.FloorMaxHoldTime,
		"floor_queue_cap", cfg.FloorQueueCap,
		"router_per_delivery_timeout", cfg.RouterPerDeliveryTimeout,
		"router_queue_size", cfg.RouterQueueSize,
		"convener_auth_enabled", cfg.ConvenerAuthEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
