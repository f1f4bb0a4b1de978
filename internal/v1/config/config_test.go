package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv clears the env vars ValidateEnv reads and returns a cleanup
// function restoring their original values.
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD", "GO_ENV",
		"LOG_LEVEL", "FLOOR_MAX_HOLD_TIME", "FLOOR_QUEUE_MAX_SIZE",
		"ROUTER_TIMEOUT", "ROUTER_QUEUE_SIZE", "SUBSCRIPTION_BUFFER_SIZE",
		"SUBSCRIPTION_HEARTBEAT_INTERVAL", "CORS_ORIGINS",
		"CONVENER_AUTH_ENABLED", "CONVENER_JWKS_URL", "CONVENER_JWT_AUDIENCE",
		"RATE_LIMIT_ENVELOPE_SUBMIT", "RATE_LIMIT_FLOOR_REQUEST",
		"RATE_LIMIT_WS_CONNECT",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnvValidConfiguration(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.FloorMaxHoldTime.Seconds() != 300 {
		t.Errorf("expected FloorMaxHoldTime to default to 300s, got %v", cfg.FloorMaxHoldTime)
	}
	if cfg.FloorQueueCap != 100 {
		t.Errorf("expected FloorQueueCap to default to 100, got %d", cfg.FloorQueueCap)
	}
	if cfg.RouterQueueSize != 1000 {
		t.Errorf("expected RouterQueueSize to default to 1000, got %d", cfg.RouterQueueSize)
	}
}

func TestValidateEnvMissingPort(t *testing.T) {
	defer setupTestEnv(t)()

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("expected error about PORT, got: %v", err)
	}
}

func TestValidateEnvInvalidPort(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error about invalid PORT, got: %v", err)
	}
}

func TestValidateEnvInvalidRedisAddr(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected error about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnvRedisDefaultAddr(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnvConvenerAuthRequiresJWKS(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")
	os.Setenv("CONVENER_AUTH_ENABLED", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing CONVENER_JWKS_URL, got nil")
	}
	if !strings.Contains(err.Error(), "CONVENER_JWKS_URL is required") {
		t.Errorf("expected error about CONVENER_JWKS_URL, got: %v", err)
	}
}

func TestValidateEnvCustomFloorAndRouterTiming(t *testing.T) {
	defer setupTestEnv(t)()
	os.Setenv("PORT", "8080")
	os.Setenv("FLOOR_MAX_HOLD_TIME", "60")
	os.Setenv("FLOOR_QUEUE_MAX_SIZE", "10")
	os.Setenv("ROUTER_TIMEOUT", "5")
	os.Setenv("ROUTER_QUEUE_SIZE", "50")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.FloorMaxHoldTime.Seconds() != 60 {
		t.Errorf("expected FloorMaxHoldTime 60s, got %v", cfg.FloorMaxHoldTime)
	}
	if cfg.FloorQueueCap != 10 {
		t.Errorf("expected FloorQueueCap 10, got %d", cfg.FloorQueueCap)
	}
	if cfg.RouterPerDeliveryTimeout.Seconds() != 5 {
		t.Errorf("expected RouterPerDeliveryTimeout 5s, got %v", cfg.RouterPerDeliveryTimeout)
	}
	if cfg.RouterQueueSize != 50 {
		t.Errorf("expected RouterQueueSize 50, got %d", cfg.RouterQueueSize)
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid IP", "127.0.0.1:3000", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, expected %v", tt.addr, got, tt.expected)
			}
		})
	}
}
