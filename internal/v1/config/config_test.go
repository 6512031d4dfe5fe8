package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"TCP_LISTEN_ADDR", "HTTP_LISTEN_ADDR", "IDENTITY_SERVICE_ADDR", "MAP_CATALOGUE_ADDR",
		"REDIS_ENABLED", "REDIS_ADDR", "GO_ENV", "LOG_LEVEL",
		"RATE_LIMIT_CONNECT_IP", "RATE_LIMIT_ACCOUNT", "RATE_LIMIT_ROOM",
		"RECONNECT_LINGER_SECONDS", "RECONNECT_SWEEP_INTERVAL_SECONDS",
		"LISTEN_BACKLOG", "MAX_FRAME_BYTES", "HANDSHAKE_DEADLINE_SECONDS",
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

func setRequired(t *testing.T) {
	os.Setenv("TCP_LISTEN_ADDR", "0.0.0.0:7777")
	os.Setenv("HTTP_LISTEN_ADDR", "0.0.0.0:8080")
	os.Setenv("IDENTITY_SERVICE_ADDR", "http://identity.internal")
	os.Setenv("MAP_CATALOGUE_ADDR", "http://maps.internal")
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)
	os.Setenv("REDIS_ENABLED", "false")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.TCPListenAddr != "0.0.0.0:7777" {
		t.Errorf("Expected TCP_LISTEN_ADDR to be set correctly, got '%s'", cfg.TCPListenAddr)
	}
	if cfg.HTTPListenAddr != "0.0.0.0:8080" {
		t.Errorf("Expected HTTP_LISTEN_ADDR to be '0.0.0.0:8080', got '%s'", cfg.HTTPListenAddr)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingTCPListenAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("HTTP_LISTEN_ADDR", "0.0.0.0:8080")
	os.Setenv("IDENTITY_SERVICE_ADDR", "http://identity.internal")
	os.Setenv("MAP_CATALOGUE_ADDR", "http://maps.internal")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing TCP_LISTEN_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "TCP_LISTEN_ADDR is required") {
		t.Errorf("Expected error message about TCP_LISTEN_ADDR, got: %v", err)
	}
}

func TestValidateEnv_InvalidTCPListenAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)
	os.Setenv("TCP_LISTEN_ADDR", "no-port-here")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid TCP_LISTEN_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "TCP_LISTEN_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about TCP_LISTEN_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_MissingIdentityAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TCP_LISTEN_ADDR", "0.0.0.0:7777")
	os.Setenv("HTTP_LISTEN_ADDR", "0.0.0.0:8080")
	os.Setenv("MAP_CATALOGUE_ADDR", "http://maps.internal")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing IDENTITY_SERVICE_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "IDENTITY_SERVICE_ADDR is required") {
		t.Errorf("Expected error message about IDENTITY_SERVICE_ADDR, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)
	os.Setenv("REDIS_ENABLED", "true")
	// Don't set REDIS_ADDR

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.RateLimitConnectIP != "20-M" {
		t.Errorf("Expected RATE_LIMIT_CONNECT_IP to default to '20-M', got '%s'", cfg.RateLimitConnectIP)
	}
	if cfg.ReconnectLingerSeconds != 30 {
		t.Errorf("Expected RECONNECT_LINGER_SECONDS to default to 30, got %d", cfg.ReconnectLingerSeconds)
	}
	if cfg.MaxFrameBytes != 64*1024 {
		t.Errorf("Expected MAX_FRAME_BYTES to default to 65536, got %d", cfg.MaxFrameBytes)
	}
}

func TestValidateEnv_InvalidIntegerOverride(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequired(t)
	os.Setenv("RECONNECT_LINGER_SECONDS", "not-a-number")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for non-integer RECONNECT_LINGER_SECONDS, got nil")
	}
	if !strings.Contains(err.Error(), "RECONNECT_LINGER_SECONDS must be an integer") {
		t.Errorf("Expected error message about RECONNECT_LINGER_SECONDS, got: %v", err)
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
