package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the bingo coordinator.
type Config struct {
	// Required variables
	TCPListenAddr    string
	HTTPListenAddr   string
	IdentityAddr     string
	MapCatalogueAddr string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// IdentityServerSecret is forwarded on every handshake validation call.
	// Left empty, the handshake gate runs in development bypass mode.
	IdentityServerSecret  string
	MapCatalogueUserAgent string
	MinClientVersion      string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	OtelCollectorAddr string

	// Rate limits (ulule/limiter formatted rate strings, e.g. "20-M")
	RateLimitConnectIP string
	RateLimitAccount   string
	RateLimitRoom      string

	ReconnectLingerSeconds        int
	ReconnectSweepIntervalSeconds int

	ListenBacklog            int
	MaxFrameBytes            int
	HandshakeDeadlineSeconds int

	MapQueueTargetSize     int
	MapQueueCapacity       int
	MapFetchTimeoutSeconds int
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: TCP_LISTEN_ADDR (format: host:port)
	cfg.TCPListenAddr = os.Getenv("TCP_LISTEN_ADDR")
	if cfg.TCPListenAddr == "" {
		errors = append(errors, "TCP_LISTEN_ADDR is required")
	} else if !isValidHostPort(cfg.TCPListenAddr) {
		errors = append(errors, fmt.Sprintf("TCP_LISTEN_ADDR must be in format 'host:port' (got '%s')", cfg.TCPListenAddr))
	}

	// Required: HTTP_LISTEN_ADDR (format: host:port)
	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		errors = append(errors, "HTTP_LISTEN_ADDR is required")
	} else if !isValidHostPort(cfg.HTTPListenAddr) {
		errors = append(errors, fmt.Sprintf("HTTP_LISTEN_ADDR must be in format 'host:port' (got '%s')", cfg.HTTPListenAddr))
	}

	// Required: IDENTITY_SERVICE_ADDR (base URL of the external identity service)
	cfg.IdentityAddr = os.Getenv("IDENTITY_SERVICE_ADDR")
	if cfg.IdentityAddr == "" {
		errors = append(errors, "IDENTITY_SERVICE_ADDR is required")
	}

	// Required: MAP_CATALOGUE_ADDR (base URL of the external map catalogue)
	cfg.MapCatalogueAddr = os.Getenv("MAP_CATALOGUE_ADDR")
	if cfg.MapCatalogueAddr == "" {
		errors = append(errors, "MAP_CATALOGUE_ADDR is required")
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
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

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled if unset)
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

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

	// Optional: IDENTITY_SERVER_SECRET (handshake runs in development bypass
	// mode when unset; this is logged at startup, not treated as an error)
	cfg.IdentityServerSecret = os.Getenv("IDENTITY_SERVER_SECRET")

	cfg.MapCatalogueUserAgent = getEnvOrDefault("MAP_CATALOGUE_USER_AGENT", "bingoserver/1.0")
	cfg.MinClientVersion = getEnvOrDefault("MIN_CLIENT_VERSION", "1.0")

	// Rate limits (ulule/limiter format: "<count>-<period>", e.g. "20-M")
	cfg.RateLimitConnectIP = getEnvOrDefault("RATE_LIMIT_CONNECT_IP", "20-M")
	cfg.RateLimitAccount = getEnvOrDefault("RATE_LIMIT_ACCOUNT", "60-M")
	cfg.RateLimitRoom = getEnvOrDefault("RATE_LIMIT_ROOM", "120-M")

	var err error
	cfg.ReconnectLingerSeconds, err = getEnvIntOrDefault("RECONNECT_LINGER_SECONDS", 30)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.ReconnectSweepIntervalSeconds, err = getEnvIntOrDefault("RECONNECT_SWEEP_INTERVAL_SECONDS", 10)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.ListenBacklog, err = getEnvIntOrDefault("LISTEN_BACKLOG", 128)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.MaxFrameBytes, err = getEnvIntOrDefault("MAX_FRAME_BYTES", 64*1024)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.HandshakeDeadlineSeconds, err = getEnvIntOrDefault("HANDSHAKE_DEADLINE_SECONDS", 5)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.MapQueueTargetSize, err = getEnvIntOrDefault("MAP_QUEUE_TARGET_SIZE", 50)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.MapQueueCapacity, err = getEnvIntOrDefault("MAP_QUEUE_CAPACITY", 100)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.MapFetchTimeoutSeconds, err = getEnvIntOrDefault("MAP_FETCH_TIMEOUT_SECONDS", 20)
	if err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
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

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"tcp_listen_addr", cfg.TCPListenAddr,
		"http_listen_addr", cfg.HTTPListenAddr,
		"identity_addr", cfg.IdentityAddr,
		"map_catalogue_addr", cfg.MapCatalogueAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"rate_limit_connect_ip", cfg.RateLimitConnectIP,
		"rate_limit_account", cfg.RateLimitAccount,
		"rate_limit_room", cfg.RateLimitRoom,
		"min_client_version", cfg.MinClientVersion,
		"identity_dev_mode", cfg.IdentityServerSecret == "",
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of the environment variable or a default if not set.
func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got '%s')", key, value)
	}
	return n, nil
}
