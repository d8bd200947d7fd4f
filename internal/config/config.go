// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the feed service.
type Config struct {
	// Live transport
	WSURL        string
	WSToken      string
	TokenChannel string
	TradePairs   []string

	// Snapshot API
	APIURL          string
	SnapshotTimeout time.Duration
	RefreshInterval time.Duration
	UseFallbackData bool

	// Dispatcher
	UpdateBuffer int

	// Alert thresholds
	PriceShockPct    float64
	HolderSurgeCount int64
	BurstCount       int
	BurstWindow      time.Duration

	// Redis snapshot cache and change fan-out
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisChannel     string
	RedisSnapshotKey string
	RedisSnapshotTTL time.Duration

	// ClickHouse tick archive
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ArchiveBatchSize   int
	ArchiveFlush       time.Duration

	// HTTP API
	APIAddr      string
	APIKey       string
	APIDevMode   bool
	RefreshRPS   float64
	RefreshBurst int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		WSURL:        getEnv("FEED_WS_URL", "wss://launch.meme/connection/websocket"),
		WSToken:      getEnv("FEED_WS_TOKEN", ""),
		TokenChannel: getEnv("TOKEN_CHANNEL", "meteora-tokenUpdates"),
		TradePairs:   getEnvList("TRADE_PAIRS"),

		APIURL:          getEnv("FEED_API_URL", "https://launch.meme/api"),
		SnapshotTimeout: time.Duration(getEnvInt("SNAPSHOT_TIMEOUT_SECONDS", 10)) * time.Second,
		RefreshInterval: time.Duration(getEnvInt("SNAPSHOT_REFRESH_SECONDS", 30)) * time.Second,
		UseFallbackData: getEnvBool("USE_FALLBACK_DATA", true),

		UpdateBuffer: getEnvInt("UPDATE_BUFFER", 1000),

		PriceShockPct:    getEnvFloat("PRICE_SHOCK_PCT", 5),
		HolderSurgeCount: int64(getEnvInt("HOLDER_SURGE_COUNT", 50)),
		BurstCount:       getEnvInt("BURST_COUNT", 10),
		BurstWindow:      time.Duration(getEnvInt("BURST_WINDOW_SECONDS", 60)) * time.Second,

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisChannel:     getEnv("REDIS_CHANNEL", "tokens:updates"),
		RedisSnapshotKey: getEnv("REDIS_SNAPSHOT_KEY", "tokens:snapshot"),
		RedisSnapshotTTL: time.Duration(getEnvInt("REDIS_SNAPSHOT_TTL_MINUTES", 60)) * time.Minute,

		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "memefeed"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ArchiveBatchSize:   getEnvInt("ARCHIVE_BATCH_SIZE", 500),
		ArchiveFlush:       time.Duration(getEnvInt("ARCHIVE_FLUSH_SECONDS", 5)) * time.Second,

		APIAddr:      getEnv("API_ADDR", ":8090"),
		APIKey:       getEnv("API_KEY", ""),
		APIDevMode:   getEnvBool("API_DEV_MODE", false),
		RefreshRPS:   getEnvFloat("REFRESH_RPS", 0.2),
		RefreshBurst: getEnvInt("REFRESH_BURST", 1),

		EnableTUI:     getEnvBool("ENABLE_TUI", true),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogFile:  getEnv("LOG_FILE", "memefeed.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("FEED_WS_URL is required")
	}
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("FEED_WS_URL must use ws:// or wss://")
	}

	if c.APIURL == "" {
		return fmt.Errorf("FEED_API_URL is required")
	}

	if c.TokenChannel == "" {
		return fmt.Errorf("TOKEN_CHANNEL is required")
	}

	if c.SnapshotTimeout <= 0 {
		return fmt.Errorf("SNAPSHOT_TIMEOUT_SECONDS must be positive")
	}

	if c.RefreshInterval < 0 {
		return fmt.Errorf("SNAPSHOT_REFRESH_SECONDS must not be negative")
	}

	if c.UpdateBuffer < 1 {
		return fmt.Errorf("UPDATE_BUFFER must be at least 1")
	}

	if c.PriceShockPct <= 0 {
		return fmt.Errorf("PRICE_SHOCK_PCT must be positive")
	}

	if c.BurstCount < 1 {
		return fmt.Errorf("BURST_COUNT must be at least 1")
	}

	if c.ArchiveBatchSize < 1 {
		return fmt.Errorf("ARCHIVE_BATCH_SIZE must be at least 1")
	}

	if c.RefreshRPS <= 0 {
		return fmt.Errorf("REFRESH_RPS must be positive")
	}

	return nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// ClickHouseEnabled reports whether a ClickHouse address is configured.
func (c *Config) ClickHouseEnabled() bool { return c.ClickHouseAddr != "" }

// MaskedWSToken returns the connection token with most characters hidden for logging.
func (c *Config) MaskedWSToken() string {
	return maskSecret(c.WSToken)
}

// MaskedAPIKey returns the API key with most characters hidden for logging.
func (c *Config) MaskedAPIKey() string {
	return maskSecret(c.APIKey)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
