// Package config loads process configuration from the environment.
//
// Configuration Loading Order:
// 1. Load from .env file (if present)
// 2. Read environment variables, falling back to defaults
//
// Only the keys the core reads are defined here (broker mode/caps, market
// data rate limits, chat webhook signing, server port); everything
// collaborator-specific belongs to the collaborator's own adapter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir string // base directory for the sqlite database file

	Port     int    // HTTP server port
	LogLevel string // debug, info, warn, error
	DevMode  bool

	// Broker routing guards (§4.2) — real broker is used only when all of
	// these hold; any mismatch downgrades to the simulator.
	UseRealTrading    bool
	BrokerEnabled     bool
	BrokerKeyID       string
	BrokerSecret      string
	BrokerPaperPrefix string
	BrokerBaseURL     string
	BrokerPaperHost   string
	MaxPositionSize   int
	MaxTradeValue     string // decimal string, parsed by callers

	// Market data gateway (§4.4).
	QuoteProviderURL     string
	QuoteProviderAPIKey  string
	QuoteRateLimitPerMin int
	QuoteRateLimitBurst  int

	// AI risk service (§4.1, §6).
	AIServiceURL     string
	AIServiceTimeout int // seconds

	// Chat platform (§6).
	ChatSigningSecret string
	ChatBotToken      string

	// Notification dispatcher (§4.6).
	NotifyRateLimitPerMin int
}

// Load reads configuration from environment variables.
//
// dataDirOverride, if non-empty, takes priority over TRADER_DATA_DIR and the
// built-in default, mirroring the CLI-flag > env-var > default precedence.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("TRADER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		UseRealTrading:    getEnvAsBool("USE_REAL_TRADING", false),
		BrokerEnabled:     getEnvAsBool("BROKER_ENABLED", false),
		BrokerKeyID:       getEnv("BROKER_KEY_ID", ""),
		BrokerSecret:      getEnv("BROKER_SECRET", ""),
		BrokerPaperPrefix: getEnv("BROKER_PAPER_PREFIX", "PK"),
		BrokerBaseURL:     getEnv("BROKER_BASE_URL", ""),
		BrokerPaperHost:   getEnv("BROKER_PAPER_HOST", "paper-api.broker.example.com"),
		MaxPositionSize:   getEnvAsInt("MAX_POSITION_SIZE", 100000),
		MaxTradeValue:     getEnv("MAX_TRADE_VALUE", "1000000"),

		QuoteProviderURL:     getEnv("QUOTE_PROVIDER_URL", "http://localhost:9100"),
		QuoteProviderAPIKey:  getEnv("QUOTE_PROVIDER_API_KEY", ""),
		QuoteRateLimitPerMin: getEnvAsInt("QUOTE_RATE_LIMIT_PER_MIN", 60),
		QuoteRateLimitBurst:  getEnvAsInt("QUOTE_RATE_LIMIT_BURST", 10),

		AIServiceURL:     getEnv("AI_SERVICE_URL", ""),
		AIServiceTimeout: getEnvAsInt("AI_SERVICE_TIMEOUT_SECONDS", 5),

		ChatSigningSecret: getEnv("CHAT_SIGNING_SECRET", ""),
		ChatBotToken:      getEnv("CHAT_BOT_TOKEN", ""),

		NotifyRateLimitPerMin: getEnvAsInt("NOTIFY_RATE_LIMIT_PER_MIN", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that must hold regardless of environment.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.QuoteRateLimitPerMin <= 0 {
		return fmt.Errorf("quote rate limit must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
