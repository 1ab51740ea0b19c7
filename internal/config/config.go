package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aurora-is-near/aurora-forwarder/internal/feepolicy"
)

// Store backends selectable via STORE_BACKEND.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Derived forwarder ids are "<40 hex chars>.<factory account>" and NEAR
// caps account ids at 64 characters, so the factory account itself may
// use at most 23.
const maxFactoryAccountLen = 23

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Factory  FactoryConfig
	Bridge   BridgeConfig
	Store    string // StorePostgres or StoreMemory
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// FactoryConfig holds factory deployment configuration
type FactoryConfig struct {
	Account       string // factory root account, e.g. "fwd.near"
	DefaultFeeBps uint32 // applied when a binding omits the rate
	// SupportedTokens restricts which token ids forwarders may be bound to.
	// Empty leaves deployment unrestricted.
	SupportedTokens []string
}

// BridgeConfig holds bridge settlement configuration
type BridgeConfig struct {
	PollInterval time.Duration
	AutoSettle   bool // fake bridge resolves transfers on first poll
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "aurora_forwarder"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Factory: FactoryConfig{
			Account:         getEnv("FACTORY_ACCOUNT", "fwd.near"),
			DefaultFeeBps:   uint32(getEnvInt("DEFAULT_FEE_BPS", 500)),
			SupportedTokens: getEnvList("SUPPORTED_TOKENS"),
		},
		Bridge: BridgeConfig{
			PollInterval: getEnvDuration("SETTLE_POLL_INTERVAL", 10*time.Second),
			AutoSettle:   getEnvBool("BRIDGE_AUTO_SETTLE", false),
		},
		Store: getEnv("STORE_BACKEND", StorePostgres),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Factory.Account == "" {
		return fmt.Errorf("factory account is required")
	}
	if len(c.Factory.Account) > maxFactoryAccountLen {
		return fmt.Errorf("factory account %q is too long: %d chars, max %d",
			c.Factory.Account, len(c.Factory.Account), maxFactoryAccountLen)
	}

	if c.Factory.DefaultFeeBps > feepolicy.BpsDenominator {
		return fmt.Errorf("default fee rate %d exceeds %d bps", c.Factory.DefaultFeeBps, feepolicy.BpsDenominator)
	}

	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("invalid settle poll interval: %s", c.Bridge.PollInterval)
	}

	switch c.Store {
	case StorePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated env var, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
