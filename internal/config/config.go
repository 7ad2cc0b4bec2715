package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	// Chat behavior
	EchoToSender       bool   // echo sent messages back to the sending connection
	DisconnectAnnounce string // "durable" or "live"
	HistoryLimit       int

	// CORS / WebSocket origins (comma-separated; empty allows any)
	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/chatd.db"),
		EchoToSender:       getEnv("ECHO_TO_SENDER", "true") == "true",
		DisconnectAnnounce: getEnv("DISCONNECT_ANNOUNCE", "durable"),
		HistoryLimit:       50,
		AllowedOrigins:     splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if cfg.DisconnectAnnounce != "durable" && cfg.DisconnectAnnounce != "live" {
		panic("DISCONNECT_ANNOUNCE must be 'durable' or 'live'")
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var entries []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
