package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Postgres connection
	DatabaseURL    string
	DBMaxConns     int
	DBQueryTimeout time.Duration

	// Telegram transport
	BotToken   string
	BotAPIURL  string
	WebhookURL string

	// HTTP server
	Port string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		// Postgres
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/oraclebot?sslmode=disable"),
		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 8),
		DBQueryTimeout: getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),

		// Telegram
		BotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		BotAPIURL:  getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		WebhookURL: getEnv("WEBHOOK_URL", ""),

		// Server
		Port: getEnv("ORACLEBOT_PORT", "8080"),

		// Logging
		LogFile:  getEnv("ORACLEBOT_LOG_FILE", "/tmp/oraclebot.log"),
		LogLevel: parseLogLevel(getEnv("ORACLEBOT_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
