package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core process.
// Per-bot settings (exchange credentials, LLM provider, risk limits) live
// in the database instead, loaded through pkg/db at Start time.
type Config struct {
	// Database
	DBPath string

	// Auth / licensing
	JWTSecret    string
	LicenseToken string // optional; validated at boot via pkg/license

	// Localization
	Language string // "en" or "zh"

	// Multi-bot orchestration
	AutoStartBots []string // bot ids to start on boot, empty = none
	StatusDir     string   // bot status JSON directory (spec §6.3)
	APIAddr       string   // bot control-plane listen address

	// LLM provider defaults, used when an llm_configs row omits base_url
	// for a well-known provider (spec §6.2).
	OpenAIBaseURL    string
	AnthropicBaseURL string
	OllamaBaseURL    string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	return &Config{
		DBPath:           dbPath,
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		LicenseToken:     os.Getenv("LICENSE_TOKEN"),
		Language:         getEnv("LANGUAGE", "en"),
		AutoStartBots:    splitAndTrim(getEnv("AUTO_START_BOTS", "")),
		StatusDir:        getEnv("STATUS_DIR", "./data/status"),
		APIAddr:          getEnv("API_ADDR", ":8090"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
