package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	LogLevel    slog.Level

	RedisURL string

	// LLM backend (OpenAI-compatible).
	LLMBaseURL string
	LLMAPIKey  string

	NarratorModel string
	NPCModel      string
	JudgeModel    string
	UtilityModel  string

	// FallbackModels are tried in order after a failed, empty, refused or
	// duplicate response.
	FallbackModels [3]string

	MaxTokens   int
	Temperature float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		LLMBaseURL: getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),

		NarratorModel: getEnv("NARRATOR_MODEL", "llama3.1:8b"),
		NPCModel:      getEnv("NPC_MODEL", "llama3.1:8b"),
		JudgeModel:    getEnv("JUDGE_MODEL", "llama3.1:8b"),
		UtilityModel:  getEnv("UTILITY_MODEL", "llama3.1:8b"),

		FallbackModels: [3]string{
			getEnv("FALLBACK_MODEL_1", "llama3.1:8b"),
			getEnv("FALLBACK_MODEL_2", "mistral:7b"),
			getEnv("FALLBACK_MODEL_3", "qwen2.5:7b"),
		},

		MaxTokens:   getEnvInt("MAX_TOKENS", 1024),
		Temperature: getEnvFloat("TEMPERATURE", 0.7),
	}

	if cfg.LLMBaseURL == "" {
		return nil, fmt.Errorf("LLM_BASE_URL must not be empty")
	}
	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
