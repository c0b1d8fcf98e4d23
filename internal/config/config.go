package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the server, worker and scheduler read from the
// environment.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string

	DataDir string
	BaseURL string

	TranscriptionAPIURL string
	TranscriptionModel  string
	LLMAPIURL           string
	LLMModel            string
	OpenAIAPIKey        string

	LockTTL           time.Duration
	JobRetention      time.Duration
	FeedCacheTTL      time.Duration
	WorkerConcurrency int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		DataDir: getEnv("DATA_DIR", "data"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		TranscriptionAPIURL: getEnv("TRANSCRIPTION_API_URL", "https://api.openai.com/v1"),
		TranscriptionModel:  getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
		LLMAPIURL:           getEnv("LLM_API_URL", "https://api.openai.com/v1"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),

		LockTTL:           getDurationEnv("LOCK_TTL", time.Hour),
		JobRetention:      getDurationEnv("JOB_TTL", time.Hour),
		FeedCacheTTL:      getDurationEnv("FEED_CACHE_TTL", time.Hour),
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 2),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
