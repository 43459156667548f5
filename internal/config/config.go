package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Redis (optional; without it events stay in-process)
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	GenerationTimeout    time.Duration

	// Sessions
	SessionIdleTTL time.Duration

	// Documents
	MaxDocumentBytes int64

	// Rendering
	KrokiURL           string
	ChatRenderDebounce time.Duration
	EditRenderDebounce time.Duration

	// Workers
	WorkerCount int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GenerationTimeout:    time.Duration(getEnvAsIntOrDefault("GENERATION_TIMEOUT_SECONDS", 60)) * time.Second,
		SessionIdleTTL:       time.Duration(getEnvAsIntOrDefault("SESSION_IDLE_TTL_MINUTES", 120)) * time.Minute,
		MaxDocumentBytes:     int64(getEnvAsIntOrDefault("MAX_DOCUMENT_BYTES", 5*1024*1024)),
		KrokiURL:             getEnvOrDefault("KROKI_URL", "https://kroki.io"),
		ChatRenderDebounce:   time.Duration(getEnvAsIntOrDefault("CHAT_RENDER_DEBOUNCE_MS", 300)) * time.Millisecond,
		EditRenderDebounce:   time.Duration(getEnvAsIntOrDefault("EDIT_RENDER_DEBOUNCE_MS", 500)) * time.Millisecond,
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 5),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:9002"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
