package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Gemini AI
	GeminiAPIKey  string
	GeminiModel   string
	GeminiAPIBase string

	// Redis (optional; empty means in-memory rate limiting only)
	RedisURL string

	// CORS
	AllowedOrigins []string

	// Rate limiting
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// defaultOrigins mirrors the deployed front-end domains plus local dev hosts.
const defaultOrigins = "https://uditraj286.github.io," +
	"https://heliox.devreondevs.com," +
	"https://www.heliox.devreondevs.com," +
	"https://devreondevs.com," +
	"http://localhost:3000," +
	"http://localhost:8080," +
	"http://127.0.0.1:3000," +
	"http://127.0.0.1:8080"

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		Env:             getEnvOrDefault("ENV", "development"),
		GeminiAPIKey:    mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiAPIBase:   getEnvOrDefault("GEMINI_API_BASE", "https://generativelanguage.googleapis.com/v1beta/models"),
		RedisURL:        getEnvOrDefault("REDIS_URL", ""),
		AllowedOrigins:  splitOrigins(getEnvOrDefault("ALLOWED_ORIGINS", defaultOrigins)),
		RateLimitMax:    getEnvAsIntOrDefault("RATE_LIMIT_MAX", 60),
		RateLimitWindow: time.Duration(getEnvAsIntOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}

	return cfg
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
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
