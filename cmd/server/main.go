package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"heliox-backend/internal/config"
	"heliox-backend/internal/database"
	"heliox-backend/internal/handlers"
	"heliox-backend/internal/middleware"
	"heliox-backend/internal/router"
	"heliox-backend/internal/services"
)

func main() {
	log.Println("🚀 Starting Heliox Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Connect Rate-Limit Store ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClient.Close()
		log.Println("✓ Redis connected (rate-limit store)")
	} else {
		log.Println("✓ Redis not configured, rate limiting is in-memory only")
	}

	// ──── Step 3: Initialize Gemini Client ────
	geminiService := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiAPIBase)
	log.Printf("✓ Gemini client initialized (%s)", cfg.GeminiModel)

	// ──── Step 4: Start HTTP Server ────
	limiter := middleware.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, redisClient)
	chatHandler := handlers.NewChatHandler(geminiService)

	r := router.New(chatHandler, limiter, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /chat/stream holds the response open for as long
		// as the upstream keeps generating.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Heliox Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  Chat:   POST http://localhost:%s/chat", cfg.Port)
	log.Printf("  Stream: POST http://localhost:%s/chat/stream", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
