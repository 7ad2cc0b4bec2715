package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/routetouni/chatd/internal/api"
	"github.com/routetouni/chatd/internal/api/middleware"
	"github.com/routetouni/chatd/internal/chat"
	"github.com/routetouni/chatd/internal/config"
	"github.com/routetouni/chatd/internal/match"
	"github.com/routetouni/chatd/internal/presence"
	"github.com/routetouni/chatd/internal/store"
	"github.com/routetouni/chatd/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Run migrations
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")
	}

	// In-memory store backs both interfaces when nothing else is configured.
	memStore := store.NewMemoryStore()

	// Initialize the directory store: PostgreSQL, or SQLite in development.
	var data store.DataStore = memStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		logger.Info().Msg("connected to PostgreSQL")
		data = pgStore
	} else if cfg.SQLitePath != "" {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
		data = sqliteStore
	}

	// Initialize the message log: Redis, or in-memory for development.
	var log store.MessageLog = memStore
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
		log = redisStore
		redisClient = redisStore.Client()
	}

	// Wire the chat core
	announce := chat.AnnounceDurable
	if cfg.DisconnectAnnounce == "live" {
		announce = chat.AnnounceLive
	}
	manager := chat.New(data, log, presence.NewRegistry(), match.NewQueue(), chat.Config{
		EchoToSender:       cfg.EchoToSender,
		DisconnectAnnounce: announce,
		HistoryLimit:       cfg.HistoryLimit,
	}, logger)

	wsServer := ws.NewServer(manager, logger, cfg.AllowedOrigins)

	// Create router
	router := api.NewRouter(logger, data, log, manager, wsServer, redisClient, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chatd server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
