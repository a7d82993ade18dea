package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/api"
	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/logging"
	"github.com/Rrens/chatnil/internal/repository/postgres"
	"github.com/Rrens/chatnil/internal/repository/redis"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging, cfg.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}
	if cfg.Auth.DevTokens && cfg.IsProduction() {
		log.Warn().Msg("Development token endpoint is enabled in production")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Starting ChatNIL API server")

	ctx := context.Background()

	if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Redis only backs the chat cache and rate limiting
	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Continuing without Redis")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	router := api.NewRouter(cfg, db, redisClient)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
