package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"slugforge/internal/api"
	"slugforge/internal/infra"
	"slugforge/internal/store"
	"slugforge/internal/tasks"
	"slugforge/pkg/graceful"
)

func main() {
	config, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("server_addr", config.Server.Addr),
		zap.String("server_port", config.Server.Port),
		zap.String("postgres_host", config.Postgres.Host),
		zap.String("redis_addr", config.Redis.Addr),
		zap.String("manifest", config.Build.ManifestPath),
	)

	if err := store.RunMigrations(config.Postgres.DSN, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()
	builds, err := store.New(ctx, config.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer builds.Close()

	queue := tasks.NewClient(config.Redis.Addr, logger)
	defer queue.Close()

	handlers := api.NewHandlers(config.Build.ManifestPath, builds, queue, logger)
	router := api.NewRouter(handlers, config.JWT.Secret, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", config.Server.Addr, config.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting API server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	shutdown := graceful.NewHandler(logger, 30*time.Second)
	shutdown.Register(server)
	shutdown.Wait()
}

func initLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.Level = zapLevel
	return config.Build()
}
