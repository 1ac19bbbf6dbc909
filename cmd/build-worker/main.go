package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"slugforge/internal/infra"
	"slugforge/internal/pipeline"
	"slugforge/internal/services"
	"slugforge/internal/stamp"
	"slugforge/internal/store"
	"slugforge/internal/workers"
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
		zap.String("docker_host", config.Docker.Host),
		zap.String("redis_addr", config.Redis.Addr),
		zap.String("manifest", config.Build.ManifestPath),
		zap.Int("concurrency", config.WorkerConcurrency),
		zap.Bool("push", config.Build.Push),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	builds, err := store.New(ctx, config.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer builds.Close()

	engine, err := services.NewDockerEngine(config.Docker.Host, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Docker", zap.Error(err))
	}

	deps := pipeline.Deps{
		Git:    services.NewGitService(logger),
		Engine: engine,
		Probe:  services.NewImageProbe(engine, logger),
		Stamps: stamp.NewStore(logger),
		Assets: services.NewAssetGenerator(logger),
		Logger: logger,
	}

	runner := pipeline.NewRunner(config.Build, deps, logger)
	handler := workers.NewBuildHandler(config.Build.ManifestPath, runner, builds, logger)
	server := workers.NewAsynqServer(config.Redis.Addr, config.WorkerConcurrency, handler, logger)

	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			logger.Fatal("Build worker failed", zap.Error(err))
		}
	}()

	shutdown := graceful.NewHandler(logger, 60*time.Second)
	shutdown.Register(server)
	shutdown.Wait()
	cancel()
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
