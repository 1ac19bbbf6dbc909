// Command slugforge builds manifest services in-process, without the API or
// the queue. It is the operator's one-shot entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"slugforge/internal/infra"
	"slugforge/internal/manifest"
	"slugforge/internal/pipeline"
	"slugforge/internal/services"
	"slugforge/internal/stamp"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "manifest file (defaults to BUILD_MANIFEST)")
		service      = flag.String("service", "", "build only this service (default: all)")
		push         = flag.Bool("push", false, "push built images to the registry")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	config, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *manifestPath != "" {
		config.Build.ManifestPath = *manifestPath
	}
	config.Build.Push = *push

	logger, err := initLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := manifest.Load(config.Build.ManifestPath)
	if err != nil {
		logger.Fatal("Failed to load manifest", zap.Error(err))
	}

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

	var summaries []*pipeline.BuildSummary
	if *service != "" {
		var summary *pipeline.BuildSummary
		summary, err = runner.BuildService(ctx, m, *service)
		if summary != nil {
			summaries = append(summaries, summary)
		}
	} else {
		summaries, err = runner.BuildAll(ctx, m)
	}

	for _, s := range summaries {
		if s.ImageTag == "" {
			continue
		}
		source := "built"
		if s.Remote {
			source = "pulled"
		}
		fmt.Printf("%s\t%s\t%s (%s)\n", s.Service, s.Revision, s.ImageTag, source)
	}

	if err != nil {
		logger.Fatal("Build failed", zap.Error(err))
	}
}

func initLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config.Build()
}
