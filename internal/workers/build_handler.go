// Package workers runs queued build requests through the pipeline.
package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"slugforge/internal/manifest"
	"slugforge/internal/pipeline"
	"slugforge/internal/store"
	"slugforge/internal/tasks"
)

// BuildHandler executes one build request end to end: load the manifest,
// register the service's tasks, resolve the graph, execute it, and record the
// outcome.
type BuildHandler struct {
	manifestPath string
	runner       *pipeline.Runner
	store        *store.Store
	logger       *zap.Logger
}

// NewBuildHandler creates a build handler.
func NewBuildHandler(manifestPath string, runner *pipeline.Runner, st *store.Store, logger *zap.Logger) *BuildHandler {
	return &BuildHandler{
		manifestPath: manifestPath,
		runner:       runner,
		store:        st,
		logger:       logger,
	}
}

// HandleBuildRequest processes one queued build request.
func (h *BuildHandler) HandleBuildRequest(ctx context.Context, t *asynq.Task) error {
	var payload tasks.BuildRequestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal build request payload: %w", err)
	}

	logger := h.logger.With(
		zap.String("build_id", payload.BuildID),
		zap.String("service", payload.Service),
	)
	logger.Info("Build request received")

	if err := h.store.MarkRunning(ctx, payload.BuildID); err != nil {
		return err
	}

	// The manifest is reloaded per request so edits apply without a
	// worker restart.
	m, err := manifest.Load(h.manifestPath)
	if err != nil {
		h.recordFailure(ctx, payload.BuildID, err)
		return err
	}

	summary, err := h.runner.BuildService(ctx, m, payload.Service)
	if err != nil {
		h.recordFailure(ctx, payload.BuildID, err)
		return err
	}

	if err := h.store.MarkSucceeded(ctx, payload.BuildID, summary.Revision, summary.ImageTag); err != nil {
		return err
	}

	logger.Info("Build request completed",
		zap.String("revision", summary.Revision),
		zap.String("image_tag", summary.ImageTag),
	)
	return nil
}

func (h *BuildHandler) recordFailure(ctx context.Context, buildID string, cause error) {
	if err := h.store.MarkFailed(ctx, buildID, cause.Error()); err != nil {
		h.logger.Error("Failed to record build failure",
			zap.String("build_id", buildID),
			zap.Error(err),
		)
	}
}
