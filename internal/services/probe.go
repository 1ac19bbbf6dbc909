package services

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"go.uber.org/zap"
)

// ImageProbe answers whether a named image already exists locally or on its
// remote registry. Probing never pulls or pushes anything.
type ImageProbe struct {
	client *client.Client
	logger *zap.Logger
}

// NewImageProbe creates a probe sharing the engine's Docker client.
func NewImageProbe(engine *DockerEngine, logger *zap.Logger) *ImageProbe {
	return &ImageProbe{client: engine.Client(), logger: logger}
}

// ExistsLocally reports whether the tag is present in the local image store.
func (p *ImageProbe) ExistsLocally(ctx context.Context, tag string) (bool, error) {
	images, err := p.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list local images: %w", err)
	}
	return len(images) > 0, nil
}

// ExistsOnRegistry reports whether the tag resolves on its remote registry.
// "Not found" is a negative answer, not an error; transient registry errors
// are retried with exponential backoff before giving up.
func (p *ImageProbe) ExistsOnRegistry(ctx context.Context, tag string) (bool, error) {
	var exists bool

	probe := func() error {
		_, err := p.client.DistributionInspect(ctx, tag, anonymousAuth)
		if err == nil {
			exists = true
			return nil
		}
		if errdefs.IsNotFound(err) || errdefs.IsUnauthorized(err) {
			exists = false
			return nil
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(probe, policy); err != nil {
		return false, fmt.Errorf("failed to probe registry for %s: %w", tag, err)
	}

	p.logger.Debug("Registry probe",
		zap.String("tag", tag),
		zap.Bool("exists", exists),
	)
	return exists, nil
}
