// Package pipeline assembles the fixed build pipeline for each service as a
// set of declarative graph tasks: pull base images, clone the buildpack,
// compile, build the image, generate docs, and optionally push.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"slugforge/internal/procfile"
	"slugforge/internal/services"
)

// Cloner materializes a working copy of a repository at an exact revision.
type Cloner interface {
	Clone(ctx context.Context, rawURL, dest string) (*services.CloneResult, error)
}

// ImageEngine is the container image lifecycle the pipeline delegates to.
type ImageEngine interface {
	PullImage(ctx context.Context, tag, logPath string) error
	BuildImage(ctx context.Context, contextDir, tag, logPath string) error
	PushImage(ctx context.Context, tag, logPath string) error
	RunContainer(ctx context.Context, opts services.RunOptions) error
}

// Prober answers whether a named image artifact already exists. Probing must
// never pull or push as a side effect.
type Prober interface {
	ExistsLocally(ctx context.Context, tag string) (bool, error)
	ExistsOnRegistry(ctx context.Context, tag string) (bool, error)
}

// Stamper persists per-directory source markers for skip decisions.
type Stamper interface {
	IsStamped(dir, sourceID string) bool
	Stamp(dir, sourceID string) error
	Clear(dir string) error
}

// AssetWriter renders the generated textual build assets.
type AssetWriter interface {
	WriteEntrypoint(path string, procs []procfile.Process) error
	WriteImageSpec(path, baseImage string) error
	WriteBuildDoc(path string, doc services.BuildDoc) error
}

// Deps bundles the external collaborators a pipeline needs.
type Deps struct {
	Git    Cloner
	Engine ImageEngine
	Probe  Prober
	Stamps Stamper
	Assets AssetWriter
	Logger *zap.Logger
}

// Config is the pipeline's registry prefix, directory layout, and publishing
// policy.
type Config struct {
	RegistryPrefix string
	CacheDir       string
	BuildDir       string
	LogDir         string
	DocsDir        string
	Push           bool
}

// CompileOutput is the value provided by a service's compile task.
type CompileOutput struct {
	Dir      string // stamped compile output directory
	AppDir   string // compiled application tree inside Dir
	SourceID string // exact-source identifier (url#revision)
	Revision string
}

// Artifact is the value provided by a service's build-image task.
type Artifact struct {
	Tag string
	// Remote records whether the artifact was recovered from the registry
	// rather than found or built locally.
	Remote bool
}
