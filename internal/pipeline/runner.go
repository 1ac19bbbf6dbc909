package pipeline

import (
	"context"

	"go.uber.org/zap"

	"slugforge/internal/graph"
	"slugforge/internal/infra"
	"slugforge/internal/manifest"
)

// BuildSummary reports the outcome of one service's pipeline.
type BuildSummary struct {
	Service  string
	Revision string
	ImageTag string
	Remote   bool
	States   map[string]graph.State
}

// Runner wires manifests, the task factory, and the graph executor together.
// It is shared by the queue worker and the one-shot CLI.
type Runner struct {
	build  infra.BuildConfig
	deps   Deps
	logger *zap.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(build infra.BuildConfig, deps Deps, logger *zap.Logger) *Runner {
	return &Runner{build: build, deps: deps, logger: logger}
}

func (r *Runner) config(m *manifest.Manifest) Config {
	return Config{
		RegistryPrefix: m.RegistryPrefix,
		CacheDir:       r.build.CacheDir,
		BuildDir:       r.build.BuildDir,
		LogDir:         r.build.LogDir,
		DocsDir:        r.build.DocsDir,
		Push:           r.build.Push,
	}
}

// BuildService runs the pipeline for a single named service.
func (r *Runner) BuildService(ctx context.Context, m *manifest.Manifest, name string) (*BuildSummary, error) {
	svc, err := m.Service(name)
	if err != nil {
		return nil, err
	}

	cfg := r.config(m)
	reg := graph.NewRegistry()
	Register(reg, svc, m.StackFor(svc), cfg, r.deps)

	summaries, err := r.execute(ctx, reg, []*manifest.Service{svc})
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}

// BuildAll runs the pipeline for every manifest service in one graph, so
// shared base image pulls and buildpack clones happen exactly once.
func (r *Runner) BuildAll(ctx context.Context, m *manifest.Manifest) ([]*BuildSummary, error) {
	cfg := r.config(m)
	reg := graph.NewRegistry()

	svcs := make([]*manifest.Service, 0, len(m.Services))
	for i := range m.Services {
		svc := &m.Services[i]
		Register(reg, svc, m.StackFor(svc), cfg, r.deps)
		svcs = append(svcs, svc)
	}

	return r.execute(ctx, reg, svcs)
}

func (r *Runner) execute(ctx context.Context, reg *graph.Registry, svcs []*manifest.Service) ([]*BuildSummary, error) {
	g, err := graph.Build(reg)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Pipeline resolved",
		zap.Int("tasks", len(g.Tasks())),
		zap.Strings("order", g.TopologicalOrder()),
	)

	result, execErr := graph.NewExecutor(r.logger).Execute(ctx, g)

	summaries := make([]*BuildSummary, 0, len(svcs))
	for _, svc := range svcs {
		s := &BuildSummary{Service: svc.Name, States: result.States}
		if v, ok := result.Value(compileKey(svc.Name)); ok {
			s.Revision = v.(CompileOutput).Revision
		}
		if v, ok := result.Value(artifactKey(svc.Name)); ok {
			art := v.(Artifact)
			s.ImageTag = art.Tag
			s.Remote = art.Remote
		}
		summaries = append(summaries, s)
	}

	if execErr != nil {
		return summaries, execErr
	}
	return summaries, nil
}
