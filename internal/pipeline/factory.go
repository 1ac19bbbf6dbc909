package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slugforge/internal/domain"
	"slugforge/internal/graph"
	"slugforge/internal/manifest"
	"slugforge/internal/procfile"
	"slugforge/internal/services"
)

// Provided-key helpers. Every key has exactly one provider; image and
// buildpack keys are shared across services, the rest carry the service name.
func imageKey(tag string) string     { return "image:" + tag }
func buildpackKey(url string) string { return "buildpack:" + url }
func compileKey(svc string) string   { return "compile:" + svc }
func artifactKey(svc string) string  { return "artifact:" + svc }
func docsKey(svc string) string      { return "docs:" + svc }

// Register appends the fixed task set for one service to the registry. Shared
// prerequisites (base image pulls, the buildpack clone) are registered with
// Ensure so that services building against the same stack or buildpack
// converge on single nodes; the per-service stages are appended
// unconditionally because their titles carry the service name.
func Register(reg *graph.Registry, svc *manifest.Service, stack manifest.Stack, cfg Config, deps Deps) {
	reg.Ensure(pullImageTask(stack.BuildImage, cfg, deps))
	reg.Ensure(pullImageTask(stack.RunImage, cfg, deps))
	reg.Ensure(cloneBuildpackTask(svc.Buildpack, cfg, deps))

	reg.Add(compileTask(svc, stack, cfg, deps))
	reg.Add(buildImageTask(svc, stack, cfg, deps))
	reg.Add(docsTask(svc, cfg, deps))
	reg.Add(pushTask(svc, cfg, deps))
}

// pullImageTask ensures a base image is present in the local store.
func pullImageTask(tag string, cfg Config, deps Deps) *graph.Task {
	key := imageKey(tag)
	return &graph.Task{
		Title:    "pull image " + tag,
		Provides: []string{key},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			out := graph.Outputs{key: tag}

			exists, err := deps.Probe.ExistsLocally(ctx, tag)
			if err != nil {
				return graph.Result{}, err
			}
			if exists {
				return graph.Skipped(out), nil
			}

			rep.Step("pulling " + tag)
			if err := deps.Engine.PullImage(ctx, tag, logPath(cfg, "pull", tag)); err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"image pull failed", err)
			}
			return graph.Completed(out), nil
		},
	}
}

// cloneBuildpackTask materializes a buildpack checkout, stamped by the raw
// URL/ref pair so a changed ref invalidates the checkout.
func cloneBuildpackTask(buildpackURL string, cfg Config, deps Deps) *graph.Task {
	key := buildpackKey(buildpackURL)
	dir := filepath.Join(cfg.CacheDir, "buildpacks", sanitize(buildpackURL))

	return &graph.Task{
		Title:    "clone buildpack " + buildpackURL,
		Provides: []string{key},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			out := graph.Outputs{key: dir}

			if deps.Stamps.IsStamped(dir, buildpackURL) {
				return graph.Skipped(out), nil
			}

			rep.Step("fetching buildpack")
			if err := deps.Stamps.Clear(dir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to clear stale buildpack checkout: %w", err)
			}
			if _, err := deps.Git.Clone(ctx, buildpackURL, dir); err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"buildpack clone failed", err)
			}
			if err := deps.Stamps.Stamp(dir, buildpackURL); err != nil {
				return graph.Result{}, fmt.Errorf("failed to stamp buildpack checkout: %w", err)
			}
			return graph.Completed(out), nil
		},
	}
}

// compileTask clones the service source, then runs the buildpack compile
// inside an ephemeral container. The output directory is stamped with the
// exact-source identifier only after the compile fully succeeds; a stale
// stamp forces the directory to be destroyed and rebuilt.
func compileTask(svc *manifest.Service, stack manifest.Stack, cfg Config, deps Deps) *graph.Task {
	key := compileKey(svc.Name)
	buildImg := imageKey(stack.BuildImage)
	bpKey := buildpackKey(svc.Buildpack)

	return &graph.Task{
		Title:    "compile " + svc.Name,
		Requires: []string{buildImg, bpKey},
		Provides: []string{key},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			srcDir := filepath.Join(cfg.CacheDir, "src", svc.Name)
			if err := deps.Stamps.Clear(srcDir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to clear source checkout: %w", err)
			}

			rep.Step("cloning " + svc.Repo)
			clone, err := deps.Git.Clone(ctx, svc.Repo, srcDir)
			if err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"source clone failed", err)
			}

			slugDir := filepath.Join(cfg.BuildDir, svc.Name, "compile")
			result := CompileOutput{
				Dir:      slugDir,
				AppDir:   filepath.Join(slugDir, "app"),
				SourceID: clone.SourceID,
				Revision: clone.Revision,
			}
			out := graph.Outputs{key: result}

			if deps.Stamps.IsStamped(slugDir, clone.SourceID) {
				return graph.Skipped(out), nil
			}

			if err := deps.Stamps.Clear(slugDir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to clear stale compile output: %w", err)
			}
			if err := os.MkdirAll(result.AppDir, 0o755); err != nil {
				return graph.Result{}, fmt.Errorf("failed to create compile output: %w", err)
			}
			if err := services.CopyTree(clone.Path, result.AppDir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to copy source tree: %w", err)
			}

			compileCache := filepath.Join(cfg.CacheDir, "compile", svc.Name)
			if err := os.MkdirAll(compileCache, 0o755); err != nil {
				return graph.Result{}, fmt.Errorf("failed to create compile cache: %w", err)
			}

			rep.Step("compiling " + svc.Name + " at " + clone.Revision)
			err = deps.Engine.RunContainer(ctx, services.RunOptions{
				Image: in[buildImg].(string),
				Cmd:   []string{"/build/buildpack/bin/compile", "/build/app", "/build/cache"},
				Binds: []string{
					result.AppDir + ":/build/app",
					in[bpKey].(string) + ":/build/buildpack:ro",
					compileCache + ":/build/cache",
				},
				LogPath: logPath(cfg, "compile", svc.Name),
			})
			if err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"buildpack compile failed for "+svc.Name, err)
			}

			if err := deps.Stamps.Stamp(slugDir, clone.SourceID); err != nil {
				return graph.Result{}, fmt.Errorf("failed to stamp compile output: %w", err)
			}
			return graph.Completed(out), nil
		},
	}
}

// buildImageTask packages the compile output into the service image. Reuse
// priority: an image already in the local store wins outright; one on the
// registry is pulled into the local store; only then is a fresh build done.
func buildImageTask(svc *manifest.Service, stack manifest.Stack, cfg Config, deps Deps) *graph.Task {
	key := artifactKey(svc.Name)
	compKey := compileKey(svc.Name)
	runImg := imageKey(stack.RunImage)

	return &graph.Task{
		Title:    "build image " + svc.Name,
		Requires: []string{compKey, runImg},
		Provides: []string{key},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			comp := in[compKey].(CompileOutput)
			tag := cfg.RegistryPrefix + svc.Name + ":" + comp.Revision

			local, err := deps.Probe.ExistsLocally(ctx, tag)
			if err != nil {
				return graph.Result{}, err
			}
			if local {
				return graph.Skipped(graph.Outputs{key: Artifact{Tag: tag}}), nil
			}

			remote, err := deps.Probe.ExistsOnRegistry(ctx, tag)
			if err != nil {
				return graph.Result{}, err
			}
			if remote {
				rep.Step("recovering published image " + tag)
				if err := deps.Engine.PullImage(ctx, tag, logPath(cfg, "pull", tag)); err != nil {
					return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
						"pull of published image failed", err)
				}
				return graph.Skipped(graph.Outputs{key: Artifact{Tag: tag, Remote: true}}), nil
			}

			procs, err := readProcfile(svc.Name, comp.AppDir)
			if err != nil {
				return graph.Result{}, err
			}

			ctxDir := filepath.Join(cfg.BuildDir, svc.Name, "image")
			if err := deps.Stamps.Clear(ctxDir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to clear stale build context: %w", err)
			}
			if err := os.MkdirAll(filepath.Join(ctxDir, "app"), 0o755); err != nil {
				return graph.Result{}, fmt.Errorf("failed to create build context: %w", err)
			}
			if err := services.CopyTree(comp.AppDir, filepath.Join(ctxDir, "app")); err != nil {
				return graph.Result{}, fmt.Errorf("failed to copy compiled tree: %w", err)
			}
			if err := deps.Assets.WriteEntrypoint(filepath.Join(ctxDir, "entrypoint"), procs); err != nil {
				return graph.Result{}, err
			}
			if err := deps.Assets.WriteImageSpec(filepath.Join(ctxDir, "Dockerfile"), in[runImg].(string)); err != nil {
				return graph.Result{}, err
			}

			rep.Step("building image " + tag)
			if err := deps.Engine.BuildImage(ctx, ctxDir, tag, logPath(cfg, "build", svc.Name)); err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"image build failed for "+svc.Name, err)
			}
			return graph.Completed(graph.Outputs{key: Artifact{Tag: tag}}), nil
		},
	}
}

// docsTask renders the per-service build summary, stamped by the same
// exact-source identifier as the compile output.
func docsTask(svc *manifest.Service, cfg Config, deps Deps) *graph.Task {
	key := docsKey(svc.Name)
	compKey := compileKey(svc.Name)
	artKey := artifactKey(svc.Name)

	return &graph.Task{
		Title:    "generate docs " + svc.Name,
		Requires: []string{compKey, artKey},
		Provides: []string{key},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			comp := in[compKey].(CompileOutput)
			art := in[artKey].(Artifact)

			dir := filepath.Join(cfg.DocsDir, svc.Name)
			out := graph.Outputs{key: dir}

			if deps.Stamps.IsStamped(dir, comp.SourceID) {
				return graph.Skipped(out), nil
			}

			rep.Step("documenting " + svc.Name)
			if err := deps.Stamps.Clear(dir); err != nil {
				return graph.Result{}, fmt.Errorf("failed to clear stale docs: %w", err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return graph.Result{}, fmt.Errorf("failed to create docs dir: %w", err)
			}

			// The Procfile may be absent when the image was recovered
			// from the registry instead of built here.
			procs, _ := readProcfile(svc.Name, comp.AppDir)

			doc := services.BuildDoc{
				Service:   svc.Name,
				Revision:  comp.Revision,
				ImageTag:  art.Tag,
				Remote:    art.Remote,
				Processes: procs,
			}
			if err := deps.Assets.WriteBuildDoc(filepath.Join(dir, "build.md"), doc); err != nil {
				return graph.Result{}, err
			}
			if err := deps.Stamps.Stamp(dir, comp.SourceID); err != nil {
				return graph.Result{}, fmt.Errorf("failed to stamp docs: %w", err)
			}
			return graph.Completed(out), nil
		},
	}
}

// pushTask publishes the service image. Publishing is explicit opt-in; with
// push disabled the task always skips. With push enabled, a tag already on
// the registry is a policy violation, never silently overwritten.
func pushTask(svc *manifest.Service, cfg Config, deps Deps) *graph.Task {
	artKey := artifactKey(svc.Name)

	return &graph.Task{
		Title:    "push image " + svc.Name,
		Requires: []string{artKey},
		Run: func(ctx context.Context, in graph.Inputs, rep graph.Reporter) (graph.Result, error) {
			if !cfg.Push {
				return graph.Skipped(nil), nil
			}

			art := in[artKey].(Artifact)
			published, err := deps.Probe.ExistsOnRegistry(ctx, art.Tag)
			if err != nil {
				return graph.Result{}, err
			}
			if published {
				return graph.Result{}, domain.NewError(domain.ErrCodePushConflict,
					fmt.Sprintf("image %s is already present on the registry", art.Tag))
			}

			rep.Step("pushing " + art.Tag)
			if err := deps.Engine.PushImage(ctx, art.Tag, logPath(cfg, "push", svc.Name)); err != nil {
				return graph.Result{}, domain.NewErrorWithCause(domain.ErrCodeToolFailed,
					"image push failed for "+svc.Name, err)
			}
			return graph.Completed(nil), nil
		},
	}
}

// readProcfile loads and parses the service's process declarations, failing
// with a missing-artifact error naming the service when absent.
func readProcfile(service, appDir string) ([]procfile.Process, error) {
	data, err := os.ReadFile(filepath.Join(appDir, "Procfile"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewError(domain.ErrCodeMissingArtifact,
				"service "+service+" produced no Procfile")
		}
		return nil, fmt.Errorf("failed to read Procfile for %s: %w", service, err)
	}
	return procfile.Parse(data)
}

// logPath names the dedicated log artifact for one delegated invocation.
func logPath(cfg Config, stage, subject string) string {
	return filepath.Join(cfg.LogDir, stage+"-"+sanitize(subject)+".log")
}

// sanitize keeps directory and file names derived from URLs or tags free of
// path separators.
func sanitize(s string) string {
	return strings.NewReplacer("://", "_", "/", "_", ":", "_", "#", "_", "@", "_").Replace(s)
}
