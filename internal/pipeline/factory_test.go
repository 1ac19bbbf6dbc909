package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"slugforge/internal/domain"
	"slugforge/internal/graph"
	"slugforge/internal/manifest"
	"slugforge/internal/stamp"
)

const revision = "abc123"

type env struct {
	cfg    Config
	deps   Deps
	cloner *fakeCloner
	engine *fakeEngine
	prober *fakeProber
	assets *fakeAssets
	stamps *stamp.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()

	e := &env{
		cloner: &fakeCloner{revision: revision},
		engine: &fakeEngine{},
		prober: &fakeProber{
			local:    map[string]bool{},
			registry: map[string]bool{},
		},
		assets: &fakeAssets{},
		stamps: stamp.NewStore(zap.NewNop()),
		cfg: Config{
			RegistryPrefix: "registry.local/acme/",
			CacheDir:       filepath.Join(root, "cache"),
			BuildDir:       filepath.Join(root, "builds"),
			LogDir:         filepath.Join(root, "logs"),
			DocsDir:        filepath.Join(root, "docs"),
		},
	}
	e.deps = Deps{
		Git:    e.cloner,
		Engine: e.engine,
		Probe:  e.prober,
		Stamps: e.stamps,
		Assets: e.assets,
		Logger: zap.NewNop(),
	}
	return e
}

func testService(name string) *manifest.Service {
	return &manifest.Service{
		Name:      name,
		Repo:      "https://git.local/" + name + ".git",
		Buildpack: "https://git.local/buildpack-node.git",
		Stack:     "cedar",
	}
}

var testStack = manifest.Stack{
	BuildImage: "stacks/cedar-build:22",
	RunImage:   "stacks/cedar-run:22",
}

func (e *env) run(t *testing.T, svcs ...*manifest.Service) (*graph.ExecutionResult, error) {
	t.Helper()
	reg := graph.NewRegistry()
	for _, svc := range svcs {
		Register(reg, svc, testStack, e.cfg, e.deps)
	}
	g, err := graph.Build(reg)
	if err != nil {
		t.Fatalf("graph.Build() error: %v", err)
	}
	return graph.NewExecutor(zap.NewNop()).Execute(context.Background(), g)
}

func TestPipelineBuildsFromScratch(t *testing.T) {
	e := newEnv(t)
	svc := testService("web")

	result, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if !e.engine.pulled(testStack.BuildImage) || !e.engine.pulled(testStack.RunImage) {
		t.Errorf("base images not pulled: %v", e.engine.pulls)
	}
	if len(e.engine.runs) != 1 {
		t.Fatalf("compile ran %d containers, want 1", len(e.engine.runs))
	}
	if got := e.engine.runs[0].Image; got != testStack.BuildImage {
		t.Errorf("compile ran in %q, want the build image", got)
	}

	wantTag := "registry.local/acme/web:" + revision
	if len(e.engine.builds) != 1 || e.engine.builds[0] != wantTag {
		t.Errorf("builds = %v, want [%s]", e.engine.builds, wantTag)
	}

	v, ok := result.Value(artifactKey("web"))
	if !ok {
		t.Fatal("no artifact value provided")
	}
	art := v.(Artifact)
	if art.Tag != wantTag || art.Remote {
		t.Errorf("artifact = %+v", art)
	}

	if len(e.assets.entrypoints) != 1 || len(e.assets.specs) != 1 {
		t.Errorf("assets written: entrypoints=%v specs=%v", e.assets.entrypoints, e.assets.specs)
	}
	if len(e.assets.docs) != 1 || e.assets.docs[0].Revision != revision {
		t.Errorf("docs = %+v", e.assets.docs)
	}

	// Push is opt-in and was not enabled.
	if result.States["push image web"] != graph.StateSkipped {
		t.Errorf("push state = %v, want skipped", result.States["push image web"])
	}
	if len(e.engine.pushes) != 0 {
		t.Errorf("pushes = %v, want none", e.engine.pushes)
	}
}

func TestArtifactReusedFromLocalStore(t *testing.T) {
	e := newEnv(t)
	svc := testService("web")
	tag := "registry.local/acme/web:" + revision
	e.prober.local[tag] = true
	// Also published; the local copy still wins without a pull.
	e.prober.registry[tag] = true

	result, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(e.engine.builds) != 0 {
		t.Errorf("builds = %v, want none", e.engine.builds)
	}
	if e.engine.pulled(tag) {
		t.Error("artifact pulled despite existing locally")
	}
	if result.States["build image web"] != graph.StateSkipped {
		t.Errorf("build image state = %v, want skipped", result.States["build image web"])
	}

	v, _ := result.Value(artifactKey("web"))
	if art := v.(Artifact); art.Remote {
		t.Errorf("artifact = %+v, want Remote false for local reuse", art)
	}
}

func TestArtifactRecoveredFromRegistry(t *testing.T) {
	e := newEnv(t)
	svc := testService("web")
	tag := "registry.local/acme/web:" + revision
	e.prober.registry[tag] = true

	result, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if !e.engine.pulled(tag) {
		t.Error("published artifact was not pulled")
	}
	if len(e.engine.builds) != 0 {
		t.Errorf("builds = %v, want none", e.engine.builds)
	}

	v, _ := result.Value(artifactKey("web"))
	art := v.(Artifact)
	if !art.Remote {
		t.Errorf("artifact = %+v, want Remote true for registry recovery", art)
	}
	if len(e.assets.docs) != 1 || !e.assets.docs[0].Remote {
		t.Errorf("docs = %+v, want Remote recorded", e.assets.docs)
	}
}

func TestPushPublishesWhenEnabled(t *testing.T) {
	e := newEnv(t)
	e.cfg.Push = true
	svc := testService("web")
	tag := "registry.local/acme/web:" + revision

	result, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(e.engine.pushes) != 1 || e.engine.pushes[0] != tag {
		t.Errorf("pushes = %v, want [%s]", e.engine.pushes, tag)
	}
	if result.States["push image web"] != graph.StateSucceeded {
		t.Errorf("push state = %v, want succeeded", result.States["push image web"])
	}
}

func TestPushConflictOnPublishedTag(t *testing.T) {
	e := newEnv(t)
	e.cfg.Push = true
	svc := testService("web")
	tag := "registry.local/acme/web:" + revision
	// Already published elsewhere; the build recovers it, the push must not
	// silently overwrite it.
	e.prober.registry[tag] = true

	result, err := e.run(t, svc)
	if err == nil {
		t.Fatal("Execute() succeeded, want push conflict")
	}
	if !domain.IsCode(err, domain.ErrCodePushConflict) {
		t.Errorf("error = %v, want %s", err, domain.ErrCodePushConflict)
	}
	if len(e.engine.pushes) != 0 {
		t.Errorf("pushes = %v, want none on conflict", e.engine.pushes)
	}
	if result.States["push image web"] != graph.StateFailed {
		t.Errorf("push state = %v, want failed", result.States["push image web"])
	}
}

func TestStampedCompileOutputSkipsCompile(t *testing.T) {
	e := newEnv(t)
	svc := testService("web")

	first, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("first Execute() error: %v", err)
	}
	if first.States["compile web"] != graph.StateSucceeded {
		t.Fatalf("first compile state = %v", first.States["compile web"])
	}

	second, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("second Execute() error: %v", err)
	}

	if second.States["compile web"] != graph.StateSkipped {
		t.Errorf("second compile state = %v, want skipped", second.States["compile web"])
	}
	if len(e.engine.runs) != 1 {
		t.Errorf("compile container ran %d times across both executions, want 1", len(e.engine.runs))
	}
}

func TestNewRevisionInvalidatesCompileOutput(t *testing.T) {
	e := newEnv(t)
	svc := testService("web")

	if _, err := e.run(t, svc); err != nil {
		t.Fatalf("first Execute() error: %v", err)
	}

	e.cloner.revision = "def456"
	second, err := e.run(t, svc)
	if err != nil {
		t.Fatalf("second Execute() error: %v", err)
	}

	if second.States["compile web"] != graph.StateSucceeded {
		t.Errorf("compile state = %v, want succeeded for a new revision", second.States["compile web"])
	}
	if len(e.engine.runs) != 2 {
		t.Errorf("compile container ran %d times, want 2", len(e.engine.runs))
	}

	v, _ := second.Value(artifactKey("web"))
	if tag := v.(Artifact).Tag; tag != "registry.local/acme/web:def456" {
		t.Errorf("artifact tag = %q, want the new revision", tag)
	}

	comp, _ := second.Value(compileKey("web"))
	out := comp.(CompileOutput)
	if !e.stamps.IsStamped(out.Dir, out.SourceID) {
		t.Error("compile output not restamped with the new source identifier")
	}
}

func TestSharedPrerequisitesDedupAcrossServices(t *testing.T) {
	e := newEnv(t)
	web := testService("web")
	worker := testService("worker")

	reg := graph.NewRegistry()
	Register(reg, web, testStack, e.cfg, e.deps)
	Register(reg, worker, testStack, e.cfg, e.deps)

	// 3 shared prerequisites + 4 stages per service.
	if reg.Len() != 11 {
		t.Fatalf("registry has %d tasks, want 11", reg.Len())
	}

	g, err := graph.Build(reg)
	if err != nil {
		t.Fatalf("graph.Build() error: %v", err)
	}
	if _, err := graph.NewExecutor(zap.NewNop()).Execute(context.Background(), g); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if n := e.cloner.cloneCount(web.Buildpack); n != 1 {
		t.Errorf("buildpack cloned %d times, want 1", n)
	}
	pulls := 0
	for _, tag := range []string{testStack.BuildImage, testStack.RunImage} {
		for _, p := range e.engine.pulls {
			if p == tag {
				pulls++
			}
		}
	}
	if pulls != 2 {
		t.Errorf("base image pulls = %v, want each exactly once", e.engine.pulls)
	}
}
