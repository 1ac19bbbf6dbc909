package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"slugforge/internal/procfile"
	"slugforge/internal/services"
)

// fakeCloner materializes clones on real disk so the compile task's tree
// copying behaves as in production.
type fakeCloner struct {
	mu       sync.Mutex
	revision string
	clones   []string // raw URLs in call order
}

func (c *fakeCloner) Clone(ctx context.Context, rawURL, dest string) (*services.CloneResult, error) {
	c.mu.Lock()
	c.clones = append(c.clones, rawURL)
	c.mu.Unlock()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dest, "Procfile"), []byte("web: node app.js\n"), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dest, "app.js"), []byte("// app\n"), 0o644); err != nil {
		return nil, err
	}

	url, _ := services.SplitRef(rawURL)
	return &services.CloneResult{
		Path:     dest,
		Revision: c.revision,
		SourceID: url + "#" + c.revision,
	}, nil
}

func (c *fakeCloner) cloneCount(rawURL string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, u := range c.clones {
		if u == rawURL {
			n++
		}
	}
	return n
}

// fakeEngine records every delegated container operation.
type fakeEngine struct {
	mu     sync.Mutex
	pulls  []string
	builds []string
	pushes []string
	runs   []services.RunOptions
}

func (e *fakeEngine) PullImage(ctx context.Context, tag, logPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pulls = append(e.pulls, tag)
	return nil
}

func (e *fakeEngine) BuildImage(ctx context.Context, contextDir, tag, logPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builds = append(e.builds, tag)
	return nil
}

func (e *fakeEngine) PushImage(ctx context.Context, tag, logPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushes = append(e.pushes, tag)
	return nil
}

func (e *fakeEngine) RunContainer(ctx context.Context, opts services.RunOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, opts)
	return nil
}

func (e *fakeEngine) pulled(tag string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.pulls {
		if t == tag {
			return true
		}
	}
	return false
}

// fakeProber answers existence probes from fixed maps and never mutates
// anything.
type fakeProber struct {
	mu       sync.Mutex
	local    map[string]bool
	registry map[string]bool
}

func (p *fakeProber) ExistsLocally(ctx context.Context, tag string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local[tag], nil
}

func (p *fakeProber) ExistsOnRegistry(ctx context.Context, tag string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry[tag], nil
}

// fakeAssets records which assets were requested without touching disk.
type fakeAssets struct {
	mu          sync.Mutex
	entrypoints []string
	specs       []string
	docs        []services.BuildDoc
}

func (a *fakeAssets) WriteEntrypoint(path string, procs []procfile.Process) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entrypoints = append(a.entrypoints, path)
	return nil
}

func (a *fakeAssets) WriteImageSpec(path, baseImage string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs = append(a.specs, path)
	return nil
}

func (a *fakeAssets) WriteBuildDoc(path string, doc services.BuildDoc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs = append(a.docs, doc)
	return nil
}
