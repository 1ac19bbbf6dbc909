package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"slugforge/internal/procfile"
)

func TestWriteEntrypoint(t *testing.T) {
	gen := NewAssetGenerator(zap.NewNop())
	path := filepath.Join(t.TempDir(), "entrypoint")

	procs := []procfile.Process{
		{Name: "web", Command: "node app.js"},
		{Name: "worker", Command: "node worker.js --queue 'high'"},
	}
	if err := gen.WriteEntrypoint(path, procs); err != nil {
		t.Fatalf("WriteEntrypoint() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("entrypoint mode = %v, want 0755", info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	script := string(data)

	if !strings.HasPrefix(script, "#!/bin/sh") {
		t.Error("entrypoint is missing the shebang")
	}
	if !strings.Contains(script, "exec 'node app.js'") {
		t.Errorf("web command not quoted as expected:\n%s", script)
	}
	if !strings.Contains(script, `exec 'node worker.js --queue '\''high'\'''`) {
		t.Errorf("embedded quotes not escaped:\n%s", script)
	}
	if !strings.Contains(script, "unknown process type") {
		t.Error("entrypoint has no unknown-process arm")
	}
}

func TestWriteImageSpec(t *testing.T) {
	gen := NewAssetGenerator(zap.NewNop())
	path := filepath.Join(t.TempDir(), "Dockerfile")

	if err := gen.WriteImageSpec(path, "stacks/cedar-run:22"); err != nil {
		t.Fatalf("WriteImageSpec() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	spec := string(data)
	if !strings.HasPrefix(spec, "FROM stacks/cedar-run:22\n") {
		t.Errorf("spec does not start from the run image:\n%s", spec)
	}
	if !strings.Contains(spec, `ENTRYPOINT ["/app/entrypoint"]`) {
		t.Errorf("spec has no entrypoint:\n%s", spec)
	}
}

func TestWriteBuildDoc(t *testing.T) {
	gen := NewAssetGenerator(zap.NewNop())
	path := filepath.Join(t.TempDir(), "build.md")

	doc := BuildDoc{
		Service:  "web",
		Revision: "abc123",
		ImageTag: "registry.local/acme/web:abc123",
		Remote:   true,
		Processes: []procfile.Process{
			{Name: "web", Command: "node app.js"},
		},
	}
	if err := gen.WriteBuildDoc(path, doc); err != nil {
		t.Fatalf("WriteBuildDoc() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	for _, want := range []string{"# web", "abc123", "registry.local/acme/web:abc123", "**web**"} {
		if !strings.Contains(md, want) {
			t.Errorf("build doc missing %q:\n%s", want, md)
		}
	}
}

func TestWriteBuildDocNoProcesses(t *testing.T) {
	gen := NewAssetGenerator(zap.NewNop())
	path := filepath.Join(t.TempDir(), "build.md")

	if err := gen.WriteBuildDoc(path, BuildDoc{Service: "web", Revision: "abc123"}); err != nil {
		t.Fatalf("WriteBuildDoc() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "(no process declarations)") {
		t.Errorf("build doc missing empty-processes note:\n%s", data)
	}
}
