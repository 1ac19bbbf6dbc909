package services

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"go.uber.org/zap"

	"slugforge/internal/procfile"
)

// entrypointTemplate dispatches on the requested process name; each command
// is embedded pre-quoted so the shell cannot reinterpret it.
var entrypointTemplate = template.Must(template.New("entrypoint").Parse(`#!/bin/sh
# Generated process entrypoint. Usage: entrypoint <process-name>
set -e

case "$1" in
{{- range .}}
{{.Name}})
	shift
	exec {{.QuotedCommand}}
	;;
{{- end}}
*)
	echo "unknown process type: $1" >&2
	exit 1
	;;
esac
`))

// imageSpecTemplate is the build descriptor for the service image: the
// compiled application tree layered onto the stack's run image.
var imageSpecTemplate = template.Must(template.New("imagespec").Parse(`FROM {{.BaseImage}}
COPY app /app
COPY entrypoint /app/entrypoint
WORKDIR /app
ENTRYPOINT ["/app/entrypoint"]
`))

// AssetGenerator renders the textual build assets: the process entrypoint
// script and the image build descriptor.
type AssetGenerator struct {
	logger *zap.Logger
}

// NewAssetGenerator creates an asset generator.
func NewAssetGenerator(logger *zap.Logger) *AssetGenerator {
	return &AssetGenerator{logger: logger}
}

type entrypointProcess struct {
	Name          string
	QuotedCommand string
}

// WriteEntrypoint writes the executable entrypoint script with one dispatch
// arm per declared process.
func (g *AssetGenerator) WriteEntrypoint(path string, procs []procfile.Process) error {
	rendered := make([]entrypointProcess, 0, len(procs))
	for _, p := range procs {
		rendered = append(rendered, entrypointProcess{
			Name:          p.Name,
			QuotedCommand: procfile.QuoteCommand(p.Command),
		})
	}

	var buf bytes.Buffer
	if err := entrypointTemplate.Execute(&buf, rendered); err != nil {
		return fmt.Errorf("failed to render entrypoint: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return fmt.Errorf("failed to write entrypoint %s: %w", path, err)
	}

	g.logger.Debug("Entrypoint written",
		zap.String("path", path),
		zap.Int("processes", len(procs)),
	)
	return nil
}

// BuildDoc summarizes one completed service build for the generated docs.
type BuildDoc struct {
	Service   string
	Revision  string
	ImageTag  string
	Remote    bool
	Processes []procfile.Process
}

var buildDocTemplate = template.Must(template.New("builddoc").Parse(`# {{.Service}}

- revision: {{.Revision}}
- image: {{.ImageTag}}
- recovered from registry: {{.Remote}}

## Processes
{{range .Processes}}
- **{{.Name}}**: ` + "`{{.Command}}`" + `
{{- else}}
(no process declarations)
{{end}}
`))

// WriteBuildDoc writes the per-service build summary document.
func (g *AssetGenerator) WriteBuildDoc(path string, doc BuildDoc) error {
	var buf bytes.Buffer
	if err := buildDocTemplate.Execute(&buf, doc); err != nil {
		return fmt.Errorf("failed to render build doc: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write build doc %s: %w", path, err)
	}
	return nil
}

// WriteImageSpec writes the image build descriptor templated with the base
// image name.
func (g *AssetGenerator) WriteImageSpec(path, baseImage string) error {
	var buf bytes.Buffer
	if err := imageSpecTemplate.Execute(&buf, struct{ BaseImage string }{BaseImage: baseImage}); err != nil {
		return fmt.Errorf("failed to render image spec: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write image spec %s: %w", path, err)
	}
	return nil
}
