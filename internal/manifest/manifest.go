// Package manifest loads the YAML build manifest: the registry prefix, the
// available stacks, and the services to build from source.
package manifest

import (
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"slugforge/internal/domain"
	"slugforge/internal/services"
)

// Stack names the pair of base images a service builds against: the build
// image the buildpack compiles in, and the run image the result is layered
// onto.
type Stack struct {
	BuildImage string `yaml:"build_image" validate:"required"`
	RunImage   string `yaml:"run_image" validate:"required"`
}

// Service is one deployable unit: a source repository, the buildpack that
// compiles it, and the stack it targets.
type Service struct {
	Name      string `yaml:"name" validate:"required,hostname_rfc1123"`
	Repo      string `yaml:"repo" validate:"required"`
	Buildpack string `yaml:"buildpack" validate:"required"`
	Stack     string `yaml:"stack" validate:"required"`
}

// Manifest is the full build manifest.
type Manifest struct {
	RegistryPrefix string           `yaml:"registry_prefix" validate:"required"`
	Stacks         map[string]Stack `yaml:"stacks" validate:"required,dive"`
	Services       []Service        `yaml:"services" validate:"required,min=1,dive"`
}

// Load reads and validates a manifest file. All configuration errors are
// raised here, before any build work starts.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, domain.NewErrorWithCause(domain.ErrCodeConfigInvalid, "manifest is not valid YAML", err)
	}

	validate := validator.New()
	if err := validate.Struct(&m); err != nil {
		return nil, domain.NewErrorWithCause(domain.ErrCodeConfigInvalid, "manifest failed validation", err)
	}

	for _, svc := range m.Services {
		if _, ok := m.Stacks[svc.Stack]; !ok {
			return nil, domain.NewError(domain.ErrCodeConfigInvalid,
				fmt.Sprintf("service %q references unknown stack %q", svc.Name, svc.Stack))
		}
		if err := checkRepoURL(svc.Repo); err != nil {
			return nil, domain.NewErrorWithCause(domain.ErrCodeConfigInvalid,
				fmt.Sprintf("service %q has a malformed repo URL", svc.Name), err)
		}
		if err := checkRepoURL(svc.Buildpack); err != nil {
			return nil, domain.NewErrorWithCause(domain.ErrCodeConfigInvalid,
				fmt.Sprintf("service %q has a malformed buildpack URL", svc.Name), err)
		}
	}

	return &m, nil
}

// Service returns the named service.
func (m *Manifest) Service(name string) (*Service, error) {
	for i := range m.Services {
		if m.Services[i].Name == name {
			return &m.Services[i], nil
		}
	}
	return nil, domain.NewError(domain.ErrCodeNotFound, fmt.Sprintf("service %q not in manifest", name))
}

// StackFor returns the stack a service targets. Manifest validation
// guarantees it exists.
func (m *Manifest) StackFor(svc *Service) Stack {
	return m.Stacks[svc.Stack]
}

// checkRepoURL rejects repository references that are not absolute URLs.
// A trailing "#ref" fragment selecting a branch or tag is allowed.
func checkRepoURL(raw string) error {
	base, _ := services.SplitRef(raw)
	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}
