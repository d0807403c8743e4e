// Package descriptor loads and validates the deployment descriptor (alorg.json).
//
// The descriptor names the project, the target registry and tag, and the
// servers to roll out to. It is read once per invocation and treated as
// immutable afterwards.
//
// Loading and validation are separate steps with separate failure modes:
//   - [Load] fails with [*NotFoundError] when the file cannot be read or parsed
//   - [Descriptor.Validate] fails with [*MissingFieldError] on the first of
//     name, registry, tag (in that order) that is empty
//
// Servers are optional. An empty list switches the pipeline to build-and-test
// mode, where the release image is built but never pushed or rolled out.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is the descriptor location used when none is given.
const DefaultPath = "./alorg.json"

// PathEnv overrides [DefaultPath] when no explicit path is given.
const PathEnv = "ALORG_DESCRIPTOR"

// ErrInvalid marks a descriptor whose fields have the wrong shape
// (e.g. servers given as a string).
var ErrInvalid = errors.New("invalid descriptor")

// Descriptor is the deployment configuration driving a run.
type Descriptor struct {
	// Name identifies the project and namespaces its containers.
	Name string `json:"name" yaml:"name"`

	// Registry is the image repository path, e.g. "theopertore/alorg".
	Registry string `json:"registry" yaml:"registry"`

	// Tag is the image tag, commonly the project name or a release id.
	Tag string `json:"tag" yaml:"tag"`

	// Servers are ssh-style addresses (user@host or host). May be empty.
	Servers []string `json:"servers,omitempty" yaml:"servers,omitempty"`
}

// Image returns the fully-qualified release image reference registry:tag.
func (d *Descriptor) Image() string {
	return d.Registry + ":" + d.Tag
}

// BuildImage returns the project-scoped name of the temporary build image.
func (d *Descriptor) BuildImage() string {
	return d.Name + "-tmp-build"
}

// HasServers reports whether the descriptor targets any servers.
func (d *Descriptor) HasServers() bool {
	return len(d.Servers) > 0
}

// Validate checks required fields in the fixed order name, registry, tag and
// returns a [*MissingFieldError] for the first one that is empty.
func (d *Descriptor) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", d.Name},
		{"registry", d.Registry},
		{"tag", d.Tag},
	}
	for _, r := range required {
		if r.value == "" {
			return &MissingFieldError{Field: r.field}
		}
	}
	return nil
}

// MissingFieldError reports a required descriptor field that is absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("invalid config file missing property: %s", e.Field)
}

// NotFoundError reports a descriptor that could not be read or parsed.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot read config file at path %s: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ResolvePath determines which descriptor file to load.
//
// Resolution order:
//  1. explicit (from --config) if non-empty
//  2. the ALORG_DESCRIPTOR environment variable
//  3. [DefaultPath]
//
// Relative results are joined onto workDir, the invocation's working directory.
func ResolvePath(workDir, explicit string) string {
	path := explicit
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		path = DefaultPath
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}
