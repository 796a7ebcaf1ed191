// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package declaration reads the artifact declaration file: the YAML
// list describing what gets distributed, where from, and to which
// hosts. Declarations are validated completely before any side
// effect; a bad declaration aborts the run with a configuration
// error.
package declaration

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind classifies a declared artifact.
type Kind string

const (
	// KindFile copies the source file to the destination path on each
	// target host.
	KindFile Kind = "file"

	// KindPackage ships the newest matching archive from the package
	// pool. Package artifacts never carry a destination: the source
	// stem doubles as the package identity.
	KindPackage Kind = "package"

	// KindCustom runs a named handler that generates the files to
	// stage.
	KindCustom Kind = "custom"
)

// AllHosts is the reserved host name that expands to every configured
// host.
const AllHosts = "ALL"

// Artifact is one declared artifact.
type Artifact struct {
	// Name identifies the artifact in logs and errors.
	Name string `yaml:"name"`

	// Kind selects the processing path. Defaults to file.
	Kind Kind `yaml:"kind"`

	// Source is the source path: a file for file kind, a package stem
	// for package kind, handler input for custom kind.
	Source string `yaml:"source"`

	// Destination is the target path on the destination host. Absent
	// means same as Source. Forbidden for package kind.
	Destination string `yaml:"destination,omitempty"`

	// Hosts are the target host names; AllHosts expands to every
	// configured host.
	Hosts []string `yaml:"hosts"`

	// Groups are the protection groups that must be unlocked on the
	// destination before this artifact's files are written.
	Groups []string `yaml:"groups,omitempty"`

	// Handler names the custom handler for custom kind.
	Handler string `yaml:"handler,omitempty"`

	// Params are handler-specific parameters.
	Params map[string]string `yaml:"params,omitempty"`
}

// TargetPath returns the destination path, defaulting to the source.
func (a *Artifact) TargetPath() string {
	if a.Destination != "" {
		return a.Destination
	}
	return a.Source
}

// ExpandHosts resolves the artifact's host list against the
// configured hosts, expanding AllHosts and rejecting unknown names.
// The result is sorted and deduplicated.
func (a *Artifact) ExpandHosts(configured []string) ([]string, error) {
	known := make(map[string]bool, len(configured))
	for _, host := range configured {
		known[host] = true
	}

	set := make(map[string]bool)
	for _, host := range a.Hosts {
		if host == AllHosts {
			for _, name := range configured {
				set[name] = true
			}
			continue
		}
		if !known[host] {
			return nil, fmt.Errorf("artifact %s targets unconfigured host %q", a.Name, host)
		}
		set[host] = true
	}

	hosts := make([]string, 0, len(set))
	for host := range set {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts, nil
}

// File is a parsed declaration file.
type File struct {
	Artifacts []Artifact `yaml:"artifacts"`
}

// Load reads and validates a declaration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &file, nil
}

// Validate checks every declaration, reporting all problems at once.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]bool)

	for i := range f.Artifacts {
		artifact := &f.Artifacts[i]
		name := artifact.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("artifacts[%d] has no name", i))
			name = fmt.Sprintf("artifacts[%d]", i)
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate artifact %q", name))
		}
		seen[name] = true

		if artifact.Kind == "" {
			artifact.Kind = KindFile
		}

		switch artifact.Kind {
		case KindFile:
			if artifact.Source == "" {
				errs = append(errs, fmt.Errorf("artifact %s has no source", name))
			}
		case KindPackage:
			if artifact.Source == "" {
				errs = append(errs, fmt.Errorf("artifact %s has no package stem", name))
			}
			// A package's source stem is its identity; overriding the
			// destination would break that.
			if artifact.Destination != "" {
				errs = append(errs, fmt.Errorf("package artifact %s must not set a destination", name))
			}
		case KindCustom:
			if artifact.Handler == "" {
				errs = append(errs, fmt.Errorf("custom artifact %s names no handler", name))
			}
		default:
			errs = append(errs, fmt.Errorf("artifact %s has unknown kind %q", name, artifact.Kind))
		}

		if len(artifact.Hosts) == 0 {
			errs = append(errs, fmt.Errorf("artifact %s targets no hosts", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Select returns the artifacts whose names appear in names, in
// declaration order; an empty names selects everything. Unknown names
// are errors.
func (f *File) Select(names []string) ([]Artifact, error) {
	if len(names) == 0 {
		return f.Artifacts, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []Artifact
	for _, artifact := range f.Artifacts {
		if wanted[artifact.Name] {
			selected = append(selected, artifact)
			delete(wanted, artifact.Name)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown artifacts selected: %v", missing)
	}
	return selected, nil
}
