// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for distribute, shared by the
// source-host and destination-host binaries. Each binary reads the
// sections it needs; unused sections may be left empty.
type Config struct {
	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// Signer configures the signing key policy.
	Signer SignerConfig `yaml:"signer"`

	// Hosts lists the destination hosts artifacts may target.
	Hosts []HostConfig `yaml:"hosts"`

	// Install configures the destination-host installer.
	Install InstallConfig `yaml:"install"`

	// Lockdown configures filesystem protection groups.
	Lockdown LockdownConfig `yaml:"lockdown"`

	// Transport configures the file-copy channel to destination hosts.
	Transport TransportConfig `yaml:"transport"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// Pool is the package pool directory on the source host, holding
	// the versioned package archives distribution selects from.
	Pool string `yaml:"pool"`

	// Staging is the source-host directory under which per-host
	// staging trees and outboxes are created.
	Staging string `yaml:"staging"`

	// Drop is the destination-host directory the transport copies
	// bundles into and the installer scans.
	Drop string `yaml:"drop"`

	// Registry is the installed-package registry root on the
	// destination host.
	Registry string `yaml:"registry"`

	// Audit is the append-only audit log file on the destination host.
	Audit string `yaml:"audit"`

	// Keys is the directory holding signing keys: trusted public keys
	// on every host, secret keys on the source host only.
	Keys string `yaml:"keys"`
}

// SignerConfig configures the signing key policy. Key names follow the
// <domain>-<year> convention for the organization's own rotating key
// and <vendor>-<major>.<minor>-pkg for vendor package keys.
type SignerConfig struct {
	// Domain is the organization's signing domain ("example.com"
	// produces keys named "example.com-2026").
	Domain string `yaml:"domain"`

	// Vendor enables acceptance of vendor package keys with the given
	// prefix. Empty disables the vendor key family.
	Vendor string `yaml:"vendor"`

	// MinYear is the oldest domain key year still trusted. Zero
	// disables the floor.
	MinYear int `yaml:"min_year"`

	// MinRelease is the oldest vendor release ("7.6") still trusted.
	// Empty disables the floor.
	MinRelease string `yaml:"min_release"`
}

// HostConfig names one destination host. The name doubles as the
// default transport address and the per-host staging directory name.
type HostConfig struct {
	// Name is the short host name artifacts target.
	Name string `yaml:"name"`

	// Address overrides the transport destination; defaults to Name.
	Address string `yaml:"address,omitempty"`
}

// InstallConfig configures the destination-host installer.
type InstallConfig struct {
	// Prefix is the package extraction prefix.
	Prefix string `yaml:"prefix"`

	// OverlayPrefix selects platform-overlay sample files
	// (<prefix>.<name>) over stock samples when both are packed.
	OverlayPrefix string `yaml:"overlay_prefix"`

	// SystemPkgTool is a real package-manager binary to prefer over
	// the built-in minimal manager when it exists on the host. Empty
	// always uses the built-in manager.
	SystemPkgTool string `yaml:"system_pkg_tool"`
}

// LockdownConfig configures protection-group locking.
type LockdownConfig struct {
	// Mode selects the locker implementation: "exec" runs the
	// configured commands, "flags" toggles immutable flags directly.
	Mode string `yaml:"mode"`

	// LockCommand and UnlockCommand are the exec-mode commands, run
	// with the group name appended.
	LockCommand   string `yaml:"lock_command"`
	UnlockCommand string `yaml:"unlock_command"`

	// Groups maps group names to the filesystem paths they protect,
	// used by flags mode.
	Groups map[string][]string `yaml:"groups"`
}

// TransportConfig configures the file-copy channel.
type TransportConfig struct {
	// Kind selects the implementation: "ssh" or "local".
	Kind string `yaml:"kind"`

	// Root is the local-mode destination directory, receiving one
	// subdirectory per host.
	Root string `yaml:"root"`

	// User is the SSH login user.
	User string `yaml:"user"`

	// Port is the SSH port; zero means 22.
	Port int `yaml:"port"`

	// KnownHosts is the SSH known_hosts file for host key
	// verification. Required in ssh mode: there is no
	// trust-on-first-use fallback.
	KnownHosts string `yaml:"known_hosts"`

	// KeyFile is an unencrypted SSH private key file. When empty the
	// SSH agent at SSH_AUTH_SOCK is used.
	KeyFile string `yaml:"key_file"`

	// Suffix4 and Suffix6 are appended to host names when the
	// operator pins the address family (-4/-6), for sites that
	// publish family-specific DNS names.
	Suffix4 string `yaml:"suffix4"`
	Suffix6 string `yaml:"suffix6"`
}

// Default returns the configuration defaults applied before the file
// is loaded. The file is still required; defaults only fill fields the
// file leaves unset.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Pool:     "/var/distribute/pool",
			Staging:  "/var/distribute/staging",
			Drop:     "/var/distribute/drop",
			Registry: "/var/db/distribute",
			Audit:    "/var/log/distribute.log",
			Keys:     "/etc/distribute/keys",
		},
		Install: InstallConfig{
			Prefix: "/usr/local",
		},
		Lockdown: LockdownConfig{
			Mode:          "exec",
			LockCommand:   "syslock",
			UnlockCommand: "sysunlock",
		},
		Transport: TransportConfig{
			Kind: "ssh",
		},
	}
}

// Load loads configuration from the DISTRIBUTE_CONFIG environment
// variable. There are no fallbacks or automatic discovery: if the
// variable is not set, this fails. Deterministic, auditable
// configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("DISTRIBUTE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DISTRIBUTE_CONFIG environment variable not set; " +
			"set it to the path of your distribute.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// values. The only expansion performed is ${VAR} in path fields, for
// portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path-valued fields.
func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Paths.Pool, &c.Paths.Staging, &c.Paths.Drop,
		&c.Paths.Registry, &c.Paths.Audit, &c.Paths.Keys,
		&c.Install.Prefix, &c.Install.SystemPkgTool,
		&c.Transport.Root, &c.Transport.KnownHosts, &c.Transport.KeyFile,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Keys == "" {
		errs = append(errs, fmt.Errorf("paths.keys is required"))
	}
	if c.Signer.Domain == "" {
		errs = append(errs, fmt.Errorf("signer.domain is required"))
	}

	seen := make(map[string]bool)
	for i, host := range c.Hosts {
		if host.Name == "" {
			errs = append(errs, fmt.Errorf("hosts[%d].name is required", i))
			continue
		}
		if seen[host.Name] {
			errs = append(errs, fmt.Errorf("duplicate host %q", host.Name))
		}
		seen[host.Name] = true
	}

	switch c.Lockdown.Mode {
	case "exec":
		if c.Lockdown.LockCommand == "" || c.Lockdown.UnlockCommand == "" {
			errs = append(errs, fmt.Errorf("lockdown mode exec requires lock_command and unlock_command"))
		}
	case "flags":
		if len(c.Lockdown.Groups) == 0 {
			errs = append(errs, fmt.Errorf("lockdown mode flags requires a groups map"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("lockdown.mode must be exec or flags, not %q", c.Lockdown.Mode))
	}

	switch c.Transport.Kind {
	case "ssh":
		if c.Transport.KnownHosts == "" {
			errs = append(errs, fmt.Errorf("transport kind ssh requires known_hosts"))
		}
	case "local":
		if c.Transport.Root == "" {
			errs = append(errs, fmt.Errorf("transport kind local requires root"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("transport.kind must be ssh or local, not %q", c.Transport.Kind))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HostNames returns the configured host names, sorted.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for _, host := range c.Hosts {
		names = append(names, host.Name)
	}
	sort.Strings(names)
	return names
}

// HostAddress returns the transport address for a configured host, or
// an error when the host is not configured. familySuffix is appended
// for operator-pinned address families ("" for the default family).
func (c *Config) HostAddress(name, familySuffix string) (string, error) {
	for _, host := range c.Hosts {
		if host.Name != name {
			continue
		}
		address := host.Address
		if address == "" {
			address = host.Name
		}
		return address + familySuffix, nil
	}
	return "", fmt.Errorf("host %q is not configured", name)
}

// EnsurePaths creates the source-host directories that must exist
// before a distribution run.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Pool, c.Paths.Staging} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	if c.Paths.Audit != "" {
		if err := os.MkdirAll(filepath.Dir(c.Paths.Audit), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(c.Paths.Audit), err)
		}
	}
	return nil
}
