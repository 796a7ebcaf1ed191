// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// distribute binaries.
//
// Configuration is loaded from a single file specified by either the
// DISTRIBUTE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// Variable expansion is performed on path fields after loading:
// ${VAR} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// The same file shape serves both sides of the system: the source
// host reads paths.pool, paths.staging, hosts, signer, and transport;
// a destination host reads paths.drop, paths.registry, paths.audit,
// signer, install, and lockdown. Unused sections may be omitted.
//
// This package depends on no other distribute packages.
package config
