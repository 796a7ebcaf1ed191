// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle builds and extracts the gzip-compressed tar archives
// distribute ships: per-host configuration bundles and package
// archives with a +CONTENTS packing list.
//
// Entry names inside an archive are always relative (a leading slash
// is stripped at build time), so a bundle built from a staging tree
// extracts cleanly from the filesystem root of the destination host.
//
// Two extraction modes exist and they deliberately do not share a code
// path:
//
//   - [ExtractAll] unpacks every member relative to a root directory.
//     This is for bundles the distributor built and signed; the member
//     list is trusted after signature verification, but paths that
//     escape the root are still rejected.
//   - [ExtractSelective] is driven by a packing list, never by the
//     archive's own member list. Only files the manifest names are
//     extracted, directories come from the manifest's directives, and
//     sample files are copied to their destinations only when those
//     destinations do not exist. Used for foreign packages.
//
// Every built archive gets a keyed BLAKE3 digest ([Digest]) computed
// over the bytes written to disk. The key is domain-separated so a
// bundle digest can never collide with a digest from another context.
package bundle
