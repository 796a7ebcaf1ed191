// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for distribute
// packages: filesystem tree builders and content assertions. Helpers
// here must depend only on the standard library so every package's
// tests can import them without cycles.
package testutil
