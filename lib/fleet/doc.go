// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet maintains the catalog of registered slaves.
//
// The registry owns the Slave records: unique non-empty names, a
// single default slave, and mutation through Add/Remove only. It does
// not touch disk itself — every mutation produces a new global
// configuration snapshot handed to the injected [Store], keeping the
// fleet state explicit rather than ambient.
//
// Probing and the tool availability check use the transport directly:
// one connection attempt, no retry, failure reported as-is.
package fleet
