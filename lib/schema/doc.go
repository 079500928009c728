// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the shared data types that circulate between
// the CI Farm packages: the slave machine record and the project
// identity.
//
// Key exports:
//
//   - [Slave] -- a registered build machine and its connection settings
//   - [Project] -- a local project tree with a stable identity digest
//   - [NewProject] -- derives a Project from a local path
//
// This package depends on no other CI Farm packages, so every layer
// (transport, fleet, lock, orchestrator) can share these types without
// import cycles.
package schema
