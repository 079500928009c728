// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and persists CI Farm configuration.
//
// Two YAML files exist, both named .cifarm.yaml: the global file in
// the operator's home directory (the fleet: slaves, default slave,
// fleet-wide project defaults) and an optional project-local file at
// the project root (build command, hooks, excludes, timeout). There
// is no other discovery — a file is either at its documented path or
// treated as absent.
//
// Key exports:
//
//   - [Global], [Project], [Effective] -- the three configuration shapes
//   - [Merge] -- pure field-level override of project over global defaults
//   - [LoadGlobal], [LoadProject], [SaveGlobal] -- file access
//   - [FileStore] -- the persistence collaborator handed to the fleet
//     registry
package config
