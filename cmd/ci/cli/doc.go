// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the ci binary: a small
// pflag-based command tree with structured help, typo suggestions for
// unknown subcommands, and the shared environment (configuration,
// fleet registry, transport) that command handlers run against.
package cli
