// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport abstracts the remote-shell and file-transfer
// capabilities that the build orchestration engine depends on:
// connecting to a slave, running a command with streamed output,
// one-way tree synchronization, and a handful of remote file
// primitives used by the lock coordinator.
//
// Two implementations are provided:
//
//   - [SSH] wraps golang.org/x/crypto/ssh for command execution and
//     shells out to rsync for tree transfer, mirroring how operators
//     reach these machines by hand.
//   - [Memory] is an in-memory fake for deterministic tests: scripted
//     command handlers, a per-slave file map with atomic
//     create-if-absent, and a local-filesystem SyncTree that honors
//     exclude patterns.
//
// Key exports:
//
//   - [Transport] and [Session] -- the capability interfaces
//   - [OutputSink] -- streamed line delivery while a command runs
//   - [ErrExists], [ErrNotExist] -- remote file primitive sentinels
//   - [ConnectError] -- connectivity failure with the slave attached
package transport
