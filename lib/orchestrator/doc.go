// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator sequences one build session end to end.
//
// A session walks a fixed state machine:
//
//	Pending → Syncing → Locking → Building → PostBuild → Completed
//
// with Failed reachable from any working state and Cancelled reachable
// from Building and PostBuild on timeout or interrupt. Failures in
// Syncing or Locking stop the session immediately — later stages are
// never attempted — and a held lock is never retried, only surfaced.
//
// The one cleanup guarantee on every exit path: if the slave's build
// lock was acquired, it is released, even when the session itself was
// cancelled. Release runs on a context detached from the cancelled
// one so an interrupt cannot strand the lock.
//
// Key exports:
//
//   - [Orchestrator] -- wiring of transport, fleet, lock, sync, exec
//   - [Orchestrator.Build] -- run one session
//   - [Orchestrator.SelectAuto] -- first reachable unlocked slave
//   - [Orchestrator.Status] -- per-slave availability and lock state
package orchestrator
