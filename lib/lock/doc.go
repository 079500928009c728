// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock coordinates the per-slave build lock.
//
// The lock is a marker file at a fixed path inside the slave's build
// directory. Mutual exclusion rests entirely on the transport's
// atomic create-if-absent primitive: of two concurrent acquisitions,
// exactly one creates the marker and the other fails fast with
// [HeldError] — no queueing, no blocking, no retry.
//
// The marker's content is advisory only: project name and identity
// digest, owner token, acquisition time, serialized as YAML so an
// operator can read it with cat. Correctness never depends on the
// content; a corrupt or empty marker still locks the slave.
//
// Locks do not expire. A session that crashes without releasing
// leaves the marker behind until an operator force-unlocks the slave;
// [Coordinator.Inspect] surfaces the lock's age so staleness is
// visible before doing so.
package lock
