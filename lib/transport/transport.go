// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cifarm-project/cifarm/lib/schema"
)

// Stream identifies which remote stream a line of output arrived on.
type Stream int

const (
	// Stdout is the remote process's standard output.
	Stdout Stream = iota
	// Stderr is the remote process's standard error.
	Stderr
)

// OutputSink receives output lines incrementally while a remote
// command is still running. Lines on the same stream arrive in
// emission order; interleaving across streams is best-effort. A nil
// sink discards output.
//
// Implementations of [Session.Run] may invoke the sink from multiple
// goroutines (one per stream); callers that aggregate both streams
// must make the sink safe for concurrent use.
type OutputSink func(stream Stream, line string)

// Command is one remote command execution request.
type Command struct {
	// WorkingDir is the remote directory to run in. Empty means the
	// login default.
	WorkingDir string

	// Command is the shell command line, interpreted by the remote
	// POSIX shell.
	Command string
}

// SyncSpec describes one tree transfer into a slave's build directory.
type SyncSpec struct {
	// LocalPath is the local project root. Its contents (not the
	// directory itself) are transferred.
	LocalPath string

	// Slave is the destination machine.
	Slave schema.Slave

	// RemotePath is the destination directory on the slave. Created
	// if absent. Files present remotely but deleted locally are
	// removed (one-way mirror).
	RemotePath string

	// Excludes are glob patterns matched against path components;
	// matching paths are not transferred and existing remote copies
	// are left alone.
	Excludes []string
}

// Transport provides connectivity and tree transfer to slaves. One
// Transport serves any number of slaves; per-slave state lives in the
// Session returned by Connect.
type Transport interface {
	// Connect opens a remote-shell session to the slave. A single
	// connection attempt is made; failures are returned immediately
	// as a *ConnectError with no retry.
	Connect(ctx context.Context, slave schema.Slave) (Session, error)

	// SyncTree performs the one-way transfer described by spec,
	// streaming transfer progress lines to sink.
	SyncTree(ctx context.Context, spec SyncSpec, sink OutputSink) error
}

// Session is an established connection to one slave. Sessions are not
// safe for concurrent use; one build session drives one transport
// session sequentially.
type Session interface {
	// Run executes the command, streaming output to sink, and returns
	// the remote exit code. A non-zero exit is not an error — the
	// error return covers transport failures and context
	// cancellation. When ctx is cancelled or times out, the remote
	// process is terminated before Run returns.
	Run(ctx context.Context, command Command, sink OutputSink) (int, error)

	// CreateExclusive atomically creates the remote file with the
	// given content, failing with [ErrExists] if the path already
	// exists. This is the primitive the build lock's mutual-exclusion
	// guarantee rests on: two concurrent calls for the same path see
	// exactly one winner.
	CreateExclusive(ctx context.Context, path string, content []byte) error

	// ReadFile returns the content of the remote file, or [ErrNotExist].
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Remove deletes the remote file. Removing an absent file is not
	// an error.
	Remove(ctx context.Context, path string) error

	// MkdirAll creates the remote directory and any parents.
	MkdirAll(ctx context.Context, path string) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// ErrExists is returned by CreateExclusive when the path is already
// present on the slave.
var ErrExists = errors.New("remote file already exists")

// ErrNotExist is returned by ReadFile when the path is absent.
var ErrNotExist = errors.New("remote file does not exist")

// ConnectError reports a failed connection attempt to a slave. The
// orchestration engine makes exactly one attempt per operation, so
// this error always surfaces to the caller.
type ConnectError struct {
	Slave  string
	Reason error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to slave %q: %v", e.Slave, e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Reason }
