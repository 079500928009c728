// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs the resolved build command on a slave.
//
// Output streams to the caller's sink while the command is still
// running — the log sink sees every line before the exit code is
// known. A configured timeout terminates the remote process rather
// than waiting it out, and a local interrupt does the same so a
// cancelled build does not leave an orphaned process on the slave.
// Both outcomes are reported as a cancelled result, distinct from an
// ordinary non-zero exit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cifarm-project/cifarm/lib/transport"
)

// CancelReason says why a run was cancelled.
type CancelReason int

const (
	// NotCancelled is the zero reason of a run that finished.
	NotCancelled CancelReason = iota
	// Timeout means the configured build timeout elapsed.
	Timeout
	// Interrupted means the caller cancelled (user interrupt).
	Interrupted
)

func (r CancelReason) String() string {
	switch r {
	case Timeout:
		return "timeout"
	case Interrupted:
		return "interrupt"
	default:
		return "none"
	}
}

// Result is the outcome of one remote command run.
type Result struct {
	// ExitCode is the remote exit code; -1 when cancelled.
	ExitCode int

	// Cancelled is true when the run was terminated by timeout or
	// interrupt instead of exiting on its own.
	Cancelled bool

	// Reason distinguishes the two cancellation causes.
	Reason CancelReason

	// Duration is wall time from start to exit or termination.
	Duration time.Duration
}

// HookError reports a post-build hook that exited non-zero. The
// primary build already succeeded when this is raised, but the
// session still counts as failed.
type HookError struct {
	Command  string
	ExitCode int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("post-build hook %q exited %d", e.Command, e.ExitCode)
}

// Executor runs commands through an established transport session.
type Executor struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run executes command in remotePath on the session, streaming output
// to sink. A timeout of zero means unbounded. Cancellation — the
// timeout elapsing or ctx being cancelled — yields a cancelled
// Result, not an error; the error return is reserved for transport
// failures.
func (e *Executor) Run(ctx context.Context, session transport.Session, remotePath, command string, timeout time.Duration, sink transport.OutputSink) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger().Info("running remote command", "command", command, "working_dir", remotePath)
	start := time.Now()

	exitCode, err := session.Run(runCtx, transport.Command{
		WorkingDir: remotePath,
		Command:    command,
	}, sink)
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			e.logger().Warn("remote command timed out", "command", command, "timeout", timeout)
			return Result{ExitCode: -1, Cancelled: true, Reason: Timeout, Duration: duration}, nil
		case ctx.Err() != nil:
			e.logger().Warn("remote command interrupted", "command", command)
			return Result{ExitCode: -1, Cancelled: true, Reason: Interrupted, Duration: duration}, nil
		default:
			return Result{ExitCode: -1, Duration: duration}, err
		}
	}

	return Result{ExitCode: exitCode, Duration: duration}, nil
}

// RunHooks executes the post-build hooks in order in remotePath,
// stopping at the first failure. Hooks run unbounded — the build
// timeout applies to the build command, not to its follow-ups — but
// still honor ctx cancellation.
func (e *Executor) RunHooks(ctx context.Context, session transport.Session, remotePath string, hooks []string, sink transport.OutputSink) error {
	for _, hook := range hooks {
		e.logger().Info("running post-build hook", "command", hook)
		exitCode, err := session.Run(ctx, transport.Command{
			WorkingDir: remotePath,
			Command:    hook,
		}, sink)
		if err != nil {
			return fmt.Errorf("post-build hook %q: %w", hook, err)
		}
		if exitCode != 0 {
			return &HookError{Command: hook, ExitCode: exitCode}
		}
	}
	return nil
}
