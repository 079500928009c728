// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer pushes a project tree to a slave's build directory.
//
// A sync is two phases in strict order: the project's pre-sync hooks
// run locally first (a failing hook aborts before any bytes move),
// then the transport performs the one-way delta transfer with the
// exclude patterns applied. Sync never touches the build lock — it
// runs before lock acquisition, so a failed sync cannot leave a slave
// locked.
package syncer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// HookError reports a pre-sync hook that exited non-zero. The
// transfer was not started.
type HookError struct {
	Command  string
	ExitCode int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("pre-sync hook %q exited %d", e.Command, e.ExitCode)
}

// Failure reports a failed transfer to a slave.
type Failure struct {
	Slave  string
	Reason error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("sync to slave %q failed: %v", e.Slave, e.Reason)
}

func (e *Failure) Unwrap() error { return e.Reason }

// Engine runs syncs over an injected transport.
type Engine struct {
	Transport transport.Transport

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// runHook is a test seam for local hook execution; nil runs the
	// hook with the local shell in the project root.
	runHook func(ctx context.Context, dir, command string, sink transport.OutputSink) (int, error)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Sync runs the pre-sync hooks and transfers the project tree,
// returning the remote directory the tree now lives in. Hook output
// and transfer progress stream to sink as they happen.
func (e *Engine) Sync(ctx context.Context, project schema.Project, slave schema.Slave, preSync, excludes []string, sink transport.OutputSink) (string, error) {
	for _, hook := range preSync {
		e.logger().Info("running pre-sync hook", "project", project.Name, "command", hook)
		exitCode, err := e.runOneHook(ctx, project.Root, hook, sink)
		if err != nil {
			return "", fmt.Errorf("pre-sync hook %q: %w", hook, err)
		}
		if exitCode != 0 {
			return "", &HookError{Command: hook, ExitCode: exitCode}
		}
	}

	remotePath := project.RemoteDir(slave)
	e.logger().Info("syncing project",
		"project", project.Name, "slave", slave.Name, "remote_path", remotePath)

	spec := transport.SyncSpec{
		LocalPath:  project.Root,
		Slave:      slave,
		RemotePath: remotePath,
		Excludes:   excludes,
	}
	if err := e.Transport.SyncTree(ctx, spec, sink); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Failure{Slave: slave.Name, Reason: err}
	}
	return remotePath, nil
}

func (e *Engine) runOneHook(ctx context.Context, dir, command string, sink transport.OutputSink) (int, error) {
	if e.runHook != nil {
		return e.runHook(ctx, dir, command, sink)
	}
	return runLocalShell(ctx, dir, command, sink)
}

// runLocalShell executes a hook with "sh -c" in dir, streaming both
// output streams to sink line by line.
func runLocalShell(ctx context.Context, dir, command string, sink transport.OutputSink) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting hook: %w", err)
	}

	var readers sync.WaitGroup
	for _, pipe := range []struct {
		stream transport.Stream
		reader *bufio.Scanner
	}{
		{transport.Stdout, bufio.NewScanner(stdout)},
		{transport.Stderr, bufio.NewScanner(stderr)},
	} {
		pipe := pipe
		readers.Add(1)
		go func() {
			defer readers.Done()
			for pipe.reader.Scan() {
				if sink != nil {
					sink(pipe.stream, pipe.reader.Text())
				}
			}
		}()
	}
	readers.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
