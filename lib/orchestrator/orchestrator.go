// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/detect"
	"github.com/cifarm-project/cifarm/lib/executor"
	"github.com/cifarm-project/cifarm/lib/fleet"
	"github.com/cifarm-project/cifarm/lib/lock"
	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/syncer"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// State is a build session's position in the state machine.
type State string

const (
	Pending   State = "pending"
	Syncing   State = "syncing"
	Locking   State = "locking"
	Building  State = "building"
	PostBuild State = "post-build"
	Completed State = "completed"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// ErrNoAvailableSlave is returned by SelectAuto when every registered
// slave is unreachable or locked.
var ErrNoAvailableSlave = errors.New("no available slave: all slaves unreachable or locked")

// ExecutionError reports a build command that exited non-zero on the
// slave.
type ExecutionError struct {
	Slave    string
	Command  string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("build command %q exited %d on slave %q", e.Command, e.ExitCode, e.Slave)
}

// CancelledError reports a session terminated by timeout or local
// interrupt. Distinct from ordinary failure: the remote process was
// force-terminated rather than exiting.
type CancelledError struct {
	Slave  string
	Reason executor.CancelReason
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("build cancelled on slave %q (%s)", e.Slave, e.Reason)
}

// Request describes one build invocation.
type Request struct {
	// Project is the local project to build.
	Project schema.Project

	// SlaveName selects a slave explicitly. Empty means the default
	// slave, or auto-selection when Auto is set.
	SlaveName string

	// Auto picks the first reachable unlocked slave instead of the
	// default. Ignored when SlaveName is set.
	Auto bool

	// CommandOverride bypasses both the configured build command and
	// marker detection.
	CommandOverride string

	// Settings is the merged effective configuration for this build.
	Settings config.Effective
}

// Session is the record of one build, owned by the orchestrator for
// the duration of the call and returned for inspection afterwards.
type Session struct {
	Slave      schema.Slave
	Project    schema.Project
	RemotePath string
	Command    string
	State      State
	StartedAt  time.Time
	EndedAt    time.Time

	// ExitCode is the build command's exit code, -1 before the build
	// ran or after cancellation.
	ExitCode int

	// CancelReason is set when State is Cancelled.
	CancelReason executor.CancelReason

	// Err is the error that moved the session to Failed or Cancelled.
	Err error

	// History records every state entered, in order.
	History []State
}

func (s *Session) setState(logger *slog.Logger, state State) {
	s.State = state
	s.History = append(s.History, state)
	logger.Info("build state", "state", state, "slave", s.Slave.Name, "project", s.Project.Name)
}

// Orchestrator wires the build pipeline together. All fields must be
// set except Logger and Sink.
type Orchestrator struct {
	Transport transport.Transport
	Registry  *fleet.Registry
	Locks     *lock.Coordinator
	Syncer    *syncer.Engine
	Executor  *executor.Executor

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Sink receives all streamed output: pre-sync hooks, transfer
	// progress, build output, post-build hooks. Nil discards.
	Sink transport.OutputSink
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// releaseTimeout bounds lock release on a cancelled session. Release
// must not inherit the cancelled context or an interrupt would strand
// the lock on the slave.
const releaseTimeout = 15 * time.Second

// Build runs one session against one slave. The returned Session
// always carries the full state history; the error is nil only for a
// Completed session.
func (o *Orchestrator) Build(ctx context.Context, request Request) (*Session, error) {
	slave, err := o.chooseSlave(ctx, request)
	if err != nil {
		return nil, err
	}

	session := &Session{
		Slave:     slave,
		Project:   request.Project,
		StartedAt: time.Now(),
		ExitCode:  -1,
	}
	session.setState(o.logger(), Pending)
	defer func() { session.EndedAt = time.Now() }()

	fail := func(err error) (*Session, error) {
		session.Err = err
		session.setState(o.logger(), Failed)
		return session, err
	}

	// One transport session carries the whole build: lock check,
	// lock, build, hooks, release.
	remote, err := o.Transport.Connect(ctx, slave)
	if err != nil {
		return fail(err)
	}
	defer remote.Close()

	// Fail fast on a lock held by another session before spending
	// time on hooks and transfer. The authoritative check is still
	// the atomic acquire below — this one only saves wasted work.
	if info, err := o.Locks.Inspect(ctx, remote, slave); err != nil {
		return fail(err)
	} else if info != nil {
		return fail(&lock.HeldError{Slave: slave.Name, Info: info})
	}

	// Syncing: pre-sync hooks, then the tree transfer. Nothing on the
	// slave is locked yet, so a failure here leaves no state behind.
	session.setState(o.logger(), Syncing)
	remotePath, err := o.Syncer.Sync(ctx, request.Project, slave, request.Settings.PreSync, request.Settings.Exclude, o.Sink)
	if err != nil {
		return fail(err)
	}
	session.RemotePath = remotePath

	session.setState(o.logger(), Locking)
	buildLock, err := o.Locks.Acquire(ctx, remote, slave, request.Project)
	if err != nil {
		return fail(err)
	}
	defer func() {
		// Scoped release on every exit path, detached from ctx so an
		// interrupt cannot prevent it.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := o.Locks.Release(releaseCtx, remote, buildLock); err != nil {
			o.logger().Error("lock release failed", "slave", slave.Name, "error", err)
		}
	}()

	override := request.CommandOverride
	if override == "" {
		override = request.Settings.BuildCommand
	}
	command, err := detect.Resolve(request.Project.Root, override)
	if err != nil {
		return fail(err)
	}
	session.Command = command

	session.setState(o.logger(), Building)
	result, err := o.Executor.Run(ctx, remote, remotePath, command, request.Settings.Timeout, o.Sink)
	if err != nil {
		return fail(err)
	}
	if result.Cancelled {
		return o.cancel(session, result.Reason)
	}
	session.ExitCode = result.ExitCode
	if result.ExitCode != 0 {
		return fail(&ExecutionError{Slave: slave.Name, Command: command, ExitCode: result.ExitCode})
	}

	session.setState(o.logger(), PostBuild)
	if err := o.Executor.RunHooks(ctx, remote, remotePath, request.Settings.PostBuild, o.Sink); err != nil {
		if ctx.Err() != nil {
			return o.cancel(session, executor.Interrupted)
		}
		return fail(err)
	}

	session.setState(o.logger(), Completed)
	return session, nil
}

func (o *Orchestrator) cancel(session *Session, reason executor.CancelReason) (*Session, error) {
	err := &CancelledError{Slave: session.Slave.Name, Reason: reason}
	session.CancelReason = reason
	session.Err = err
	session.setState(o.logger(), Cancelled)
	return session, err
}

// chooseSlave resolves the target slave for a request: explicit name,
// auto-selection, or the registry default, in that order.
func (o *Orchestrator) chooseSlave(ctx context.Context, request Request) (schema.Slave, error) {
	if request.SlaveName != "" {
		return o.Registry.Get(request.SlaveName)
	}
	if request.Auto {
		return o.SelectAuto(ctx)
	}
	slave, ok := o.Registry.Default()
	if !ok {
		return schema.Slave{}, fmt.Errorf("no slaves registered")
	}
	return slave, nil
}

// SelectAuto returns the first slave in registry order that is both
// reachable and unlocked. Selection is positional, not load-based:
// registry order is the operator's preference order.
func (o *Orchestrator) SelectAuto(ctx context.Context) (schema.Slave, error) {
	for _, slave := range o.Registry.List() {
		remote, probe := fleet.Probe(ctx, o.Transport, slave)
		if probe.State == fleet.Unreachable {
			o.logger().Debug("auto-select: slave unreachable", "slave", slave.Name, "reason", probe.Reason)
			continue
		}
		info, err := o.Locks.Inspect(ctx, remote, slave)
		remote.Close()
		if err != nil {
			o.logger().Debug("auto-select: lock inspection failed", "slave", slave.Name, "error", err)
			continue
		}
		if info != nil {
			o.logger().Debug("auto-select: slave locked", "slave", slave.Name, "project", info.Project)
			continue
		}
		return slave, nil
	}
	return schema.Slave{}, ErrNoAvailableSlave
}

// StatusState classifies one slave in a status report.
type StatusState string

const (
	StatusAvailable   StatusState = "available"
	StatusUnreachable StatusState = "unreachable"
	StatusLocked      StatusState = "locked"
)

// SlaveStatus is one row of a fleet status report.
type SlaveStatus struct {
	Slave schema.Slave
	State StatusState

	// Reason explains an unreachable slave.
	Reason string

	// Lock is the advisory lock content of a locked slave.
	Lock *lock.Info
}

// Status probes every registered slave and reports availability and
// lock state, in registry order.
func (o *Orchestrator) Status(ctx context.Context) []SlaveStatus {
	var statuses []SlaveStatus
	for _, slave := range o.Registry.List() {
		statuses = append(statuses, o.statusOne(ctx, slave))
	}
	return statuses
}

func (o *Orchestrator) statusOne(ctx context.Context, slave schema.Slave) SlaveStatus {
	remote, probe := fleet.Probe(ctx, o.Transport, slave)
	if probe.State == fleet.Unreachable {
		return SlaveStatus{Slave: slave, State: StatusUnreachable, Reason: probe.Reason}
	}
	defer remote.Close()

	info, err := o.Locks.Inspect(ctx, remote, slave)
	if err != nil {
		return SlaveStatus{Slave: slave, State: StatusUnreachable, Reason: err.Error()}
	}
	if info != nil {
		return SlaveStatus{Slave: slave, State: StatusLocked, Lock: info}
	}
	return SlaveStatus{Slave: slave, State: StatusAvailable}
}
