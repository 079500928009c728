// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/executor"
	"github.com/cifarm-project/cifarm/lib/fleet"
	"github.com/cifarm-project/cifarm/lib/lock"
	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/syncer"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// harness wires an orchestrator over a memory transport with the named
// slaves registered.
type harness struct {
	memory       *transport.Memory
	orchestrator *Orchestrator

	mu     sync.Mutex
	output []string
}

func newHarness(t *testing.T, slaveNames ...string) *harness {
	t.Helper()
	memory := transport.NewMemory()
	var slaves []schema.Slave
	for _, name := range slaveNames {
		memory.AddSlave(name)
		slaves = append(slaves, schema.Slave{
			Name: name, Host: name + ".local", User: "root", BuildDir: "/builds",
		})
	}
	registry := fleet.NewRegistry(config.Global{Slaves: slaves, DefaultSlave: slaveNames[0]}, nil)

	h := &harness{memory: memory}
	h.orchestrator = &Orchestrator{
		Transport: memory,
		Registry:  registry,
		Locks:     &lock.Coordinator{},
		Syncer:    &syncer.Engine{Transport: memory},
		Executor:  &executor.Executor{},
		Sink: func(stream transport.Stream, line string) {
			h.mu.Lock()
			h.output = append(h.output, line)
			h.mu.Unlock()
		},
	}
	return h
}

func (h *harness) slave(name string) schema.Slave {
	slave, _ := h.orchestrator.Registry.Get(name)
	return slave
}

func makeProject(t *testing.T, files map[string]string) schema.Project {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	project, err := schema.NewProject(root)
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	return project
}

func lockedDuringBuild(h *harness, name string, t *testing.T) transport.CommandHandler {
	return func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		if _, held := h.memory.File(name, "/builds/"+lock.MarkerName); !held {
			t.Error("build ran without the lock marker present")
		}
		sink(transport.Stdout, "building "+command.Command)
		return 0, nil
	}
}

func TestBuildHappyPath(t *testing.T) {
	h := newHarness(t, "pi4")
	h.memory.Handle("pi4", lockedDuringBuild(h, "pi4", t))
	project := makeProject(t, map[string]string{"Makefile": "all:", "main.c": "int main(){}"})

	session, err := h.orchestrator.Build(context.Background(), Request{Project: project})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantHistory := []State{Pending, Syncing, Locking, Building, PostBuild, Completed}
	if !reflect.DeepEqual(session.History, wantHistory) {
		t.Errorf("History = %v, want %v", session.History, wantHistory)
	}
	if session.Command != "make" {
		t.Errorf("Command = %q, want detected make", session.Command)
	}
	if session.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", session.ExitCode)
	}
	if session.RemotePath != project.RemoteDir(h.slave("pi4")) {
		t.Errorf("RemotePath = %q", session.RemotePath)
	}

	// The tree was transferred and the lock released afterwards.
	if _, ok := h.memory.File("pi4", session.RemotePath+"/main.c"); !ok {
		t.Error("project tree not on the slave")
	}
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock still held after a completed build")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.output) == 0 {
		t.Error("no output streamed to the sink")
	}
}

func TestBuildLockHeldFailsBeforeSync(t *testing.T) {
	h := newHarness(t, "pi4")
	h.memory.WriteFile("pi4", "/builds/"+lock.MarkerName,
		[]byte("project: other\nowner: someone-else\n"))
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{Project: project})
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Fatalf("Build = %v, want *lock.HeldError", err)
	}
	if held.Info == nil || held.Info.Project != "other" {
		t.Errorf("HeldError.Info = %+v", held.Info)
	}
	if !reflect.DeepEqual(session.History, []State{Pending, Failed}) {
		t.Errorf("History = %v, want [pending failed]", session.History)
	}
	if syncs := h.memory.Syncs("pi4"); len(syncs) != 0 {
		t.Error("sync ran against a locked slave")
	}
	// The foreign lock must survive the failed attempt.
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); !held {
		t.Error("foreign lock marker removed")
	}
}

func TestBuildCommandFailureReleasesLock(t *testing.T) {
	h := newHarness(t, "pi4")
	h.memory.Handle("pi4", func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		sink(transport.Stderr, "main.c:1: error")
		return 2, nil
	})
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{Project: project})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Build = %v, want *ExecutionError", err)
	}
	if execErr.ExitCode != 2 || execErr.Slave != "pi4" {
		t.Errorf("ExecutionError = %+v", execErr)
	}
	if session.State != Failed {
		t.Errorf("State = %v, want Failed", session.State)
	}
	if session.ExitCode != 2 {
		t.Errorf("Session.ExitCode = %d, want 2", session.ExitCode)
	}
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock not released after a failed build")
	}
}

func TestBuildNoBuildCommand(t *testing.T) {
	h := newHarness(t, "pi4")
	project := makeProject(t, map[string]string{"README": "nothing to build"})

	session, err := h.orchestrator.Build(context.Background(), Request{Project: project})
	if err == nil {
		t.Fatal("Build succeeded with no resolvable command")
	}
	if session.State != Failed {
		t.Errorf("State = %v, want Failed", session.State)
	}
	// Resolution happens after locking; the lock must not leak.
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock not released after command resolution failure")
	}
}

func TestBuildInterruptReleasesLock(t *testing.T) {
	h := newHarness(t, "pi4")
	started := make(chan struct{})
	h.memory.Handle("pi4", func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		close(started)
		<-ctx.Done()
		return -1, ctx.Err()
	})
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	session, err := h.orchestrator.Build(ctx, Request{Project: project})
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("Build = %v, want *CancelledError", err)
	}
	if cancelled.Reason != executor.Interrupted {
		t.Errorf("Reason = %v, want Interrupted", cancelled.Reason)
	}
	if session.State != Cancelled {
		t.Errorf("State = %v, want Cancelled", session.State)
	}
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock not released after an interrupted build")
	}
}

func TestBuildTimeout(t *testing.T) {
	h := newHarness(t, "pi4")
	h.memory.Handle("pi4", func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		<-ctx.Done()
		return -1, ctx.Err()
	})
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{
		Project:  project,
		Settings: config.Effective{Timeout: 20 * time.Millisecond},
	})
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("Build = %v, want *CancelledError", err)
	}
	if cancelled.Reason != executor.Timeout {
		t.Errorf("Reason = %v, want Timeout", cancelled.Reason)
	}
	if session.CancelReason != executor.Timeout {
		t.Errorf("Session.CancelReason = %v", session.CancelReason)
	}
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock not released after a timed-out build")
	}
}

func TestBuildCommandPrecedence(t *testing.T) {
	// Explicit override beats the configured command beats detection.
	h := newHarness(t, "pi4")
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{
		Project:         project,
		CommandOverride: "ninja",
		Settings:        config.Effective{BuildCommand: "meson compile"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if session.Command != "ninja" {
		t.Errorf("Command = %q, want override ninja", session.Command)
	}

	session, err = h.orchestrator.Build(context.Background(), Request{
		Project:  project,
		Settings: config.Effective{BuildCommand: "meson compile"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if session.Command != "meson compile" {
		t.Errorf("Command = %q, want configured meson compile", session.Command)
	}
}

func TestBuildPostBuildHookFailure(t *testing.T) {
	h := newHarness(t, "pi4")
	h.memory.Handle("pi4", func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		if command.Command == "make test" {
			return 1, nil
		}
		return 0, nil
	})
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{
		Project:  project,
		Settings: config.Effective{PostBuild: []string{"make test"}},
	})
	var hookErr *executor.HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("Build = %v, want *executor.HookError", err)
	}
	if session.State != Failed {
		t.Errorf("State = %v, want Failed", session.State)
	}
	// The build itself succeeded before the hook failed.
	if session.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", session.ExitCode)
	}
	if _, held := h.memory.File("pi4", "/builds/"+lock.MarkerName); held {
		t.Error("lock not released after hook failure")
	}
}

func TestBuildExplicitSlave(t *testing.T) {
	h := newHarness(t, "pi4", "desktop")
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{
		Project:   project,
		SlaveName: "desktop",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if session.Slave.Name != "desktop" {
		t.Errorf("built on %q, want desktop", session.Slave.Name)
	}

	if _, err := h.orchestrator.Build(context.Background(), Request{
		Project:   project,
		SlaveName: "ghost",
	}); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("Build on unknown slave = %v, want ErrNotFound", err)
	}
}

func TestSelectAutoSkipsBusySlaves(t *testing.T) {
	h := newHarness(t, "offline", "busy", "free")
	h.memory.SetUnreachable("offline", errors.New("no route"))
	h.memory.WriteFile("busy", "/builds/"+lock.MarkerName, []byte("project: other\n"))

	slave, err := h.orchestrator.SelectAuto(context.Background())
	if err != nil {
		t.Fatalf("SelectAuto: %v", err)
	}
	if slave.Name != "free" {
		t.Errorf("SelectAuto = %q, want free", slave.Name)
	}
}

func TestSelectAutoNoneAvailable(t *testing.T) {
	h := newHarness(t, "offline", "busy")
	h.memory.SetUnreachable("offline", errors.New("no route"))
	h.memory.WriteFile("busy", "/builds/"+lock.MarkerName, []byte("project: other\n"))

	if _, err := h.orchestrator.SelectAuto(context.Background()); !errors.Is(err, ErrNoAvailableSlave) {
		t.Fatalf("SelectAuto = %v, want ErrNoAvailableSlave", err)
	}
}

func TestBuildAutoSelection(t *testing.T) {
	h := newHarness(t, "busy", "free")
	h.memory.WriteFile("busy", "/builds/"+lock.MarkerName, []byte("project: other\n"))
	project := makeProject(t, map[string]string{"Makefile": "all:"})

	session, err := h.orchestrator.Build(context.Background(), Request{Project: project, Auto: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if session.Slave.Name != "free" {
		t.Errorf("auto-selected %q, want free", session.Slave.Name)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "free", "offline", "busy")
	h.memory.SetUnreachable("offline", errors.New("no route"))
	h.memory.WriteFile("busy", "/builds/"+lock.MarkerName,
		[]byte("project: widget\nowner: abc\n"))

	statuses := h.orchestrator.Status(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("Status returned %d rows, want 3", len(statuses))
	}

	byName := map[string]SlaveStatus{}
	for _, status := range statuses {
		byName[status.Slave.Name] = status
	}
	if byName["free"].State != StatusAvailable {
		t.Errorf("free = %v, want available", byName["free"].State)
	}
	if byName["offline"].State != StatusUnreachable || byName["offline"].Reason == "" {
		t.Errorf("offline = %+v, want unreachable with reason", byName["offline"])
	}
	locked := byName["busy"]
	if locked.State != StatusLocked || locked.Lock == nil || locked.Lock.Project != "widget" {
		t.Errorf("busy = %+v, want locked by widget", locked)
	}
}
