// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cifarm-project/cifarm/lib/schema"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMemoryConnect(t *testing.T) {
	memory := NewMemory()
	memory.AddSlave("pi4")
	slave := schema.Slave{Name: "pi4", Host: "h", User: "root"}

	session, err := memory.Connect(context.Background(), slave)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.Close()

	// Unknown slave.
	_, err = memory.Connect(context.Background(), schema.Slave{Name: "ghost", Host: "h"})
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("Connect to unknown slave = %v, want *ConnectError", err)
	}

	// Marked unreachable.
	memory.SetUnreachable("pi4", errors.New("powered off"))
	_, err = memory.Connect(context.Background(), slave)
	if !errors.As(err, &connectErr) {
		t.Fatalf("Connect to unreachable slave = %v, want *ConnectError", err)
	}
}

func TestMemorySyncTreeExcludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.c":             "int main() {}",
		"Makefile":           "all:",
		".git/HEAD":          "ref",
		".git/objects/ab/cd": "blob",
		"build/out.o":        "obj",
		"src/util.c":         "void f() {}",
		"src/util.o":         "obj",
	})

	memory := NewMemory()
	memory.AddSlave("pi4")
	slave := schema.Slave{Name: "pi4", Host: "h", User: "root"}
	spec := SyncSpec{
		LocalPath:  root,
		Slave:      slave,
		RemotePath: "/builds/proj",
		Excludes:   []string{".git", "build", "*.o"},
	}

	var streamed []string
	sink := func(stream Stream, line string) { streamed = append(streamed, line) }
	if err := memory.SyncTree(context.Background(), spec, sink); err != nil {
		t.Fatalf("SyncTree: %v", err)
	}

	want := []string{
		"/builds/proj/Makefile",
		"/builds/proj/main.c",
		"/builds/proj/src/util.c",
	}
	if got := memory.Paths("pi4"); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths = %v, want %v", got, want)
	}
	if len(streamed) != 3 {
		t.Errorf("sink saw %d lines, want 3: %v", len(streamed), streamed)
	}

	syncs := memory.Syncs("pi4")
	if len(syncs) != 1 || syncs[0].RemotePath != "/builds/proj" {
		t.Errorf("Syncs = %+v", syncs)
	}
}

func TestMemorySyncTreeMirrorsDeletions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.c":  "int main() {}",
		"stale.c": "gone soon",
	})

	memory := NewMemory()
	memory.AddSlave("pi4")
	slave := schema.Slave{Name: "pi4", Host: "h", User: "root"}
	spec := SyncSpec{
		LocalPath:  root,
		Slave:      slave,
		RemotePath: "/builds/proj",
		Excludes:   []string{"*.o"},
	}

	ctx := context.Background()
	if err := memory.SyncTree(ctx, spec, nil); err != nil {
		t.Fatalf("SyncTree: %v", err)
	}

	// Remote-only state between syncs: a build artifact the excludes
	// protect, and a lock marker outside the synced tree.
	session, err := memory.Connect(ctx, slave)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Close()
	if err := session.CreateExclusive(ctx, "/builds/proj/main.o", []byte("obj")); err != nil {
		t.Fatalf("CreateExclusive: %v", err)
	}
	if err := session.CreateExclusive(ctx, "/builds/.cifarm.lock", []byte("held")); err != nil {
		t.Fatalf("CreateExclusive: %v", err)
	}

	if err := os.Remove(filepath.Join(root, "stale.c")); err != nil {
		t.Fatal(err)
	}
	if err := memory.SyncTree(ctx, spec, nil); err != nil {
		t.Fatalf("second SyncTree: %v", err)
	}

	want := []string{
		"/builds/.cifarm.lock",
		"/builds/proj/main.c",
		"/builds/proj/main.o",
	}
	if got := memory.Paths("pi4"); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths after re-sync = %v, want %v", got, want)
	}
}

func TestMemoryCreateExclusive(t *testing.T) {
	memory := NewMemory()
	memory.AddSlave("pi4")
	slave := schema.Slave{Name: "pi4", Host: "h", User: "root"}
	session, err := memory.Connect(context.Background(), slave)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Close()

	ctx := context.Background()
	if err := session.CreateExclusive(ctx, "/builds/.lock", []byte("a")); err != nil {
		t.Fatalf("first CreateExclusive: %v", err)
	}
	err = session.CreateExclusive(ctx, "/builds/.lock", []byte("b"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second CreateExclusive = %v, want ErrExists", err)
	}

	// The loser must not have overwritten the winner's content.
	content, _ := memory.File("pi4", "/builds/.lock")
	if string(content) != "a" {
		t.Errorf("lock content = %q, want %q", content, "a")
	}

	if _, err := session.ReadFile(ctx, "/absent"); !errors.Is(err, ErrNotExist) {
		t.Errorf("ReadFile on absent path = %v, want ErrNotExist", err)
	}
	if err := session.Remove(ctx, "/builds/.lock"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := session.Remove(ctx, "/builds/.lock"); err != nil {
		t.Fatalf("Remove of absent file: %v", err)
	}
}

func TestMemoryRunRecordsCommands(t *testing.T) {
	memory := NewMemory()
	memory.AddSlave("pi4")
	memory.Handle("pi4", func(ctx context.Context, command Command, sink OutputSink) (int, error) {
		sink(Stdout, "compiling")
		sink(Stderr, "warning: unused")
		return 2, nil
	})
	slave := schema.Slave{Name: "pi4", Host: "h", User: "root"}
	session, err := memory.Connect(context.Background(), slave)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Close()

	var stdout, stderr []string
	sink := func(stream Stream, line string) {
		if stream == Stderr {
			stderr = append(stderr, line)
			return
		}
		stdout = append(stdout, line)
	}
	exitCode, err := session.Run(context.Background(), Command{WorkingDir: "/builds/proj", Command: "make"}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 2 {
		t.Errorf("exit code = %d, want 2", exitCode)
	}
	if !reflect.DeepEqual(stdout, []string{"compiling"}) || !reflect.DeepEqual(stderr, []string{"warning: unused"}) {
		t.Errorf("streams = %v / %v", stdout, stderr)
	}
	if got := memory.Commands("pi4"); !reflect.DeepEqual(got, []string{"make"}) {
		t.Errorf("Commands = %v", got)
	}
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"src/main.c", []string{".git"}, false},
		{".git/HEAD", []string{".git"}, true},
		{"deep/node_modules/pkg/index.js", []string{"node_modules"}, true},
		{"obj/main.o", []string{"*.o"}, true},
		{"main.c", []string{"*.o"}, false},
		{"anything", nil, false},
	}
	for _, test := range tests {
		if got := excluded(test.path, test.patterns); got != test.want {
			t.Errorf("excluded(%q, %v) = %v, want %v", test.path, test.patterns, got, test.want)
		}
	}
}
