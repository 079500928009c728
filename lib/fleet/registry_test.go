// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"errors"
	"testing"

	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// recordingStore captures every snapshot the registry persists.
type recordingStore struct {
	saved []config.Global
}

func (s *recordingStore) SaveGlobal(global config.Global) error {
	s.saved = append(s.saved, global)
	return nil
}

func slaveNamed(name string) schema.Slave {
	return schema.Slave{Name: name, Host: name + ".local", User: "root"}
}

func TestAddFirstSlaveBecomesDefault(t *testing.T) {
	store := &recordingStore{}
	registry := NewRegistry(config.Global{}, store)

	if err := registry.Add(slaveNamed("pi4")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := registry.Add(slaveNamed("desktop")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := registry.Default()
	if !ok || got.Name != "pi4" {
		t.Errorf("Default = %q, %v, want pi4", got.Name, ok)
	}
	if len(store.saved) != 2 {
		t.Errorf("store saw %d snapshots, want 2", len(store.saved))
	}
	if store.saved[1].DefaultSlave != "pi4" {
		t.Errorf("persisted default = %q, want pi4", store.saved[1].DefaultSlave)
	}
}

func TestAddDuplicateName(t *testing.T) {
	registry := NewRegistry(config.Global{}, nil)
	if err := registry.Add(slaveNamed("pi4")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := registry.Add(slaveNamed("pi4")); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Add = %v, want ErrDuplicateName", err)
	}
}

func TestAddRejectsInvalidSlave(t *testing.T) {
	registry := NewRegistry(config.Global{}, nil)
	if err := registry.Add(schema.Slave{Name: "no-host"}); err == nil {
		t.Fatal("Add accepted a slave without a host")
	}
}

func TestRemovePromotesNextDefault(t *testing.T) {
	registry := NewRegistry(config.Global{}, nil)
	for _, name := range []string{"pi4", "desktop", "laptop"} {
		if err := registry.Add(slaveNamed(name)); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	if err := registry.Remove("pi4"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, ok := registry.Default()
	if !ok || got.Name != "desktop" {
		t.Errorf("Default after removal = %q, want desktop", got.Name)
	}

	if err := registry.Remove("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(ghost) = %v, want ErrNotFound", err)
	}

	if err := registry.Remove("desktop"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := registry.Remove("laptop"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := registry.Default(); ok {
		t.Error("empty fleet still reports a default")
	}
}

func TestGetAndList(t *testing.T) {
	registry := NewRegistry(config.Global{}, nil)
	if err := registry.Add(slaveNamed("pi4")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	slave, err := registry.Get("pi4")
	if err != nil || slave.Host != "pi4.local" {
		t.Errorf("Get = %+v, %v", slave, err)
	}
	if _, err := registry.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ghost) = %v, want ErrNotFound", err)
	}

	// List returns a copy; mutating it must not affect the registry.
	listed := registry.List()
	listed[0].Name = "mutated"
	if slave, _ := registry.Get("pi4"); slave.Name != "pi4" {
		t.Error("mutating List result changed the registry")
	}
}

func TestConfiguredDefaultWins(t *testing.T) {
	global := config.Global{
		Slaves:       []schema.Slave{slaveNamed("pi4"), slaveNamed("desktop")},
		DefaultSlave: "desktop",
	}
	registry := NewRegistry(global, nil)
	got, ok := registry.Default()
	if !ok || got.Name != "desktop" {
		t.Errorf("Default = %q, want configured desktop", got.Name)
	}
}

func TestDefaultFlagSelectsSlave(t *testing.T) {
	flagged := slaveNamed("desktop")
	flagged.Default = true
	global := config.Global{
		Slaves: []schema.Slave{slaveNamed("pi4"), flagged},
	}
	registry := NewRegistry(global, nil)

	got, ok := registry.Default()
	if !ok || got.Name != "desktop" {
		t.Errorf("Default = %q, want flagged desktop", got.Name)
	}
	// The flag and the resolved name must agree after construction.
	if snapshot := registry.Global(); snapshot.DefaultSlave != "desktop" {
		t.Errorf("reconciled default_slave = %q, want desktop", snapshot.DefaultSlave)
	}
}

func TestDefaultNameOverridesFlag(t *testing.T) {
	flagged := slaveNamed("desktop")
	flagged.Default = true
	global := config.Global{
		Slaves:       []schema.Slave{slaveNamed("pi4"), flagged},
		DefaultSlave: "pi4",
	}
	registry := NewRegistry(global, nil)

	got, ok := registry.Default()
	if !ok || got.Name != "pi4" {
		t.Errorf("Default = %q, want named pi4", got.Name)
	}
	for _, slave := range registry.List() {
		if want := slave.Name == "pi4"; slave.Default != want {
			t.Errorf("slave %s default flag = %v, want %v", slave.Name, slave.Default, want)
		}
	}
}

func TestAddAndRemoveMoveDefaultFlag(t *testing.T) {
	store := &recordingStore{}
	registry := NewRegistry(config.Global{}, store)
	if err := registry.Add(slaveNamed("pi4")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	flagged := slaveNamed("desktop")
	flagged.Default = true
	if err := registry.Add(flagged); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, _ := registry.Default(); got.Name != "desktop" {
		t.Errorf("Default after flagged Add = %q, want desktop", got.Name)
	}
	if first, _ := registry.Get("pi4"); first.Default {
		t.Error("previous default still carries the flag")
	}

	if err := registry.Remove("desktop"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	promoted, _ := registry.Get("pi4")
	if got, _ := registry.Default(); got.Name != "pi4" || !promoted.Default {
		t.Errorf("Default after removal = %q (flag %v), want pi4 with flag", got.Name, promoted.Default)
	}

	last := store.saved[len(store.saved)-1]
	if last.DefaultSlave != "pi4" || len(last.Slaves) != 1 || !last.Slaves[0].Default {
		t.Errorf("persisted snapshot %+v does not mark pi4 default", last)
	}
}

func TestProbe(t *testing.T) {
	memory := transport.NewMemory()
	memory.AddSlave("pi4")
	memory.SetUnreachable("desktop", errors.New("no route"))

	session, status := Probe(context.Background(), memory, slaveNamed("pi4"))
	if status.State != Available || session == nil {
		t.Fatalf("Probe(pi4) = %v, %+v, want Available with open session", session, status)
	}
	session.Close()

	session, status = Probe(context.Background(), memory, slaveNamed("desktop"))
	if status.State != Unreachable || status.Reason == "" {
		t.Errorf("Probe(desktop) = %+v, want Unreachable with reason", status)
	}
	if session != nil {
		t.Error("Probe returned a session for an unreachable slave")
	}
}
