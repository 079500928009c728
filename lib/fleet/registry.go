// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// ErrDuplicateName is returned by Add when a slave with the same name
// is already registered.
var ErrDuplicateName = errors.New("slave name already registered")

// ErrNotFound is returned when no registered slave has the requested
// name.
var ErrNotFound = errors.New("slave not found")

// Store persists fleet mutations. The registry never writes files
// itself; it hands the store a complete new snapshot after every
// successful Add or Remove.
type Store interface {
	SaveGlobal(config.Global) error
}

// Registry is the in-memory catalog of slaves, constructed from the
// loaded global configuration. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	global config.Global
	store  Store
}

// NewRegistry builds a registry over the given configuration. A nil
// store makes the registry read-only: Add and Remove still mutate the
// in-memory catalog but nothing is persisted.
//
// The default can be declared two ways in the file: the global
// default_slave name or a per-slave default flag. They are reconciled
// on construction, name winning over flag, so the rest of the
// registry only ever deals with one source of truth.
func NewRegistry(global config.Global, store Store) *Registry {
	reconcileDefault(&global)
	return &Registry{global: global, store: store}
}

// reconcileDefault resolves the declared default and rewrites the
// per-slave flags so that exactly the default slave carries one.
func reconcileDefault(global *config.Global) {
	name := global.DefaultSlave
	if name == "" {
		for _, slave := range global.Slaves {
			if slave.Default {
				name = slave.Name
				break
			}
		}
	}
	global.DefaultSlave = name
	for i := range global.Slaves {
		global.Slaves[i].Default = global.Slaves[i].Name == name
	}
}

// Add registers a new slave. The first slave added to an empty fleet
// becomes the default, as does any slave added with its default flag
// set. Fails with ErrDuplicateName if the name is taken, or a
// validation error for an unusable record.
func (r *Registry) Add(slave schema.Slave) error {
	if err := slave.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.global.Slaves {
		if existing.Name == slave.Name {
			return fmt.Errorf("%q: %w", slave.Name, ErrDuplicateName)
		}
	}

	r.global.Slaves = append(r.global.Slaves, slave)
	if len(r.global.Slaves) == 1 || slave.Default {
		r.setDefaultLocked(slave.Name)
	}
	return r.persistLocked()
}

// setDefaultLocked makes the named slave the default, moving the
// per-slave flag with it.
func (r *Registry) setDefaultLocked(name string) {
	r.global.DefaultSlave = name
	for i := range r.global.Slaves {
		r.global.Slaves[i].Default = r.global.Slaves[i].Name == name
	}
}

// Remove deletes a slave by name. Removing the default slave promotes
// the first remaining slave. Fails with ErrNotFound if absent.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := -1
	for i, existing := range r.global.Slaves {
		if existing.Name == name {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	r.global.Slaves = append(r.global.Slaves[:index], r.global.Slaves[index+1:]...)
	if r.global.DefaultSlave == name {
		next := ""
		if len(r.global.Slaves) > 0 {
			next = r.global.Slaves[0].Name
		}
		r.setDefaultLocked(next)
	}
	return r.persistLocked()
}

// Get returns the slave with the given name, or ErrNotFound.
func (r *Registry) Get(name string) (schema.Slave, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, slave := range r.global.Slaves {
		if slave.Name == name {
			return slave, nil
		}
	}
	return schema.Slave{}, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// List returns the slaves in registration order.
func (r *Registry) List() []schema.Slave {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Slave(nil), r.global.Slaves...)
}

// Default returns the default slave: the configured default_slave
// name, a slave flagged default in the file (reconciled at
// construction), or the first registered slave when neither is
// declared. The second return is false for an empty fleet.
func (r *Registry) Default() (schema.Slave, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.global.DefaultSlave != "" {
		for _, slave := range r.global.Slaves {
			if slave.Name == r.global.DefaultSlave {
				return slave, true
			}
		}
	}
	if len(r.global.Slaves) > 0 {
		return r.global.Slaves[0], true
	}
	return schema.Slave{}, false
}

// Global returns a snapshot of the backing configuration.
func (r *Registry) Global() config.Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.global
	snapshot.Slaves = append([]schema.Slave(nil), r.global.Slaves...)
	return snapshot
}

func (r *Registry) persistLocked() error {
	if r.store == nil {
		return nil
	}
	snapshot := r.global
	snapshot.Slaves = append([]schema.Slave(nil), r.global.Slaves...)
	if err := r.store.SaveGlobal(snapshot); err != nil {
		return fmt.Errorf("persisting fleet: %w", err)
	}
	return nil
}

// ProbeState classifies a connectivity probe result.
type ProbeState int

const (
	// Available means the probe connection succeeded.
	Available ProbeState = iota
	// Unreachable means the transport could not reach the slave.
	Unreachable
)

// Status is the result of probing one slave.
type Status struct {
	State ProbeState

	// Reason explains an Unreachable state.
	Reason string
}

// Probe checks connectivity to a slave with a single connection
// attempt; no command is run and no retry is made. On success the
// open session is returned so the caller can continue with lock
// inspection or tool checks without dialing again; closing it is the
// caller's job. The session is nil when the slave is Unreachable.
func Probe(ctx context.Context, tr transport.Transport, slave schema.Slave) (transport.Session, Status) {
	session, err := tr.Connect(ctx, slave)
	if err != nil {
		return nil, Status{State: Unreachable, Reason: err.Error()}
	}
	return session, Status{State: Available}
}
