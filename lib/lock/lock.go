// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// MarkerName is the lock file name inside a slave's build directory.
// The name is fixed per slave — not per project — because the lock
// scopes the whole slave: one build at a time, whichever project it
// belongs to.
const MarkerName = ".cifarm.lock"

// Info is the advisory content of a lock marker.
type Info struct {
	// Project is the locked project's name.
	Project string `yaml:"project"`

	// Digest is the project's identity digest, distinguishing
	// same-named checkouts.
	Digest string `yaml:"digest"`

	// Owner is a random token unique to the acquiring session.
	Owner string `yaml:"owner"`

	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time `yaml:"acquired_at"`
}

// Age returns how long the lock has been held as of now.
func (i Info) Age(now time.Time) time.Duration {
	return now.Sub(i.AcquiredAt)
}

// Lock is a successfully acquired build lock. It is valid on exactly
// one slave and must be released through the coordinator that issued
// it.
type Lock struct {
	SlaveName string
	Path      string
	Info      Info
}

// HeldError reports that another session holds the slave's lock.
// Surfaced immediately — acquisition never blocks or retries.
type HeldError struct {
	Slave string

	// Info is the advisory content of the existing marker, nil when
	// the marker could not be read or parsed.
	Info *Info
}

func (e *HeldError) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("slave %q is locked by project %q (owner %s, since %s)",
			e.Slave, e.Info.Project, e.Info.Owner, e.Info.AcquiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("slave %q is locked", e.Slave)
}

// Coordinator acquires and releases build locks through a transport
// session. The zero value is usable; Logger defaults to
// slog.Default().
type Coordinator struct {
	Logger *slog.Logger

	// now and newOwner are test seams; nil means time.Now and a
	// random UUID.
	now      func() time.Time
	newOwner func() string
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) ownerToken() string {
	if c.newOwner != nil {
		return c.newOwner()
	}
	return uuid.NewString()
}

// MarkerPath returns where the slave's lock marker lives.
func MarkerPath(slave schema.Slave) string {
	return slave.EffectiveBuildDir() + "/" + MarkerName
}

// Acquire takes the slave's build lock for the project. The build
// directory is created first so a fresh slave can be locked, then the
// marker is created atomically. If another session already holds the
// lock, Acquire fails with *HeldError carrying whatever advisory
// content could be read.
func (c *Coordinator) Acquire(ctx context.Context, session transport.Session, slave schema.Slave, project schema.Project) (*Lock, error) {
	if err := session.MkdirAll(ctx, slave.EffectiveBuildDir()); err != nil {
		return nil, fmt.Errorf("preparing build directory on %s: %w", slave.Name, err)
	}

	info := Info{
		Project:    project.Name,
		Digest:     project.Digest(),
		Owner:      c.ownerToken(),
		AcquiredAt: c.timeNow(),
	}
	content, err := yaml.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding lock content: %w", err)
	}

	path := MarkerPath(slave)
	err = session.CreateExclusive(ctx, path, content)
	if errors.Is(err, transport.ErrExists) {
		held := &HeldError{Slave: slave.Name}
		if existing, inspectErr := c.Inspect(ctx, session, slave); inspectErr == nil {
			held.Info = existing
		}
		return nil, held
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring lock on %s: %w", slave.Name, err)
	}

	c.logger().Debug("lock acquired",
		"slave", slave.Name, "project", project.Name, "owner", info.Owner)
	return &Lock{SlaveName: slave.Name, Path: path, Info: info}, nil
}

// Release removes the lock marker. Idempotent: releasing a lock whose
// marker is already gone is not an error, and a nil lock is a no-op,
// so release can sit on every exit path unconditionally.
func (c *Coordinator) Release(ctx context.Context, session transport.Session, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := session.Remove(ctx, lock.Path); err != nil {
		return fmt.Errorf("releasing lock on %s: %w", lock.SlaveName, err)
	}
	c.logger().Debug("lock released", "slave", lock.SlaveName, "owner", lock.Info.Owner)
	return nil
}

// ForceUnlock removes any lock marker on the slave, whoever owns it.
// The operator escape hatch for crashed sessions: no ownership check,
// and no error when the slave was not locked.
func (c *Coordinator) ForceUnlock(ctx context.Context, session transport.Session, slave schema.Slave) error {
	if err := session.Remove(ctx, MarkerPath(slave)); err != nil {
		return fmt.Errorf("force-unlocking %s: %w", slave.Name, err)
	}
	c.logger().Info("lock force-removed", "slave", slave.Name)
	return nil
}

// Inspect reads the slave's lock marker. Returns (nil, nil) when the
// slave is unlocked, and an Info with zero fields when a marker
// exists but its content cannot be parsed — presence alone means
// locked.
func (c *Coordinator) Inspect(ctx context.Context, session transport.Session, slave schema.Slave) (*Info, error) {
	content, err := session.ReadFile(ctx, MarkerPath(slave))
	if errors.Is(err, transport.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lock on %s: %w", slave.Name, err)
	}
	var info Info
	if err := yaml.Unmarshal(content, &info); err != nil {
		// Advisory content only; an unreadable marker still locks.
		return &Info{}, nil
	}
	return &info, nil
}
