// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"
)

// DefaultBuildDir is the remote directory used for build trees when a
// slave does not configure its own.
const DefaultBuildDir = "/tmp/cifarm-builds"

// DefaultSSHPort is used when a slave does not configure a port.
const DefaultSSHPort = 22

// Slave is a registered build machine. Slaves are owned by the fleet
// registry; every other component (lock coordinator, sync engine,
// executor) receives a Slave by value and never mutates it.
type Slave struct {
	// Name is the unique key for the slave within the fleet.
	Name string `yaml:"name"`

	// Host is the address the transport dials (hostname or IP).
	Host string `yaml:"host"`

	// User is the remote login user.
	User string `yaml:"user"`

	// Port is the remote-shell port. Zero means DefaultSSHPort.
	Port int `yaml:"port,omitempty"`

	// KeyPath is the private key used for authentication. Empty means
	// the transport falls back to its own defaults (agent, ~/.ssh).
	KeyPath string `yaml:"key,omitempty"`

	// BuildDir is the remote directory that receives synced project
	// trees and holds the build lock marker. Empty means
	// DefaultBuildDir.
	BuildDir string `yaml:"build_dir,omitempty"`

	// Default marks the slave used when no explicit name is given.
	// At most one slave in a fleet carries this flag; the registry
	// maintains that invariant.
	Default bool `yaml:"default,omitempty"`
}

// Validate checks the fields that the registry invariants depend on.
func (s Slave) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("slave name must not be empty")
	}
	if strings.ContainsAny(s.Name, " \t/") {
		return fmt.Errorf("slave name %q must not contain spaces or slashes", s.Name)
	}
	if s.Host == "" {
		return fmt.Errorf("slave %q has no host", s.Name)
	}
	return nil
}

// EffectivePort returns the configured port or DefaultSSHPort.
func (s Slave) EffectivePort() int {
	if s.Port == 0 {
		return DefaultSSHPort
	}
	return s.Port
}

// EffectiveBuildDir returns the configured build directory or
// DefaultBuildDir.
func (s Slave) EffectiveBuildDir() string {
	if s.BuildDir == "" {
		return DefaultBuildDir
	}
	return s.BuildDir
}

// Address returns the user@host:port form used in log output and
// status tables.
func (s Slave) Address() string {
	return fmt.Sprintf("%s@%s:%d", s.User, s.Host, s.EffectivePort())
}
