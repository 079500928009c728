// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cifarm-project/cifarm/lib/schema"
)

// FileName is the name of both the global and the project-local
// configuration file.
const FileName = ".cifarm.yaml"

// Global is the fleet-level configuration stored in the operator's
// home directory.
type Global struct {
	// Slaves is the ordered fleet. Order matters: auto-selection
	// probes slaves in this order.
	Slaves []schema.Slave `yaml:"slaves,omitempty"`

	// DefaultSlave names the slave used when a build neither names a
	// slave nor asks for auto-selection.
	DefaultSlave string `yaml:"default_slave,omitempty"`

	// Project holds fleet-wide defaults for the project-level
	// settings. A project's own file overrides these field by field.
	Project Project `yaml:"project,omitempty"`
}

// Project is the per-project build configuration. The zero value of
// each field means "unset": Merge resolves unset fields against the
// global defaults and the built-ins.
type Project struct {
	// BuildCommand overrides marker-file detection when set.
	BuildCommand string `yaml:"build_command,omitempty"`

	// PreSync commands run locally, in order, before the tree is
	// transferred. The first non-zero exit aborts the build.
	PreSync []string `yaml:"pre_sync,omitempty"`

	// PostBuild commands run on the slave, in order, after a
	// successful build, in the build directory.
	PostBuild []string `yaml:"post_build,omitempty"`

	// Exclude patterns are matched against path components during
	// sync; matching paths are not transferred.
	Exclude []string `yaml:"exclude,omitempty"`

	// TimeoutSeconds bounds the remote build command. Zero means
	// unset (inherit, ultimately unbounded).
	TimeoutSeconds int `yaml:"timeout,omitempty"`
}

// Effective is the merged configuration one build session runs with.
// Immutable once produced.
type Effective struct {
	BuildCommand string
	PreSync      []string
	PostBuild    []string
	Exclude      []string

	// Timeout of zero means unbounded.
	Timeout time.Duration
}

// Merge resolves the effective configuration: any project field that
// is set wins over the global default; an unset field inherits the
// global value; a field unset in both falls back to the built-in
// default (no command override, no hooks, no excludes, no timeout).
// Pure function: no file access, no mutation of its inputs.
func Merge(global Global, project Project) Effective {
	effective := Effective{
		BuildCommand: project.BuildCommand,
		PreSync:      project.PreSync,
		PostBuild:    project.PostBuild,
		Exclude:      project.Exclude,
		Timeout:      time.Duration(project.TimeoutSeconds) * time.Second,
	}
	defaults := global.Project
	if effective.BuildCommand == "" {
		effective.BuildCommand = defaults.BuildCommand
	}
	if effective.PreSync == nil {
		effective.PreSync = defaults.PreSync
	}
	if effective.PostBuild == nil {
		effective.PostBuild = defaults.PostBuild
	}
	if effective.Exclude == nil {
		effective.Exclude = defaults.Exclude
	}
	if project.TimeoutSeconds == 0 {
		effective.Timeout = time.Duration(defaults.TimeoutSeconds) * time.Second
	}
	return effective
}

// ParseError reports a malformed configuration file. Configuration
// problems are fatal before any remote action is taken.
type ParseError struct {
	Path   string
	Reason error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Reason }

// GlobalPath returns the path of the global configuration file.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, FileName), nil
}

// LoadGlobal reads the global configuration. A missing file yields an
// empty configuration — a fleet with no slaves — not an error.
func LoadGlobal(path string) (Global, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Global{}, nil
	}
	if err != nil {
		return Global{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var global Global
	if err := yaml.Unmarshal(raw, &global); err != nil {
		return Global{}, &ParseError{Path: path, Reason: err}
	}
	for _, slave := range global.Slaves {
		if err := slave.Validate(); err != nil {
			return Global{}, &ParseError{Path: path, Reason: err}
		}
	}
	return global, nil
}

// SaveGlobal writes the global configuration with owner-only
// permissions, since it may reference private key paths. The file is
// replaced by renaming a temporary sibling so a crash mid-write never
// leaves a truncated fleet behind.
func SaveGlobal(path string, global Global) error {
	raw, err := yaml.Marshal(global)
	if err != nil {
		return fmt.Errorf("encoding global configuration: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// projectFile is the on-disk shape of the project-local file: the
// settings live under a "project:" key so the file can later grow
// unrelated sections without breaking.
type projectFile struct {
	Project Project `yaml:"project"`
}

// LoadProject reads the project-local configuration from root. The
// second return reports whether the file was present.
func LoadProject(root string) (Project, bool, error) {
	path := filepath.Join(root, FileName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("reading %s: %w", path, err)
	}
	var file projectFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Project{}, false, &ParseError{Path: path, Reason: err}
	}
	return file.Project, true, nil
}

// FileStore persists the global configuration at a fixed path. It is
// the collaborator the fleet registry delegates persistence to.
type FileStore struct {
	Path string
}

// SaveGlobal implements the registry's store contract.
func (s *FileStore) SaveGlobal(global Global) error {
	return SaveGlobal(s.Path, global)
}
