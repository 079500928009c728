// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package detect infers a project's build command from well-known
// marker files. The marker list is ordered: the first marker present
// in the project root wins, so a project carrying both a Makefile and
// a package.json builds with make.
package detect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoBuildCommand is returned when no override is given and no
// marker file is present.
var ErrNoBuildCommand = errors.New("no build command found: no override given and no known marker file present")

// marker maps one project file to the command it implies.
type marker struct {
	file    string
	command string
}

// markers is the fixed priority order. Explicit build scripts outrank
// build-system files, and Makefile outranks every language-specific
// manifest.
var markers = []marker{
	{".ci/build.sh", "bash .ci/build.sh"},
	{"build.sh", "bash build.sh"},
	{"Makefile", "make"},
	{"CMakeLists.txt", "cmake -B build && cmake --build build"},
	{"package.json", "npm install && npm run build"},
	{"Cargo.toml", "cargo build --release"},
	{"go.mod", "go build ./..."},
	{"pyproject.toml", "pip install -e . && python -m pytest"},
}

// Detect returns the build command implied by the first matching
// marker file in projectRoot, and whether any marker matched.
func Detect(projectRoot string) (string, bool) {
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(projectRoot, m.file)); err == nil {
			return m.command, true
		}
	}
	return "", false
}

// Resolve returns the command a build session should run: the
// override when given, otherwise the detected command, otherwise
// ErrNoBuildCommand.
func Resolve(projectRoot, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if command, ok := Detect(projectRoot); ok {
		return command, nil
	}
	return "", fmt.Errorf("%s: %w", projectRoot, ErrNoBuildCommand)
}
