// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package project implements the project-local commands: writing a
// starter configuration file and displaying the effective settings a
// build would run with.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/detect"
)

// InitCommand writes a starter .cifarm.yaml into the project root. The
// template carries the detected build command plus the excludes and
// timeout most projects end up wanting, all commented in place so the
// file documents itself.
func InitCommand() *cli.Command {
	var force bool

	return &cli.Command{
		Name:    "init",
		Summary: "Write a starter project configuration file",
		Usage:   "ci init [path] [flags]",
		Examples: []cli.Example{
			{Command: "ci init", Description: "create .cifarm.yaml in the current directory"},
			{Command: "ci init --force", Description: "overwrite an existing file"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.BoolVar(&force, "force", false, "overwrite an existing configuration file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if _, err := os.Stat(root); err != nil {
				return fmt.Errorf("project path: %w", err)
			}

			path := filepath.Join(root, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(initTemplate(root)), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
			return nil
		},
	}
}

// initTemplate renders the starter file. The build command line is
// filled in when a marker file identifies the project type, and left
// as a commented placeholder otherwise.
func initTemplate(root string) string {
	var b strings.Builder
	b.WriteString("# Project build configuration. Fields left unset inherit the\n")
	b.WriteString("# fleet-wide defaults from ~/" + config.FileName + ".\n")
	b.WriteString("project:\n")

	if command, ok := detect.Detect(root); ok {
		fmt.Fprintf(&b, "  build_command: %q\n", command)
	} else {
		b.WriteString("  # build_command: make\n")
	}

	b.WriteString("\n")
	b.WriteString("  # Local commands run before the tree is transferred.\n")
	b.WriteString("  # pre_sync:\n")
	b.WriteString("  #   - ./generate.sh\n")
	b.WriteString("\n")
	b.WriteString("  # Commands run on the slave after a successful build.\n")
	b.WriteString("  # post_build:\n")
	b.WriteString("  #   - make test\n")
	b.WriteString("\n")
	b.WriteString("  # Path components excluded from the transfer.\n")
	b.WriteString("  exclude:\n")
	b.WriteString("    - .git\n")
	b.WriteString("    - node_modules\n")
	b.WriteString("    - __pycache__\n")
	b.WriteString("    - \"*.o\"\n")
	b.WriteString("\n")
	b.WriteString("  # Build timeout in seconds. 0 means unbounded.\n")
	b.WriteString("  timeout: 3600\n")
	return b.String()
}
