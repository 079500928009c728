// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the ci command tree.
package commands

import (
	"fmt"

	"github.com/cifarm-project/cifarm/cmd/ci/build"
	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/cmd/ci/project"
	"github.com/cifarm-project/cifarm/cmd/ci/slave"
	"github.com/cifarm-project/cifarm/lib/version"
)

// Root returns the top-level ci command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "ci",
		Summary: "Distributed builds on local-network machines",
		Description: `ci runs project builds on a small fleet of machines ("slaves")
reachable over SSH on the local network: it syncs the project tree,
takes the slave's build lock, runs the build with live output, and
releases the lock whatever happens.`,
		Examples: []cli.Example{
			{Description: "Build the current directory on the default slave", Command: "ci build"},
			{Description: "Build on a specific slave", Command: "ci build --on desktop"},
			{Description: "Build on the first free slave", Command: "ci build --auto"},
			{Description: "Run an arbitrary command after syncing", Command: "ci run --auto -- make -j4"},
		},
		Subcommands: []*cli.Command{
			build.Command(),
			build.RunCommand(),
			slave.StatusCommand(),
			slave.Command(),
			slave.UnlockCommand(),
			slave.MetricsCommand(),
			project.InitCommand(),
			project.ConfigCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
