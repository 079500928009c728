// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package slave implements fleet management commands: ci slave
// add/remove/list, ci status, ci unlock, and ci metrics.
package slave

import (
	"github.com/cifarm-project/cifarm/cmd/ci/cli"
)

// Command returns the ci slave command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "slave",
		Summary: "Manage the build fleet",
		Subcommands: []*cli.Command{
			addCommand(),
			removeCommand(),
			listCommand(),
		},
	}
}
