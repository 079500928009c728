// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"fmt"
	"strings"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
)

// RunCommand returns the ci run command: sync the current project,
// then run an arbitrary command on a slave through the same pipeline
// a build uses — lock, live output, post-build hooks skipped, lock
// released.
func RunCommand() *cli.Command {
	var params buildParams

	return &cli.Command{
		Name:    "run",
		Summary: "Run an arbitrary command on a slave",
		Description: `Sync the current directory to a slave and run the given command
there, under the slave's build lock, with live output. Everything
after "--" is the command line.`,
		Usage: "ci run [flags] -- command [args...]",
		Flags: params.flags,
		Examples: []cli.Example{
			{Description: "Parallel make on the default slave", Command: "ci run -- make -j4"},
			{Description: "Release build on a named slave", Command: "ci run --on worker1 -- cargo build --release"},
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no command given; usage: ci run [flags] -- command [args...]")
			}
			return runBuild(".", params.on, params.auto, joinCommand(args), params.verbose)
		},
	}
}

// joinCommand rebuilds a shell command line from argv, quoting
// arguments that contain shell metacharacters so the remote shell
// sees the same words the local one did.
func joinCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"'$&|;<>()*?#~`\\") {
			quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
			continue
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}
