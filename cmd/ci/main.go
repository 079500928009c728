// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/cifarm-project/cifarm/cmd/ci/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported their outcome (like build)
		// return an ExitError with the desired code; don't print a
		// redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
