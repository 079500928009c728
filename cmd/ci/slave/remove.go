// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package slave

import (
	"fmt"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
)

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a slave from the fleet",
		Description: `Remove a slave from the fleet. Removing the default slave promotes
the first remaining slave to default. Nothing on the machine itself
is touched — its build directory and any synced trees stay behind.`,
		Usage: "ci slave remove <name>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: ci slave remove <name>")
			}
			logger := cli.NewLogger(false)
			env, err := cli.LoadEnv(logger)
			if err != nil {
				return err
			}
			if err := env.Registry.Remove(args[0]); err != nil {
				return err
			}
			logger.Info("slave removed", "slave", args[0])
			return nil
		},
	}
}
