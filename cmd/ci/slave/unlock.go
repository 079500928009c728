// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package slave

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/lock"
)

// UnlockCommand force-removes a slave's lock marker. The escape hatch
// for a session that crashed without releasing; it does not check
// ownership, so the operator is trusted to know no build is running.
func UnlockCommand() *cli.Command {
	var verbose bool

	return &cli.Command{
		Name:    "unlock",
		Summary: "Force-remove the lock marker on a slave",
		Description: "Removes the lock marker regardless of who owns it. Use after a\n" +
			"build session died without releasing its lock. Does not stop a\n" +
			"build that is still running.",
		Usage: "ci unlock <slave>",
		Examples: []cli.Example{
			{Command: "ci unlock pi4-garage", Description: "clear a stale lock"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unlock", pflag.ContinueOnError)
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: ci unlock <slave>")
			}
			logger := cli.NewLogger(verbose)
			env, err := cli.LoadEnv(logger)
			if err != nil {
				return err
			}
			slave, err := env.Registry.Get(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			session, err := env.Transport.Connect(ctx, slave)
			if err != nil {
				return err
			}
			defer session.Close()

			locks := &lock.Coordinator{Logger: logger}
			info, err := locks.Inspect(ctx, session, slave)
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Fprintf(os.Stderr, "Slave %s is not locked.\n", slave.Name)
				return nil
			}
			if info.Project != "" {
				fmt.Fprintf(os.Stderr, "Removing lock held by project %s (owner %s, held %s).\n",
					info.Project, info.Owner, info.Age(time.Now()).Round(time.Second))
			}
			if err := locks.ForceUnlock(ctx, session, slave); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Slave %s unlocked.\n", slave.Name)
			return nil
		},
	}
}
