// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package slave

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/fleet"
	"github.com/cifarm-project/cifarm/lib/schema"
)

type addParams struct {
	user     string
	port     int
	key      string
	buildDir string
	force    bool
	verbose  bool
}

func addCommand() *cli.Command {
	var params addParams

	return &cli.Command{
		Name:    "add",
		Summary: "Register a new slave",
		Description: `Register a new slave in the fleet. The slave is probed first: the
connection is attempted and the standard build toolchain is checked.
Missing tools or an unreachable host block the add unless --force is
given. The first slave added becomes the default.`,
		Usage: "ci slave add <name> <host> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			flagSet.StringVarP(&params.user, "user", "u", "root", "SSH user")
			flagSet.IntVarP(&params.port, "port", "p", schema.DefaultSSHPort, "SSH port")
			flagSet.StringVarP(&params.key, "key", "k", "", "SSH private key path")
			flagSet.StringVarP(&params.buildDir, "build-dir", "d", schema.DefaultBuildDir, "remote build directory")
			flagSet.BoolVarP(&params.force, "force", "f", false, "add even if unreachable or tools are missing")
			flagSet.BoolVarP(&params.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "ci slave add desktop 192.168.1.50 --user build"},
			{Command: "ci slave add lab-pi pi4.local --key ~/.ssh/lab_ed25519 --force"},
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: ci slave add <name> <host> [flags]")
			}
			return runAdd(args[0], args[1], params)
		},
	}
}

func runAdd(name, host string, params addParams) error {
	logger := cli.NewLogger(params.verbose)
	env, err := cli.LoadEnv(logger)
	if err != nil {
		return err
	}

	newSlave := schema.Slave{
		Name:     name,
		Host:     host,
		User:     params.user,
		Port:     params.port,
		KeyPath:  params.key,
		BuildDir: params.buildDir,
	}
	if err := newSlave.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := probeNewSlave(ctx, env, newSlave, params.force); err != nil {
		return err
	}

	if err := env.Registry.Add(newSlave); err != nil {
		return err
	}
	logger.Info("slave added", "slave", name, "address", newSlave.Address())
	return nil
}

// probeNewSlave connects to the candidate slave and checks its
// toolchain, printing the result as a table. With force, problems are
// reported but do not block.
func probeNewSlave(ctx context.Context, env *cli.Env, candidate schema.Slave, force bool) error {
	session, probe := fleet.Probe(ctx, env.Transport, candidate)
	if probe.State == fleet.Unreachable {
		if force {
			fmt.Fprintf(os.Stderr, "warning: cannot connect to slave: %s\n", probe.Reason)
			return nil
		}
		return fmt.Errorf("%s (use --force to add anyway)", probe.Reason)
	}
	defer session.Close()

	tools, err := fleet.CheckTools(ctx, session, fleet.DefaultTools)
	if err != nil {
		if force {
			fmt.Fprintf(os.Stderr, "warning: tool check failed: %v\n", err)
			return nil
		}
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "TOOL\tSTATUS\tVERSION")
	for _, tool := range tools {
		status := "installed"
		if !tool.Found {
			status = "missing"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", tool.Name, status, tool.Version)
	}
	writer.Flush()

	if missing := fleet.Missing(tools); len(missing) > 0 && !force {
		return fmt.Errorf("missing tools on slave: %s (use --force to add anyway)",
			strings.Join(missing, ", "))
	}
	return nil
}
