// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package build implements the ci build and ci run commands.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/executor"
	"github.com/cifarm-project/cifarm/lib/orchestrator"
	"github.com/cifarm-project/cifarm/lib/schema"
)

type buildParams struct {
	on      string
	auto    bool
	command string
	verbose bool
}

func (p *buildParams) flags() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("build", pflag.ContinueOnError)
	flagSet.StringVarP(&p.on, "on", "o", "", "slave to build on")
	flagSet.BoolVarP(&p.auto, "auto", "a", false, "pick the first reachable unlocked slave")
	flagSet.StringVarP(&p.command, "command", "c", "", "override the build command")
	flagSet.BoolVarP(&p.verbose, "verbose", "v", false, "debug logging")
	return flagSet
}

// Command returns the ci build command.
func Command() *cli.Command {
	var params buildParams

	return &cli.Command{
		Name:    "build",
		Summary: "Build a project on a slave",
		Description: `Build a project on a slave: run the pre-sync hooks, sync the tree,
take the slave's build lock, run the build command with live output,
run the post-build hooks, release the lock.

The build command comes from --command, the project configuration, or
marker-file detection (build scripts, Makefile, CMake, npm, cargo, go,
python), in that order.`,
		Usage: "ci build [path] [flags]",
		Flags: params.flags,
		Examples: []cli.Example{
			{Description: "Build the current directory", Command: "ci build"},
			{Description: "Build elsewhere with a timeout already configured", Command: "ci build ~/src/firmware --on lab-pi"},
		},
		Run: func(args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			return runBuild(path, params.on, params.auto, params.command, params.verbose)
		},
	}
}

func runBuild(path, on string, auto bool, commandOverride string, verbose bool) error {
	logger := cli.NewLogger(verbose)

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("project path: %w", err)
	}
	project, err := schema.NewProject(path)
	if err != nil {
		return err
	}

	env, err := cli.LoadEnv(logger)
	if err != nil {
		return err
	}
	if err := env.RequireSlaves(); err != nil {
		return err
	}

	projectConfig, _, err := config.LoadProject(project.Root)
	if err != nil {
		return err
	}
	settings := config.Merge(env.Registry.Global(), projectConfig)

	// An interrupt cancels the session; the orchestrator terminates
	// the remote process and releases the lock before returning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session, err := env.Orchestrator(cli.StreamSink()).Build(ctx, orchestrator.Request{
		Project:         project,
		SlaveName:       on,
		Auto:            auto,
		CommandOverride: commandOverride,
		Settings:        settings,
	})
	return report(logger, session, err)
}

// report logs the final session outcome and maps it to the process
// exit code: the remote exit code for a failed build, 1 for every
// other failure.
func report(logger *slog.Logger, session *orchestrator.Session, err error) error {
	if err == nil {
		logger.Info("build completed",
			"slave", session.Slave.Name,
			"duration", session.EndedAt.Sub(session.StartedAt).Round(time.Millisecond).String())
		return nil
	}

	var execErr *orchestrator.ExecutionError
	if errors.As(err, &execErr) {
		logger.Error("build failed", "slave", execErr.Slave, "exit_code", execErr.ExitCode)
		return &cli.ExitError{Code: execErr.ExitCode}
	}

	var hookErr *executor.HookError
	if errors.As(err, &hookErr) {
		logger.Error("post-build hook failed",
			"command", hookErr.Command, "exit_code", hookErr.ExitCode)
		return &cli.ExitError{Code: 1}
	}

	var cancelErr *orchestrator.CancelledError
	if errors.As(err, &cancelErr) {
		logger.Error("build cancelled", "slave", cancelErr.Slave, "reason", cancelErr.Reason.String())
		return &cli.ExitError{Code: 1}
	}

	return err
}
