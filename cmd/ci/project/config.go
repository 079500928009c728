// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/detect"
)

// ConfigCommand shows the effective configuration a build from the
// given directory would run with: project file merged over global
// defaults, plus the build command that would actually be used.
func ConfigCommand() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:    "config",
		Summary: "Show the effective build configuration for a project",
		Usage:   "ci config [path] [flags]",
		Examples: []cli.Example{
			{Command: "ci config", Description: "effective settings for the current directory"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("config", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
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

			env, err := cli.LoadEnv(cli.NewLogger(false))
			if err != nil {
				return err
			}
			local, found, err := config.LoadProject(root)
			if err != nil {
				return err
			}
			effective := config.Merge(env.Registry.Global(), local)

			command := effective.BuildCommand
			source := "configured"
			if command == "" {
				if detected, ok := detect.Detect(root); ok {
					command = detected
					source = "detected"
				} else {
					source = "none"
				}
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(struct {
					Root          string           `json:"root"`
					ProjectFile   bool             `json:"project_file"`
					BuildCommand  string           `json:"build_command"`
					CommandSource string           `json:"command_source"`
					Effective     config.Effective `json:"effective"`
				}{root, found, command, source, effective})
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "Project root\t%s\n", root)
			fmt.Fprintf(writer, "Project file\t%s\n", yesNo(found))
			fmt.Fprintf(writer, "Build command\t%s\n", commandCell(command, source))
			fmt.Fprintf(writer, "Pre-sync hooks\t%s\n", listCell(effective.PreSync))
			fmt.Fprintf(writer, "Post-build hooks\t%s\n", listCell(effective.PostBuild))
			fmt.Fprintf(writer, "Excludes\t%s\n", listCell(effective.Exclude))
			fmt.Fprintf(writer, "Timeout\t%s\n", timeoutCell(effective))
			return writer.Flush()
		},
	}
}

func yesNo(found bool) string {
	if found {
		return "yes"
	}
	return "no"
}

func commandCell(command, source string) string {
	if source == "none" {
		return "(none: no marker file, set build_command or use --command)"
	}
	return fmt.Sprintf("%s (%s)", command, source)
}

func listCell(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func timeoutCell(effective config.Effective) string {
	if effective.Timeout == 0 {
		return "unbounded"
	}
	return effective.Timeout.String()
}
