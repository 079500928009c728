// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package slave

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
)

func listCommand() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List registered slaves",
		Usage:   "ci slave list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			env, err := cli.LoadEnv(cli.NewLogger(false))
			if err != nil {
				return err
			}

			slaves := env.Registry.List()
			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(slaves)
			}

			if len(slaves) == 0 {
				fmt.Fprintln(os.Stderr, "No slaves configured. Run 'ci slave add' first.")
				return nil
			}

			defaultSlave, _ := env.Registry.Default()
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tADDRESS\tBUILD DIR\tDEFAULT")
			for _, s := range slaves {
				mark := ""
				if s.Name == defaultSlave.Name {
					mark = "*"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", s.Name, s.Address(), s.EffectiveBuildDir(), mark)
			}
			return writer.Flush()
		},
	}
}
