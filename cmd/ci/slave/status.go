// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package slave

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/cifarm-project/cifarm/cmd/ci/cli"
	"github.com/cifarm-project/cifarm/lib/orchestrator"
)

// StatusCommand reports availability and lock state across the fleet.
// Wired at the top level as 'ci status' rather than under the slave
// group: it is the command operators reach for most.
func StatusCommand() *cli.Command {
	var asJSON bool
	var verbose bool

	return &cli.Command{
		Name:    "status",
		Summary: "Show availability and lock state of every slave",
		Description: "Probes each registered slave with one connection attempt and reads\n" +
			"its lock marker. A slave is available, unreachable, or locked; a\n" +
			"locked slave's row shows which project holds it and for how long.",
		Usage: "ci status [flags]",
		Examples: []cli.Example{
			{Command: "ci status", Description: "probe the whole fleet"},
			{Command: "ci status --json", Description: "machine-readable report"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			env, err := cli.LoadEnv(cli.NewLogger(verbose))
			if err != nil {
				return err
			}
			if err := env.RequireSlaves(); err != nil {
				return err
			}

			statuses := env.Orchestrator(nil).Status(context.Background())
			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(statuses)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tADDRESS\tSTATE\tDETAIL")
			for _, status := range statuses {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
					status.Slave.Name, status.Slave.Address(), status.State, statusDetail(status))
			}
			return writer.Flush()
		},
	}
}

func statusDetail(status orchestrator.SlaveStatus) string {
	switch status.State {
	case orchestrator.StatusLocked:
		if status.Lock == nil || status.Lock.Project == "" {
			return "lock marker present"
		}
		return fmt.Sprintf("project %s, held %s",
			status.Lock.Project, status.Lock.Age(time.Now()).Round(time.Second))
	case orchestrator.StatusUnreachable:
		return status.Reason
	default:
		return ""
	}
}
