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
	"github.com/cifarm-project/cifarm/lib/metrics"
	"github.com/cifarm-project/cifarm/lib/schema"
)

// MetricsCommand probes runtime metrics across the fleet, or one slave
// when named.
func MetricsCommand() *cli.Command {
	var asJSON bool
	var verbose bool

	return &cli.Command{
		Name:    "metrics",
		Summary: "Show load, memory, disk, and temperature per slave",
		Usage:   "ci metrics [slave] [flags]",
		Examples: []cli.Example{
			{Command: "ci metrics", Description: "probe every slave"},
			{Command: "ci metrics pi4-garage", Description: "probe one slave"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("metrics", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			env, err := cli.LoadEnv(cli.NewLogger(verbose))
			if err != nil {
				return err
			}
			if err := env.RequireSlaves(); err != nil {
				return err
			}

			targets := env.Registry.List()
			if len(args) == 1 {
				slave, err := env.Registry.Get(args[0])
				if err != nil {
					return err
				}
				targets = []schema.Slave{slave}
			}

			ctx := context.Background()
			type row struct {
				Name     string            `json:"name"`
				Error    string            `json:"error,omitempty"`
				Snapshot *metrics.Snapshot `json:"metrics,omitempty"`
			}
			var rows []row
			for _, slave := range targets {
				snapshot, err := collectOne(ctx, env, slave)
				if err != nil {
					rows = append(rows, row{Name: slave.Name, Error: err.Error()})
					continue
				}
				rows = append(rows, row{Name: slave.Name, Snapshot: snapshot})
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(rows)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tLOAD\tMEMORY\tDISK\tTEMP\tUPTIME")
			for _, r := range rows {
				if r.Snapshot == nil {
					fmt.Fprintf(writer, "%s\tunreachable: %s\t\t\t\t\n", r.Name, r.Error)
					continue
				}
				s := r.Snapshot
				fmt.Fprintf(writer, "%s\t%.2f %.2f %.2f\t%s\t%s\t%s\t%s\n",
					r.Name, s.Load1, s.Load5, s.Load15,
					usageCell(s.MemUsedKB(), s.MemTotalKB),
					usageCell(s.DiskUsedKB, s.DiskTotalKB),
					temperatureCell(s.TemperatureC),
					s.Uptime.Round(time.Minute))
			}
			return writer.Flush()
		},
	}
}

func collectOne(ctx context.Context, env *cli.Env, slave schema.Slave) (*metrics.Snapshot, error) {
	session, err := env.Transport.Connect(ctx, slave)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return metrics.Collect(ctx, session)
}

func usageCell(usedKB, totalKB uint64) string {
	if totalKB == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s (%d%%)",
		humanKB(usedKB), humanKB(totalKB), usedKB*100/totalKB)
}

func temperatureCell(celsius *float64) string {
	if celsius == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", *celsius)
}

func humanKB(kb uint64) string {
	switch {
	case kb >= 1<<20:
		return fmt.Sprintf("%.1fG", float64(kb)/(1<<20))
	case kb >= 1<<10:
		return fmt.Sprintf("%.1fM", float64(kb)/(1<<10))
	default:
		return fmt.Sprintf("%dK", kb)
	}
}
