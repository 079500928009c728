// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cifarm-project/cifarm/lib/transport"
)

// DefaultTools is the toolchain checked when a slave joins the fleet.
// A slave missing entries can still be added with force — not every
// fleet builds C++.
var DefaultTools = []string{
	"gcc",
	"g++",
	"make",
	"cmake",
	"rsync",
	"git",
	"python3",
}

// Tool is one probed tool on a slave.
type Tool struct {
	Name string

	// Found reports whether the tool resolved on the slave's PATH.
	Found bool

	// Version is the first line of "<tool> --version" when found.
	Version string
}

// CheckTools probes the availability of each named tool on the slave
// with a single remote shell loop, so the check costs one round trip
// regardless of list length.
func CheckTools(ctx context.Context, session transport.Session, tools []string) ([]Tool, error) {
	script := fmt.Sprintf(
		`for tool in %s; do `+
			`if command -v "$tool" > /dev/null 2>&1; then `+
			`ver=$("$tool" --version 2>&1 | head -1); `+
			`echo "FOUND:$tool:$ver"; `+
			`else echo "MISSING:$tool"; fi; done`,
		strings.Join(tools, " "))

	var mu sync.Mutex
	var lines []string
	sink := func(stream transport.Stream, line string) {
		if stream != transport.Stdout {
			return
		}
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	exitCode, err := session.Run(ctx, transport.Command{Command: script}, sink)
	if err != nil {
		return nil, fmt.Errorf("checking tools: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("checking tools: remote shell exited %d", exitCode)
	}

	var results []Tool
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "FOUND:"):
			parts := strings.SplitN(line, ":", 3)
			tool := Tool{Found: true}
			if len(parts) > 1 {
				tool.Name = parts[1]
			}
			if len(parts) > 2 {
				tool.Version = parts[2]
			}
			results = append(results, tool)
		case strings.HasPrefix(line, "MISSING:"):
			results = append(results, Tool{Name: strings.TrimPrefix(line, "MISSING:")})
		}
	}
	return results, nil
}

// Missing filters a CheckTools result down to the absent tool names.
func Missing(tools []Tool) []string {
	var missing []string
	for _, tool := range tools {
		if !tool.Found {
			missing = append(missing, tool.Name)
		}
	}
	return missing
}
