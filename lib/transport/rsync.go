// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// SyncTree transfers the local tree with rsync over SSH. The delta
// algorithm and exclude matching are rsync's own; this wrapper only
// assembles the invocation and streams its progress lines to sink.
//
// The trailing slashes on both paths matter to rsync: they mean "the
// contents of", so the project directory itself is not nested one
// level deeper on the slave.
func (t *SSH) SyncTree(ctx context.Context, spec SyncSpec, sink OutputSink) error {
	command := exec.CommandContext(ctx, "rsync", rsyncArgs(spec)...)

	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rsync stdout pipe: %w", err)
	}
	var stderr strings.Builder
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		return fmt.Errorf("starting rsync: %w", err)
	}

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if sink != nil {
				sink(Stdout, scanner.Text())
			}
		}
	}()
	readers.Wait()

	if err := command.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rsync to %s:%s: %w (stderr: %s)",
			spec.Slave.Name, spec.RemotePath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// rsyncArgs assembles the rsync argument list. The -e value is one
// argument to rsync, which splits it shell-style, so the key path is
// quoted to survive spaces.
func rsyncArgs(spec SyncSpec) []string {
	remoteShell := fmt.Sprintf("ssh -p %d -o StrictHostKeyChecking=no", spec.Slave.EffectivePort())
	if spec.Slave.KeyPath != "" {
		remoteShell += " -i " + shellQuote(spec.Slave.KeyPath)
	}

	args := []string{"-az", "--delete", "-e", remoteShell}
	for _, pattern := range spec.Excludes {
		args = append(args, "--exclude", pattern)
	}
	return append(args,
		spec.LocalPath+"/",
		fmt.Sprintf("%s@%s:%s/", spec.Slave.User, spec.Slave.Host, spec.RemotePath),
	)
}
