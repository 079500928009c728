// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cifarm-project/cifarm/lib/config"
	"github.com/cifarm-project/cifarm/lib/executor"
	"github.com/cifarm-project/cifarm/lib/fleet"
	"github.com/cifarm-project/cifarm/lib/lock"
	"github.com/cifarm-project/cifarm/lib/orchestrator"
	"github.com/cifarm-project/cifarm/lib/syncer"
	"github.com/cifarm-project/cifarm/lib/transport"
)

// Env is the shared environment command handlers run against: the
// loaded global configuration, the fleet registry backed by it, and
// the production transport.
type Env struct {
	Logger     *slog.Logger
	GlobalPath string
	Registry   *fleet.Registry
	Transport  transport.Transport
}

// LoadEnv loads the global configuration and wires the production
// components. Configuration problems abort here, before any remote
// action.
func LoadEnv(logger *slog.Logger) (*Env, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	global, err := config.LoadGlobal(globalPath)
	if err != nil {
		return nil, err
	}
	return &Env{
		Logger:     logger,
		GlobalPath: globalPath,
		Registry:   fleet.NewRegistry(global, &config.FileStore{Path: globalPath}),
		Transport:  &transport.SSH{Logger: logger},
	}, nil
}

// Orchestrator assembles the build pipeline over the environment's
// transport and registry.
func (e *Env) Orchestrator(sink transport.OutputSink) *orchestrator.Orchestrator {
	return &orchestrator.Orchestrator{
		Transport: e.Transport,
		Registry:  e.Registry,
		Locks:     &lock.Coordinator{Logger: e.Logger},
		Syncer:    &syncer.Engine{Transport: e.Transport, Logger: e.Logger},
		Executor:  &executor.Executor{Logger: e.Logger},
		Logger:    e.Logger,
		Sink:      sink,
	}
}

// RequireSlaves fails with a setup hint when the fleet is empty.
func (e *Env) RequireSlaves() error {
	if len(e.Registry.List()) == 0 {
		return fmt.Errorf("no slaves configured; run 'ci slave add' first")
	}
	return nil
}

// StreamSink returns an OutputSink that writes remote stdout lines to
// the process stdout and remote stderr lines to the process stderr.
// The transports deliver the two streams from separate goroutines, so
// the sink serializes writes with a mutex.
func StreamSink() transport.OutputSink {
	var mu sync.Mutex
	return func(stream transport.Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == transport.Stderr {
			fmt.Fprintln(os.Stderr, line)
			return
		}
		fmt.Fprintln(os.Stdout, line)
	}
}
