// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cifarm-project/cifarm/lib/schema"
)

// CommandHandler scripts the outcome of one remote command on a
// Memory transport. It may write to sink to simulate streamed output
// and returns the exit code.
type CommandHandler func(ctx context.Context, command Command, sink OutputSink) (int, error)

// Memory is an in-process Transport for tests. Each registered slave
// has its own file map and an optional scripted command handler.
// File operations take the shared mutex, so CreateExclusive has the
// same winner-takes-all behavior under concurrency as the real
// noclobber create on a slave.
type Memory struct {
	mu    sync.Mutex
	hosts map[string]*memoryHost
}

type memoryHost struct {
	unreachable error
	files       map[string][]byte
	handler     CommandHandler
	commands    []string
	syncs       []SyncSpec
}

// NewMemory returns an empty Memory transport. Slaves must be added
// with AddSlave before Connect can reach them.
func NewMemory() *Memory {
	return &Memory{hosts: make(map[string]*memoryHost)}
}

// AddSlave registers a reachable slave with an empty filesystem.
func (m *Memory) AddSlave(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[name] = &memoryHost{files: make(map[string][]byte)}
}

// SetUnreachable makes Connect fail for the slave with the given
// reason, simulating a powered-off or unroutable machine.
func (m *Memory) SetUnreachable(name string, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[name]
	if host == nil {
		host = &memoryHost{files: make(map[string][]byte)}
		m.hosts[name] = host
	}
	host.unreachable = reason
}

// Handle installs the scripted command handler for a slave. Without a
// handler every command succeeds silently with exit 0.
func (m *Memory) Handle(name string, handler CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if host := m.hosts[name]; host != nil {
		host.handler = handler
	}
}

// WriteFile seeds a file on the slave, e.g. a pre-existing lock
// marker.
func (m *Memory) WriteFile(name, filePath string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if host := m.hosts[name]; host != nil {
		host.files[filePath] = append([]byte(nil), content...)
	}
}

// File returns the content of a file on the slave and whether it
// exists.
func (m *Memory) File(name, filePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[name]
	if host == nil {
		return nil, false
	}
	content, ok := host.files[filePath]
	return content, ok
}

// Paths returns the sorted file paths present on the slave.
func (m *Memory) Paths(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[name]
	if host == nil {
		return nil
	}
	paths := make([]string, 0, len(host.files))
	for p := range host.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Commands returns the command lines run on the slave, in order.
func (m *Memory) Commands(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[name]
	if host == nil {
		return nil
	}
	return append([]string(nil), host.commands...)
}

// Syncs returns the tree transfers performed against the slave.
func (m *Memory) Syncs(name string) []SyncSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[name]
	if host == nil {
		return nil
	}
	return append([]SyncSpec(nil), host.syncs...)
}

// Connect returns a session bound to the slave's file map, or a
// *ConnectError when the slave is unknown or marked unreachable.
func (m *Memory) Connect(ctx context.Context, slave schema.Slave) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := m.hosts[slave.Name]
	if host == nil {
		return nil, &ConnectError{Slave: slave.Name, Reason: fmt.Errorf("no route to host %s", slave.Host)}
	}
	if host.unreachable != nil {
		return nil, &ConnectError{Slave: slave.Name, Reason: host.unreachable}
	}
	return &memorySession{transport: m, name: slave.Name, host: host}, nil
}

// SyncTree mirrors the local tree into the slave's file map the way
// the production transfer does: exclude patterns matching any path
// component skip the whole subtree, and remote files that no longer
// exist locally are deleted. Excluded paths are never deleted on the
// remote side.
func (m *Memory) SyncTree(ctx context.Context, spec SyncSpec, sink OutputSink) error {
	m.mu.Lock()
	host := m.hosts[spec.Slave.Name]
	if host == nil {
		m.mu.Unlock()
		return &ConnectError{Slave: spec.Slave.Name, Reason: fmt.Errorf("no route to host %s", spec.Slave.Host)}
	}
	if host.unreachable != nil {
		m.mu.Unlock()
		return &ConnectError{Slave: spec.Slave.Name, Reason: host.unreachable}
	}
	host.syncs = append(host.syncs, spec)
	m.mu.Unlock()

	local := map[string][]byte{}
	var order []string
	err := filepath.WalkDir(spec.LocalPath, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(spec.LocalPath, filePath)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		if excluded(relative, spec.Excludes) {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		content, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		local[relative] = content
		order = append(order, relative)
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	prefix := spec.RemotePath + "/"
	for remotePath := range host.files {
		relative, ok := strings.CutPrefix(remotePath, prefix)
		if !ok || excluded(relative, spec.Excludes) {
			continue
		}
		if _, exists := local[relative]; !exists {
			delete(host.files, remotePath)
		}
	}
	for relative, content := range local {
		host.files[prefix+relative] = content
	}
	m.mu.Unlock()

	if sink != nil {
		for _, relative := range order {
			sink(Stdout, relative)
		}
	}
	return nil
}

// excluded reports whether any component of the relative path matches
// any exclude pattern.
func excluded(relative string, patterns []string) bool {
	components := strings.Split(filepath.ToSlash(relative), "/")
	for _, pattern := range patterns {
		for _, component := range components {
			if matched, _ := path.Match(pattern, component); matched {
				return true
			}
		}
	}
	return false
}

type memorySession struct {
	transport *Memory
	name      string
	host      *memoryHost
}

func (s *memorySession) Close() error { return nil }

func (s *memorySession) Run(ctx context.Context, command Command, sink OutputSink) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	s.transport.mu.Lock()
	s.host.commands = append(s.host.commands, command.Command)
	handler := s.host.handler
	s.transport.mu.Unlock()

	if handler == nil {
		return 0, nil
	}
	return handler(ctx, command, sink)
}

func (s *memorySession) CreateExclusive(ctx context.Context, filePath string, content []byte) error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	if _, ok := s.host.files[filePath]; ok {
		return ErrExists
	}
	s.host.files[filePath] = append([]byte(nil), content...)
	return nil
}

func (s *memorySession) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	content, ok := s.host.files[filePath]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), content...), nil
}

func (s *memorySession) Remove(ctx context.Context, filePath string) error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	delete(s.host.files, filePath)
	return nil
}

func (s *memorySession) MkdirAll(ctx context.Context, filePath string) error {
	return nil
}
