// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cifarm-project/cifarm/lib/schema"
)

// defaultDialTimeout bounds the TCP + handshake phase of Connect.
// Probing an offline slave should fail in seconds, not minutes.
const defaultDialTimeout = 10 * time.Second

// defaultTermGrace is how long a cancelled remote command gets between
// SIGTERM and SIGKILL.
const defaultTermGrace = 5 * time.Second

// SSH is the production transport: command execution over the SSH
// protocol and tree transfer via the rsync binary, which must be
// present on both ends.
type SSH struct {
	// Logger receives connection-level events at debug level. Nil
	// means slog.Default().
	Logger *slog.Logger

	// DialTimeout overrides defaultDialTimeout when positive.
	DialTimeout time.Duration

	// TermGrace overrides defaultTermGrace when positive.
	TermGrace time.Duration
}

func (t *SSH) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *SSH) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return defaultDialTimeout
}

func (t *SSH) termGrace() time.Duration {
	if t.TermGrace > 0 {
		return t.TermGrace
	}
	return defaultTermGrace
}

// Connect dials the slave and authenticates with its configured key.
// Host keys are not verified: the fleet lives on a trusted local
// network and slaves are reinstalled often enough that pinning would
// turn every reinstall into a support issue.
func (t *SSH) Connect(ctx context.Context, slave schema.Slave) (Session, error) {
	auth, err := t.authMethods(slave)
	if err != nil {
		return nil, &ConnectError{Slave: slave.Name, Reason: err}
	}

	config := &ssh.ClientConfig{
		User:            slave.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.dialTimeout(),
	}

	address := net.JoinHostPort(slave.Host, fmt.Sprintf("%d", slave.EffectivePort()))
	t.logger().Debug("dialing slave", "slave", slave.Name, "address", address)

	// ssh.Dial has no context parameter; dial the TCP connection
	// ourselves so ctx cancellation interrupts the connect phase.
	dialer := net.Dialer{Timeout: t.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectError{Slave: slave.Name, Reason: err}
	}
	clientConn, channels, requests, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Slave: slave.Name, Reason: err}
	}

	return &sshSession{
		slave:     slave,
		client:    ssh.NewClient(clientConn, channels, requests),
		termGrace: t.termGrace(),
		logger:    t.logger(),
	}, nil
}

// authMethods builds the authentication chain for a slave: its
// configured private key if set, otherwise the common default key
// locations.
func (t *SSH) authMethods(slave schema.Slave) ([]ssh.AuthMethod, error) {
	paths := []string{slave.KeyPath}
	if slave.KeyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no key configured and no home directory: %w", err)
		}
		paths = []string{home + "/.ssh/id_ed25519", home + "/.ssh/id_rsa"}
	}

	var signers []ssh.Signer
	for _, path := range paths {
		keyBytes, err := os.ReadFile(path)
		if err != nil {
			if slave.KeyPath != "" {
				return nil, fmt.Errorf("reading key %s: %w", path, err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %w", path, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("no usable private key for slave %q", slave.Name)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// sshSession is one authenticated connection. Each Run/file primitive
// opens a fresh exec channel on the shared connection.
type sshSession struct {
	slave     schema.Slave
	client    *ssh.Client
	termGrace time.Duration
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// Run executes the command with streamed output. Output is read line
// by line from both streams concurrently and handed to sink before the
// command exits; the final partial line (no trailing newline) is
// delivered too.
func (s *sshSession) Run(ctx context.Context, command Command, sink OutputSink) (int, error) {
	return s.exec(ctx, remoteCommandLine(command), nil, sink)
}

func (s *sshSession) CreateExclusive(ctx context.Context, path string, content []byte) error {
	// noclobber makes the redirection an O_EXCL open on the remote
	// side: the file is created if and only if it did not exist, in
	// one step. This is the atomic create-if-absent the lock
	// coordinator relies on.
	create := "sh -c " + shellQuote("set -C && cat > "+shellQuote(path))
	exitCode, stderr, err := s.capture(ctx, create, bytes.NewReader(content))
	if err != nil {
		return err
	}
	if exitCode == 0 {
		return nil
	}

	// The shell does not distinguish "exists" from other redirection
	// failures in its exit code; ask the slave which one it was.
	exists, statErr := s.exists(ctx, path)
	if statErr == nil && exists {
		return ErrExists
	}
	return fmt.Errorf("creating %s on %s: exit %d: %s", path, s.slave.Name, exitCode, stderr)
}

func (s *sshSession) ReadFile(ctx context.Context, path string) ([]byte, error) {
	exists, err := s.exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotExist
	}

	var stdout bytes.Buffer
	exitCode, stderr, err := s.captureInto(ctx, "cat "+shellQuote(path), nil, &stdout)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("reading %s on %s: exit %d: %s", path, s.slave.Name, exitCode, stderr)
	}
	return stdout.Bytes(), nil
}

func (s *sshSession) Remove(ctx context.Context, path string) error {
	exitCode, stderr, err := s.capture(ctx, "rm -f "+shellQuote(path), nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("removing %s on %s: exit %d: %s", path, s.slave.Name, exitCode, stderr)
	}
	return nil
}

func (s *sshSession) MkdirAll(ctx context.Context, path string) error {
	exitCode, stderr, err := s.capture(ctx, "mkdir -p "+shellQuote(path), nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("creating directory %s on %s: exit %d: %s", path, s.slave.Name, exitCode, stderr)
	}
	return nil
}

func (s *sshSession) exists(ctx context.Context, path string) (bool, error) {
	exitCode, _, err := s.capture(ctx, "test -e "+shellQuote(path), nil)
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

// exec opens an exec channel, streams output to sink, and returns the
// exit code. A cancelled ctx terminates the remote process: SIGTERM
// first, SIGKILL after the grace period, and the channel is closed so
// Wait cannot block forever against a server that drops signal
// requests (OpenSSH versions before 7.9 do).
func (s *sshSession) exec(ctx context.Context, commandLine string, stdin *bytes.Reader, sink OutputSink) (int, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("opening exec channel to %s: %w", s.slave.Name, err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Start(commandLine); err != nil {
		return -1, fmt.Errorf("starting command on %s: %w", s.slave.Name, err)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go streamLines(&readers, Stdout, stdout, sink)
	go streamLines(&readers, Stderr, stderr, sink)

	done := make(chan struct{})
	var cancelled bool
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			cancelled = true
			s.terminate(session)
		case <-done:
		}
	}()

	readers.Wait()
	waitErr := session.Wait()
	close(done)
	watcher.Wait()

	if cancelled {
		return -1, ctx.Err()
	}
	if waitErr == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(waitErr, &missing) {
		// The remote side closed the channel without reporting a
		// status, typically because the connection died mid-command.
		return -1, fmt.Errorf("command on %s ended without exit status", s.slave.Name)
	}
	return -1, fmt.Errorf("waiting for command on %s: %w", s.slave.Name, waitErr)
}

// terminate asks the remote process to exit and escalates.
func (s *sshSession) terminate(session *ssh.Session) {
	s.logger.Debug("terminating remote command", "slave", s.slave.Name)
	_ = session.Signal(ssh.SIGTERM)
	time.AfterFunc(s.termGrace, func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
	})
}

// capture runs a command discarding stdout, returning exit code and
// collected stderr.
func (s *sshSession) capture(ctx context.Context, commandLine string, stdin *bytes.Reader) (int, string, error) {
	return s.captureInto(ctx, commandLine, stdin, nil)
}

// captureInto runs a command, copying stdout into the given buffer
// (when non-nil) and collecting stderr for error messages.
func (s *sshSession) captureInto(ctx context.Context, commandLine string, stdin *bytes.Reader, stdout *bytes.Buffer) (int, string, error) {
	var stderr strings.Builder
	sink := func(stream Stream, line string) {
		switch stream {
		case Stdout:
			if stdout != nil {
				stdout.WriteString(line)
				stdout.WriteByte('\n')
			}
		case Stderr:
			if stderr.Len() > 0 {
				stderr.WriteByte('\n')
			}
			stderr.WriteString(line)
		}
	}
	exitCode, err := s.exec(ctx, commandLine, stdin, sink)
	return exitCode, stderr.String(), err
}

// streamLines reads one stream line by line and delivers each line to
// the sink as it arrives. Long lines are permitted up to 1 MiB; build
// tools that emit longer single lines get them split.
func streamLines(group *sync.WaitGroup, stream Stream, reader io.Reader, sink OutputSink) {
	defer group.Done()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if sink != nil {
			sink(stream, scanner.Text())
		}
	}
}

// remoteCommandLine builds the shell line for a Command: change into
// the working directory first so relative paths inside the build
// command behave as if the operator ran it there.
func remoteCommandLine(command Command) string {
	if command.WorkingDir == "" {
		return command.Command
	}
	return "cd " + shellQuote(command.WorkingDir) + " && " + command.Command
}

// shellQuote wraps s in single quotes for the remote POSIX shell,
// escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
