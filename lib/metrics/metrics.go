// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics collects runtime metrics from a slave over the
// transport: load average, memory, disk, uptime, temperature, and
// basic identity. Everything comes from one remote shell script that
// scrapes /proc and /sys, so a probe costs a single round trip and
// works on any slave with a POSIX shell — including the Raspberry
// Pi class of machines these fleets tend to accumulate.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cifarm-project/cifarm/lib/transport"
)

// probeScript emits sectioned metrics. Every section degrades to N/A
// instead of failing so one missing /proc entry does not blank the
// whole report. The TEMP fallback covers Raspberry Pi firmware
// (vcgencmd) where the generic thermal zone is absent.
const probeScript = "echo '---LOADAVG---'; " +
	"cat /proc/loadavg 2>/dev/null || echo 'N/A'; " +
	"echo '---MEMINFO---'; " +
	"grep -E '^(MemTotal|MemAvailable):' /proc/meminfo 2>/dev/null || echo 'N/A'; " +
	"echo '---UPTIME---'; " +
	"cat /proc/uptime 2>/dev/null || echo 'N/A'; " +
	"echo '---TEMP---'; " +
	"cat /sys/class/thermal/thermal_zone0/temp 2>/dev/null " +
	"|| vcgencmd measure_temp 2>/dev/null || echo 'N/A'; " +
	"echo '---DISK---'; " +
	"df -k / 2>/dev/null | tail -1 || echo 'N/A'; " +
	"echo '---UNAME---'; " +
	"uname -snrm 2>/dev/null || echo 'N/A'; " +
	"echo '---NPROC---'; " +
	"nproc 2>/dev/null || sysctl -n hw.ncpu 2>/dev/null || echo 'N/A'"

// Snapshot is one point-in-time metrics reading from a slave.
type Snapshot struct {
	// OSInfo is the uname line: kernel, hostname, release, machine.
	OSInfo string

	// CPUCores is the online core count, 0 when unknown.
	CPUCores int

	Load1  float64
	Load5  float64
	Load15 float64

	MemTotalKB     uint64
	MemAvailableKB uint64

	DiskTotalKB uint64
	DiskUsedKB  uint64

	// TemperatureC is nil when the slave exposes no thermal sensor.
	TemperatureC *float64

	Uptime time.Duration
}

// MemUsedKB returns total minus available, clamped at zero.
func (s *Snapshot) MemUsedKB() uint64 {
	if s.MemAvailableKB > s.MemTotalKB {
		return 0
	}
	return s.MemTotalKB - s.MemAvailableKB
}

// Collect runs the probe script on the session and parses the result.
func Collect(ctx context.Context, session transport.Session) (*Snapshot, error) {
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

	exitCode, err := session.Run(ctx, transport.Command{Command: probeScript}, sink)
	if err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("collecting metrics: probe script exited %d", exitCode)
	}
	return Parse(lines), nil
}

// Parse decodes the sectioned probe output. Unparseable sections are
// left at their zero values — the probe is best-effort by design.
func Parse(lines []string) *Snapshot {
	snapshot := &Snapshot{}
	section := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "---") && strings.HasSuffix(line, "---") {
			section = strings.Trim(line, "-")
			continue
		}
		if line == "" || line == "N/A" {
			continue
		}
		switch section {
		case "LOADAVG":
			parseLoad(snapshot, line)
		case "MEMINFO":
			parseMemInfo(snapshot, line)
		case "UPTIME":
			parseUptime(snapshot, line)
		case "TEMP":
			parseTemperature(snapshot, line)
		case "DISK":
			parseDisk(snapshot, line)
		case "UNAME":
			snapshot.OSInfo = line
		case "NPROC":
			if cores, err := strconv.Atoi(line); err == nil {
				snapshot.CPUCores = cores
			}
		}
	}
	return snapshot
}

func parseLoad(snapshot *Snapshot, line string) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return
	}
	snapshot.Load1, _ = strconv.ParseFloat(fields[0], 64)
	snapshot.Load5, _ = strconv.ParseFloat(fields[1], 64)
	snapshot.Load15, _ = strconv.ParseFloat(fields[2], 64)
}

func parseMemInfo(snapshot *Snapshot, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	value, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return
	}
	switch strings.TrimSuffix(fields[0], ":") {
	case "MemTotal":
		snapshot.MemTotalKB = value
	case "MemAvailable":
		snapshot.MemAvailableKB = value
	}
}

func parseUptime(snapshot *Snapshot, line string) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return
	}
	if seconds, err := strconv.ParseFloat(fields[0], 64); err == nil {
		snapshot.Uptime = time.Duration(seconds * float64(time.Second))
	}
}

// parseTemperature accepts either the sysfs millidegree integer
// ("47200") or the Raspberry Pi firmware form ("temp=47.2'C").
func parseTemperature(snapshot *Snapshot, line string) {
	if strings.HasPrefix(line, "temp=") {
		value := strings.TrimPrefix(line, "temp=")
		value = strings.TrimSuffix(value, "'C")
		if celsius, err := strconv.ParseFloat(value, 64); err == nil {
			snapshot.TemperatureC = &celsius
		}
		return
	}
	raw, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return
	}
	// Values above 1000 are millidegrees from sysfs.
	if raw >= 1000 {
		raw /= 1000
	}
	snapshot.TemperatureC = &raw
}

func parseDisk(snapshot *Snapshot, line string) {
	// df -k output: filesystem, 1K-blocks, used, available, use%, mount.
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return
	}
	if total, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
		snapshot.DiskTotalKB = total
	}
	if used, err := strconv.ParseUint(fields[2], 10, 64); err == nil {
		snapshot.DiskUsedKB = used
	}
}
