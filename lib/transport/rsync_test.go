// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"reflect"
	"testing"

	"github.com/cifarm-project/cifarm/lib/schema"
)

func TestRsyncArgs(t *testing.T) {
	spec := SyncSpec{
		LocalPath:  "/home/ci/proj",
		RemotePath: "/builds/proj-1a2b",
		Excludes:   []string{".git", "*.o"},
		Slave: schema.Slave{
			Name:    "pi4",
			Host:    "pi4.local",
			User:    "build",
			Port:    2222,
			KeyPath: "/home/ci/my keys/lab_ed25519",
		},
	}

	want := []string{
		"-az", "--delete",
		"-e", "ssh -p 2222 -o StrictHostKeyChecking=no -i '/home/ci/my keys/lab_ed25519'",
		"--exclude", ".git",
		"--exclude", "*.o",
		"/home/ci/proj/",
		"build@pi4.local:/builds/proj-1a2b/",
	}
	if got := rsyncArgs(spec); !reflect.DeepEqual(got, want) {
		t.Errorf("rsyncArgs:\n got %q\nwant %q", got, want)
	}

	// Without a key the -i flag is omitted entirely.
	spec.Slave.KeyPath = ""
	spec.Slave.Port = 0
	got := rsyncArgs(spec)
	if got[3] != "ssh -p 22 -o StrictHostKeyChecking=no" {
		t.Errorf("remote shell without key = %q", got[3])
	}
}
