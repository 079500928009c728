// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "testing"

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/build", "'/tmp/build'"},
		{"path with spaces", "'path with spaces'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, test := range tests {
		if got := shellQuote(test.in); got != test.want {
			t.Errorf("shellQuote(%q) = %s, want %s", test.in, got, test.want)
		}
	}
}

func TestRemoteCommandLine(t *testing.T) {
	got := remoteCommandLine(Command{WorkingDir: "/builds/proj-1a2b", Command: "make -j4"})
	want := "cd '/builds/proj-1a2b' && make -j4"
	if got != want {
		t.Errorf("remoteCommandLine = %q, want %q", got, want)
	}

	// No working directory means the command runs as given.
	if got := remoteCommandLine(Command{Command: "uname -a"}); got != "uname -a" {
		t.Errorf("remoteCommandLine = %q, want %q", got, "uname -a")
	}
}
