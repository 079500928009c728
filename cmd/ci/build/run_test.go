// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package build

import "testing"

func TestJoinCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"plain", []string{"make", "-j4"}, "make -j4"},
		{"spaces", []string{"echo", "hello world"}, "echo 'hello world'"},
		{"glob", []string{"rm", "*.o"}, "rm '*.o'"},
		{"dollar", []string{"echo", "$HOME"}, "echo '$HOME'"},
		{"single_quote", []string{"echo", "it's"}, `echo 'it'\''s'`},
		{"empty_arg", []string{"printf", ""}, "printf ''"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := joinCommand(test.args); got != test.want {
				t.Errorf("joinCommand(%v) = %s, want %s", test.args, got, test.want)
			}
		})
	}
}
