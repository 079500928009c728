// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/cifarm-project/cifarm/lib/schema"
	"github.com/cifarm-project/cifarm/lib/transport"
)

func TestCheckTools(t *testing.T) {
	memory := transport.NewMemory()
	memory.AddSlave("pi4")
	memory.Handle("pi4", func(ctx context.Context, command transport.Command, sink transport.OutputSink) (int, error) {
		if !strings.Contains(command.Command, "command -v") {
			t.Errorf("unexpected probe script: %q", command.Command)
		}
		sink(transport.Stdout, "FOUND:gcc:gcc (Debian 12.2.0-14) 12.2.0")
		sink(transport.Stdout, "MISSING:cmake")
		sink(transport.Stdout, "FOUND:make:GNU Make 4.3")
		return 0, nil
	})
	session, err := memory.Connect(context.Background(), schema.Slave{Name: "pi4", Host: "h", User: "root"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Close()

	tools, err := CheckTools(context.Background(), session, []string{"gcc", "cmake", "make"})
	if err != nil {
		t.Fatalf("CheckTools: %v", err)
	}
	want := []Tool{
		{Name: "gcc", Found: true, Version: "gcc (Debian 12.2.0-14) 12.2.0"},
		{Name: "cmake"},
		{Name: "make", Found: true, Version: "GNU Make 4.3"},
	}
	if !reflect.DeepEqual(tools, want) {
		t.Errorf("CheckTools = %+v\nwant %+v", tools, want)
	}

	if missing := Missing(tools); !reflect.DeepEqual(missing, []string{"cmake"}) {
		t.Errorf("Missing = %v, want [cmake]", missing)
	}
}

func TestMissingAllPresent(t *testing.T) {
	tools := []Tool{{Name: "gcc", Found: true}, {Name: "make", Found: true}}
	if missing := Missing(tools); missing != nil {
		t.Errorf("Missing = %v, want nil", missing)
	}
}
