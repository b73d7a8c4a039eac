// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/ring0"
)

func writeLayout(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultLayoutValid(t *testing.T) {
	if err := DefaultLayout().Validate(); err != nil {
		t.Errorf("DefaultLayout().Validate() failed: %v", err)
	}
}

func TestLoadLayout(t *testing.T) {
	path := writeLayout(t, `
memory_size = 0x40000
gdt_entries = 8
stack = 0x3f000
kernel_code = 0x18
kernel_data = 0x10

[handlers]
base = 0x00100000
stride = 0x100

[handlers.vectors]
page_fault = 0x00101000
system_call = 0x00100500
`)
	got, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("LoadLayout failed: %v", err)
	}
	want := DefaultLayout()
	want.MemorySize = 0x40000
	want.GDTEntries = 8
	want.Stack = 0x3f000
	want.KernelCode = 0x18
	want.KernelData = 0x10
	want.Handlers.Base = 0x00100000
	want.Handlers.Stride = 0x100
	want.Handlers.Vectors = map[string]hostarch.Addr{
		"page_fault":  0x00101000,
		"system_call": 0x00100500,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadLayout mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLayoutErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		err      string
	}{
		{"unknown key", "idt_size = 4\n", "unknown keys idt_size"},
		{"syntax", "memory_size = \n", "decoding layout"},
		{"overflow", "kernel_code = 0x10000\n", "decoding layout"},
		{"invalid", "memory_size = 0x1234\n", "memory_size"},
		{"unknown handler", "[handlers.vectors]\nsyscall = 0x1000\n", `unknown handler vector "syscall"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadLayout(writeLayout(t, tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("LoadLayout() got %v, want error containing %q", err, tc.err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Layout)
		err    string
	}{
		{"zero gdt", func(l *Layout) { l.GDTEntries = 0 }, "gdt_entries"},
		{"tss slot beyond gdt", func(l *Layout) { l.GDTEntries = 4 }, "tss_slot"},
		{"shared slot", func(l *Layout) { l.LDTSlot = l.TSSSlot }, "both 4"},
		{"kernel code in ldt", func(l *Layout) { l.KernelCode = ring0.NewSelector(1, true, 0) }, "kernel_code"},
		{"kernel code rpl", func(l *Layout) { l.KernelCode = ring0.NewSelector(1, false, 3) }, "want rpl 0"},
		{"user data rpl", func(l *Layout) { l.UserData = ring0.NewSelector(2, true, 0) }, "want rpl 3"},
		{"user code beyond ldt", func(l *Layout) { l.UserCode = ring0.NewSelector(3, true, 3) }, "index beyond"},
		{"null kernel data", func(l *Layout) { l.KernelData = 0 }, "null"},
		{"shared user slot", func(l *Layout) { l.UserData = l.UserCode }, "share ldt slot"},
		{"kernel code on tss", func(l *Layout) { l.KernelCode = ring0.NewSelector(4, false, 0) }, "tss or ldt slot"},
		{"limit", func(l *Layout) { l.UserLimit = 0x100000 }, "20 bits"},
		{"idt outside memory", func(l *Layout) { l.IDTBase = 0x1ff00 }, "idt"},
		{"gdt overlaps idt", func(l *Layout) { l.GDTBase = 0x1400 }, "overlaps idt"},
		{"tss overlaps ldt", func(l *Layout) { l.TSSBase = 0x2010 }, "overlaps ldt"},
		{"stack in tables", func(l *Layout) { l.Stack = 0x1010 }, "overlaps idt"},
		{"unaligned stack", func(l *Layout) { l.Stack = 0x1effe }, "dword aligned"},
		{"tiny stack", func(l *Layout) { l.Stack = 8 }, "dword aligned"},
		{"kernel stack", func(l *Layout) { l.KernelStack = 0x30000 }, "kernel_stack"},
		{"entry beyond limit", func(l *Layout) { l.UserEntry = 0xa0000 }, "user limit"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := DefaultLayout()
			tc.modify(l)
			err := l.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("Validate() got %v, want error containing %q", err, tc.err)
			}
		})
	}
}

func TestHandlerAddress(t *testing.T) {
	h := Handlers{
		Base:   0x00100000,
		Stride: 0x40,
		Vectors: map[string]hostarch.Addr{
			"page_fault": 0x00101000,
			"reserved":   0x00100f00,
		},
	}
	for _, tc := range []struct {
		v    ring0.Vector
		want hostarch.Addr
	}{
		{ring0.DivideByZero, 0x00100000},
		{ring0.Debug, 0x00100040},
		{ring0.PageFault, 0x00101000},
		{15, 0x00100f00},
		{30, 0x00100f00},
		{ring0.SyscallInt80, 0x00102000},
	} {
		if got := h.Address(tc.v); got != tc.want {
			t.Errorf("Address(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestHandlerNames(t *testing.T) {
	names := HandlerNames()
	for _, want := range []string{"divide_error", "page_fault", "reserved", "timer_interrupt", "system_call"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("HandlerNames() = %v, missing %q", names, want)
		}
	}
}

func TestLayoutLogDoesNotModify(t *testing.T) {
	old := log.Log()
	oldLevel := old.Level
	t.Cleanup(func() {
		log.SetTarget(old.Emitter)
		log.SetLevel(oldLevel)
	})
	log.SetTarget(&log.TestEmitter{TestLogger: t})
	log.SetLevel(log.Debug)

	l := DefaultLayout()
	l.Handlers.Vectors = map[string]hostarch.Addr{"page_fault": 0x00101000}
	l.Log()
	if len(l.Handlers.Vectors) != 1 {
		t.Errorf("Log() stripped the handler table of the original layout")
	}
}
