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

package ring0

import (
	"testing"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

func newTestIDT(t *testing.T) *IDT {
	t.Helper()
	return NewIDT(newTestTable(t, newTestMemory(t), 0, NumVectors), Kcode)
}

func TestPageFaultInterruptGate(t *testing.T) {
	idt := newTestIDT(t)
	if err := idt.SetInterruptGate(PageFault, 0x00101000); err != nil {
		t.Fatalf("SetInterruptGate failed: %v", err)
	}
	g, err := idt.Gate(PageFault)
	if err != nil {
		t.Fatalf("Gate failed: %v", err)
	}
	if g.Selector() != 0x0008 || g.Type() != InterruptGate || g.DPL() != 0 || !g.Present() || g.Offset() != 0x00101000 {
		t.Errorf("vector 14 decoded as %v", g)
	}
}

func TestSyscallSystemGate(t *testing.T) {
	idt := newTestIDT(t)
	if err := idt.SetSystemGate(SyscallInt80, 0x00100500); err != nil {
		t.Fatalf("SetSystemGate failed: %v", err)
	}
	g, err := idt.Gate(SyscallInt80)
	if err != nil {
		t.Fatalf("Gate failed: %v", err)
	}
	if g.DPL() != UserLevel || g.Type() != TrapGate || g.Offset() != 0x00100500 || g.Selector() != Kcode {
		t.Errorf("vector 0x80 decoded as %v", g)
	}
}

func TestGateDPL(t *testing.T) {
	idt := newTestIDT(t)
	for _, tc := range []struct {
		name string
		set  func(Vector, hostarch.Addr) error
		typ  GateType
		dpl  int
	}{
		{"interrupt", idt.SetInterruptGate, InterruptGate, SupervisorLevel},
		{"trap", idt.SetTrapGate, TrapGate, SupervisorLevel},
		{"system", idt.SetSystemGate, TrapGate, UserLevel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, n := range []Vector{DivideByZero, Breakpoint, GeneralProtectionFault, TimerInterrupt, SyscallInt80, NumVectors - 1} {
				if err := tc.set(n, 0x00100000); err != nil {
					t.Fatalf("set(%v) failed: %v", n, err)
				}
				g, err := idt.Gate(n)
				if err != nil {
					t.Fatalf("Gate(%v) failed: %v", n, err)
				}
				if g.Type() != tc.typ || g.DPL() != tc.dpl {
					t.Errorf("%v: got type %v dpl %d, want type %v dpl %d", n, g.Type(), g.DPL(), tc.typ, tc.dpl)
				}
			}
		})
	}
}

func TestIDTKernelCode(t *testing.T) {
	const kcode = Selector(0x0018)
	idt := NewIDT(newTestTable(t, newTestMemory(t), 0, NumVectors), kcode)
	if err := idt.SetTrapGate(Debug, 0x1000); err != nil {
		t.Fatalf("SetTrapGate failed: %v", err)
	}
	g, err := idt.Gate(Debug)
	if err != nil {
		t.Fatalf("Gate failed: %v", err)
	}
	if g.Selector() != kcode || idt.KernelCode() != kcode {
		t.Errorf("gate selector got %v, want %v", g.Selector(), kcode)
	}
}

func TestSegmentTableDescriptors(t *testing.T) {
	gdt := NewSegmentTable(newTestTable(t, newTestMemory(t), 0x1000, 8))
	if err := gdt.SetTSSDescriptor(4, 0x00200000); err != nil {
		t.Fatalf("SetTSSDescriptor failed: %v", err)
	}
	if err := gdt.SetLDTDescriptor(5, 0x00200068); err != nil {
		t.Fatalf("SetLDTDescriptor failed: %v", err)
	}
	if err := gdt.SetSegment(1, EncodeSegment(SegmentTypeCode, 0, 0, 0xfffff)); err != nil {
		t.Fatalf("SetSegment failed: %v", err)
	}

	tss, err := gdt.System(4)
	if err != nil {
		t.Fatalf("System(4) failed: %v", err)
	}
	if tss.Type() != SystemTSS || tss.Base() != 0x00200000 || tss.Length() != TSSLength {
		t.Errorf("slot 4 decoded as %v", tss)
	}
	ldt, err := gdt.System(5)
	if err != nil {
		t.Fatalf("System(5) failed: %v", err)
	}
	if ldt.Type() != SystemLDT || ldt.Base() != 0x00200068 || ldt.Length() != TSSLength {
		t.Errorf("slot 5 decoded as %v", ldt)
	}
	code, err := gdt.Segment(1)
	if err != nil {
		t.Fatalf("Segment(1) failed: %v", err)
	}
	if !code.IsCode() || code.DPL() != 0 || code.Limit() != 0xfffff {
		t.Errorf("slot 1 decoded as %v", code)
	}
	if _, err := gdt.Segment(8); err == nil {
		t.Errorf("Segment(8) succeeded on an 8 entry table")
	}
}
