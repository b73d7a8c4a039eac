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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPushPop(t *testing.T) {
	c := NewCPU(newTestMemory(t), Kcode, Kdata, 0x8000)
	for _, v := range []uint32{1, 2, 0xdeadbeef} {
		if err := c.Push(v); err != nil {
			t.Fatalf("Push(%#x) failed: %v", v, err)
		}
	}
	if got, want := c.ESP, uint32(0x8000-12); got != want {
		t.Errorf("ESP got %#x, want %#x", got, want)
	}
	for _, want := range []uint32{0xdeadbeef, 2, 1} {
		got, err := c.Pop()
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if got != want {
			t.Errorf("Pop got %#x, want %#x", got, want)
		}
	}
	if c.ESP != 0x8000 {
		t.Errorf("ESP got %#x after balanced push/pop, want 0x8000", c.ESP)
	}
}

func TestStackFault(t *testing.T) {
	c := NewCPU(newTestMemory(t), Kcode, Kdata, 0)
	if err := c.Push(1); !errors.Is(err, ErrStackFault) {
		t.Errorf("Push at esp 0: got %v, want ErrStackFault", err)
	}
	c.ESP = testMemorySize
	if _, err := c.Pop(); !errors.Is(err, ErrStackFault) {
		t.Errorf("Pop past memory: got %v, want ErrStackFault", err)
	}
	if c.ESP != testMemorySize {
		t.Errorf("failed Pop moved ESP to %#x", c.ESP)
	}
}

func TestIretSameLevel(t *testing.T) {
	c := NewCPU(newTestMemory(t), Kcode, Kdata, 0x8000)
	for _, v := range []uint32{0xdead, KernelFlagsSet, uint32(Kcode), 0x1234} {
		if err := c.Push(v); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if err := c.Iret(); err != nil {
		t.Fatalf("Iret failed: %v", err)
	}
	if c.EIP != 0x1234 || c.CS != Kcode || c.SS != Kdata {
		t.Errorf("after iret: %+v", c.Registers)
	}
	// Only three words are popped; the fourth is left on the stack.
	if got, want := c.ESP, uint32(0x8000-4); got != want {
		t.Errorf("ESP got %#x, want %#x", got, want)
	}
}

func TestIretOuterLevel(t *testing.T) {
	c := NewCPU(newTestMemory(t), Kcode, Kdata, 0x8000)
	for _, v := range []uint32{uint32(Udata), 0x6000, UserFlagsSet, uint32(Ucode), 0x4321} {
		if err := c.Push(v); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if err := c.Iret(); err != nil {
		t.Fatalf("Iret failed: %v", err)
	}
	want := Registers{
		ESP:    0x6000,
		EIP:    0x4321,
		EFLAGS: UserFlagsSet,
		CS:     Ucode,
		SS:     Udata,
		DS:     Kdata,
		ES:     Kdata,
		FS:     Kdata,
		GS:     Kdata,
	}
	if diff := cmp.Diff(want, c.Registers); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
	if c.CPL() != UserLevel {
		t.Errorf("CPL got %d, want %d", c.CPL(), UserLevel)
	}
}

func TestIretFaults(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cs    Selector
		words []uint32
	}{
		{
			name:  "inner level",
			cs:    Ucode,
			words: []uint32{KernelFlagsSet, uint32(Kcode), 0x1000},
		},
		{
			name:  "null code",
			cs:    Kcode,
			words: []uint32{KernelFlagsSet, 0, 0x1000},
		},
		{
			name:  "stack rpl mismatch",
			cs:    Kcode,
			words: []uint32{uint32(Kdata), 0x6000, KernelFlagsSet, uint32(Ucode), 0x1000},
		},
		{
			name:  "null stack",
			cs:    Kcode,
			words: []uint32{3, 0x6000, KernelFlagsSet, uint32(Ucode), 0x1000},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCPU(newTestMemory(t), tc.cs, Kdata, 0x8000)
			for _, v := range tc.words {
				if err := c.Push(v); err != nil {
					t.Fatalf("Push failed: %v", err)
				}
			}
			before := c.Registers
			if err := c.Iret(); !errors.Is(err, ErrGeneralProtection) {
				t.Errorf("Iret: got %v, want ErrGeneralProtection", err)
			}
			if diff := cmp.Diff(before, c.Registers); diff != "" {
				t.Errorf("failed iret modified registers (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInterruptFlag(t *testing.T) {
	c := NewCPU(newTestMemory(t), Kcode, Kdata, 0x8000)
	if c.InterruptsEnabled() {
		t.Fatalf("new CPU has interrupts enabled")
	}
	if err := c.Sti(); err != nil {
		t.Fatalf("Sti failed: %v", err)
	}
	if !c.InterruptsEnabled() {
		t.Errorf("Sti did not enable interrupts")
	}
	c.Nop()
	if !c.InterruptsEnabled() {
		t.Errorf("Nop changed the interrupt flag")
	}
	if err := c.Cli(); err != nil {
		t.Fatalf("Cli failed: %v", err)
	}
	if c.InterruptsEnabled() {
		t.Errorf("Cli did not disable interrupts")
	}
}

func TestInterruptFlagUserMode(t *testing.T) {
	c := NewCPU(newTestMemory(t), Ucode, Udata, 0x8000)
	if err := c.Sti(); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("Sti at cpl 3: got %v, want ErrGeneralProtection", err)
	}
	if err := c.Cli(); !errors.Is(err, ErrGeneralProtection) {
		t.Errorf("Cli at cpl 3: got %v, want ErrGeneralProtection", err)
	}

	// With IOPL 3 user mode may change the flag.
	c.EFLAGS |= _EFLAGS_IOPL
	if err := c.Sti(); err != nil {
		t.Errorf("Sti at cpl 3, iopl 3 failed: %v", err)
	}
}

// gdtFixture is a GDT with kernel code and data in slots 1 and 2, a TSS
// descriptor in slot 4 and an LDT descriptor in slot 5, plus the LDT with user
// code and data in slots 1 and 2.
type gdtFixture struct {
	gdt *SegmentTable
	ldt *SegmentTable
}

const (
	fixtureGDT = 0x1000
	fixtureLDT = 0x1100
	fixtureTSS = 0x1200
)

func newGDTFixture(t *testing.T, mem Memory) gdtFixture {
	t.Helper()
	f := gdtFixture{
		gdt: NewSegmentTable(newTestTable(t, mem, fixtureGDT, 8)),
		ldt: NewSegmentTable(newTestTable(t, mem, fixtureLDT, 3)),
	}
	for _, err := range []error{
		f.gdt.SetSegment(1, EncodeSegment(SegmentTypeCode, SupervisorLevel, 0, 0xfffff)),
		f.gdt.SetSegment(2, EncodeSegment(SegmentTypeData, SupervisorLevel, 0, 0xfffff)),
		f.gdt.SetTSSDescriptor(4, fixtureTSS),
		f.gdt.SetLDTDescriptor(5, fixtureLDT),
		f.ldt.SetSegment(1, EncodeSegment(SegmentTypeCode, UserLevel, 0, 0x9ffff)),
		f.ldt.SetSegment(2, EncodeSegment(SegmentTypeData, UserLevel, 0, 0x9ffff)),
	} {
		if err != nil {
			t.Fatalf("fixture setup failed: %v", err)
		}
	}
	return f
}

func TestLoadTableRegisters(t *testing.T) {
	mem := newTestMemory(t)
	f := newGDTFixture(t, mem)
	c := NewCPU(mem, Kcode, Kdata, 0x8000)

	tr, ldtr := NewSelector(4, false, 0), NewSelector(5, false, 0)
	if err := c.LTR(tr); !errors.Is(err, ErrBadSelector) {
		t.Errorf("LTR before LGDT: got %v, want ErrBadSelector", err)
	}

	c.LGDT(f.gdt)
	if got, want := c.GDTR(), (DescriptorRegister{Base: fixtureGDT, Limit: 63}); got != want {
		t.Errorf("GDTR got %+v, want %+v", got, want)
	}
	if err := c.LTR(tr); err != nil {
		t.Fatalf("LTR failed: %v", err)
	}
	if got, want := c.TR(), (DescriptorRegister{Selector: tr, Base: fixtureTSS, Limit: TSSLength}); got != want {
		t.Errorf("TR got %+v, want %+v", got, want)
	}
	if err := c.LLDT(ldtr, f.ldt); err != nil {
		t.Fatalf("LLDT failed: %v", err)
	}
	if got, want := c.LDTR(), (DescriptorRegister{Selector: ldtr, Base: fixtureLDT, Limit: TSSLength}); got != want {
		t.Errorf("LDTR got %+v, want %+v", got, want)
	}

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"ltr of ldt descriptor", c.LTR(ldtr)},
		{"lldt of tss descriptor", c.LLDT(tr, f.ldt)},
		{"lldt with wrong table", c.LLDT(ldtr, f.gdt)},
		{"ltr of code segment", c.LTR(Kcode)},
		{"ltr of ldt selector", c.LTR(Ucode)},
		{"ltr of null selector", c.LTR(0)},
		{"ltr beyond gdt", c.LTR(NewSelector(8, false, 0))},
	} {
		if !errors.Is(tc.err, ErrBadSelector) {
			t.Errorf("%s: got %v, want ErrBadSelector", tc.name, tc.err)
		}
	}
}

func TestSegmentResolve(t *testing.T) {
	mem := newTestMemory(t)
	f := newGDTFixture(t, mem)
	c := NewCPU(mem, Kcode, Kdata, 0x8000)
	c.LGDT(f.gdt)
	if _, err := c.Segment(Ucode); !errors.Is(err, ErrBadSelector) {
		t.Errorf("Segment(%v) without ldt: got %v, want ErrBadSelector", Ucode, err)
	}
	if err := c.LLDT(NewSelector(5, false, 0), f.ldt); err != nil {
		t.Fatalf("LLDT failed: %v", err)
	}
	for _, tc := range []struct {
		sel  Selector
		code bool
		dpl  int
	}{
		{Kcode, true, 0},
		{Kdata, false, 0},
		{Ucode, true, 3},
		{Udata, false, 3},
	} {
		d, err := c.Segment(tc.sel)
		if err != nil {
			t.Errorf("Segment(%v) failed: %v", tc.sel, err)
			continue
		}
		if d.IsCode() != tc.code || d.DPL() != tc.dpl {
			t.Errorf("Segment(%v) = %v", tc.sel, d)
		}
	}
	// Slot 3 of the GDT is empty.
	if _, err := c.Segment(NewSelector(3, false, 0)); !errors.Is(err, ErrBadSelector) {
		t.Errorf("Segment of empty slot: got %v, want ErrBadSelector", err)
	}
}
