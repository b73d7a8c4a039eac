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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

var (
	// ErrStackFault is returned when a push or pop leaves the stack's
	// addressable memory.
	ErrStackFault = errors.New("stack fault")

	// ErrGeneralProtection is returned for operations the current
	// privilege level does not allow.
	ErrGeneralProtection = errors.New("general protection fault")

	// ErrBadSelector is returned when a selector does not reference a
	// usable descriptor.
	ErrBadSelector = errors.New("bad selector")
)

// Registers is the register state of the simulated CPU.
type Registers struct {
	EAX    uint32
	ESP    uint32
	EIP    uint32
	EFLAGS uint32
	CS     Selector
	SS     Selector
	DS     Selector
	ES     Selector
	FS     Selector
	GS     Selector
}

// DescriptorRegister is the value of GDTR, IDTR, LDTR or TR.
type DescriptorRegister struct {
	Selector Selector
	Base     hostarch.Addr
	Limit    uint16
}

// State is the privilege state of the CPU as far as the first task is
// concerned.
type State int

// CPU states. Supervisor is initial and User is terminal.
const (
	Supervisor State = iota
	User
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Supervisor:
		return "supervisor"
	case User:
		return "user"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CPU is a single simulated 32-bit protected-mode processor.
//
// It implements only what is needed to install descriptor tables and to
// enter the first task: stack operations, iret, interrupt flag control and
// loading of the table registers.
type CPU struct {
	Registers

	mem   Memory
	state State

	gdt *SegmentTable
	idt *IDT
	ldt *SegmentTable

	gdtr DescriptorRegister
	idtr DescriptorRegister
	ldtr DescriptorRegister
	tr   DescriptorRegister
}

// NewCPU returns a CPU in the Supervisor state running on the kcode and
// kdata segments with the stack at stackTop and interrupts disabled.
func NewCPU(mem Memory, kcode, kdata Selector, stackTop hostarch.Addr) *CPU {
	c := &CPU{mem: mem}
	c.CS = kcode
	c.SS = kdata
	c.DS = kdata
	c.ES = kdata
	c.FS = kdata
	c.GS = kdata
	c.ESP = uint32(stackTop)
	c.EFLAGS = KernelFlagsSet
	return c
}

// State returns the CPU state.
func (c *CPU) State() State {
	return c.state
}

// CPL returns the current privilege level.
func (c *CPU) CPL() int {
	return c.CS.RPL()
}

// IOPL returns the I/O privilege level from EFLAGS.
func (c *CPU) IOPL() int {
	return int((c.EFLAGS & _EFLAGS_IOPL) >> 12)
}

// InterruptsEnabled returns true if EFLAGS.IF is set.
func (c *CPU) InterruptsEnabled() bool {
	return c.EFLAGS&_EFLAGS_IF != 0
}

// Sti enables interrupts.
func (c *CPU) Sti() error {
	if c.CPL() > c.IOPL() {
		return fmt.Errorf("sti at cpl %d, iopl %d: %w", c.CPL(), c.IOPL(), ErrGeneralProtection)
	}
	c.EFLAGS |= _EFLAGS_IF
	return nil
}

// Cli disables interrupts.
func (c *CPU) Cli() error {
	if c.CPL() > c.IOPL() {
		return fmt.Errorf("cli at cpl %d, iopl %d: %w", c.CPL(), c.IOPL(), ErrGeneralProtection)
	}
	c.EFLAGS &^= _EFLAGS_IF
	return nil
}

// Nop does nothing.
func (c *CPU) Nop() {}

// Push pushes a dword onto the current stack.
func (c *CPU) Push(v uint32) error {
	if c.ESP < 4 {
		return fmt.Errorf("push at esp %#x: %w", c.ESP, ErrStackFault)
	}
	esp := c.ESP - 4
	if err := c.store(esp, v); err != nil {
		return err
	}
	c.ESP = esp
	return nil
}

// Pop pops a dword from the current stack.
func (c *CPU) Pop() (uint32, error) {
	v, err := c.load(c.ESP)
	if err != nil {
		return 0, err
	}
	c.ESP += 4
	return v, nil
}

func (c *CPU) load(addr uint32) (uint32, error) {
	var b [4]byte
	if _, err := c.mem.ReadAt(b[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("stack read at %#x: %v: %w", addr, err, ErrStackFault)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (c *CPU) store(addr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := c.mem.WriteAt(b[:], int64(addr)); err != nil {
		return fmt.Errorf("stack write at %#x: %v: %w", addr, err, ErrStackFault)
	}
	return nil
}

// Iret returns from an interrupt.
//
// It pops EIP, CS and EFLAGS and, if the new code selector's RPL is
// numerically greater than the CPL (a return to an outer privilege level),
// also ESP and SS. A return to an inner privilege level is a general
// protection fault. Nothing is modified if the frame cannot be read.
func (c *CPU) Iret() error {
	var frame [5]uint32
	for i := 0; i < 3; i++ {
		v, err := c.load(c.ESP + uint32(4*i))
		if err != nil {
			return err
		}
		frame[i] = v
	}
	cs := Selector(frame[1])
	if cs.RPL() < c.CPL() {
		return fmt.Errorf("iret to %v from cpl %d: %w", cs, c.CPL(), ErrGeneralProtection)
	}
	if cs.IsNull() {
		return fmt.Errorf("iret to null code selector: %w", ErrGeneralProtection)
	}
	outer := cs.RPL() > c.CPL()
	if outer {
		for i := 3; i < 5; i++ {
			v, err := c.load(c.ESP + uint32(4*i))
			if err != nil {
				return err
			}
			frame[i] = v
		}
		if ss := Selector(frame[4]); ss.RPL() != cs.RPL() || ss.IsNull() {
			return fmt.Errorf("iret with stack selector %v for %v: %w", ss, cs, ErrGeneralProtection)
		}
	}

	c.EIP = frame[0]
	c.CS = cs
	c.EFLAGS = frame[2] | _EFLAGS_RESERVED
	if outer {
		c.ESP = frame[3]
		c.SS = Selector(frame[4])
	} else {
		c.ESP += 12
	}
	return nil
}

// LGDT loads the global descriptor table register.
func (c *CPU) LGDT(gdt *SegmentTable) {
	c.gdt = gdt
	c.gdtr = DescriptorRegister{Base: gdt.Base(), Limit: gdt.Limit()}
	gdt.cpu = c
}

// LIDT loads the interrupt descriptor table register.
func (c *CPU) LIDT(idt *IDT) {
	c.idt = idt
	c.idtr = DescriptorRegister{Base: idt.Base(), Limit: idt.Limit()}
	idt.cpu = c
}

// system returns the system descriptor sel references in the GDT.
func (c *CPU) system(sel Selector, want SystemType) (SystemDescriptor, error) {
	if c.gdt == nil {
		return SystemDescriptor{}, fmt.Errorf("%v: no gdt loaded: %w", sel, ErrBadSelector)
	}
	if sel.LDT() || sel.IsNull() {
		return SystemDescriptor{}, fmt.Errorf("%v: not a gdt selector: %w", sel, ErrBadSelector)
	}
	d, err := c.gdt.System(sel.Index())
	if err != nil {
		return SystemDescriptor{}, fmt.Errorf("%v: %v: %w", sel, err, ErrBadSelector)
	}
	if d.Type() != want {
		return SystemDescriptor{}, fmt.Errorf("%v: descriptor %v is not a %v: %w", sel, d, want, ErrBadSelector)
	}
	return d, nil
}

// LLDT loads the local descriptor table register with sel, which must
// reference an LDT descriptor for ldt.
func (c *CPU) LLDT(sel Selector, ldt *SegmentTable) error {
	d, err := c.system(sel, SystemLDT)
	if err != nil {
		return err
	}
	if d.Base() != ldt.Base() {
		return fmt.Errorf("%v: descriptor base %v, table at %v: %w", sel, d.Base(), ldt.Base(), ErrBadSelector)
	}
	c.ldt = ldt
	c.ldtr = DescriptorRegister{Selector: sel, Base: d.Base(), Limit: d.Length()}
	ldt.cpu = c
	return nil
}

// LTR loads the task register with sel, which must reference a TSS
// descriptor.
func (c *CPU) LTR(sel Selector) error {
	d, err := c.system(sel, SystemTSS)
	if err != nil {
		return err
	}
	c.tr = DescriptorRegister{Selector: sel, Base: d.Base(), Limit: d.Length()}
	return nil
}

// GDTR returns the global descriptor table register.
func (c *CPU) GDTR() DescriptorRegister {
	return c.gdtr
}

// IDTR returns the interrupt descriptor table register.
func (c *CPU) IDTR() DescriptorRegister {
	return c.idtr
}

// LDTR returns the local descriptor table register.
func (c *CPU) LDTR() DescriptorRegister {
	return c.ldtr
}

// TR returns the task register.
func (c *CPU) TR() DescriptorRegister {
	return c.tr
}

// Segment resolves sel to the code or data segment it references.
func (c *CPU) Segment(sel Selector) (SegmentDescriptor, error) {
	if sel.IsNull() {
		return SegmentDescriptor{}, fmt.Errorf("%v: null selector: %w", sel, ErrBadSelector)
	}
	table := c.gdt
	if sel.LDT() {
		table = c.ldt
	}
	if table == nil {
		return SegmentDescriptor{}, fmt.Errorf("%v: table not loaded: %w", sel, ErrBadSelector)
	}
	d, err := table.Segment(sel.Index())
	if err != nil {
		return SegmentDescriptor{}, fmt.Errorf("%v: %v: %w", sel, err, ErrBadSelector)
	}
	if !d.Present() {
		return SegmentDescriptor{}, fmt.Errorf("%v: segment not present: %w", sel, ErrBadSelector)
	}
	return d, nil
}
