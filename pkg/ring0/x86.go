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

// Package ring0 encodes 32-bit x86 protected-mode descriptor tables and
// simulates the supervisor-to-user transition of the first task.
package ring0

import (
	"fmt"
)

// Privilege levels.
const (
	// SupervisorLevel is the most privileged level (ring 0).
	SupervisorLevel = 0

	// UserLevel is the least privileged level (ring 3).
	UserLevel = 3
)

// Useful bits.
const (
	_EFLAGS_RESERVED = 1 << 1
	_EFLAGS_IF       = 1 << 9
	_EFLAGS_IOPL     = 3 << 12
	_EFLAGS_NT       = 1 << 14

	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = _EFLAGS_RESERVED

	// UserFlagsSet are always set in userspace.
	UserFlagsSet = _EFLAGS_RESERVED | _EFLAGS_IF

	// UserFlagsClear are always cleared in userspace.
	UserFlagsClear = _EFLAGS_NT | _EFLAGS_IOPL
)

// Selector is a segment selector.
//
// Bits 0-1 are the requested privilege level, bit 2 selects the local
// descriptor table and bits 3-15 are the table index.
type Selector uint16

// selectorLDT is the table indicator bit.
const selectorLDT = 1 << 2

// NewSelector returns the selector for index in the GDT (or the LDT if ldt is
// true) with the given requested privilege level.
func NewSelector(index int, ldt bool, rpl int) Selector {
	s := Selector(index<<3) | Selector(rpl&3)
	if ldt {
		s |= selectorLDT
	}
	return s
}

// Index returns the descriptor table index.
func (s Selector) Index() int {
	return int(s >> 3)
}

// LDT returns true if the selector refers to the local descriptor table.
func (s Selector) LDT() bool {
	return s&selectorLDT != 0
}

// RPL returns the requested privilege level.
func (s Selector) RPL() int {
	return int(s & 3)
}

// IsNull returns true for the null selector, which may be loaded in data
// segment registers but never used to reference memory.
func (s Selector) IsNull() bool {
	return s&^3 == 0
}

// String implements fmt.Stringer.String.
func (s Selector) String() string {
	table := "gdt"
	if s.LDT() {
		table = "ldt"
	}
	return fmt.Sprintf("%#04x(%s[%d],rpl=%d)", uint16(s), table, s.Index(), s.RPL())
}

// Architectural selectors for the first task.
//
// These are defaults. The boot layout may assign different ones.
const (
	// Kcode is the kernel code selector, GDT slot 1.
	Kcode Selector = 0x0008

	// Kdata is the kernel data selector, GDT slot 2.
	Kdata Selector = 0x0010

	// Ucode is the first task's code selector, LDT slot 1 at RPL 3.
	Ucode Selector = 0x000f

	// Udata is the first task's data selector, LDT slot 2 at RPL 3.
	Udata Selector = 0x0017
)

// Vector is an interrupt vector.
type Vector uintptr

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	ReservedFirst       = 17
	ReservedLast        = 47
	TimerInterrupt      = 0x20
	SyscallInt80        = 0x80
	NumVectors          = 0x100
	_NR_RESERVED_VECTOR = 15
)

var vectorNames = map[Vector]string{
	DivideByZero:              "divide_error",
	Debug:                     "debug",
	NMI:                       "nmi",
	Breakpoint:                "int3",
	Overflow:                  "overflow",
	BoundRangeExceeded:        "bounds",
	InvalidOpcode:             "invalid_op",
	DeviceNotAvailable:        "device_not_available",
	DoubleFault:               "double_fault",
	CoprocessorSegmentOverrun: "coprocessor_segment_overrun",
	InvalidTSS:                "invalid_TSS",
	SegmentNotPresent:         "segment_not_present",
	StackSegmentFault:         "stack_segment",
	GeneralProtectionFault:    "general_protection",
	PageFault:                 "page_fault",
	_NR_RESERVED_VECTOR:       "reserved",
	X87FloatingPointException: "coprocessor_error",
	TimerInterrupt:            "timer_interrupt",
	SyscallInt80:              "system_call",
}

// String implements fmt.Stringer.String.
func (v Vector) String() string {
	if name, ok := vectorNames[v]; ok {
		return name
	}
	if v >= ReservedFirst && v <= ReservedLast {
		return "reserved"
	}
	return fmt.Sprintf("vector%#02x", uintptr(v))
}

// ValidDPL returns true if dpl is a legal privilege level.
func ValidDPL(dpl int) bool {
	return dpl >= SupervisorLevel && dpl <= UserLevel
}
