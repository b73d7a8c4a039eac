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
	"github.com/x86boot/x86boot/pkg/hostarch"
)

// IDT is an interrupt descriptor table.
type IDT struct {
	*Table

	// kcode is the code segment every gate transfers to.
	kcode Selector
}

// NewIDT wraps t as an IDT whose gates target the kcode segment.
func NewIDT(t *Table, kcode Selector) *IDT {
	return &IDT{Table: t, kcode: kcode}
}

// KernelCode returns the selector used by installed gates.
func (i *IDT) KernelCode() Selector {
	return i.kcode
}

func (i *IDT) setGate(n Vector, typ GateType, dpl int, target hostarch.Addr) error {
	return i.Install(int(n), EncodeGate(i.kcode, typ, dpl, target).Bytes())
}

// SetInterruptGate installs an interrupt gate at vector n. The gate can only
// be reached by hardware delivery, never by a software interrupt from user
// mode.
func (i *IDT) SetInterruptGate(n Vector, target hostarch.Addr) error {
	return i.setGate(n, InterruptGate, SupervisorLevel, target)
}

// SetTrapGate installs a trap gate with DPL 0 at vector n, for processor
// detected exceptions.
func (i *IDT) SetTrapGate(n Vector, target hostarch.Addr) error {
	return i.setGate(n, TrapGate, SupervisorLevel, target)
}

// SetSystemGate installs a trap gate with DPL 3 at vector n. This is the only
// kind of gate user mode may invoke with a software interrupt.
func (i *IDT) SetSystemGate(n Vector, target hostarch.Addr) error {
	return i.setGate(n, TrapGate, UserLevel, target)
}

// Gate decodes the gate at vector n.
func (i *IDT) Gate(n Vector) (GateDescriptor, error) {
	b, err := i.Entry(int(n))
	if err != nil {
		return GateDescriptor{}, err
	}
	return DecodeGate(b), nil
}

// SegmentTable is a global or local descriptor table.
type SegmentTable struct {
	*Table
}

// NewSegmentTable wraps t as a GDT or LDT.
func NewSegmentTable(t *Table) *SegmentTable {
	return &SegmentTable{Table: t}
}

// SetSegment installs a code or data segment descriptor at slot n.
func (s *SegmentTable) SetSegment(n int, d SegmentDescriptor) error {
	return s.Install(n, d.Bytes())
}

// SetTSSDescriptor installs a descriptor for the task-state structure at base
// into slot n.
func (s *SegmentTable) SetTSSDescriptor(n int, base hostarch.Addr) error {
	return s.Install(n, EncodeTSSDescriptor(base).Bytes())
}

// SetLDTDescriptor installs a descriptor for the local descriptor table at
// base into slot n.
func (s *SegmentTable) SetLDTDescriptor(n int, base hostarch.Addr) error {
	return s.Install(n, EncodeLDTDescriptor(base).Bytes())
}

// Segment decodes slot n as a segment descriptor.
func (s *SegmentTable) Segment(n int) (SegmentDescriptor, error) {
	b, err := s.Entry(n)
	if err != nil {
		return SegmentDescriptor{}, err
	}
	return DecodeSegment(b), nil
}

// System decodes slot n as a TSS or LDT descriptor.
func (s *SegmentTable) System(n int) (SystemDescriptor, error) {
	b, err := s.Entry(n)
	if err != nil {
		return SystemDescriptor{}, err
	}
	return DecodeSystem(b), nil
}
