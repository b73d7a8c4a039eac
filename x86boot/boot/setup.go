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

package boot

import (
	"fmt"
	"time"

	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/ring0"
)

// ioMapDisabled puts the I/O permission bitmap beyond the TSS limit.
const ioMapDisabled = 0x8000

func logGate(l log.Logger, g Gate) {
	l.Debugf("Installed %v gate at vector %#02x (%v), dpl %d, handler %v", g.Type, uintptr(g.Vector), g.Vector, g.DPL, g.Handler)
}

// SetupTables points every vector at the ignore handler, installs the kernel
// code and data segments and loads GDTR and IDTR.
func (m *Machine) SetupTables() error {
	for v := ring0.Vector(0); v < ring0.NumVectors; v++ {
		if err := m.idt.SetInterruptGate(v, m.layout.Handlers.Ignore); err != nil {
			return err
		}
	}
	for _, s := range []struct {
		sel ring0.Selector
		typ ring0.SegmentType
	}{
		{m.layout.KernelCode, ring0.SegmentTypeCode},
		{m.layout.KernelData, ring0.SegmentTypeData},
	} {
		d := ring0.EncodeSegment(s.typ, ring0.SupervisorLevel, 0, m.layout.KernelLimit)
		if err := m.gdt.SetSegment(s.sel.Index(), d); err != nil {
			return err
		}
		log.Debugf("GDT[%d] = %v", s.sel.Index(), d)
	}
	m.cpu.LGDT(m.gdt)
	m.cpu.LIDT(m.idt)
	log.Infof("Loaded GDTR %+v, IDTR %+v", m.cpu.GDTR(), m.cpu.IDTR())
	return nil
}

// TrapInit installs the gates of the processor exceptions: trap gates for
// everything except int3, overflow and bounds, which user mode may raise
// itself and so get system gates, and trap gates to the reserved handler for
// vectors 15 and 17 to 47.
func (m *Machine) TrapInit() error {
	for v := ring0.DivideByZero; v <= ring0.X87FloatingPointException; v++ {
		var err error
		switch v {
		case ring0.Breakpoint, ring0.Overflow, ring0.BoundRangeExceeded:
			err = m.setSystemGate(v)
		default:
			err = m.setTrapGate(v)
		}
		if err != nil {
			return err
		}
		logGate(log.Log(), m.gates[v])
	}

	rl := log.BasicRateLimitedLogger(time.Second, 1)
	for v := ring0.Vector(ring0.ReservedFirst); v <= ring0.ReservedLast; v++ {
		if err := m.setTrapGate(v); err != nil {
			return err
		}
		logGate(rl, m.gates[v])
	}
	if n := rl.Dropped(); n > 0 {
		log.Debugf("Installed %d more reserved gates", n)
	}
	log.Infof("Trap gates installed for vectors 0-%d", ring0.ReservedLast)
	return nil
}

// SchedInit sets up the first task: its TSS and LDT descriptors in the GDT,
// the code and data segments in its LDT, the task register and LDTR, and then
// the timer interrupt gate and the system call gate.
func (m *Machine) SchedInit() error {
	l := m.layout
	ldtSel := ring0.NewSelector(l.LDTSlot, false, ring0.SupervisorLevel)
	tssSel := ring0.NewSelector(l.TSSSlot, false, ring0.SupervisorLevel)

	m.tss = ring0.TSS{
		ESP0:  uint32(l.KernelStack),
		SS0:   uint32(l.KernelData),
		ES:    uint32(l.UserData),
		CS:    uint32(l.UserCode),
		SS:    uint32(l.UserData),
		DS:    uint32(l.UserData),
		FS:    uint32(l.UserData),
		GS:    uint32(l.UserData),
		LDT:   uint32(ldtSel),
		IOMap: ioMapDisabled,
	}
	if err := m.tss.Store(m.mem, l.TSSBase); err != nil {
		return err
	}
	if err := m.gdt.SetTSSDescriptor(l.TSSSlot, l.TSSBase); err != nil {
		return err
	}
	if err := m.gdt.SetLDTDescriptor(l.LDTSlot, l.LDTBase); err != nil {
		return err
	}
	for _, s := range []struct {
		sel ring0.Selector
		typ ring0.SegmentType
	}{
		{l.UserCode, ring0.SegmentTypeCode},
		{l.UserData, ring0.SegmentTypeData},
	} {
		d := ring0.EncodeSegment(s.typ, ring0.UserLevel, 0, l.UserLimit)
		if err := m.ldt.SetSegment(s.sel.Index(), d); err != nil {
			return err
		}
		log.Debugf("LDT[%d] = %v", s.sel.Index(), d)
	}

	if err := m.cpu.LTR(tssSel); err != nil {
		return fmt.Errorf("ltr: %w", err)
	}
	if err := m.cpu.LLDT(ldtSel, m.ldt); err != nil {
		return fmt.Errorf("lldt: %w", err)
	}
	log.Infof("Loaded TR %+v, LDTR %+v", m.cpu.TR(), m.cpu.LDTR())

	if err := m.setInterruptGate(ring0.TimerInterrupt); err != nil {
		return err
	}
	logGate(log.Log(), m.gates[ring0.TimerInterrupt])
	if err := m.setSystemGate(ring0.SyscallInt80); err != nil {
		return err
	}
	logGate(log.Log(), m.gates[ring0.SyscallInt80])
	return nil
}

// EnterUserMode enables interrupts and moves the CPU into the first task.
func (m *Machine) EnterUserMode() (ring0.TransitionFrame, error) {
	if m.cpu.State() == ring0.User {
		return ring0.TransitionFrame{}, ring0.ErrAlreadyUser
	}
	if err := m.cpu.Sti(); err != nil {
		return ring0.TransitionFrame{}, err
	}
	frame, err := m.cpu.MoveToUserMode(ring0.SwitchOpts{
		Code:  m.layout.UserCode,
		Data:  m.layout.UserData,
		Entry: m.layout.UserEntry,
		Resume: func(c *ring0.CPU) {
			log.Infof("Entered user mode at %v:%#x, stack %v:%#x", c.CS, c.EIP, c.SS, c.ESP)
		},
	})
	if err != nil {
		return ring0.TransitionFrame{}, fmt.Errorf("move to user mode: %w", err)
	}
	return frame, nil
}
