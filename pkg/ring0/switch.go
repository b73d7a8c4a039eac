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
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

// ErrAlreadyUser is returned by MoveToUserMode once the first task runs.
var ErrAlreadyUser = errors.New("already running in user mode")

// SwitchOpts are passed to MoveToUserMode.
type SwitchOpts struct {
	// Code is the user code selector loaded into CS.
	Code Selector

	// Data is the user data selector loaded into SS, DS, ES, FS and GS.
	Data Selector

	// Entry is the resume point, loaded into EIP.
	Entry hostarch.Addr

	// Resume, if set, is called at the resume point after the remaining
	// segment registers have been reloaded.
	Resume func(*CPU)
}

// TransitionFrame is the stack frame a CPU pushes when an interrupt is taken
// from an outer privilege level, in push order.
//
// iret pops it in the reverse order: EIP, CS, EFLAGS, ESP, SS.
type TransitionFrame struct {
	SS     uint32
	ESP    uint32
	EFLAGS uint32
	CS     uint32
	EIP    uint32
}

// FrameWords is the number of dwords in a TransitionFrame.
const FrameWords = 5

// Words returns the frame in push order.
func (f TransitionFrame) Words() [FrameWords]uint32 {
	return [FrameWords]uint32{f.SS, f.ESP, f.EFLAGS, f.CS, f.EIP}
}

// FrameFromPops rebuilds a frame from the dwords in the order iret pops them.
func FrameFromPops(pops [FrameWords]uint32) TransitionFrame {
	return TransitionFrame{
		EIP:    pops[0],
		CS:     pops[1],
		EFLAGS: pops[2],
		ESP:    pops[3],
		SS:     pops[4],
	}
}

// checkUserSelector validates sel for use as the first task's code or data
// segment.
func (c *CPU) checkUserSelector(sel Selector, code bool) error {
	if sel.IsNull() || sel.RPL() != UserLevel {
		return fmt.Errorf("%v: want a non-null selector with rpl %d: %w", sel, UserLevel, ErrBadSelector)
	}
	// A selector into a table that is not loaded is only checked for its
	// RPL.
	if (sel.LDT() && c.ldt == nil) || (!sel.LDT() && c.gdt == nil) {
		return nil
	}
	d, err := c.Segment(sel)
	if err != nil {
		return err
	}
	if d.DPL() != sel.RPL() {
		return fmt.Errorf("%v: descriptor dpl %d: %w", sel, d.DPL(), ErrBadSelector)
	}
	if code && !d.IsCode() {
		return fmt.Errorf("%v: %v is not a code segment: %w", sel, d, ErrBadSelector)
	}
	if !code && !d.IsData() {
		return fmt.Errorf("%v: %v is not a data segment: %w", sel, d, ErrBadSelector)
	}
	return nil
}

// MoveToUserMode enters the first task.
//
// It builds on the current stack the frame a CPU pushes on an interrupt taken
// from user mode: the user data selector as SS, the current ESP, the current
// EFLAGS without UserFlagsClear, the user code selector as CS and opts.Entry
// as EIP. It then returns
// through that frame with Iret, which drops the CPL to 3 and leaves ESP where
// it was. Finally, at the resume point, DS, ES, FS and GS are reloaded with
// the data selector.
//
// This may be called once. On error the CPU is left in the Supervisor state
// with its registers unchanged.
func (c *CPU) MoveToUserMode(opts SwitchOpts) (TransitionFrame, error) {
	if c.state == User {
		return TransitionFrame{}, ErrAlreadyUser
	}
	if c.CPL() != SupervisorLevel {
		return TransitionFrame{}, fmt.Errorf("move to user mode at cpl %d: %w", c.CPL(), ErrGeneralProtection)
	}
	if err := c.checkUserSelector(opts.Code, true); err != nil {
		return TransitionFrame{}, err
	}
	if err := c.checkUserSelector(opts.Data, false); err != nil {
		return TransitionFrame{}, err
	}

	saved := c.Registers
	frame := TransitionFrame{
		SS:     uint32(opts.Data),
		ESP:    c.ESP,
		EFLAGS: c.EFLAGS &^ UserFlagsClear,
		CS:     uint32(opts.Code),
		EIP:    uint32(opts.Entry),
	}
	for _, w := range frame.Words() {
		if err := c.Push(w); err != nil {
			c.Registers = saved
			return TransitionFrame{}, err
		}
	}
	if err := c.Iret(); err != nil {
		c.Registers = saved
		return TransitionFrame{}, err
	}

	// Resume point: now at CPL 3.
	c.EAX = uint32(opts.Data)
	c.DS = Selector(c.EAX)
	c.ES = Selector(c.EAX)
	c.FS = Selector(c.EAX)
	c.GS = Selector(c.EAX)
	c.state = User
	if opts.Resume != nil {
		opts.Resume(c)
	}
	return frame, nil
}
