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

// Package boot sets up the descriptor tables of a simulated machine and
// enters its first task.
package boot

import (
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/physmem"
	"github.com/x86boot/x86boot/pkg/ring0"
	"github.com/x86boot/x86boot/x86boot/config"
)

// Gate records a gate installed by the boot sequence.
type Gate struct {
	Vector  ring0.Vector
	Type    ring0.GateType
	DPL     int
	Handler hostarch.Addr
}

// Machine is a simulated machine: memory, its descriptor tables and a CPU.
//
// Machine is not safe for concurrent use, except for Preflight which only
// reads.
type Machine struct {
	layout *config.Layout
	mem    *physmem.Memory
	cpu    *ring0.CPU

	idt *ring0.IDT
	gdt *ring0.SegmentTable
	ldt *ring0.SegmentTable

	// gates are the gates installed over the ignore gates, by vector.
	gates map[ring0.Vector]Gate

	// tss is the first task's task-state structure as stored.
	tss ring0.TSS
}

// New allocates memory for layout and creates the machine's tables and CPU.
// The tables are zero; nothing is loaded into the CPU.
func New(layout *config.Layout) (*Machine, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	mem, err := physmem.New(layout.MemorySize)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		layout: layout,
		mem:    mem,
		cpu:    ring0.NewCPU(mem, layout.KernelCode, layout.KernelData, layout.Stack),
		gates:  make(map[ring0.Vector]Gate),
	}

	idt, err := ring0.NewTable("idt", mem, layout.IDTBase, ring0.NumVectors)
	if err != nil {
		mem.Release()
		return nil, err
	}
	gdt, err := ring0.NewTable("gdt", mem, layout.GDTBase, layout.GDTEntries)
	if err != nil {
		mem.Release()
		return nil, err
	}
	ldt, err := ring0.NewTable("ldt", mem, layout.LDTBase, config.LDTEntries)
	if err != nil {
		mem.Release()
		return nil, err
	}
	m.idt = ring0.NewIDT(idt, layout.KernelCode)
	m.gdt = ring0.NewSegmentTable(gdt)
	m.ldt = ring0.NewSegmentTable(ldt)
	log.Infof("Machine memory %v, idt %v, gdt %v, ldt %v", mem.Range(), idt.Range(), gdt.Range(), ldt.Range())
	return m, nil
}

// Release releases the machine's memory.
func (m *Machine) Release() {
	if err := m.mem.Release(); err != nil {
		log.Warningf("Releasing machine memory: %v", err)
	}
}

// Layout returns the machine's layout.
func (m *Machine) Layout() *config.Layout {
	return m.layout
}

// Memory returns the machine's memory.
func (m *Machine) Memory() *physmem.Memory {
	return m.mem
}

// CPU returns the machine's CPU.
func (m *Machine) CPU() *ring0.CPU {
	return m.cpu
}

// IDT returns the interrupt descriptor table.
func (m *Machine) IDT() *ring0.IDT {
	return m.idt
}

// GDT returns the global descriptor table.
func (m *Machine) GDT() *ring0.SegmentTable {
	return m.gdt
}

// LDT returns the first task's local descriptor table.
func (m *Machine) LDT() *ring0.SegmentTable {
	return m.ldt
}

// Gates returns the gates installed by TrapInit and SchedInit.
func (m *Machine) Gates() map[ring0.Vector]Gate {
	return m.gates
}

func (m *Machine) installGate(v ring0.Vector, typ ring0.GateType, dpl int, set func(ring0.Vector, hostarch.Addr) error) error {
	handler := m.layout.Handlers.Address(v)
	if err := set(v, handler); err != nil {
		return fmt.Errorf("vector %d (%v): %w", uintptr(v), v, err)
	}
	m.gates[v] = Gate{Vector: v, Type: typ, DPL: dpl, Handler: handler}
	return nil
}

func (m *Machine) setTrapGate(v ring0.Vector) error {
	return m.installGate(v, ring0.TrapGate, ring0.SupervisorLevel, m.idt.SetTrapGate)
}

func (m *Machine) setSystemGate(v ring0.Vector) error {
	return m.installGate(v, ring0.TrapGate, ring0.UserLevel, m.idt.SetSystemGate)
}

func (m *Machine) setInterruptGate(v ring0.Vector) error {
	return m.installGate(v, ring0.InterruptGate, ring0.SupervisorLevel, m.idt.SetInterruptGate)
}
