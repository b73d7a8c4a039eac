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
	"io"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

var (
	// ErrIndexOutOfRange is returned when a table index is beyond the
	// table's capacity.
	ErrIndexOutOfRange = errors.New("descriptor index out of range")

	// ErrTableLive is returned when a table that is loaded into a CPU is
	// modified while that CPU has interrupts enabled.
	ErrTableLive = errors.New("descriptor table is live")
)

// Memory is machine memory addressed by physical address.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// maxEntries is the number of entries addressable by a 16-bit table limit.
const maxEntries = 1 << 16 / DescriptorSize

// Table is a descriptor table in machine memory.
//
// Entries are written with a single 8-byte write. A table is considered live
// once a CPU has loaded it (LGDT, LIDT or LLDT); from then on it may only be
// modified while that CPU has interrupts disabled.
type Table struct {
	name    string
	mem     Memory
	base    hostarch.Addr
	entries int

	// cpu is the CPU the table is loaded into, if any.
	cpu *CPU
}

// NewTable returns a table of entries descriptors at base.
func NewTable(name string, mem Memory, base hostarch.Addr, entries int) (*Table, error) {
	if entries <= 0 || entries > maxEntries {
		return nil, fmt.Errorf("%s: invalid entry count %d", name, entries)
	}
	if _, ok := base.AddLength(uint32(entries * DescriptorSize)); !ok {
		return nil, fmt.Errorf("%s: table at %v with %d entries overflows the address space", name, base, entries)
	}
	return &Table{
		name:    name,
		mem:     mem,
		base:    base,
		entries: entries,
	}, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Base returns the table's base address.
func (t *Table) Base() hostarch.Addr {
	return t.base
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.entries
}

// Limit returns the table limit as loaded into GDTR, IDTR or LDTR.
func (t *Table) Limit() uint16 {
	return uint16(t.entries*DescriptorSize - 1)
}

// Range returns the memory occupied by the table.
func (t *Table) Range() hostarch.AddrRange {
	r, _ := t.base.ToRange(uint32(t.entries * DescriptorSize))
	return r
}

// Addr returns the address of entry index.
func (t *Table) Addr(index int) (hostarch.Addr, error) {
	if index < 0 || index >= t.entries {
		return 0, fmt.Errorf("%s[%d] with %d entries: %w", t.name, index, t.entries, ErrIndexOutOfRange)
	}
	return t.base + hostarch.Addr(index*DescriptorSize), nil
}

// live returns true if the table may be read by the CPU at any time.
func (t *Table) live() bool {
	return t.cpu != nil && t.cpu.InterruptsEnabled()
}

// Install writes entry into slot index. No other slot is touched.
func (t *Table) Install(index int, entry [DescriptorSize]byte) error {
	addr, err := t.Addr(index)
	if err != nil {
		return err
	}
	if t.live() {
		return fmt.Errorf("%s[%d]: %w", t.name, index, ErrTableLive)
	}
	if _, err := t.mem.WriteAt(entry[:], int64(addr)); err != nil {
		return fmt.Errorf("%s[%d] at %v: %w", t.name, index, addr, err)
	}
	return nil
}

// Entry reads slot index.
func (t *Table) Entry(index int) ([DescriptorSize]byte, error) {
	var entry [DescriptorSize]byte
	addr, err := t.Addr(index)
	if err != nil {
		return entry, err
	}
	if _, err := t.mem.ReadAt(entry[:], int64(addr)); err != nil {
		return entry, fmt.Errorf("%s[%d] at %v: %w", t.name, index, addr, err)
	}
	return entry, nil
}
