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
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

// DescriptorSize is the size of every 32-bit descriptor table entry.
const DescriptorSize = 8

// SegmentDescriptorFlags are typed flags within a descriptor.
type SegmentDescriptorFlags uint32

// SegmentDescriptorFlag declarations.
const (
	SegmentDescriptorAccess     SegmentDescriptorFlags = 1 << 8  // Access bit.
	SegmentDescriptorWrite                             = 1 << 9  // Write permission.
	SegmentDescriptorExpandDown                        = 1 << 10 // Grows down, not used.
	SegmentDescriptorExecute                           = 1 << 11 // Execute permission.
	SegmentDescriptorSystem                            = 1 << 12 // Zero => system, 1 => user code/data.
	SegmentDescriptorPresent                           = 1 << 15 // Present.
	SegmentDescriptorAVL                               = 1 << 20 // Available.
	SegmentDescriptorLong                              = 1 << 21 // Long mode.
	SegmentDescriptorDB                                = 1 << 22 // 16 or 32-bit.
	SegmentDescriptorG                                 = 1 << 23 // Granularity: page or byte.
)

// descriptorBytes lays out the two dwords of a descriptor in memory order.
func descriptorBytes(bits [2]uint32) (b [DescriptorSize]byte) {
	binary.LittleEndian.PutUint32(b[0:4], bits[0])
	binary.LittleEndian.PutUint32(b[4:8], bits[1])
	return
}

func descriptorBits(b [DescriptorSize]byte) [2]uint32 {
	return [2]uint32{
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint32(b[4:8]),
	}
}

// GateType is the type field of an interrupt descriptor table gate.
type GateType uint8

// Gate types.
const (
	// InterruptGate clears IF on entry.
	InterruptGate GateType = 14

	// TrapGate leaves IF alone on entry. System gates are trap gates with
	// DPL 3.
	TrapGate GateType = 15
)

// Valid returns true for the gate types installed in an IDT.
func (t GateType) Valid() bool {
	return t == InterruptGate || t == TrapGate
}

// String implements fmt.Stringer.String.
func (t GateType) String() string {
	switch t {
	case InterruptGate:
		return "interrupt"
	case TrapGate:
		return "trap"
	default:
		return fmt.Sprintf("gate(%d)", uint8(t))
	}
}

// GateDescriptor is a 32-bit interrupt or trap gate.
type GateDescriptor struct {
	bits [2]uint32
}

// EncodeGate builds a present gate that transfers to offset within the code
// segment named by sel.
//
// Precondition: typ.Valid() and ValidDPL(dpl). Out of range values are
// truncated to the width of their field.
func EncodeGate(sel Selector, typ GateType, dpl int, offset hostarch.Addr) GateDescriptor {
	var g GateDescriptor
	g.bits[0] = uint32(sel)<<16 | uint32(offset)&0xFFFF
	g.bits[1] = uint32(offset)&0xFFFF0000 | uint32(SegmentDescriptorPresent) | uint32(dpl&3)<<13 | uint32(typ&0xF)<<8
	return g
}

// DecodeGate interprets an 8-byte table entry as a gate.
func DecodeGate(b [DescriptorSize]byte) GateDescriptor {
	return GateDescriptor{bits: descriptorBits(b)}
}

// Selector returns the target code segment selector.
func (g GateDescriptor) Selector() Selector {
	return Selector(g.bits[0] >> 16)
}

// Offset returns the target offset.
func (g GateDescriptor) Offset() hostarch.Addr {
	return hostarch.Addr(g.bits[1]&0xFFFF0000 | g.bits[0]&0xFFFF)
}

// Type returns the gate type.
func (g GateDescriptor) Type() GateType {
	return GateType((g.bits[1] >> 8) & 0xF)
}

// DPL returns the privilege level required to invoke the gate with a
// software interrupt.
func (g GateDescriptor) DPL() int {
	return int((g.bits[1] >> 13) & 3)
}

// Present returns true if the present bit is set.
func (g GateDescriptor) Present() bool {
	return g.bits[1]&uint32(SegmentDescriptorPresent) != 0
}

// Bits returns the low and high dwords.
func (g GateDescriptor) Bits() [2]uint32 {
	return g.bits
}

// Bytes returns the in-memory representation.
func (g GateDescriptor) Bytes() [DescriptorSize]byte {
	return descriptorBytes(g.bits)
}

// String implements fmt.Stringer.String.
func (g GateDescriptor) String() string {
	return fmt.Sprintf("%s gate %v:%v dpl=%d present=%t", g.Type(), g.Selector(), g.Offset(), g.DPL(), g.Present())
}

// SegmentType is the combined S and type field (bits 8-12 of the high
// dword) of a code or data segment descriptor.
type SegmentType uint8

// Segment types.
const (
	// SegmentTypeData is a read/write data segment.
	SegmentTypeData = SegmentType((SegmentDescriptorSystem | SegmentDescriptorWrite) >> 8)

	// SegmentTypeCode is an execute/read code segment.
	SegmentTypeCode = SegmentType((SegmentDescriptorSystem | SegmentDescriptorExecute | SegmentDescriptorWrite) >> 8)
)

// segmentFlagsFixed are set in every segment built by EncodeSegment: present,
// and 32-bit default operand size.
const segmentFlagsFixed = uint32(SegmentDescriptorPresent | SegmentDescriptorDB)

// SegmentDescriptor is a 32-bit code or data segment descriptor.
type SegmentDescriptor struct {
	bits [2]uint32
}

// EncodeSegment builds a present, 32-bit, byte-granular segment descriptor.
//
// Precondition: ValidDPL(dpl) and limit fits in 20 bits.
func EncodeSegment(typ SegmentType, dpl int, base hostarch.Addr, limit uint32) SegmentDescriptor {
	var d SegmentDescriptor
	b := uint32(base)
	d.bits[0] = (b&0x0000FFFF)<<16 | limit&0x0FFFF
	d.bits[1] = b&0xFF000000 | (b&0x00FF0000)>>16 | limit&0xF0000 | uint32(dpl&3)<<13 | segmentFlagsFixed | uint32(typ&0x1F)<<8
	return d
}

// DecodeSegment interprets an 8-byte table entry as a segment descriptor.
func DecodeSegment(b [DescriptorSize]byte) SegmentDescriptor {
	return SegmentDescriptor{bits: descriptorBits(b)}
}

// Base returns the descriptor's base linear address.
func (d SegmentDescriptor) Base() hostarch.Addr {
	return hostarch.Addr(d.bits[1]&0xFF000000 | (d.bits[1]&0x000000FF)<<16 | d.bits[0]>>16)
}

// RawLimit returns the 20-bit limit field.
func (d SegmentDescriptor) RawLimit() uint32 {
	return d.bits[0]&0xFFFF | d.bits[1]&0xF0000
}

// Limit returns the segment limit in bytes, honoring the granularity flag.
func (d SegmentDescriptor) Limit() uint32 {
	l := d.RawLimit()
	if d.bits[1]&uint32(SegmentDescriptorG) != 0 {
		l <<= 12
		l |= 0xFFF
	}
	return l
}

// Flags returns descriptor flags.
func (d SegmentDescriptor) Flags() SegmentDescriptorFlags {
	return SegmentDescriptorFlags(d.bits[1] & 0x00F09F00)
}

// Type returns the S and type field.
func (d SegmentDescriptor) Type() SegmentType {
	return SegmentType((d.bits[1] >> 8) & 0x1F)
}

// DPL returns the descriptor privilege level.
func (d SegmentDescriptor) DPL() int {
	return int((d.bits[1] >> 13) & 3)
}

// Present returns true if the present bit is set.
func (d SegmentDescriptor) Present() bool {
	return d.Flags()&SegmentDescriptorPresent != 0
}

// IsCode returns true for executable code/data segments.
func (d SegmentDescriptor) IsCode() bool {
	f := d.Flags()
	return f&SegmentDescriptorSystem != 0 && f&SegmentDescriptorExecute != 0
}

// IsData returns true for non-executable code/data segments.
func (d SegmentDescriptor) IsData() bool {
	f := d.Flags()
	return f&SegmentDescriptorSystem != 0 && f&SegmentDescriptorExecute == 0
}

// Bits returns the low and high dwords.
func (d SegmentDescriptor) Bits() [2]uint32 {
	return d.bits
}

// Bytes returns the in-memory representation.
func (d SegmentDescriptor) Bytes() [DescriptorSize]byte {
	return descriptorBytes(d.bits)
}

// String implements fmt.Stringer.String.
func (d SegmentDescriptor) String() string {
	return fmt.Sprintf("segment base=%v limit=%#x type=%#02x dpl=%d present=%t", d.Base(), d.Limit(), uint8(d.Type()), d.DPL(), d.Present())
}

// SystemType is the full access byte of a TSS or LDT descriptor. Both kinds
// used here are present with DPL 0.
type SystemType uint8

// System descriptor types.
const (
	// SystemTSS is an available 32-bit task-state segment.
	SystemTSS SystemType = 0x89

	// SystemLDT is a local descriptor table.
	SystemLDT SystemType = 0x82
)

// String implements fmt.Stringer.String.
func (t SystemType) String() string {
	switch t {
	case SystemTSS:
		return "tss"
	case SystemLDT:
		return "ldt"
	default:
		return fmt.Sprintf("system(%#02x)", uint8(t))
	}
}

// TSSLength is the length recorded in every TSS and LDT descriptor. It is the
// size of the hardware task-state structure and is used for LDTs too.
const TSSLength = 104

// SystemDescriptor is a TSS or LDT descriptor in the GDT.
type SystemDescriptor [DescriptorSize]byte

// EncodeSystem builds a TSS or LDT descriptor for the structure at base.
//
// The layout is: bytes 0-1 length, bytes 2-3 base[0:15], byte 4 base[16:23],
// byte 5 the type byte, byte 6 zero, byte 7 base[24:31].
func EncodeSystem(base hostarch.Addr, typ SystemType) SystemDescriptor {
	var d SystemDescriptor
	binary.LittleEndian.PutUint16(d[0:2], TSSLength)
	binary.LittleEndian.PutUint16(d[2:4], uint16(base))
	d[4] = byte(base >> 16)
	d[5] = byte(typ)
	d[6] = 0
	d[7] = byte(base >> 24)
	return d
}

// EncodeTSSDescriptor builds a TSS descriptor for the task-state structure at
// base.
func EncodeTSSDescriptor(base hostarch.Addr) SystemDescriptor {
	return EncodeSystem(base, SystemTSS)
}

// EncodeLDTDescriptor builds an LDT descriptor for the table at base.
func EncodeLDTDescriptor(base hostarch.Addr) SystemDescriptor {
	return EncodeSystem(base, SystemLDT)
}

// DecodeSystem interprets an 8-byte table entry as a system descriptor.
func DecodeSystem(b [DescriptorSize]byte) SystemDescriptor {
	return SystemDescriptor(b)
}

// Length returns the length field.
func (d SystemDescriptor) Length() uint16 {
	return binary.LittleEndian.Uint16(d[0:2])
}

// Base returns the base address of the referenced structure.
func (d SystemDescriptor) Base() hostarch.Addr {
	return hostarch.Addr(uint32(d[7])<<24 | uint32(d[4])<<16 | uint32(binary.LittleEndian.Uint16(d[2:4])))
}

// Type returns the type byte.
func (d SystemDescriptor) Type() SystemType {
	return SystemType(d[5])
}

// Bytes returns the in-memory representation.
func (d SystemDescriptor) Bytes() [DescriptorSize]byte {
	return d
}

// String implements fmt.Stringer.String.
func (d SystemDescriptor) String() string {
	return fmt.Sprintf("%s base=%v length=%d", d.Type(), d.Base(), d.Length())
}
