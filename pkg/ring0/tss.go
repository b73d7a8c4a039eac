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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
)

// TSS is the 32-bit hardware task-state structure.
//
// Only SS0:ESP0 (the stack used on a transition into ring 0) and the LDT
// selector are consulted by anything in this module. The remaining fields
// are saved state for hardware task switching.
type TSS struct {
	BackLink uint32
	ESP0     uint32
	SS0      uint32
	ESP1     uint32
	SS1      uint32
	ESP2     uint32
	SS2      uint32
	CR3      uint32
	EIP      uint32
	EFLAGS   uint32
	EAX      uint32
	ECX      uint32
	EDX      uint32
	EBX      uint32
	ESP      uint32
	EBP      uint32
	ESI      uint32
	EDI      uint32
	ES       uint32
	CS       uint32
	SS       uint32
	DS       uint32
	FS       uint32
	GS       uint32
	LDT      uint32
	Trap     uint16
	IOMap    uint16
}

// Store writes the structure at addr.
func (t *TSS) Store(mem Memory, addr hostarch.Addr) error {
	var buf bytes.Buffer
	buf.Grow(TSSLength)
	if err := binary.Write(&buf, binary.LittleEndian, t); err != nil {
		return err
	}
	if buf.Len() != TSSLength {
		panic(fmt.Sprintf("TSS is %d bytes, want %d", buf.Len(), TSSLength))
	}
	if _, err := mem.WriteAt(buf.Bytes(), int64(addr)); err != nil {
		return fmt.Errorf("tss at %v: %w", addr, err)
	}
	return nil
}

// LoadTSS reads the structure at addr.
func LoadTSS(mem Memory, addr hostarch.Addr) (TSS, error) {
	var t TSS
	b := make([]byte, TSSLength)
	if _, err := mem.ReadAt(b, int64(addr)); err != nil {
		return t, fmt.Errorf("tss at %v: %w", addr, err)
	}
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &t)
	return t, err
}
