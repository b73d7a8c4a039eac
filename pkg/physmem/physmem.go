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

// Package physmem provides the flat physical memory of the simulated machine.
package physmem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
	"golang.org/x/sys/unix"
)

// ErrOutOfRange is returned for accesses that fall outside of memory.
var ErrOutOfRange = errors.New("physical address out of range")

// Memory is a page-aligned region of anonymous host memory that backs the
// machine's physical address space, starting at address zero.
//
// Memory is not safe for concurrent mutation. The machine it backs is single
// threaded.
type Memory struct {
	mem []byte
}

// New allocates size bytes of zeroed machine memory. size is rounded up to a
// page boundary.
func New(size uint32) (*Memory, error) {
	if size == 0 {
		return nil, fmt.Errorf("physmem: zero-sized memory")
	}
	end, ok := hostarch.Addr(size).RoundUp()
	if !ok {
		return nil, fmt.Errorf("physmem: size %#x overflows the address space", size)
	}
	// Use mmap instead of make([]byte) to ensure that memory is page aligned
	// like real physical memory.
	mem, err := unix.Mmap(-1, 0, int(end), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("physmem: failed to mmap %#x bytes: %w", uint32(end), err)
	}
	return &Memory{mem: mem}, nil
}

// Release unmaps the memory. The Memory must not be used afterwards.
func (m *Memory) Release() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

// Size returns the size of memory in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.mem))
}

// Range returns the range of valid physical addresses.
func (m *Memory) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: 0, End: hostarch.Addr(len(m.mem))}
}

func (m *Memory) slice(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(m.mem)) {
		return nil, fmt.Errorf("access [%#x, %#x) of %d bytes: %w", off, off+int64(n), len(m.mem), ErrOutOfRange)
	}
	return m.mem[off : off+int64(n)], nil
}

// ReadAt implements io.ReaderAt.ReadAt.
//
// Reads are all or nothing.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	src, err := m.slice(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, src), nil
}

// WriteAt implements io.WriterAt.WriteAt.
//
// Writes are all or nothing.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	dst, err := m.slice(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(dst, p), nil
}

// Uint32 reads a little-endian dword at addr.
func (m *Memory) Uint32(addr hostarch.Addr) (uint32, error) {
	b, err := m.slice(int64(addr), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutUint32 writes a little-endian dword at addr.
func (m *Memory) PutUint32(addr hostarch.Addr, v uint32) error {
	b, err := m.slice(int64(addr), 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Snapshot returns a copy of the bytes in ar.
func (m *Memory) Snapshot(ar hostarch.AddrRange) ([]byte, error) {
	if !ar.WellFormed() {
		return nil, fmt.Errorf("malformed range %v", ar)
	}
	src, err := m.slice(int64(ar.Start), int(ar.Length()))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), src...), nil
}
