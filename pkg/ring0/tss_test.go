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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x86boot/x86boot/pkg/hostarch"
)

func TestTSSStoreLoad(t *testing.T) {
	mem := newTestMemory(t)
	want := TSS{
		ESP0:  0x8000,
		SS0:   uint32(Kdata),
		ESP:   0x7000,
		ES:    uint32(Udata),
		CS:    uint32(Ucode),
		LDT:   uint32(NewSelector(5, false, 0)),
		IOMap: 0x8000,
	}
	if err := want.Store(mem, 0x3000); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	got, err := LoadTSS(mem, 0x3000)
	if err != nil {
		t.Fatalf("LoadTSS failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TSS mismatch (-want +got):\n%s", diff)
	}
}

func TestTSSLayout(t *testing.T) {
	mem := newTestMemory(t)
	tss := TSS{ESP0: 0x11111111, SS0: 0x22, LDT: 0x28, Trap: 1, IOMap: 0x4444}
	if err := tss.Store(mem, 0x3000); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	for _, tc := range []struct {
		off  uint32
		want uint32
	}{
		{4, 0x11111111},
		{8, 0x22},
		{96, 0x28},
		{100, 0x44440001},
	} {
		got, err := mem.Uint32(0x3000 + hostarch.Addr(tc.off))
		if err != nil {
			t.Fatalf("Uint32 failed: %v", err)
		}
		if got != tc.want {
			t.Errorf("tss+%d got %#x, want %#x", tc.off, got, tc.want)
		}
	}

	// Nothing is written past the structure.
	if got, err := mem.Uint32(0x3000 + TSSLength); err != nil || got != 0 {
		t.Errorf("tss+104 got (%#x, %v), want (0, nil)", got, err)
	}
}
