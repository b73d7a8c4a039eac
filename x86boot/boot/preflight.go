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
	"context"
	"errors"
	"fmt"

	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/ring0"
	"golang.org/x/sync/errgroup"
)

// ErrPreflight is returned when the installed tables do not decode to what
// the boot sequence installed.
var ErrPreflight = errors.New("preflight verification failed")

// check is a single preflight verification.
type check struct {
	name string
	fn   func() error
}

// encoderOffsets are the handler offsets the encoder round trip is checked
// with, in addition to the installed handlers.
var encoderOffsets = []hostarch.Addr{0, 0xffff, 0x10000, 0xffff0000, 0xffffffff}

func checkGateEncoding() error {
	for _, typ := range []ring0.GateType{ring0.InterruptGate, ring0.TrapGate} {
		for dpl := ring0.SupervisorLevel; dpl <= ring0.UserLevel; dpl++ {
			for _, off := range encoderOffsets {
				g := ring0.DecodeGate(ring0.EncodeGate(ring0.Kcode, typ, dpl, off).Bytes())
				if g.Type() != typ || g.DPL() != dpl || g.Offset() != off || g.Selector() != ring0.Kcode || !g.Present() {
					return fmt.Errorf("gate %v/%d/%v decoded as %v", typ, dpl, off, g)
				}
			}
		}
	}
	return nil
}

func checkSystemEncoding() error {
	for _, base := range encoderOffsets {
		for _, d := range []ring0.SystemDescriptor{ring0.EncodeTSSDescriptor(base), ring0.EncodeLDTDescriptor(base)} {
			if d.Length() != ring0.TSSLength || d.Base() != base {
				return fmt.Errorf("descriptor for %v decoded as %v", base, d)
			}
		}
	}
	return nil
}

// expectedGate returns the gate vector v should hold.
func (m *Machine) expectedGate(v ring0.Vector) Gate {
	if g, ok := m.gates[v]; ok {
		return g
	}
	return Gate{Vector: v, Type: ring0.InterruptGate, DPL: ring0.SupervisorLevel, Handler: m.layout.Handlers.Ignore}
}

func (m *Machine) checkGates(first, last ring0.Vector) error {
	for v := first; v <= last; v++ {
		want := m.expectedGate(v)
		got, err := m.idt.Gate(v)
		if err != nil {
			return err
		}
		if got.Selector() != m.idt.KernelCode() || got.Type() != want.Type || got.DPL() != want.DPL || got.Offset() != want.Handler || !got.Present() {
			return fmt.Errorf("vector %#02x: got %v, want %v gate dpl %d to %v", uintptr(v), got, want.Type, want.DPL, want.Handler)
		}
	}
	return nil
}

func (m *Machine) checkSystem(slot int, typ ring0.SystemType, base hostarch.Addr) error {
	d, err := m.gdt.System(slot)
	if err != nil {
		return err
	}
	if d.Type() != typ || d.Base() != base || d.Length() != ring0.TSSLength {
		return fmt.Errorf("gdt[%d]: got %v, want %v at %v", slot, d, typ, base)
	}
	return nil
}

func checkSegment(t *ring0.SegmentTable, sel ring0.Selector, code bool, dpl int, limit uint32) error {
	d, err := t.Segment(sel.Index())
	if err != nil {
		return err
	}
	if d.IsCode() != code || d.IsData() == code || d.DPL() != dpl || d.Base() != 0 || d.Limit() != limit || !d.Present() {
		return fmt.Errorf("%s[%d]: got %v", t.Name(), sel.Index(), d)
	}
	return nil
}

func (m *Machine) checkTSS() error {
	got, err := ring0.LoadTSS(m.mem, m.layout.TSSBase)
	if err != nil {
		return err
	}
	if got != m.tss {
		return fmt.Errorf("tss at %v: got %+v, want %+v", m.layout.TSSBase, got, m.tss)
	}
	return nil
}

// checks returns the preflight checks of the machine.
func (m *Machine) checks() []check {
	l := m.layout
	cs := []check{
		{"gate encoding", checkGateEncoding},
		{"system descriptor encoding", checkSystemEncoding},
		{"gdt tss descriptor", func() error { return m.checkSystem(l.TSSSlot, ring0.SystemTSS, l.TSSBase) }},
		{"gdt ldt descriptor", func() error { return m.checkSystem(l.LDTSlot, ring0.SystemLDT, l.LDTBase) }},
		{"gdt kernel code", func() error {
			return checkSegment(m.gdt, l.KernelCode, true, ring0.SupervisorLevel, l.KernelLimit)
		}},
		{"gdt kernel data", func() error {
			return checkSegment(m.gdt, l.KernelData, false, ring0.SupervisorLevel, l.KernelLimit)
		}},
		{"ldt user code", func() error { return checkSegment(m.ldt, l.UserCode, true, ring0.UserLevel, l.UserLimit) }},
		{"ldt user data", func() error { return checkSegment(m.ldt, l.UserData, false, ring0.UserLevel, l.UserLimit) }},
		{"tss", m.checkTSS},
	}
	// The IDT is checked in chunks of 32 vectors.
	const chunk = 32
	for first := ring0.Vector(0); first < ring0.NumVectors; first += chunk {
		first, last := first, first+chunk-1
		cs = append(cs, check{
			name: fmt.Sprintf("idt vectors %#02x-%#02x", uintptr(first), uintptr(last)),
			fn:   func() error { return m.checkGates(first, last) },
		})
	}
	return cs
}

// Preflight verifies, running up to workers checks at a time, that the
// encoders round trip and that every installed descriptor decodes to what
// was installed. It must succeed before the CPU enters user mode. workers
// must be at least 1.
func (m *Machine) Preflight(ctx context.Context, workers int) error {
	if workers < 1 {
		return fmt.Errorf("preflight needs at least one worker, got %d", workers)
	}
	cs := m.checks()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range cs {
		c := c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.fn(); err != nil {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	log.Infof("Preflight: %d checks passed", len(cs))
	return nil
}
