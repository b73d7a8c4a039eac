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
	"encoding/hex"
	"sort"

	"github.com/x86boot/x86boot/pkg/ring0"
)

// GateInfo describes an installed gate.
type GateInfo struct {
	Vector   uint32 `json:"vector" yaml:"vector"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	DPL      int    `json:"dpl" yaml:"dpl"`
	Selector uint16 `json:"selector" yaml:"selector"`
	Handler  uint32 `json:"handler" yaml:"handler"`
	Raw      string `json:"raw" yaml:"raw"`
}

// SlotInfo describes a non-null GDT or LDT slot.
type SlotInfo struct {
	Index int    `json:"index" yaml:"index"`
	Kind  string `json:"kind" yaml:"kind"`
	Base  uint32 `json:"base" yaml:"base"`
	Limit uint32 `json:"limit" yaml:"limit"`
	DPL   int    `json:"dpl" yaml:"dpl"`
	Raw   string `json:"raw" yaml:"raw"`
}

// FrameInfo is the transition frame in push order.
type FrameInfo struct {
	SS     uint32 `json:"ss" yaml:"ss"`
	ESP    uint32 `json:"esp" yaml:"esp"`
	EFLAGS uint32 `json:"eflags" yaml:"eflags"`
	CS     uint32 `json:"cs" yaml:"cs"`
	EIP    uint32 `json:"eip" yaml:"eip"`
}

// RegisterInfo is the CPU register state.
type RegisterInfo struct {
	EAX    uint32 `json:"eax" yaml:"eax"`
	ESP    uint32 `json:"esp" yaml:"esp"`
	EIP    uint32 `json:"eip" yaml:"eip"`
	EFLAGS uint32 `json:"eflags" yaml:"eflags"`
	CS     uint16 `json:"cs" yaml:"cs"`
	SS     uint16 `json:"ss" yaml:"ss"`
	DS     uint16 `json:"ds" yaml:"ds"`
	ES     uint16 `json:"es" yaml:"es"`
	FS     uint16 `json:"fs" yaml:"fs"`
	GS     uint16 `json:"gs" yaml:"gs"`
	TR     uint16 `json:"tr" yaml:"tr"`
	LDTR   uint16 `json:"ldtr" yaml:"ldtr"`
}

// Report is the outcome of a boot.
type Report struct {
	State        string       `json:"state" yaml:"state"`
	Gates        []GateInfo   `json:"gates" yaml:"gates"`
	IgnoredGates int          `json:"ignored_gates" yaml:"ignored_gates"`
	GDT          []SlotInfo   `json:"gdt" yaml:"gdt"`
	LDT          []SlotInfo   `json:"ldt" yaml:"ldt"`
	Frame        FrameInfo    `json:"frame" yaml:"frame"`
	Registers    RegisterInfo `json:"registers" yaml:"registers"`
}

func rawHex(b [ring0.DescriptorSize]byte) string {
	return hex.EncodeToString(b[:])
}

func slots(t *ring0.SegmentTable) ([]SlotInfo, error) {
	var infos []SlotInfo
	for i := 0; i < t.Len(); i++ {
		b, err := t.Entry(i)
		if err != nil {
			return nil, err
		}
		if b == ([ring0.DescriptorSize]byte{}) {
			continue
		}
		info := SlotInfo{Index: i, Raw: rawHex(b)}
		s := ring0.DecodeSystem(b)
		switch s.Type() {
		case ring0.SystemTSS, ring0.SystemLDT:
			info.Kind = s.Type().String()
			info.Base = uint32(s.Base())
			info.Limit = uint32(s.Length())
		default:
			d := ring0.DecodeSegment(b)
			switch {
			case d.IsCode():
				info.Kind = "code"
			case d.IsData():
				info.Kind = "data"
			default:
				info.Kind = "unknown"
			}
			info.Base = uint32(d.Base())
			info.Limit = d.Limit()
			info.DPL = d.DPL()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Report describes the machine's tables and CPU, with frame the frame
// returned by EnterUserMode.
func (m *Machine) Report(frame ring0.TransitionFrame) (*Report, error) {
	r := &Report{
		State:        m.cpu.State().String(),
		IgnoredGates: ring0.NumVectors - len(m.gates),
		Frame: FrameInfo{
			SS:     frame.SS,
			ESP:    frame.ESP,
			EFLAGS: frame.EFLAGS,
			CS:     frame.CS,
			EIP:    frame.EIP,
		},
	}

	vectors := make([]ring0.Vector, 0, len(m.gates))
	for v := range m.gates {
		vectors = append(vectors, v)
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i] < vectors[j] })
	for _, v := range vectors {
		b, err := m.idt.Entry(int(v))
		if err != nil {
			return nil, err
		}
		g := ring0.DecodeGate(b)
		r.Gates = append(r.Gates, GateInfo{
			Vector:   uint32(v),
			Name:     v.String(),
			Type:     g.Type().String(),
			DPL:      g.DPL(),
			Selector: uint16(g.Selector()),
			Handler:  uint32(g.Offset()),
			Raw:      rawHex(b),
		})
	}

	var err error
	if r.GDT, err = slots(m.gdt); err != nil {
		return nil, err
	}
	if r.LDT, err = slots(m.ldt); err != nil {
		return nil, err
	}

	c := m.cpu
	r.Registers = RegisterInfo{
		EAX:    c.EAX,
		ESP:    c.ESP,
		EIP:    c.EIP,
		EFLAGS: c.EFLAGS,
		CS:     uint16(c.CS),
		SS:     uint16(c.SS),
		DS:     uint16(c.DS),
		ES:     uint16(c.ES),
		FS:     uint16(c.FS),
		GS:     uint16(c.GS),
		TR:     uint16(c.TR().Selector),
		LDTR:   uint16(c.LDTR().Selector),
	}
	return r, nil
}
