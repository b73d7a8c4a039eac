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

package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/x86boot/x86boot/pkg/ring0"
)

// Descriptor kinds, as accepted by --as.
const (
	kindGate    = "gate"
	kindSegment = "segment"
	kindSystem  = "system"
)

// parseUint32 parses s as a 32-bit value in any base strconv accepts.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid 32-bit value %q: %v", s, err)
	}
	return uint32(v), nil
}

// parseDescriptor parses the 8 in-memory bytes of a descriptor, written as
// hex with optional "0x" prefix and spaces or colons between bytes.
func parseDescriptor(s string) ([ring0.DescriptorSize]byte, error) {
	var b [ring0.DescriptorSize]byte
	clean := strings.NewReplacer(" ", "", ":", "").Replace(strings.TrimPrefix(s, "0x"))
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return b, fmt.Errorf("invalid descriptor %q: %v", s, err)
	}
	if len(raw) != ring0.DescriptorSize {
		return b, fmt.Errorf("invalid descriptor %q: got %d bytes, want %d", s, len(raw), ring0.DescriptorSize)
	}
	copy(b[:], raw)
	return b, nil
}

// detectKind guesses the descriptor kind from the access byte.
func detectKind(b [ring0.DescriptorSize]byte) (string, error) {
	access := b[5]
	switch {
	case ring0.SystemType(access) == ring0.SystemTSS || ring0.SystemType(access) == ring0.SystemLDT:
		return kindSystem, nil
	case access&0x10 != 0:
		return kindSegment, nil
	case ring0.GateType(access & 0xf).Valid():
		return kindGate, nil
	default:
		return "", fmt.Errorf("access byte %#02x is not a gate, segment, tss or ldt", access)
	}
}

// describe decodes b as kind.
func describe(kind string, b [ring0.DescriptorSize]byte) (printable, error) {
	switch kind {
	case kindGate:
		return newGateInfo(ring0.DecodeGate(b)), nil
	case kindSegment:
		return newSegmentInfo(ring0.DecodeSegment(b)), nil
	case kindSystem:
		return newSystemInfo(ring0.DecodeSystem(b)), nil
	default:
		return nil, fmt.Errorf("unknown descriptor kind %q", kind)
	}
}

func hex32(v uint32) string {
	return fmt.Sprintf("%#08x", v)
}

func hex16(v uint16) string {
	return fmt.Sprintf("%#04x", v)
}

// dwords is the low and high dword of a descriptor and its bytes.
type dwords struct {
	Low   uint32 `json:"low" yaml:"low"`
	High  uint32 `json:"high" yaml:"high"`
	Bytes string `json:"bytes" yaml:"bytes"`
}

func newDwords(b [ring0.DescriptorSize]byte) dwords {
	return dwords{
		Low:   binary.LittleEndian.Uint32(b[0:4]),
		High:  binary.LittleEndian.Uint32(b[4:8]),
		Bytes: hex.EncodeToString(b[:]),
	}
}

func (d dwords) rows() [][]string {
	return [][]string{
		{"low", hex32(d.Low)},
		{"high", hex32(d.High)},
		{"bytes", d.Bytes},
	}
}

type gateInfo struct {
	Kind     string `json:"kind" yaml:"kind"`
	Type     string `json:"type" yaml:"type"`
	DPL      int    `json:"dpl" yaml:"dpl"`
	Selector uint16 `json:"selector" yaml:"selector"`
	Offset   uint32 `json:"offset" yaml:"offset"`
	Present  bool   `json:"present" yaml:"present"`
	Encoding dwords `json:"encoding" yaml:"encoding"`
}

func newGateInfo(g ring0.GateDescriptor) *gateInfo {
	return &gateInfo{
		Kind:     kindGate,
		Type:     g.Type().String(),
		DPL:      g.DPL(),
		Selector: uint16(g.Selector()),
		Offset:   uint32(g.Offset()),
		Present:  g.Present(),
		Encoding: newDwords(g.Bytes()),
	}
}

func (g *gateInfo) rows() [][]string {
	return append([][]string{
		{"FIELD", "VALUE"},
		{"kind", g.Kind},
		{"type", g.Type},
		{"dpl", strconv.Itoa(g.DPL)},
		{"selector", hex16(g.Selector)},
		{"offset", hex32(g.Offset)},
		{"present", strconv.FormatBool(g.Present)},
	}, g.Encoding.rows()...)
}

type segmentInfo struct {
	Kind     string `json:"kind" yaml:"kind"`
	Type     uint8  `json:"type" yaml:"type"`
	Code     bool   `json:"code" yaml:"code"`
	DPL      int    `json:"dpl" yaml:"dpl"`
	Base     uint32 `json:"base" yaml:"base"`
	Limit    uint32 `json:"limit" yaml:"limit"`
	Present  bool   `json:"present" yaml:"present"`
	Encoding dwords `json:"encoding" yaml:"encoding"`
}

func newSegmentInfo(d ring0.SegmentDescriptor) *segmentInfo {
	return &segmentInfo{
		Kind:     kindSegment,
		Type:     uint8(d.Type()),
		Code:     d.IsCode(),
		DPL:      d.DPL(),
		Base:     uint32(d.Base()),
		Limit:    d.Limit(),
		Present:  d.Present(),
		Encoding: newDwords(d.Bytes()),
	}
}

func (s *segmentInfo) rows() [][]string {
	return append([][]string{
		{"FIELD", "VALUE"},
		{"kind", s.Kind},
		{"type", fmt.Sprintf("%#02x", s.Type)},
		{"code", strconv.FormatBool(s.Code)},
		{"dpl", strconv.Itoa(s.DPL)},
		{"base", hex32(s.Base)},
		{"limit", fmt.Sprintf("%#05x", s.Limit)},
		{"present", strconv.FormatBool(s.Present)},
	}, s.Encoding.rows()...)
}

type systemInfo struct {
	Kind     string `json:"kind" yaml:"kind"`
	Type     string `json:"type" yaml:"type"`
	Base     uint32 `json:"base" yaml:"base"`
	Length   uint16 `json:"length" yaml:"length"`
	Encoding dwords `json:"encoding" yaml:"encoding"`
}

func newSystemInfo(d ring0.SystemDescriptor) *systemInfo {
	return &systemInfo{
		Kind:     kindSystem,
		Type:     d.Type().String(),
		Base:     uint32(d.Base()),
		Length:   d.Length(),
		Encoding: newDwords(d.Bytes()),
	}
}

func (s *systemInfo) rows() [][]string {
	return append([][]string{
		{"FIELD", "VALUE"},
		{"kind", s.Kind},
		{"type", s.Type},
		{"base", hex32(s.Base)},
		{"length", strconv.Itoa(int(s.Length))},
	}, s.Encoding.rows()...)
}
