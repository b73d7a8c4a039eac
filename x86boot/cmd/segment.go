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
	"context"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/ring0"
	"github.com/x86boot/x86boot/x86boot/cmd/util"
	"github.com/x86boot/x86boot/x86boot/flag"
)

// maxLimit is the largest value the 20-bit limit field holds.
const maxLimit = 0xfffff

// Segment implements subcommands.Command for the "segment" command.
type Segment struct {
	typ    string
	dpl    int
	base   uint
	limit  uint
	output string
}

// Name implements subcommands.Command.Name.
func (*Segment) Name() string {
	return "segment"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Segment) Synopsis() string {
	return "encode a code or data segment descriptor"
}

// Usage implements subcommands.Command.Usage.
func (*Segment) Usage() string {
	return `segment [flags] - encode a 32-bit, byte granular code or data segment descriptor.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Segment) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.typ, "type", "code", "segment type: code (0x1a), data (0x12) or a numeric type")
	f.IntVar(&s.dpl, "dpl", ring0.UserLevel, "descriptor privilege level")
	f.UintVar(&s.base, "base", 0, "segment base address")
	f.UintVar(&s.limit, "limit", 0x9ffff, "20-bit segment limit")
	registerOutputFlag(f, &s.output)
}

// Execute implements subcommands.Command.Execute.
func (s *Segment) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	info, err := s.encode()
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := output(os.Stdout, s.output, info); err != nil {
		util.Fatalf("writing segment: %v", err)
	}
	return subcommands.ExitSuccess
}

// segmentType parses a segment type name or number.
func segmentType(s string) (ring0.SegmentType, error) {
	switch s {
	case "code":
		return ring0.SegmentTypeCode, nil
	case "data":
		return ring0.SegmentTypeData, nil
	}
	v, err := parseUint32(s)
	if err != nil || v > 0x1f {
		return 0, fmt.Errorf("unknown segment type %q, want code, data or a 5-bit type", s)
	}
	return ring0.SegmentType(v), nil
}

// encode builds the segment descriptor the flags describe.
func (s *Segment) encode() (*segmentInfo, error) {
	typ, err := segmentType(s.typ)
	if err != nil {
		return nil, err
	}
	if !ring0.ValidDPL(s.dpl) {
		return nil, fmt.Errorf("invalid dpl %d", s.dpl)
	}
	if s.base > 0xffffffff {
		return nil, fmt.Errorf("base %#x does not fit in 32 bits", s.base)
	}
	if s.limit > maxLimit {
		return nil, fmt.Errorf("limit %#x does not fit in 20 bits", s.limit)
	}
	return newSegmentInfo(ring0.EncodeSegment(typ, s.dpl, hostarch.Addr(s.base), uint32(s.limit))), nil
}
