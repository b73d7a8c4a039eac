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

// Gate implements subcommands.Command for the "gate" command.
type Gate struct {
	typ      string
	dpl      int
	selector uint
	output   string
}

// Name implements subcommands.Command.Name.
func (*Gate) Name() string {
	return "gate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Gate) Synopsis() string {
	return "encode an interrupt, trap or system gate"
}

// Usage implements subcommands.Command.Usage.
func (*Gate) Usage() string {
	return `gate [flags] <handler offset> - encode an IDT gate pointing to the handler.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (g *Gate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&g.typ, "type", "interrupt", "gate type: interrupt, trap or system")
	f.IntVar(&g.dpl, "dpl", -1, "descriptor privilege level, defaults to 3 for system gates and 0 otherwise")
	f.UintVar(&g.selector, "selector", uint(ring0.Kcode), "code segment selector of the handler")
	registerOutputFlag(f, &g.output)
}

// Execute implements subcommands.Command.Execute.
func (g *Gate) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	info, err := g.encode(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := output(os.Stdout, g.output, info); err != nil {
		util.Fatalf("writing gate: %v", err)
	}
	return subcommands.ExitSuccess
}

// encode builds the gate the flags describe for the handler at offset.
func (g *Gate) encode(offset string) (*gateInfo, error) {
	off, err := parseUint32(offset)
	if err != nil {
		return nil, err
	}
	if g.selector > 0xffff {
		return nil, fmt.Errorf("selector %#x does not fit in 16 bits", g.selector)
	}
	dpl := g.dpl
	var typ ring0.GateType
	switch g.typ {
	case "interrupt":
		typ = ring0.InterruptGate
	case "trap":
		typ = ring0.TrapGate
	case "system":
		// A system gate is a trap gate callable from user mode.
		typ = ring0.TrapGate
		if dpl < 0 {
			dpl = ring0.UserLevel
		}
		if dpl != ring0.UserLevel {
			return nil, fmt.Errorf("system gates have dpl %d, got %d", ring0.UserLevel, dpl)
		}
	default:
		return nil, fmt.Errorf("unknown gate type %q, want interrupt, trap or system", g.typ)
	}
	if dpl < 0 {
		dpl = ring0.SupervisorLevel
	}
	if !ring0.ValidDPL(dpl) {
		return nil, fmt.Errorf("invalid dpl %d", dpl)
	}
	return newGateInfo(ring0.EncodeGate(ring0.Selector(g.selector), typ, dpl, hostarch.Addr(off))), nil
}
