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

// Sysdesc implements subcommands.Command for the "sysdesc" command.
type Sysdesc struct {
	typ    string
	output string
}

// Name implements subcommands.Command.Name.
func (*Sysdesc) Name() string {
	return "sysdesc"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sysdesc) Synopsis() string {
	return "encode a TSS or LDT descriptor"
}

// Usage implements subcommands.Command.Usage.
func (*Sysdesc) Usage() string {
	return `sysdesc [flags] <base> - encode the GDT descriptor of a TSS or LDT at base.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sysdesc) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.typ, "type", "tss", "descriptor type: tss or ldt")
	registerOutputFlag(f, &s.output)
}

// Execute implements subcommands.Command.Execute.
func (s *Sysdesc) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	info, err := s.encode(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := output(os.Stdout, s.output, info); err != nil {
		util.Fatalf("writing descriptor: %v", err)
	}
	return subcommands.ExitSuccess
}

// encode builds the descriptor for the structure at base.
func (s *Sysdesc) encode(base string) (*systemInfo, error) {
	b, err := parseUint32(base)
	if err != nil {
		return nil, err
	}
	var typ ring0.SystemType
	switch s.typ {
	case "tss":
		typ = ring0.SystemTSS
	case "ldt":
		typ = ring0.SystemLDT
	default:
		return nil, fmt.Errorf("unknown descriptor type %q, want tss or ldt", s.typ)
	}
	return newSystemInfo(ring0.EncodeSystem(hostarch.Addr(b), typ)), nil
}
