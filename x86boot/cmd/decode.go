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

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	as     string
	image  string
	addr   uint
	output string
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "decode a gate, segment, TSS or LDT descriptor"
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [flags] <8 bytes in hex>
decode [flags] -image <file> -addr <address>

Decodes a descriptor given as its in-memory bytes, or read from a memory image
written by "boot -image".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.as, "as", "auto", "descriptor kind: auto, gate, segment or system")
	f.StringVar(&d.image, "image", "", "memory image to read the descriptor from")
	f.UintVar(&d.addr, "addr", 0, "physical address of the descriptor in -image")
	registerOutputFlag(f, &d.output)
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var (
		b   [ring0.DescriptorSize]byte
		err error
	)
	switch {
	case d.image != "" && f.NArg() == 0:
		if d.addr > 0xffffffff {
			util.Fatalf("address %#x does not fit in 32 bits", d.addr)
		}
		b, err = readDescriptor(d.image, hostarch.Addr(d.addr))
	case d.image == "" && f.NArg() == 1:
		b, err = parseDescriptor(f.Arg(0))
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err != nil {
		util.Fatalf("%v", err)
	}
	info, err := d.decode(b)
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := output(os.Stdout, d.output, info); err != nil {
		util.Fatalf("writing descriptor: %v", err)
	}
	return subcommands.ExitSuccess
}

// decode interprets b as the kind selected by -as.
func (d *Decode) decode(b [ring0.DescriptorSize]byte) (printable, error) {
	kind := d.as
	if kind == "auto" {
		var err error
		if kind, err = detectKind(b); err != nil {
			return nil, fmt.Errorf("decoding %x: %v", b, err)
		}
	}
	return describe(kind, b)
}
