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
	"strconv"

	"github.com/google/subcommands"
	"github.com/x86boot/x86boot/x86boot/boot"
	"github.com/x86boot/x86boot/x86boot/cmd/util"
	"github.com/x86boot/x86boot/x86boot/config"
	"github.com/x86boot/x86boot/x86boot/flag"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	image  string
	output string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "install the descriptor tables and enter the first task"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the simulated machine and report its tables and registers.

The layout comes from --layout, or the built-in default.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.image, "image", "", "if set, write the machine's memory to this file after the transition")
	registerOutputFlag(f, &b.output)
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	r, err := b.run(ctx, conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := output(os.Stdout, b.output, r); err != nil {
		util.Fatalf("writing report: %v", err)
	}
	return subcommands.ExitSuccess
}

// run boots a machine for conf and returns its report.
func (b *Boot) run(ctx context.Context, conf *config.Config) (*bootReport, error) {
	layout, err := conf.Layout()
	if err != nil {
		return nil, fmt.Errorf("loading layout: %w", err)
	}
	m, r, err := boot.Boot(ctx, layout, conf.PreflightWorkers)
	if m != nil {
		defer m.Release()
	}
	if err != nil {
		return nil, fmt.Errorf("booting: %w", err)
	}
	if b.image != "" {
		if err := writeImage(b.image, m.Memory()); err != nil {
			return nil, err
		}
	}
	return &bootReport{Report: *r}, nil
}

type bootReport struct {
	boot.Report `yaml:",inline"`
}

func (r *bootReport) rows() [][]string {
	rows := [][]string{
		{"STATE", r.State},
		{},
		{"VECTOR", "NAME", "TYPE", "DPL", "SELECTOR", "HANDLER", "RAW"},
	}
	for _, g := range r.Gates {
		rows = append(rows, []string{
			fmt.Sprintf("%#02x", g.Vector), g.Name, g.Type, strconv.Itoa(g.DPL), hex16(g.Selector), hex32(g.Handler), g.Raw,
		})
	}
	rows = append(rows, []string{"IGNORED", strconv.Itoa(r.IgnoredGates)}, []string{})

	rows = append(rows, []string{"TABLE", "INDEX", "KIND", "BASE", "LIMIT", "DPL", "RAW"})
	for _, t := range []struct {
		name  string
		slots []boot.SlotInfo
	}{
		{"gdt", r.GDT},
		{"ldt", r.LDT},
	} {
		for _, s := range t.slots {
			rows = append(rows, []string{
				t.name, strconv.Itoa(s.Index), s.Kind, hex32(s.Base), fmt.Sprintf("%#05x", s.Limit), strconv.Itoa(s.DPL), s.Raw,
			})
		}
	}

	fr := r.Frame
	rows = append(rows, []string{},
		[]string{"FRAME", "SS", "ESP", "EFLAGS", "CS", "EIP"},
		[]string{"", hex32(fr.SS), hex32(fr.ESP), hex32(fr.EFLAGS), hex32(fr.CS), hex32(fr.EIP)},
		[]string{})

	regs := r.Registers
	rows = append(rows, []string{"REGISTER", "VALUE"})
	for _, reg := range []struct {
		name  string
		value string
	}{
		{"eax", hex32(regs.EAX)},
		{"esp", hex32(regs.ESP)},
		{"eip", hex32(regs.EIP)},
		{"eflags", hex32(regs.EFLAGS)},
		{"cs", hex16(regs.CS)},
		{"ss", hex16(regs.SS)},
		{"ds", hex16(regs.DS)},
		{"es", hex16(regs.ES)},
		{"fs", hex16(regs.FS)},
		{"gs", hex16(regs.GS)},
		{"tr", hex16(regs.TR)},
		{"ldtr", hex16(regs.LDTR)},
	} {
		rows = append(rows, []string{reg.name, reg.value})
	}
	return rows
}
