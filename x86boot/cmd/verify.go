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
	"os"
	"strconv"

	"github.com/google/subcommands"
	"github.com/x86boot/x86boot/x86boot/boot"
	"github.com/x86boot/x86boot/x86boot/cmd/util"
	"github.com/x86boot/x86boot/x86boot/config"
	"github.com/x86boot/x86boot/x86boot/flag"
)

// Verify implements subcommands.Command for the "verify" command.
type Verify struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "install the descriptor tables and run the preflight checks"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return `verify [flags] - check a layout without entering the first task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Verify) SetFlags(f *flag.FlagSet) {
	registerOutputFlag(f, &v.output)
}

// Execute implements subcommands.Command.Execute.
func (v *Verify) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	res := v.run(ctx, conf)
	if err := output(os.Stdout, v.output, res); err != nil {
		util.Fatalf("writing result: %v", err)
	}
	if !res.Passed {
		return util.Errorf("verification failed: %s", res.Error)
	}
	return subcommands.ExitSuccess
}

type verifyResult struct {
	Layout  string `json:"layout" yaml:"layout"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Gates   int    `json:"gates" yaml:"gates"`
	Workers int    `json:"workers" yaml:"workers"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *verifyResult) rows() [][]string {
	rows := [][]string{
		{"LAYOUT", "PASSED", "GATES", "WORKERS"},
		{r.Layout, strconv.FormatBool(r.Passed), strconv.Itoa(r.Gates), strconv.Itoa(r.Workers)},
	}
	if r.Error != "" {
		rows = append(rows, []string{}, []string{"ERROR", r.Error})
	}
	return rows
}

// run prepares a machine for conf and reports whether every step passed.
func (v *Verify) run(ctx context.Context, conf *config.Config) *verifyResult {
	res := &verifyResult{
		Layout:  conf.LayoutFile,
		Workers: conf.PreflightWorkers,
	}
	if res.Layout == "" {
		res.Layout = "default"
	}
	layout, err := conf.Layout()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	m, err := boot.Prepare(ctx, layout, conf.PreflightWorkers)
	if m != nil {
		res.Gates = len(m.Gates())
		defer m.Release()
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Passed = true
	return res
}
