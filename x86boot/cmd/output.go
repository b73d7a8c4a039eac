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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/x86boot/x86boot/x86boot/flag"
	"gopkg.in/yaml.v3"
)

// printable is implemented by everything a command prints. The value itself
// is encoded for json and yaml; rows are used for tables.
type printable interface {
	rows() [][]string
}

type outputFunc func(io.Writer, printable) error

var outputMap = map[string]outputFunc{
	"table": outputTable,
	"json":  outputJSON,
	"yaml":  outputYAML,
}

// outputFormats returns the names of outputMap, sorted.
func outputFormats() string {
	var names []string
	for name := range outputMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// registerOutputFlag registers "-o" on f.
func registerOutputFlag(f *flag.FlagSet, p *string) {
	f.StringVar(p, "o", "table", fmt.Sprintf("Output format (%s).", outputFormats()))
}

// output writes p to w in format.
func output(w io.Writer, format string, p printable) error {
	fn, ok := outputMap[format]
	if !ok {
		return fmt.Errorf("unknown output format %q, want one of: %s", format, outputFormats())
	}
	return fn(w, p)
}

// outputTable prints p as a column aligned table.
func outputTable(w io.Writer, p printable) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range p.rows() {
		if _, err := fmt.Fprintln(tw, strings.Join(r, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// outputJSON prints p as indented json.
func outputJSON(w io.Writer, p printable) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// outputYAML prints p as a yaml document.
func outputYAML(w io.Writer, p printable) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
