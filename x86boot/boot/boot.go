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
	"fmt"

	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/x86boot/config"
)

// Prepare creates a machine for layout and runs every boot step short of
// entering user mode: table setup, trap and scheduler initialization and
// preflight verification with workers concurrent checks.
//
// The caller must release the returned machine, which is also returned when
// a step after allocation fails.
func Prepare(ctx context.Context, layout *config.Layout, workers int) (*Machine, error) {
	m, err := New(layout)
	if err != nil {
		return nil, err
	}
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"setup tables", m.SetupTables},
		{"trap init", m.TrapInit},
		{"sched init", m.SchedInit},
		{"preflight", func() error { return m.Preflight(ctx, workers) }},
	} {
		log.Debugf("Boot step: %s", step.name)
		if err := step.fn(); err != nil {
			return m, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return m, nil
}

// Boot runs Prepare and then transitions into the first task.
//
// The caller must release the returned machine, which is also returned when
// a step after allocation fails.
func Boot(ctx context.Context, layout *config.Layout, workers int) (*Machine, *Report, error) {
	m, err := Prepare(ctx, layout, workers)
	if err != nil {
		return m, nil, err
	}
	frame, err := m.EnterUserMode()
	if err != nil {
		return m, nil, err
	}
	r, err := m.Report(frame)
	if err != nil {
		return m, nil, err
	}
	return m, r, nil
}
