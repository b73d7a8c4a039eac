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

// Package config provides basic infrastructure to set configuration settings
// for x86boot. Each setting that can be changed from the command line must
// be added to Config and a corresponding flag must be added to flags.go.
//
// The descriptor table layout of the simulated machine is not a flag: it
// comes from DefaultLayout, optionally replaced by the TOML file named by
// --layout.
package config

import (
	"fmt"

	"github.com/x86boot/x86boot/pkg/log"
)

// Config holds configuration that is not part of the layout.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register the flag in flags.go:RegisterFlags.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// pattern may contain %COMMAND% and %TIMESTAMP%.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// LayoutFile is a TOML file overriding the default layout.
	LayoutFile string `flag:"layout"`

	// PreflightWorkers bounds the number of encoder checks run concurrently
	// before entering user mode.
	PreflightWorkers int `flag:"preflight-workers"`
}

func (c *Config) validate() error {
	if err := log.ValidFormat(c.LogFormat); err != nil {
		return err
	}
	if err := log.ValidFormat(c.DebugLogFormat); err != nil {
		return err
	}
	if c.PreflightWorkers < 1 {
		return fmt.Errorf("--preflight-workers must be at least 1, got %d", c.PreflightWorkers)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LayoutFile: %q", c.LayoutFile)
	log.Infof("Config.PreflightWorkers: %d", c.PreflightWorkers)
	log.Debugf("Config flags: %v", c.ToFlags())
}

// Layout returns the layout selected by the configuration: the file named by
// LayoutFile, or DefaultLayout.
func (c *Config) Layout() (*Layout, error) {
	if c.LayoutFile == "" {
		return DefaultLayout(), nil
	}
	return LoadLayout(c.LayoutFile)
}
