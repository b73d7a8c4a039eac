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

// Package cli is the main entrypoint for x86boot.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/x86boot/cmd"
	"github.com/x86boot/x86boot/x86boot/cmd/util"
	"github.com/x86boot/x86boot/x86boot/config"
	"github.com/x86boot/x86boot/x86boot/flag"
	"github.com/x86boot/x86boot/x86boot/version"
)

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// Register version flag if it is not already defined.
	if flag.Lookup(versionFlagName) == nil {
		flag.Bool(versionFlagName, false, "show version and exit.")
	}

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Are we showing the version?
	if flag.Get(flag.Lookup(versionFlagName).Value).(bool) {
		fmt.Fprintf(os.Stdout, "x86boot version %s\n", version.Version())
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var errorLogger io.Writer
	if conf.LogFilename != "" {
		// O_APPEND and not O_TRUNC: the same file may collect logs from
		// several invocations.
		errorLogger, err = os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
	}
	util.ErrorLogger = errorLogger

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	emitters, err := newEmitters(conf, errorLogger, subcommand, time.Now())
	if err != nil {
		util.Fatalf("%v", err)
	}
	switch len(emitters) {
	case 0:
		// Do nothing.
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** x86boot ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d", version.Version(), runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Debugf("Page size: 0x%x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", subcmdCode)
		os.Exit(0)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// newEmitters returns the log emitters conf asks for: the --log file, the
// debug log file and stderr with --alsologtostderr. Without any of them, logs
// are discarded so that they do not mix with command output.
func newEmitters(conf *config.Config, logFile io.Writer, subcommand string, start time.Time) (log.MultiEmitter, error) {
	var emitters log.MultiEmitter
	if logFile != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, logFile))
	}
	if len(conf.DebugLog) > 0 {
		f, err := log.OpenFile(conf.DebugLog, log.FilePattern{Command: subcommand, Start: start})
		if err != nil {
			return nil, fmt.Errorf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
	}
	if len(emitters) == 0 {
		emitters = append(emitters, newEmitter(log.TextFormat, io.Discard))
	}
	return emitters, nil
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	return log.NewEmitter(format, &log.Writer{Next: logFile})
}

// forEachCmd invokes the passed callback for each command supported by
// x86boot.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	const encodeGroup = "descriptors"
	cb(new(cmd.Gate), encodeGroup)
	cb(new(cmd.Segment), encodeGroup)
	cb(new(cmd.Sysdesc), encodeGroup)
	cb(new(cmd.Decode), encodeGroup)

	const machineGroup = "machine"
	cb(new(cmd.Boot), machineGroup)
	cb(new(cmd.Verify), machineGroup)
	cb(new(cmd.Layout), machineGroup)
}
