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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTextEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: NewEmitter(TextFormat, &Writer{Next: &buf})}
	l.Debugf("installed gate %d", 14)

	out := buf.String()
	for _, want := range []string{"level=debug", `msg="installed gate 14"`, "caller=\"logrus_test.go:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: NewEmitter(JSONFormat, &Writer{Next: &buf})}
	l.Warningf("stack at %#x", 0x8000)
	l.Debugf("not logged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), lines)
	}
	var got struct {
		Level  string    `json:"level"`
		Msg    string    `json:"msg"`
		Caller string    `json:"caller"`
		Time   time.Time `json:"time"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", lines[0], err)
	}
	if got.Level != "warning" || got.Msg != "stack at 0x8000" {
		t.Errorf("got level %q msg %q", got.Level, got.Msg)
	}
	if !strings.HasPrefix(got.Caller, "logrus_test.go:") {
		t.Errorf("caller got %q, want logrus_test.go:N", got.Caller)
	}
	if got.Time.IsZero() {
		t.Errorf("time not set")
	}
}

func TestValidFormat(t *testing.T) {
	for _, format := range []string{TextFormat, JSONFormat} {
		if err := ValidFormat(format); err != nil {
			t.Errorf("ValidFormat(%q) failed: %v", format, err)
		}
	}
	if err := ValidFormat("json-k8s"); err == nil {
		t.Errorf("ValidFormat(json-k8s) succeeded")
	}
}

func TestRateLimitedLogger(t *testing.T) {
	r := &recorder{}
	rl := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: r}, time.Hour, 2)
	for i := 0; i < 5; i++ {
		rl.Debugf("statement %d", i)
	}
	if got, want := len(r.lines), 2; got != want {
		t.Errorf("logged %d statements, want %d", got, want)
	}
	if got, want := rl.Dropped(), int64(3); got != want {
		t.Errorf("Dropped() = %d, want %d", got, want)
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false")
	}
}

func TestFilePattern(t *testing.T) {
	p := FilePattern{Command: "boot", Start: time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)}
	if got, want := p.Build("/tmp/x86boot/%COMMAND%-%TIMESTAMP%.log"), "/tmp/x86boot/boot-20260102-030405.000006.log"; got != want {
		t.Errorf("Build got %q, want %q", got, want)
	}

	dir := t.TempDir()
	f, err := OpenFile(dir+"/logs/%COMMAND%.log", p)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()
	if got, want := f.Name(), dir+"/logs/boot.log"; got != want {
		t.Errorf("file name got %q, want %q", got, want)
	}
	if f, err := OpenFile("", p); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = (%v, %v), want (nil, nil)", f, err)
	}
}
