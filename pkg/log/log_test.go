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
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAddsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

// recorder is an Emitter that saves the formatted statements.
type recorder struct {
	lines  []string
	levels []Level
}

func (r *recorder) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
	r.levels = append(r.levels, level)
}

func TestBasicLoggerLevels(t *testing.T) {
	for _, tc := range []struct {
		level Level
		want  []string
	}{
		{Warning, []string{"warning 3"}},
		{Info, []string{"info 2", "warning 3"}},
		{Debug, []string{"debug 1", "info 2", "warning 3"}},
	} {
		t.Run(tc.level.String(), func(t *testing.T) {
			r := &recorder{}
			l := &BasicLogger{Level: tc.level, Emitter: r}
			l.Debugf("debug %d", 1)
			l.Infof("info %d", 2)
			l.Warningf("warning %d", 3)
			if diff := cmp.Diff(tc.want, r.lines); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	l := &BasicLogger{Level: Warning, Emitter: &recorder{}}
	if l.IsLogging(Info) {
		t.Errorf("IsLogging(Info) at Warning = true")
	}
	l.SetLevel(Debug)
	for _, level := range []Level{Warning, Info, Debug} {
		if !l.IsLogging(level) {
			t.Errorf("IsLogging(%v) at Debug = false", level)
		}
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := MultiEmitter{a, b}
	l := &BasicLogger{Level: Info, Emitter: &m}
	l.Infof("hello %s", "world")
	for i, r := range []*recorder{a, b} {
		if diff := cmp.Diff([]string{"hello world"}, r.lines); diff != "" {
			t.Errorf("emitter %d mismatch (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff([]Level{Info}, r.levels); diff != "" {
			t.Errorf("emitter %d levels mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestSetTargetKeepsLevel(t *testing.T) {
	old := Log()
	oldLevel := old.Level
	t.Cleanup(func() {
		old.SetLevel(oldLevel)
		log.Store(old)
	})

	SetLevel(Debug)
	r := &recorder{}
	SetTarget(r)
	if !IsLogging(Debug) {
		t.Errorf("SetTarget reset the level")
	}
	Debugf("debug")
	Infof("info")
	Warningf("warning")
	if diff := cmp.Diff([]string{"debug", "info", "warning"}, r.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}
