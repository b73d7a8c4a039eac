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
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FilePattern expands the variables of a log file pattern:
//
//	%COMMAND%   the subcommand being run
//	%TIMESTAMP% the start time, as YYYYMMDD-HHMMSS.uuuuuu
type FilePattern struct {
	Command string
	Start   time.Time
}

// Build constructs the log file path from pattern.
func (p FilePattern) Build(pattern string) string {
	r := strings.NewReplacer(
		"%COMMAND%", p.Command,
		"%TIMESTAMP%", p.Start.Format("20060102-150405.000000"),
	)
	return r.Replace(pattern)
}

// OpenFile opens the log file named by pattern for appending, creating it and
// its parent directory as needed. An empty pattern returns a nil file.
func OpenFile(pattern string, p FilePattern) (*os.File, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	path := p.Build(pattern)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", path, err)
	}
	return f, nil
}
