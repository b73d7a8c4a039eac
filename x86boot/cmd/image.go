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
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/physmem"
	"github.com/x86boot/x86boot/pkg/ring0"
)

// A memory image is the raw contents of machine memory: the byte at file
// offset n is the byte at physical address n. Readers and writers serialize
// on a lock file next to the image.

func imageLock(path string) *flock.Flock {
	return flock.New(path + ".lock")
}

// writeImage saves a snapshot of mem to path.
func writeImage(path string, mem *physmem.Memory) error {
	l := imageLock(path)
	if err := l.Lock(); err != nil {
		return fmt.Errorf("acquiring lock on image %q: %v", path, err)
	}
	defer l.Unlock()

	data, err := mem.Snapshot(mem.Range())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing image %q: %v", path, err)
	}
	log.Infof("Wrote %d bytes of memory to %q", len(data), path)
	return nil
}

// readDescriptor reads the 8 bytes at addr from the image at path.
func readDescriptor(path string, addr hostarch.Addr) ([ring0.DescriptorSize]byte, error) {
	var b [ring0.DescriptorSize]byte
	l := imageLock(path)
	if err := l.RLock(); err != nil {
		return b, fmt.Errorf("acquiring lock on image %q: %v", path, err)
	}
	defer l.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return b, err
	}
	defer f.Close()
	if _, err := f.ReadAt(b[:], int64(addr)); err != nil {
		return b, fmt.Errorf("reading descriptor at %v from %q: %v", addr, path, err)
	}
	return b, nil
}
