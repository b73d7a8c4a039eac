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

package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"github.com/x86boot/x86boot/pkg/hostarch"
	"github.com/x86boot/x86boot/pkg/log"
	"github.com/x86boot/x86boot/pkg/ring0"
)

// LDTEntries is the size of the first task's LDT: the null descriptor, code
// and data.
const LDTEntries = 3

// Layout describes the simulated machine: memory size, where each descriptor
// table lives, the selectors of the kernel and of the first task, and the
// handler addresses gates point to.
type Layout struct {
	// MemorySize is the size of machine memory in bytes.
	MemorySize uint32 `toml:"memory_size" json:"memory_size"`

	KernelCode ring0.Selector `toml:"kernel_code" json:"kernel_code"`
	KernelData ring0.Selector `toml:"kernel_data" json:"kernel_data"`
	UserCode   ring0.Selector `toml:"user_code" json:"user_code"`
	UserData   ring0.Selector `toml:"user_data" json:"user_data"`

	// KernelLimit is the limit of the kernel code and data segments.
	KernelLimit uint32 `toml:"kernel_limit" json:"kernel_limit"`

	// UserLimit is the limit of the first task's code and data segments.
	UserLimit uint32 `toml:"user_limit" json:"user_limit"`

	IDTBase    hostarch.Addr `toml:"idt_base" json:"idt_base"`
	GDTBase    hostarch.Addr `toml:"gdt_base" json:"gdt_base"`
	GDTEntries int           `toml:"gdt_entries" json:"gdt_entries"`
	LDTBase    hostarch.Addr `toml:"ldt_base" json:"ldt_base"`
	TSSBase    hostarch.Addr `toml:"tss_base" json:"tss_base"`

	// TSSSlot and LDTSlot are the GDT slots of the first task's TSS and LDT
	// descriptors.
	TSSSlot int `toml:"tss_slot" json:"tss_slot"`
	LDTSlot int `toml:"ldt_slot" json:"ldt_slot"`

	// Stack is the stack pointer the boot CPU runs with. The first task
	// keeps it as its user stack.
	Stack hostarch.Addr `toml:"stack" json:"stack"`

	// KernelStack is the ring 0 stack of the first task (TSS ESP0).
	KernelStack hostarch.Addr `toml:"kernel_stack" json:"kernel_stack"`

	// UserEntry is where the first task resumes in user mode.
	UserEntry hostarch.Addr `toml:"user_entry" json:"user_entry"`

	Handlers Handlers `toml:"handlers" json:"handlers"`
}

// Handlers gives the address each gate points to.
//
// Vector n points to Base + n*Stride unless Vectors has an entry for the
// vector's name ("page_fault", "system_call", "reserved", ...). Ignore is the
// handler every vector points to before the trap and scheduler gates are
// installed.
type Handlers struct {
	Ignore  hostarch.Addr            `toml:"ignore" json:"ignore"`
	Base    hostarch.Addr            `toml:"base" json:"base"`
	Stride  uint32                   `toml:"stride" json:"stride"`
	Vectors map[string]hostarch.Addr `toml:"vectors" json:"vectors,omitempty"`
}

// Address returns the handler address for v.
func (h *Handlers) Address(v ring0.Vector) hostarch.Addr {
	if addr, ok := h.Vectors[v.String()]; ok {
		return addr
	}
	return h.Base + hostarch.Addr(uint32(v)*h.Stride)
}

// DefaultLayout returns the built-in layout: a 128KiB machine with the IDT,
// GDT, LDT and TSS packed below 0x2200 and the first task's code and data
// spanning the low 640KiB.
func DefaultLayout() *Layout {
	return &Layout{
		MemorySize:  0x20000,
		KernelCode:  ring0.Kcode,
		KernelData:  ring0.Kdata,
		UserCode:    ring0.Ucode,
		UserData:    ring0.Udata,
		KernelLimit: 0xfffff,
		UserLimit:   0x9ffff,
		IDTBase:     0x1000,
		GDTBase:     0x1800,
		GDTEntries:  256,
		LDTBase:     0x2000,
		TSSBase:     0x2100,
		TSSSlot:     4,
		LDTSlot:     5,
		Stack:       0x1f000,
		KernelStack: 0x4000,
		UserEntry:   0x6000,
		Handlers: Handlers{
			Ignore: 0x00104000,
			Base:   0x00100000,
			Stride: 0x40,
		},
	}
}

// LoadLayout decodes the TOML file at path over DefaultLayout and validates
// the result. Unknown keys are an error.
func LoadLayout(path string) (*Layout, error) {
	l := DefaultLayout()
	md, err := toml.DecodeFile(path, l)
	if err != nil {
		return nil, fmt.Errorf("decoding layout %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("layout %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("layout %q: %w", path, err)
	}
	return l, nil
}

// HandlerNames returns the vector names accepted in Handlers.Vectors.
func HandlerNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(v ring0.Vector) {
		name := v.String()
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	for v := ring0.Vector(0); v <= ring0.ReservedLast; v++ {
		add(v)
	}
	add(ring0.TimerInterrupt)
	add(ring0.SyscallInt80)
	sort.Strings(names)
	return names
}

func checkSelector(name string, sel ring0.Selector, ldt bool, rpl, entries int) error {
	switch {
	case sel.IsNull():
		return fmt.Errorf("%s %v is null", name, sel)
	case sel.LDT() != ldt:
		return fmt.Errorf("%s %v: want ldt=%t", name, sel, ldt)
	case sel.RPL() != rpl:
		return fmt.Errorf("%s %v: want rpl %d", name, sel, rpl)
	case sel.Index() >= entries:
		return fmt.Errorf("%s %v: index beyond the table's %d entries", name, sel, entries)
	}
	return nil
}

type region struct {
	name string
	ar   hostarch.AddrRange
}

// Validate checks that the layout describes a machine the boot sequence can
// set up.
func (l *Layout) Validate() error {
	if l.MemorySize == 0 || !hostarch.Addr(l.MemorySize).IsPageAligned() {
		return fmt.Errorf("memory_size %#x must be a non-zero multiple of %#x", l.MemorySize, hostarch.PageSize)
	}
	if l.GDTEntries <= 0 || l.GDTEntries > 1<<13 {
		return fmt.Errorf("gdt_entries %d out of range [1, 8192]", l.GDTEntries)
	}
	for _, slot := range []struct {
		name string
		n    int
	}{{"tss_slot", l.TSSSlot}, {"ldt_slot", l.LDTSlot}} {
		if slot.n <= 0 || slot.n >= l.GDTEntries {
			return fmt.Errorf("%s %d out of range [1, %d)", slot.name, slot.n, l.GDTEntries)
		}
	}
	if l.TSSSlot == l.LDTSlot {
		return fmt.Errorf("tss_slot and ldt_slot are both %d", l.TSSSlot)
	}

	for _, s := range []struct {
		name string
		sel  ring0.Selector
		ldt  bool
		rpl  int
		n    int
	}{
		{"kernel_code", l.KernelCode, false, ring0.SupervisorLevel, l.GDTEntries},
		{"kernel_data", l.KernelData, false, ring0.SupervisorLevel, l.GDTEntries},
		{"user_code", l.UserCode, true, ring0.UserLevel, LDTEntries},
		{"user_data", l.UserData, true, ring0.UserLevel, LDTEntries},
	} {
		if err := checkSelector(s.name, s.sel, s.ldt, s.rpl, s.n); err != nil {
			return err
		}
	}
	if l.KernelCode.Index() == l.KernelData.Index() {
		return fmt.Errorf("kernel_code and kernel_data share gdt slot %d", l.KernelCode.Index())
	}
	if l.UserCode.Index() == l.UserData.Index() {
		return fmt.Errorf("user_code and user_data share ldt slot %d", l.UserCode.Index())
	}
	for _, sel := range []ring0.Selector{l.KernelCode, l.KernelData} {
		if i := sel.Index(); i == l.TSSSlot || i == l.LDTSlot {
			return fmt.Errorf("kernel selector %v uses the tss or ldt slot", sel)
		}
	}
	if l.KernelLimit > 0xfffff || l.UserLimit > 0xfffff {
		return fmt.Errorf("segment limits %#x and %#x must fit in 20 bits", l.KernelLimit, l.UserLimit)
	}

	if l.Stack < ring0.FrameWords*4 || l.Stack%4 != 0 {
		return fmt.Errorf("stack %v must be dword aligned and leave room for a %d word frame", l.Stack, ring0.FrameWords)
	}

	mem := hostarch.AddrRange{Start: 0, End: hostarch.Addr(l.MemorySize)}
	var regions []region
	for _, r := range []struct {
		name string
		base hostarch.Addr
		size uint32
	}{
		{"idt", l.IDTBase, ring0.NumVectors * ring0.DescriptorSize},
		{"gdt", l.GDTBase, uint32(l.GDTEntries * ring0.DescriptorSize)},
		{"ldt", l.LDTBase, LDTEntries * ring0.DescriptorSize},
		{"tss", l.TSSBase, ring0.TSSLength},
		{"stack frame", l.Stack - ring0.FrameWords*4, ring0.FrameWords * 4},
	} {
		ar, ok := r.base.ToRange(r.size)
		if !ok || !mem.IsSupersetOf(ar) {
			return fmt.Errorf("%s %v does not fit in memory %v", r.name, ar, mem)
		}
		for _, o := range regions {
			if o.ar.Overlaps(ar) {
				return fmt.Errorf("%s %v overlaps %s %v", r.name, ar, o.name, o.ar)
			}
		}
		regions = append(regions, region{r.name, ar})
	}
	if l.KernelStack == 0 || l.KernelStack%4 != 0 || uint32(l.KernelStack) > l.MemorySize {
		return fmt.Errorf("kernel_stack %v must be dword aligned and inside memory", l.KernelStack)
	}
	if uint32(l.UserEntry) > l.UserLimit || uint32(l.Stack-1) > l.UserLimit {
		return fmt.Errorf("user_entry %v and stack %v must be within the user limit %#x", l.UserEntry, l.Stack, l.UserLimit)
	}

	names := make(map[string]struct{})
	for _, n := range HandlerNames() {
		names[n] = struct{}{}
	}
	for name := range l.Handlers.Vectors {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("unknown handler vector %q", name)
		}
	}
	return nil
}

// Log logs the layout at debug level, leaving out the handler overrides.
func (l *Layout) Log() {
	if !log.IsLogging(log.Debug) {
		return
	}

	// Strip down parts of the layout that are not interesting.
	layout := deepcopy.Copy(l).(*Layout)
	layout.Handlers.Vectors = nil

	out, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		log.Debugf("Failed to marshal layout: %v", err)
		return
	}
	log.Debugf("Layout:\n%s", out)
	if n := len(l.Handlers.Vectors); n > 0 {
		log.Debugf("Layout: %d handler overrides", n)
	}
}
