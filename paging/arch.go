// Package paging implements x86 virtual address translation in
// software, on top of a physical address space.
//
// HardwareTranslator emulates the MMU only: an address is mapped if
// every paging level holds a valid entry. WindowsTranslator adds the
// Windows pager's interpretation of invalid entries (transition,
// prototype, pagefile and demand zero PTEs), consulting the process'
// virtual address descriptors (VADs) when a hardware entry alone is
// ambiguous.
//
// Translators are not safe for concurrent use. A translator and its
// translation cache belong to exactly one page table root.
package paging

import (
	"fmt"

	"gitlab.com/stephen-fox/vtop/profile"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1
)

// Level is one level of a page table hierarchy.
type Level struct {
	// Name is the conventional name of an entry at this level.
	Name string

	// Shift is the number of address bits below this level's index.
	Shift uint

	// IndexBits is the number of address bits used as an index
	// into this level's table.
	IndexBits uint

	// LargePage is true if an entry at this level may map a page
	// directly, when its large page bit is set.
	LargePage bool
}

// Entries returns the number of entries in a table at this level.
func (o Level) Entries() int {
	return 1 << o.IndexBits
}

// Index returns the table index of vaddr at this level.
func (o Level) Index(vaddr uint64) uint64 {
	return (vaddr >> o.Shift) & ((1 << o.IndexBits) - 1)
}

// Span returns the number of bytes mapped by one entry at this level.
func (o Level) Span() uint64 {
	return 1 << o.Shift
}

// Arch describes a paging architecture.
type Arch struct {
	Name string

	// EntrySize is the size of one page table entry in bytes.
	EntrySize int

	// RootMask extracts the top-level table address from
	// the page table root (DTB).
	RootMask uint64

	// FrameMask extracts the next table, or page frame, address
	// from an entry.
	FrameMask uint64

	// VirtualBits is the number of implemented virtual
	// address bits.
	VirtualBits uint

	// SignExtend is true if addresses are canonical, meaning
	// the top implemented bit is copied into the bits above it.
	SignExtend bool

	// Levels lists the table levels, top level first.
	Levels []Level
}

var (
	// IA32 is 32-bit, 2-level paging with 4 MB large pages.
	IA32 = &Arch{
		Name:        "ia32",
		EntrySize:   4,
		RootMask:    0xfffff000,
		FrameMask:   0xfffff000,
		VirtualBits: 32,
		Levels: []Level{
			{Name: "PDE", Shift: 22, IndexBits: 10, LargePage: true},
			{Name: "PTE", Shift: 12, IndexBits: 10},
		},
	}

	// PAE is 32-bit, 3-level physical address extension paging
	// with 2 MB large pages.
	PAE = &Arch{
		Name:        "pae",
		EntrySize:   8,
		RootMask:    0xffffffe0,
		FrameMask:   0xffffffffff000,
		VirtualBits: 32,
		Levels: []Level{
			{Name: "PDPTE", Shift: 30, IndexBits: 2},
			{Name: "PDE", Shift: 21, IndexBits: 9, LargePage: true},
			{Name: "PTE", Shift: 12, IndexBits: 9},
		},
	}

	// AMD64 is 4-level x86-64 paging with 1 GB and 2 MB
	// large pages.
	AMD64 = &Arch{
		Name:        "amd64",
		EntrySize:   8,
		RootMask:    0xffffffffff000,
		FrameMask:   0xffffffffff000,
		VirtualBits: 48,
		SignExtend:  true,
		Levels: []Level{
			{Name: "PML4E", Shift: 39, IndexBits: 9},
			{Name: "PDPTE", Shift: 30, IndexBits: 9, LargePage: true},
			{Name: "PDE", Shift: 21, IndexBits: 9, LargePage: true},
			{Name: "PTE", Shift: 12, IndexBits: 9},
		},
	}
)

// ArchFor returns the paging architecture for a profile's
// architecture name and PAE setting.
func ArchFor(arch string, pae bool) (*Arch, error) {
	switch arch {
	case profile.ArchAMD64:
		return AMD64, nil
	case profile.ArchI386:
		if pae {
			return PAE, nil
		}
		return IA32, nil
	default:
		return nil, fmt.Errorf("unsupported architecture: %q", arch)
	}
}

// LargeFrameMask returns the mask that extracts the frame address of
// a large page mapped at the specified level.
func (o *Arch) LargeFrameMask(level Level) uint64 {
	return o.FrameMask &^ (level.Span() - 1)
}

// Canonical converts a raw address, as computed from table indexes,
// into its canonical form.
func (o *Arch) Canonical(vaddr uint64) uint64 {
	if !o.SignExtend {
		return vaddr
	}

	if vaddr&(1<<(o.VirtualBits-1)) != 0 {
		return vaddr | ^((uint64(1) << o.VirtualBits) - 1)
	}

	return vaddr
}

// Raw strips the sign extension bits from a canonical address.
func (o *Arch) Raw(vaddr uint64) uint64 {
	if o.VirtualBits >= 64 {
		return vaddr
	}

	return vaddr & ((uint64(1) << o.VirtualBits) - 1)
}

// Limit returns the exclusive end of the raw address range.
func (o *Arch) Limit() uint64 {
	return uint64(1) << o.VirtualBits
}
