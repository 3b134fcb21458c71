package paging

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gitlab.com/stephen-fox/vtop/addrspace"
)

// Step records one entry read during a page table walk.
type Step struct {
	// Name is the level's entry name, such as "PDE".
	Name string

	// Addr is the physical address of the entry.
	Addr uint64

	// Value is the raw entry.
	Value uint64
}

// walkEnd describes where a page table walk stopped.
type walkEnd int

const (
	// walkLeaf means the walk reached the last level. The
	// entry may or may not be valid.
	walkLeaf walkEnd = iota

	// walkLarge means a valid large page entry was found.
	walkLarge

	// walkInvalid means a non-leaf entry was not valid.
	walkInvalid
)

type walkResult struct {
	end   walkEnd
	level Level
	entry uint64
	steps []Step
}

// walker reads page tables from a physical address space.
type walker struct {
	arch      *Arch
	phys      addrspace.AddressSpace
	dtb       uint64
	validMask uint64
	largeMask uint64
}

// Arch returns the paging architecture.
func (o *walker) Arch() *Arch {
	return o.arch
}

func (o *walker) decode(raw []byte) uint64 {
	if o.arch.EntrySize == 4 {
		return uint64(binary.LittleEndian.Uint32(raw))
	}

	return binary.LittleEndian.Uint64(raw)
}

func (o *walker) readEntry(addr uint64) (uint64, error) {
	raw, err := o.phys.Read(addr, o.arch.EntrySize)
	if err != nil {
		return 0, fmt.Errorf("failed to read page table entry at 0x%x - %w", addr, err)
	}

	return o.decode(raw), nil
}

// readTable reads an entire table in one read.
func (o *walker) readTable(addr uint64, level Level) ([]uint64, error) {
	raw, err := o.phys.Read(addr, level.Entries()*o.arch.EntrySize)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s table at 0x%x - %w", level.Name, addr, err)
	}

	entries := make([]uint64, level.Entries())
	for i := range entries {
		entries[i] = o.decode(raw[i*o.arch.EntrySize:])
	}

	return entries, nil
}

func (o *walker) valid(entry uint64) bool {
	return entry&o.validMask != 0
}

func (o *walker) isLarge(level Level, entry uint64) bool {
	return level.LargePage && entry&o.largeMask != 0
}

// walk follows the page tables for vaddr until it reaches the leaf
// level, a large page, or an invalid entry.
func (o *walker) walk(vaddr uint64, trace bool) (walkResult, error) {
	var result walkResult

	table := o.dtb & o.arch.RootMask
	last := len(o.arch.Levels) - 1

	for i, level := range o.arch.Levels {
		entryAddr := table + level.Index(vaddr)*uint64(o.arch.EntrySize)

		entry, err := o.readEntry(entryAddr)
		if err != nil {
			return walkResult{}, err
		}

		if trace {
			result.steps = append(result.steps, Step{
				Name:  level.Name,
				Addr:  entryAddr,
				Value: entry,
			})
		}

		result.level = level
		result.entry = entry

		switch {
		case i == last:
			result.end = walkLeaf
			return result, nil
		case !o.valid(entry):
			result.end = walkInvalid
			return result, nil
		case o.isLarge(level, entry):
			result.end = walkLarge
			return result, nil
		}

		table = entry & o.arch.FrameMask
	}

	return result, errors.New("architecture has no paging levels")
}

// hardwareAddr computes the physical address of vaddr from a valid
// leaf entry.
func (o *walker) hardwareAddr(vaddr uint64, pte uint64) uint64 {
	return (pte & o.arch.FrameMask) | (vaddr & PageMask)
}

// largeAddr computes the physical address of vaddr from a valid
// large page entry.
func (o *walker) largeAddr(vaddr uint64, level Level, entry uint64) uint64 {
	return (entry & o.arch.LargeFrameMask(level)) | (vaddr & (level.Span() - 1))
}

// tableVisitor receives the results of enumerating the page tables.
type tableVisitor struct {
	// large is called for each valid large page entry.
	large func(vaddr uint64, level Level, entry uint64) error

	// leaves is called with each leaf table, after it has been
	// read in one operation.
	leaves func(vaddr uint64, table []uint64) error

	// hole is called for each invalid non-leaf entry. It covers
	// [vaddr, vaddr+span). It may be nil.
	hole func(vaddr uint64, span uint64) error
}

// enumerate visits the page tables in ascending address order,
// skipping the parts of the address space that end at or before
// rawStart. Addresses passed to the visitor are raw, meaning not
// sign-extended.
func (o *walker) enumerate(rawStart uint64, visitor tableVisitor) error {
	return o.enumerateTable(o.dtb&o.arch.RootMask, 0, 0, rawStart, visitor)
}

func (o *walker) enumerateTable(tableAddr uint64, depth int, vbase uint64, rawStart uint64, visitor tableVisitor) error {
	level := o.arch.Levels[depth]

	table, err := o.readTable(tableAddr, level)
	if err != nil {
		return err
	}

	if depth == len(o.arch.Levels)-1 {
		return visitor.leaves(vbase, table)
	}

	for i, entry := range table {
		vaddr := vbase | uint64(i)<<level.Shift
		if vaddr+level.Span() <= rawStart {
			continue
		}

		switch {
		case !o.valid(entry):
			if visitor.hole != nil {
				err = visitor.hole(vaddr, level.Span())
			}
		case o.isLarge(level, entry):
			err = visitor.large(vaddr, level, entry)
		default:
			err = o.enumerateTable(entry&o.arch.FrameMask, depth+1, vaddr, rawStart, visitor)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// emitter clips runs to the enumeration's start address and
// converts raw addresses to canonical ones.
type emitter struct {
	arch     *Arch
	rawStart uint64
	fn       func(addrspace.Run) error
}

func (o *emitter) emit(rawVaddr uint64, phys uint64, length uint64) error {
	if rawVaddr+length <= o.rawStart {
		return nil
	}

	if rawVaddr < o.rawStart {
		diff := o.rawStart - rawVaddr
		rawVaddr += diff
		phys += diff
		length -= diff
	}

	return o.fn(addrspace.Run{
		VirtualStart:  o.arch.Canonical(rawVaddr),
		PhysicalStart: phys,
		Length:        length,
	})
}
