// Package process resolves processes in a memory image to their page
// table roots and virtual address descriptors (VADs).
//
// Enumerating processes requires walking operating system structures
// that are out of scope for this module. Instead, a Finder supplies
// them. Table is a Finder backed by a YAML document, typically
// produced by another analysis tool:
//
//	processes:
//	  - pid: 4
//	    name: System
//	    dtb: 0x187000
//	  - pid: 2412
//	    name: notepad.exe
//	    dtb: 0x7b6c1000
//	    vads:
//	      - start: 0x7ff60000
//	        end: 0x7ff6c000
//	        first_prototype_pte: 0xfffff8a0012c3010
//
// A VAD without a first_prototype_pte has no prototype PTEs.
package process

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/paging"
	"gopkg.in/yaml.v2"
)

// Finder finds processes by their process ID.
type Finder interface {
	// FindProcess returns the process with the specified ID.
	// A *addrspace.LookupError is returned if there is
	// no such process.
	FindProcess(pid uint64) (Process, error)
}

// Process is a process in a memory image.
type Process struct {
	PID  uint64 `yaml:"pid"`
	Name string `yaml:"name"`
	DTB  uint64 `yaml:"dtb"`
	VADs []VAD  `yaml:"vads"`
}

// VADRanges converts the process' VADs for use by a translator.
func (o Process) VADRanges() []paging.VADRange {
	ranges := make([]paging.VADRange, 0, len(o.VADs))
	for _, vad := range o.VADs {
		r := paging.VADRange{
			Start: vad.Start,
			End:   vad.End,
		}

		if vad.FirstPrototypePTE != nil {
			r.FirstPrototypePTE = *vad.FirstPrototypePTE
			r.HasPrototypes = true
		}

		ranges = append(ranges, r)
	}

	return ranges
}

// VAD is a virtual address descriptor. End is exclusive.
type VAD struct {
	Start             uint64  `yaml:"start"`
	End               uint64  `yaml:"end"`
	FirstPrototypePTE *uint64 `yaml:"first_prototype_pte"`
}

// Table is a static list of processes.
//
// Table implements both Finder and paging.VADProvider.
type Table struct {
	Processes []Process `yaml:"processes"`
}

// Load decodes a YAML process table from r.
func Load(r io.Reader) (*Table, error) {
	var table Table

	err := yaml.NewDecoder(r).Decode(&table)
	if err != nil {
		return nil, fmt.Errorf("failed to decode process table - %w", err)
	}

	err = table.validate()
	if err != nil {
		return nil, fmt.Errorf("process table is invalid - %w", err)
	}

	sort.Slice(table.Processes, func(i, j int) bool {
		return table.Processes[i].PID < table.Processes[j].PID
	})

	return &table, nil
}

// LoadFile loads a YAML process table from a file.
func LoadFile(filePath string) (*Table, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open process table file - %w", err)
	}
	defer f.Close()

	return Load(f)
}

// LoadFileOrExit calls LoadFile. DefaultExitFn is invoked if an
// error occurs.
func LoadFileOrExit(filePath string) *Table {
	table, err := LoadFile(filePath)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to load process table - %w", err))
	}
	return table
}

func (o *Table) validate() error {
	pids := make(map[uint64]struct{}, len(o.Processes))

	for _, proc := range o.Processes {
		if _, hasIt := pids[proc.PID]; hasIt {
			return fmt.Errorf("pid %d appears more than once", proc.PID)
		}
		pids[proc.PID] = struct{}{}

		for _, vad := range proc.VADs {
			if vad.End <= vad.Start {
				return fmt.Errorf("pid %d has a vad with end 0x%x at or before start 0x%x",
					proc.PID, vad.End, vad.Start)
			}
		}
	}

	return nil
}

func (o *Table) FindProcess(pid uint64) (Process, error) {
	i := sort.Search(len(o.Processes), func(i int) bool {
		return o.Processes[i].PID >= pid
	})

	if i < len(o.Processes) && o.Processes[i].PID == pid {
		return o.Processes[i], nil
	}

	return Process{}, &addrspace.LookupError{
		Kind: "process",
		Name: fmt.Sprintf("pid@%d", pid),
	}
}

// RangesFor returns the VAD ranges of the process whose page table
// root is dtb. A DTB that belongs to no process has no ranges.
func (o *Table) RangesFor(dtb uint64) ([]paging.VADRange, error) {
	for _, proc := range o.Processes {
		if proc.DTB == dtb {
			return proc.VADRanges(), nil
		}
	}

	return nil, nil
}
