package paging

import (
	"encoding/binary"
	"testing"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/profile"
)

// testMasks returns a fixed set of masks in the layout used by
// Windows' PAE page table entries.
func testMasks() Masks {
	return Masks{
		Valid:        1 << 0,
		LargePage:    1 << 7,
		Prototype:    1 << 10,
		Transition:   1 << 11,
		Subsection:   1 << 10,
		ProtoAddress: profile.BitField{StartBit: 32, EndBit: 64},
		PageFileHigh: profile.BitField{StartBit: 32, EndBit: 64},
		VADSentinel:  0xffffffff,
	}
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Name: "test",
		PTE: profile.PTELayout{
			Fields: map[string]profile.BitField{
				profile.FieldValid:     {StartBit: 0, EndBit: 1},
				profile.FieldLargePage: {StartBit: 7, EndBit: 8},
			},
		},
	}
}

type memory struct {
	data []byte
}

func newMemory(size int) *memory {
	return &memory{data: make([]byte, size)}
}

func (o *memory) put32(addr uint64, value uint32) {
	binary.LittleEndian.PutUint32(o.data[addr:], value)
}

func (o *memory) put64(addr uint64, value uint64) {
	binary.LittleEndian.PutUint64(o.data[addr:], value)
}

func (o *memory) layer(t *testing.T) *addrspace.BufferLayer {
	t.Helper()

	layer, err := addrspace.NewBufferLayer(addrspace.BufferLayerConfig{
		Data:     o.data,
		Writable: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	return layer
}

// countingSpace counts the reads made against an address space.
type countingSpace struct {
	addrspace.AddressSpace
	reads int
}

func (o *countingSpace) Read(offset uint64, length int) ([]byte, error) {
	o.reads++
	return o.AddressSpace.Read(offset, length)
}

func collectRuns(t *testing.T, as addrspace.AddressSpace, start uint64) []addrspace.Run {
	t.Helper()

	var runs []addrspace.Run
	err := as.Ranges(start, func(run addrspace.Run) error {
		runs = append(runs, run)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	return runs
}

func checkRuns(t *testing.T, runs []addrspace.Run, exp []addrspace.Run) {
	t.Helper()

	if len(runs) != len(exp) {
		t.Fatalf("expected %d runs - got %d: %v", len(exp), len(runs), runs)
	}

	for i := range exp {
		if runs[i] != exp[i] {
			t.Fatalf("run %d: expected %s - got %s", i, exp[i], runs[i])
		}
	}
}

func checkTranslate(t *testing.T, as addrspace.AddressSpace, vaddr uint64, exp uint64, expOk bool) {
	t.Helper()

	paddr, ok := as.Translate(vaddr)
	if ok != expOk {
		t.Fatalf("translate 0x%x: expected mapped %t - got %t (0x%x)", vaddr, expOk, ok, paddr)
	}

	if ok && paddr != exp {
		t.Fatalf("translate 0x%x: expected 0x%x - got 0x%x", vaddr, exp, paddr)
	}
}
