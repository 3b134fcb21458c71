package addrspace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStop may be returned by a Ranges callback to stop the iteration
// early. Ranges then returns nil.
var ErrStop = errors.New("stop iteration")

// AddressSpace is a single layer in a stack of address spaces.
type AddressSpace interface {
	// Name returns the registered name of the layer's type.
	Name() string

	// Base returns the layer below this one, or nil if this
	// is the bottom-most layer.
	Base() AddressSpace

	// Flags returns the layer's capabilities.
	Flags() Flags

	// Read returns length bytes starting at offset. Bytes outside
	// any defined run are zero. An error is only returned if the
	// backing storage fails.
	Read(offset uint64, length int) ([]byte, error)

	// Write writes the portion of data that falls inside writable
	// runs and returns the number of bytes written.
	Write(offset uint64, data []byte) (int, error)

	// Translate maps an address in this layer to an offset in the
	// base layer (or the backing storage for the bottom layer).
	Translate(addr uint64) (uint64, bool)

	// Ranges calls fn for each mapped run that ends after start,
	// in ascending order. Calling it again restarts the sequence.
	Ranges(start uint64, fn func(Run) error) error

	// Close releases the resources of the layer and of any
	// layers it owns.
	Close() error
}

// Run is a contiguous mapped region.
type Run struct {
	VirtualStart  uint64
	PhysicalStart uint64
	Length        uint64
}

// End returns the exclusive end of the run's virtual range.
func (o Run) End() uint64 {
	return o.VirtualStart + o.Length
}

func (o Run) String() string {
	return fmt.Sprintf("0x%x-0x%x -> 0x%x", o.VirtualStart, o.End(), o.PhysicalStart)
}

// Flags describes the capabilities of an address space type.
type Flags uint8

const (
	// ImageFlag marks a layer that may be stacked automatically
	// on top of an unknown image.
	ImageFlag Flags = 1 << iota

	// VirtualFlag marks a layer that performs virtual address
	// translation.
	VirtualFlag

	// VolatileFlag marks a layer backed by live memory.
	VolatileFlag

	// WritableFlag marks a layer that accepts writes.
	WritableFlag
)

// Has returns true if all of the specified flags are set.
func (o Flags) Has(flags Flags) bool {
	return o&flags == flags
}

func (o Flags) String() string {
	var names []string
	if o.Has(ImageFlag) {
		names = append(names, "image")
	}
	if o.Has(VirtualFlag) {
		names = append(names, "virtual")
	}
	if o.Has(VolatileFlag) {
		names = append(names, "volatile")
	}
	if o.Has(WritableFlag) {
		names = append(names, "writable")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// DTBHinter is implemented by layers that know the page table root
// of the kernel, for example because an acquisition driver reported
// the value of the CR3 register.
type DTBHinter interface {
	DTBHint() (uint64, bool)
}

// PagefileMapper is implemented by layers that map the contents of
// a pagefile into their address range.
type PagefileMapper interface {
	PagefileOffset() (uint64, bool)
}

// FindDTBHint searches the stack, top-down, for a layer that knows
// the kernel's page table root.
func FindDTBHint(as AddressSpace) (uint64, bool) {
	for layer := as; layer != nil; layer = layer.Base() {
		hinter, ok := layer.(DTBHinter)
		if !ok {
			continue
		}

		dtb, ok := hinter.DTBHint()
		if ok {
			return dtb, true
		}
	}

	return 0, false
}

// FindPagefileOffset searches the stack, top-down, for a layer that
// maps a pagefile.
func FindPagefileOffset(as AddressSpace) (uint64, bool) {
	for layer := as; layer != nil; layer = layer.Base() {
		mapper, ok := layer.(PagefileMapper)
		if !ok {
			continue
		}

		offset, ok := mapper.PagefileOffset()
		if ok {
			return offset, true
		}
	}

	return 0, false
}

// End returns the exclusive end of the last run of the address space.
func End(as AddressSpace) (uint64, error) {
	var end uint64

	err := as.Ranges(0, func(run Run) error {
		if run.End() > end {
			end = run.End()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return end, nil
}

// Describe returns a string describing the stack, top layer first.
func Describe(as AddressSpace) string {
	var names []string
	for layer := as; layer != nil; layer = layer.Base() {
		names = append(names, layer.Name())
	}

	if len(names) == 0 {
		return "<none>"
	}

	return strings.Join(names, " -> ")
}

// Spec returns the colon-separated, bottom-up layer specification
// for the stack. It can be fed back to stack.Builder.FromSpec.
func Spec(as AddressSpace) string {
	var names []string
	for layer := as; layer != nil; layer = layer.Base() {
		names = append([]string{layer.Name()}, names...)
	}

	return strings.Join(names, ":")
}

// ReaderAt adapts an address space to an io.ReaderAt.
func ReaderAt(as AddressSpace) *Reader {
	return &Reader{as: as}
}

// Reader reads from an address space using the io.ReaderAt contract.
type Reader struct {
	as AddressSpace
}

func (o *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}

	data, err := o.as.Read(uint64(off), len(p))
	if err != nil {
		return 0, err
	}

	return copy(p, data), nil
}

// WriteAt writes to the address space. A short count is reported as
// an error to honor the io.WriterAt contract.
func (o *Reader) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}

	n, err := o.as.Write(uint64(off), p)
	if err != nil {
		return n, err
	}

	if n < len(p) {
		return n, fmt.Errorf("short write at 0x%x - wrote %d of %d bytes",
			off, n, len(p))
	}

	return n, nil
}
