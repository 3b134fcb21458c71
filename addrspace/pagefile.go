package addrspace

import (
	"fmt"
	"io"
	"log"
	"os"
)

const (
	PagefileLayerName = "pagefile"

	pagefileAlignment = 0x1000
)

// PagefileLayerConfig configures a PagefileLayer.
type PagefileLayerConfig struct {
	// PagefilePath is the path to a copy of the pagefile that
	// was acquired alongside the memory image.
	PagefilePath string

	OptLogger *log.Logger
}

// NewPagefileLayer maps a pagefile into the address range of base,
// immediately after base's last run (rounded up to a page boundary).
// Physical addresses below the mapping are passed through to base.
//
// Paged translators discover the mapping offset through the
// PagefileMapper interface. The layer owns both base and the
// pagefile, and closes them when closed.
func NewPagefileLayer(base AddressSpace, config PagefileLayerConfig) (*PagefileLayer, error) {
	if base == nil {
		return nil, Rejectf(PagefileLayerName, "a base address space is required")
	}

	if config.PagefilePath == "" {
		return nil, Rejectf(PagefileLayerName, "no pagefile was specified")
	}

	if _, hasIt := FindPagefileOffset(base); hasIt {
		return nil, Rejectf(PagefileLayerName, "a pagefile is already mapped")
	}

	baseEnd, err := End(base)
	if err != nil {
		return nil, fmt.Errorf("failed to determine size of base - %w", err)
	}

	f, err := os.Open(config.PagefilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pagefile - %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat pagefile - %w", err)
	}

	mappingOffset := (baseEnd + pagefileAlignment - 1) &^ (pagefileAlignment - 1)

	layer := &PagefileLayer{
		base:          base,
		pagefile:      f,
		mappingOffset: mappingOffset,
	}

	layer.Backing = &splitReaderAt{
		split: mappingOffset,
		low:   ReaderAt(base),
		high:  f,
	}

	err = base.Ranges(0, func(run Run) error {
		return layer.AddRun(Run{
			VirtualStart:  run.VirtualStart,
			PhysicalStart: run.VirtualStart,
			Length:        run.Length,
		})
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if info.Size() > 0 {
		err = layer.AddRun(Run{
			VirtualStart:  mappingOffset,
			PhysicalStart: mappingOffset,
			Length:        uint64(info.Size()),
		})
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("mapped pagefile %q (0x%x bytes) at 0x%x",
			config.PagefilePath, info.Size(), mappingOffset)
	}

	return layer, nil
}

// PagefileLayer exposes a memory image followed by a pagefile.
type PagefileLayer struct {
	RunBased
	base          AddressSpace
	pagefile      *os.File
	mappingOffset uint64
}

func (o *PagefileLayer) Name() string {
	return PagefileLayerName
}

func (o *PagefileLayer) Base() AddressSpace {
	return o.base
}

func (o *PagefileLayer) Flags() Flags {
	return ImageFlag
}

func (o *PagefileLayer) PagefileOffset() (uint64, bool) {
	return o.mappingOffset, true
}

func (o *PagefileLayer) Close() error {
	pagefileErr := o.pagefile.Close()

	err := o.base.Close()
	if err != nil {
		return err
	}

	return pagefileErr
}

// splitReaderAt dispatches reads below split to low, and reads at
// or above split to high (relative to split).
type splitReaderAt struct {
	split uint64
	low   io.ReaderAt
	high  io.ReaderAt
}

func (o *splitReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if uint64(off) >= o.split {
		return o.high.ReadAt(p, off-int64(o.split))
	}

	n := len(p)
	if uint64(off)+uint64(n) > o.split {
		n = int(o.split - uint64(off))
	}

	read, err := o.low.ReadAt(p[:n], off)
	if err != nil || n == len(p) {
		return read, err
	}

	more, err := o.high.ReadAt(p[n:], 0)
	return read + more, err
}
