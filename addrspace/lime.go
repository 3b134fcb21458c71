package addrspace

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	"gitlab.com/stephen-fox/vtop/bstruct"
)

const (
	LimeLayerName = "lime"

	limeMagic      = 0x4c694d45
	limeHeaderSize = 32
)

type limeHeader struct {
	Magic    uint32
	Version  uint32
	Start    uint64
	End      uint64
	Reserved uint64
}

// LimeLayerConfig configures a LimeLayer.
type LimeLayerConfig struct {
	OptLogger *log.Logger
}

// NewLimeLayer parses a LiME formatted image from base.
//
// A LiME image is a sequence of ranges, each preceded by a 32 byte
// header:
//	uint32 magic   (0x4c694d45)
//	uint32 version (1)
//	uint64 start   (physical address of the first byte)
//	uint64 end     (physical address of the last byte, inclusive)
//	[8]byte reserved
//
// The layer takes ownership of base and closes it when closed.
func NewLimeLayer(base AddressSpace, config LimeLayerConfig) (*LimeLayer, error) {
	if base == nil {
		return nil, Rejectf(LimeLayerName, "a base address space is required")
	}

	baseEnd, err := End(base)
	if err != nil {
		return nil, fmt.Errorf("failed to determine size of base - %w", err)
	}

	layer := &LimeLayer{
		base: base,
	}
	layer.Backing = ReaderAt(base)

	offset := uint64(0)
	for offset+limeHeaderSize <= baseEnd {
		header, err := base.Read(offset, limeHeaderSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read lime header at 0x%x - %w", offset, err)
		}

		var h limeHeader
		err = bstruct.BytesToStruct(header, binary.LittleEndian, &h)
		if err != nil {
			return nil, fmt.Errorf("failed to decode lime header at 0x%x - %w", offset, err)
		}

		if h.Magic != limeMagic {
			if offset == 0 {
				return nil, Rejectf(LimeLayerName, "bad magic 0x%x", h.Magic)
			}

			if config.OptLogger != nil {
				config.OptLogger.Printf("lime: stopping at 0x%x - no header magic", offset)
			}
			break
		}

		if h.Version != 1 {
			return nil, Rejectf(LimeLayerName, "unsupported version %d at 0x%x", h.Version, offset)
		}

		start, end := h.Start, h.End
		if end < start {
			return nil, Rejectf(LimeLayerName, "range end 0x%x is before start 0x%x", end, start)
		}

		// The run's exclusive end must fit in an address.
		if end == math.MaxUint64 {
			return nil, Rejectf(LimeLayerName, "range 0x%x-0x%x at 0x%x ends at the top of memory",
				start, end, offset)
		}

		length := end - start + 1
		dataOffset := offset + limeHeaderSize
		if length > baseEnd-dataOffset {
			return nil, Rejectf(LimeLayerName, "range 0x%x-0x%x at 0x%x needs 0x%x bytes - only 0x%x remain",
				start, end, offset, length, baseEnd-dataOffset)
		}

		err = layer.AddRun(Run{
			VirtualStart:  start,
			PhysicalStart: dataOffset,
			Length:        length,
		})
		if err != nil {
			return nil, err
		}

		if config.OptLogger != nil {
			config.OptLogger.Printf("lime: range 0x%x-0x%x at file offset 0x%x",
				start, end, offset+limeHeaderSize)
		}

		offset += limeHeaderSize + length
	}

	if layer.Runs.Len() == 0 {
		return nil, Rejectf(LimeLayerName, "no ranges found")
	}

	return layer, nil
}

// LimeLayer is a physical memory layer over a LiME image.
type LimeLayer struct {
	RunBased
	base AddressSpace
}

func (o *LimeLayer) Name() string {
	return LimeLayerName
}

func (o *LimeLayer) Base() AddressSpace {
	return o.base
}

func (o *LimeLayer) Flags() Flags {
	return ImageFlag
}

func (o *LimeLayer) Close() error {
	return o.base.Close()
}

// LimeHeader encodes a LiME range header. It is the inverse of the
// parsing done by NewLimeLayer and is useful for writing images.
func LimeHeader(start uint64, length uint64) []byte {
	return bstruct.StructToBytesOrExit(limeHeader{
		Magic:   limeMagic,
		Version: 1,
		Start:   start,
		End:     start + length - 1,
	}, binary.LittleEndian, nil)
}
