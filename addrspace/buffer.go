package addrspace

import (
	"fmt"
)

const BufferLayerName = "buffer"

// BufferLayerConfig configures a BufferLayer.
type BufferLayerConfig struct {
	// Data is the backing storage. It is used in place.
	Data []byte

	// OptRuns, when non-empty, replaces the default single
	// run that identity-maps all of Data.
	OptRuns []Run

	// Writable allows writes into Data.
	Writable bool

	// OptDTB is reported by DTBHint when non-nil.
	OptDTB *uint64
}

// NewBufferLayer creates a bottom-most layer backed by a byte slice.
func NewBufferLayer(config BufferLayerConfig) (*BufferLayer, error) {
	layer := &BufferLayer{
		data: &sliceIO{b: config.Data},
		dtb:  config.OptDTB,
	}

	layer.Backing = layer.data
	if config.Writable {
		layer.OptWriter = layer.data
	}

	runs := config.OptRuns
	if len(runs) == 0 && len(config.Data) > 0 {
		runs = []Run{{Length: uint64(len(config.Data))}}
	}

	for _, run := range runs {
		err := layer.AddRun(run)
		if err != nil {
			return nil, err
		}
	}

	return layer, nil
}

// NewBufferLayerOrExit calls NewBufferLayer. DefaultExitFn is
// invoked if an error occurs.
func NewBufferLayerOrExit(config BufferLayerConfig) *BufferLayer {
	layer, err := NewBufferLayer(config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create buffer layer - %w", err))
	}
	return layer
}

// BufferLayer is an in-memory bottom-most layer.
type BufferLayer struct {
	RunBased
	data *sliceIO
	dtb  *uint64
}

func (o *BufferLayer) Name() string {
	return BufferLayerName
}

func (o *BufferLayer) Base() AddressSpace {
	return nil
}

func (o *BufferLayer) Flags() Flags {
	if o.OptWriter != nil {
		return WritableFlag
	}
	return 0
}

func (o *BufferLayer) DTBHint() (uint64, bool) {
	if o.dtb == nil {
		return 0, false
	}
	return *o.dtb, true
}

func (o *BufferLayer) Close() error {
	return nil
}

type sliceIO struct {
	b []byte
}

func (o *sliceIO) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(o.b)) {
		return 0, nil
	}

	return copy(p, o.b[off:]), nil
}

func (o *sliceIO) WriteAt(p []byte, off int64) (int, error) {
	if off >= int64(len(o.b)) {
		return 0, nil
	}

	return copy(o.b[off:], p), nil
}
