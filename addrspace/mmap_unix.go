//go:build unix

package addrspace

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/unix"
)

const MmapLayerName = "mmap"

// MmapLayerConfig configures a MmapLayer.
type MmapLayerConfig struct {
	Filename  string
	OptLogger *log.Logger
}

// NewMmapLayer maps a raw memory image into the process' memory,
// read-only. The mapping is released when the layer is closed.
func NewMmapLayer(base AddressSpace, config MmapLayerConfig) (*MmapLayer, error) {
	if base != nil {
		return nil, Rejectf(MmapLayerName, "must be the first address space")
	}

	if config.Filename == "" {
		return nil, Rejectf(MmapLayerName, "a filename must be specified")
	}

	f, err := os.Open(config.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file - %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat image file - %w", err)
	}

	if !info.Mode().IsRegular() || info.Size() == 0 {
		return nil, Rejectf(MmapLayerName, "%q is not a non-empty regular file", config.Filename)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap image file - %w", err)
	}

	layer := &MmapLayer{
		data: data,
	}
	layer.Backing = bytes.NewReader(data)

	err = layer.AddRun(Run{Length: uint64(len(data))})
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("mapped %q (0x%x bytes)", config.Filename, len(data))
	}

	return layer, nil
}

// MmapLayer is a read-only, memory-mapped raw image.
type MmapLayer struct {
	RunBased
	data []byte
}

func (o *MmapLayer) Name() string {
	return MmapLayerName
}

func (o *MmapLayer) Base() AddressSpace {
	return nil
}

func (o *MmapLayer) Flags() Flags {
	return 0
}

func (o *MmapLayer) Close() error {
	if o.data == nil {
		return nil
	}

	data := o.data
	o.data = nil
	o.Backing = bytes.NewReader(nil)

	return unix.Munmap(data)
}
