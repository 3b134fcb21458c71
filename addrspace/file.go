package addrspace

import (
	"fmt"
	"log"
	"os"
)

const FileLayerName = "file"

// FileLayerConfig configures a FileLayer.
type FileLayerConfig struct {
	// Filename is the path to the memory image.
	Filename string

	// Writable opens the file for writing.
	Writable bool

	// OptLogger receives debug messages when non-nil.
	OptLogger *log.Logger
}

// NewFileLayer opens a raw memory image. The file must be a regular
// file, and the layer must be the bottom of the stack.
//
// The layer owns the file and closes it when the layer is closed.
func NewFileLayer(base AddressSpace, config FileLayerConfig) (*FileLayer, error) {
	if base != nil {
		return nil, Rejectf(FileLayerName, "must be the first address space")
	}

	if config.Filename == "" {
		return nil, Rejectf(FileLayerName, "a filename must be specified")
	}

	flags := os.O_RDONLY
	if config.Writable {
		flags = os.O_RDWR
	}

	f, err := os.OpenFile(config.Filename, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file - %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat image file - %w", err)
	}

	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, Rejectf(FileLayerName, "%q is not a regular file", config.Filename)
	}

	layer := &FileLayer{
		file:  f,
		flags: ImageFlag,
	}

	layer.Backing = f
	if config.Writable {
		layer.OptWriter = f
		layer.flags |= WritableFlag
	}

	if info.Size() > 0 {
		err = layer.AddRun(Run{Length: uint64(info.Size())})
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("opened %q (0x%x bytes, writable: %t)",
			config.Filename, info.Size(), config.Writable)
	}

	return layer, nil
}

// FileLayer is a memory image stored in a regular file.
type FileLayer struct {
	RunBased
	file  *os.File
	flags Flags
}

func (o *FileLayer) Name() string {
	return FileLayerName
}

func (o *FileLayer) Base() AddressSpace {
	return nil
}

func (o *FileLayer) Flags() Flags {
	return o.flags
}

// Filename returns the path of the underlying file.
func (o *FileLayer) Filename() string {
	return o.file.Name()
}

func (o *FileLayer) Close() error {
	return o.file.Close()
}
