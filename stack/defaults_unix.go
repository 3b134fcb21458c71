//go:build unix

package stack

import (
	"gitlab.com/stephen-fox/vtop/addrspace"
)

func platformLayerTypes() []LayerType {
	return []LayerType{
		{
			// Not an image type. A mapping is only ever
			// requested explicitly, e.g. "mmap:lime".
			Name:  addrspace.MmapLayerName,
			NewFn: newMmapLayer,
		},
	}
}

func newMmapLayer(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
	layer, err := addrspace.NewMmapLayer(base, addrspace.MmapLayerConfig{
		Filename:  options.Filename,
		OptLogger: options.OptLogger,
	})
	if err != nil {
		return nil, err
	}

	return layer, nil
}
