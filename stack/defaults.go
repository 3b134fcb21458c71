package stack

import (
	"errors"
	"fmt"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/paging"
	"gitlab.com/stephen-fox/vtop/profile"
)

// Autodetection orders of the default image layer types.
const (
	LimeOrder     = 50
	FileOrder     = 100
	PagefileOrder = 200
)

// RegisterDefaults registers the layer types implemented by this
// module.
func RegisterDefaults(registry *Registry) error {
	types := []LayerType{
		{
			Name:  addrspace.LimeLayerName,
			Order: LimeOrder,
			Flags: addrspace.ImageFlag,
			NewFn: newLimeLayer,
		},
		{
			Name:  addrspace.FileLayerName,
			Order: FileOrder,
			Flags: addrspace.ImageFlag,
			NewFn: newFileLayer,
		},
		{
			Name:  addrspace.PagefileLayerName,
			Order: PagefileOrder,
			Flags: addrspace.ImageFlag,
			NewFn: newPagefileLayer,
		},
		hardwareLayerType(paging.IA32LayerName, paging.IA32),
		hardwareLayerType(paging.PAELayerName, paging.PAE),
		hardwareLayerType(paging.AMD64LayerName, paging.AMD64),
		windowsLayerType(paging.WindowsIA32LayerName, paging.IA32),
		windowsLayerType(paging.WindowsPAELayerName, paging.PAE),
		windowsLayerType(paging.WindowsAMD64LayerName, paging.AMD64),
	}

	types = append(types, platformLayerTypes()...)

	for _, layerType := range types {
		err := registry.Register(layerType)
		if err != nil {
			return err
		}
	}

	return nil
}

// DefaultRegistry returns a new Registry containing the default
// layer types.
func DefaultRegistry() *Registry {
	registry := NewRegistry()

	err := RegisterDefaults(registry)
	if err != nil {
		// The default types have unique names.
		panic(err)
	}

	return registry
}

func newFileLayer(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
	layer, err := addrspace.NewFileLayer(base, addrspace.FileLayerConfig{
		Filename:  options.Filename,
		Writable:  options.Writable,
		OptLogger: options.OptLogger,
	})
	if err != nil {
		return nil, err
	}

	return layer, nil
}

func newLimeLayer(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
	layer, err := addrspace.NewLimeLayer(base, addrspace.LimeLayerConfig{
		OptLogger: options.OptLogger,
	})
	if err != nil {
		return nil, err
	}

	return layer, nil
}

func newPagefileLayer(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
	layer, err := addrspace.NewPagefileLayer(base, addrspace.PagefileLayerConfig{
		PagefilePath: options.PagefilePath,
		OptLogger:    options.OptLogger,
	})
	if err != nil {
		return nil, err
	}

	return layer, nil
}

// translatorDTB returns the page table root for a translator layer
// built on top of base.
func translatorDTB(name string, base addrspace.AddressSpace, options Options) (uint64, error) {
	if options.OptDTB != nil {
		return *options.OptDTB, nil
	}

	if base != nil {
		dtb, hasIt := addrspace.FindDTBHint(base)
		if hasIt {
			return dtb, nil
		}
	}

	return 0, addrspace.Rejectf(name, "no dtb was specified or found")
}

func hardwareLayerType(name string, arch *paging.Arch) LayerType {
	return LayerType{
		Name:  name,
		Flags: addrspace.VirtualFlag,
		NewFn: func(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
			dtb, err := translatorDTB(name, base, options)
			if err != nil {
				return nil, err
			}

			if options.Profile == nil {
				return nil, addrspace.Rejectf(name, "a profile is required")
			}

			translator, err := paging.NewHardwareTranslator(base, paging.TranslatorConfig{
				Arch:      arch,
				DTB:       dtb,
				Profile:   options.Profile,
				OptLogger: options.OptLogger,
			})
			if err != nil {
				return nil, err
			}

			return translator, nil
		},
	}
}

func windowsLayerType(name string, arch *paging.Arch) LayerType {
	return LayerType{
		Name:  name,
		Flags: addrspace.VirtualFlag,
		NewFn: func(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error) {
			dtb, err := translatorDTB(name, base, options)
			if err != nil {
				return nil, err
			}

			if options.Profile == nil {
				return nil, addrspace.Rejectf(name, "a profile is required")
			}

			translator, err := paging.NewWindowsTranslator(base, paging.WindowsTranslatorConfig{
				Arch:           arch,
				DTB:            dtb,
				Profile:        options.Profile,
				OptVADProvider: options.OptVADProvider,
				OptKernel:      options.OptKernel,
				OptKernelDTB:   options.OptKernelDTB,
				OptLogger:      options.OptLogger,
			})
			if err != nil {
				return nil, err
			}

			return translator, nil
		},
	}
}

// ImplementationFor returns the name of the translator layer type
// that a profile requires, based on its architecture, PAE setting
// and operating system.
func ImplementationFor(p *profile.Profile) (string, error) {
	if p == nil {
		return "", errors.New("profile cannot be nil")
	}

	arch, err := paging.ArchFor(p.Metadata.Arch, p.Metadata.PAE)
	if err != nil {
		return "", fmt.Errorf("failed to select paging architecture for profile %q - %w", p.Name, err)
	}

	if p.IsWindows() {
		return "windows_" + arch.Name, nil
	}

	return arch.Name, nil
}
