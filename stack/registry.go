package stack

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/paging"
	"gitlab.com/stephen-fox/vtop/profile"
)

// NewLayerFn constructs a layer on top of base. base is nil when the
// layer is to be the bottom-most layer.
//
// A constructor that does not recognize the contents of base must
// return a *addrspace.RejectedError. Any other error aborts
// autodetection.
type NewLayerFn func(base addrspace.AddressSpace, options Options) (addrspace.AddressSpace, error)

// Options are the user supplied settings shared by all layer
// constructors.
type Options struct {
	// Filename is the memory image to open.
	Filename string

	// PagefilePath is an optional pagefile acquired alongside
	// the memory image.
	PagefilePath string

	// Writable opens the image for writing.
	Writable bool

	// OptDTB is the page table root used by translators. When
	// nil, the physical stack is searched for a DTB hint.
	OptDTB *uint64

	// Profile describes the page table entries of the image's
	// operating system. It is required by translators.
	Profile *profile.Profile

	// OptVADProvider supplies VADs to Windows translators.
	OptVADProvider paging.VADProvider

	// OptKernel is the address space that prototype PTEs are
	// read through.
	OptKernel addrspace.AddressSpace

	// OptKernelDTB is the kernel's page table root.
	OptKernelDTB *uint64

	OptLogger *log.Logger
}

// LayerType describes a type of layer that can be stacked.
type LayerType struct {
	// Name is the unique name of the type. It is the name used
	// in layer specifications such as "file:lime".
	Name string

	// Order is the type's priority during autodetection. Lower
	// values are tried first.
	Order int

	// Flags are the type's capabilities. Only types with
	// addrspace.ImageFlag take part in autodetection.
	Flags addrspace.Flags

	NewFn NewLayerFn
}

// Registry holds the layer types that are available to a Builder.
//
// Types are registered explicitly. RegisterDefaults registers the
// types implemented by this module.
type Registry struct {
	types  []LayerType
	byName map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
	}
}

// Register adds a layer type. Names must be unique.
func (o *Registry) Register(layerType LayerType) error {
	if layerType.Name == "" {
		return errors.New("layer type name cannot be empty")
	}

	if layerType.NewFn == nil {
		return fmt.Errorf("layer type %q has no constructor", layerType.Name)
	}

	if _, hasIt := o.byName[layerType.Name]; hasIt {
		return fmt.Errorf("layer type %q is already registered", layerType.Name)
	}

	o.byName[layerType.Name] = len(o.types)
	o.types = append(o.types, layerType)

	return nil
}

// Lookup returns the named layer type. A *addrspace.LookupError is
// returned if the type is not registered.
func (o *Registry) Lookup(name string) (LayerType, error) {
	i, hasIt := o.byName[name]
	if !hasIt {
		return LayerType{}, &addrspace.LookupError{
			Kind: "layer type",
			Name: name,
		}
	}

	return o.types[i], nil
}

// ImageTypes returns the types that take part in autodetection,
// ordered by Order. Types with the same Order are returned in
// registration order.
func (o *Registry) ImageTypes() []LayerType {
	var types []LayerType
	for _, layerType := range o.types {
		if layerType.Flags.Has(addrspace.ImageFlag) {
			types = append(types, layerType)
		}
	}

	sort.SliceStable(types, func(i, j int) bool {
		return types[i].Order < types[j].Order
	})

	return types
}

// Types returns every registered type in registration order.
func (o *Registry) Types() []LayerType {
	types := make([]LayerType, len(o.types))
	copy(types, o.types)
	return types
}
