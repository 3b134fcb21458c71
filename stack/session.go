package stack

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/process"
)

// layerAtPattern matches "<layer-name>@<page table root>".
var layerAtPattern = regexp.MustCompile(`^([a-zA-Z0-9_]+)@((?:0x)?[0-9a-zA-Z]+)$`)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Registry provides the layer types. DefaultRegistry is
	// used when nil.
	Registry *Registry

	// Options are passed to the layer constructors. Its
	// Profile selects the kernel's translator.
	Options Options

	// OptSpec is an explicit layer specification for the
	// physical stack. The stack is autodetected when empty.
	OptSpec string

	// OptPhysical is an existing physical stack to use instead
	// of building one. The Session takes ownership of it.
	OptPhysical addrspace.AddressSpace

	// OptProcessFinder resolves "pid@<n>" names.
	OptProcessFinder process.Finder
}

// NewSession builds the physical stack and returns a Session for it.
func NewSession(config SessionConfig) (*Session, error) {
	registry := config.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	session := &Session{
		registry: registry,
		options:  config.Options,
		finder:   config.OptProcessFinder,
		physical: config.OptPhysical,
	}

	if session.physical != nil {
		return session, nil
	}

	builder := NewBuilder(registry, config.Options)

	var err error
	if config.OptSpec != "" {
		session.physical, err = builder.FromSpec(config.OptSpec)
	} else {
		session.physical, err = builder.Guess()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build physical address space - %w", err)
	}

	if session.physical == nil {
		return nil, fmt.Errorf("failed to build physical address space - %w", ErrNoLayers)
	}

	return session, nil
}

// Session holds the physical stack of a memory image and the address
// spaces derived from it.
type Session struct {
	registry *Registry
	options  Options
	finder   process.Finder
	physical addrspace.AddressSpace
	kernel   addrspace.AddressSpace
}

// PhysicalAddressSpace returns the top of the physical stack.
func (o *Session) PhysicalAddressSpace() addrspace.AddressSpace {
	return o.physical
}

// KernelDTB returns the kernel's page table root, either as specified
// in the session's options, or as reported by the physical stack.
func (o *Session) KernelDTB() (uint64, error) {
	if o.options.OptDTB != nil {
		return *o.options.OptDTB, nil
	}

	dtb, hasIt := addrspace.FindDTBHint(o.physical)
	if hasIt {
		return dtb, nil
	}

	return 0, errors.New("the kernel dtb was not specified and the image does not provide it")
}

// KernelAddressSpace returns the kernel's virtual address space. It is
// created on first use using the translator selected by the session's
// profile.
func (o *Session) KernelAddressSpace() (addrspace.AddressSpace, error) {
	if o.kernel != nil {
		return o.kernel, nil
	}

	name, err := ImplementationFor(o.options.Profile)
	if err != nil {
		return nil, err
	}

	dtb, err := o.KernelDTB()
	if err != nil {
		return nil, err
	}

	layerType, err := o.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	options := o.options
	options.OptDTB = &dtb
	options.OptKernelDTB = &dtb
	options.OptKernel = nil

	kernel, err := layerType.NewFn(o.physical, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel address space - %w", err)
	}

	o.kernel = kernel

	return kernel, nil
}

// NewVirtualAddressSpace creates a translator layer of the named type
// on top of the physical stack, using the specified page table root.
func (o *Session) NewVirtualAddressSpace(name string, dtb uint64) (addrspace.AddressSpace, error) {
	layerType, err := o.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	if !layerType.Flags.Has(addrspace.VirtualFlag) {
		return nil, &addrspace.LookupError{Kind: "virtual address space type", Name: name}
	}

	options := o.options
	options.OptDTB = &dtb

	// Prototype PTEs live in kernel memory. A process' address
	// space reads them through the kernel's.
	kernelDTB, err := o.KernelDTB()
	if err == nil {
		options.OptKernelDTB = &kernelDTB

		if dtb != kernelDTB && o.options.Profile != nil {
			kernel, err := o.KernelAddressSpace()
			if err == nil {
				options.OptKernel = kernel
			}
		}
	}

	as, err := layerType.NewFn(o.physical, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s address space at dtb 0x%x - %w", name, dtb, err)
	}

	return as, nil
}

// ResolveAddressSpace returns the address space that name refers to:
//
//	K, Kernel           the kernel's address space
//	P, Physical         the physical stack
//	<layer>@<dtb>       a translator of the named type at a
//	                    page table root, e.g. amd64@0x187000
//	pid@<pid>           a process' address space
//
// A *addrspace.LookupError is returned for any other name, and for
// processes that do not exist.
func (o *Session) ResolveAddressSpace(name string) (addrspace.AddressSpace, error) {
	switch name {
	case "K", "Kernel":
		return o.KernelAddressSpace()
	case "P", "Physical":
		return o.physical, nil
	}

	matches := layerAtPattern.FindStringSubmatch(name)
	if matches == nil {
		return nil, &addrspace.LookupError{
			Kind: "address space",
			Name: name,
		}
	}

	if matches[1] == "pid" {
		return o.processAddressSpace(matches[2])
	}

	dtb, err := strconv.ParseUint(matches[2], 0, 64)
	if err != nil {
		return nil, &addrspace.LookupError{
			Kind: "address space",
			Name: name,
		}
	}

	return o.NewVirtualAddressSpace(matches[1], dtb)
}

func (o *Session) processAddressSpace(pidStr string) (addrspace.AddressSpace, error) {
	pid, err := strconv.ParseUint(pidStr, 10, 64)
	if err != nil {
		return nil, &addrspace.LookupError{
			Kind: "process",
			Name: "pid@" + pidStr,
		}
	}

	if o.finder == nil {
		return nil, &addrspace.LookupError{
			Kind: "process",
			Name: "pid@" + pidStr,
		}
	}

	proc, err := o.finder.FindProcess(pid)
	if err != nil {
		return nil, err
	}

	name, err := ImplementationFor(o.options.Profile)
	if err != nil {
		return nil, err
	}

	return o.NewVirtualAddressSpace(name, proc.DTB)
}

// Close closes the physical stack.
func (o *Session) Close() error {
	return Close(o.physical)
}
