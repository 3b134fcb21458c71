package paging

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/profile"
)

// Names of the translator layer types.
const (
	IA32LayerName  = "ia32"
	PAELayerName   = "pae"
	AMD64LayerName = "amd64"

	WindowsIA32LayerName  = "windows_ia32"
	WindowsPAELayerName   = "windows_pae"
	WindowsAMD64LayerName = "windows_amd64"
)

// TranslatorConfig configures a HardwareTranslator.
type TranslatorConfig struct {
	// Arch is the paging architecture.
	Arch *Arch

	// DTB is the page table root.
	DTB uint64

	// Profile supplies the valid and large page bits.
	Profile *profile.Profile

	OptLogger *log.Logger
}

func (o TranslatorConfig) validate() error {
	if o.Arch == nil {
		return errors.New("paging architecture cannot be nil")
	}

	if o.Profile == nil {
		return errors.New("profile cannot be nil")
	}

	return nil
}

// NewHardwareTranslator creates a translator that only follows
// valid page table entries.
//
// The translator references phys but does not own it. Closing the
// translator does not close phys.
func NewHardwareTranslator(phys addrspace.AddressSpace, config TranslatorConfig) (*HardwareTranslator, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	name := config.Arch.Name

	if phys == nil {
		return nil, addrspace.Rejectf(name, "a physical address space is required")
	}

	w, err := newWalker(phys, config.Arch, config.DTB, config.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s page table walker - %w", name, err)
	}

	if config.OptLogger != nil {
		config.OptLogger.Printf("%s translator at dtb 0x%x", name, config.DTB)
	}

	return &HardwareTranslator{
		walker: w,
		name:   name,
		tlb:    NewTLB(),
	}, nil
}

func newWalker(phys addrspace.AddressSpace, arch *Arch, dtb uint64, p *profile.Profile) (walker, error) {
	valid, err := p.Field(profile.FieldValid)
	if err != nil {
		return walker{}, err
	}

	large, err := p.Field(profile.FieldLargePage)
	if err != nil {
		return walker{}, err
	}

	return walker{
		arch:      arch,
		phys:      phys,
		dtb:       dtb,
		validMask: valid.Mask(),
		largeMask: large.Mask(),
	}, nil
}

// HardwareTranslator emulates the MMU's page table walk.
type HardwareTranslator struct {
	walker
	name string
	tlb  *TLB
}

func (o *HardwareTranslator) Name() string {
	return o.name
}

func (o *HardwareTranslator) Base() addrspace.AddressSpace {
	return o.phys
}

func (o *HardwareTranslator) Flags() addrspace.Flags {
	return addrspace.VirtualFlag | (o.phys.Flags() & addrspace.WritableFlag)
}

// DTB returns the page table root.
func (o *HardwareTranslator) DTB() uint64 {
	return o.dtb
}

func (o *HardwareTranslator) Translate(vaddr uint64) (uint64, bool) {
	page := vaddr &^ PageMask
	physPage, hit := o.tlb.Get(page)
	if hit {
		return physPage + (vaddr & PageMask), true
	}

	result, err := o.walk(vaddr, false)
	if err != nil {
		return 0, false
	}

	var paddr uint64
	switch {
	case result.end == walkLarge:
		paddr = o.largeAddr(vaddr, result.level, result.entry)
	case result.end == walkLeaf && o.valid(result.entry):
		paddr = o.hardwareAddr(vaddr, result.entry)
	default:
		return 0, false
	}

	o.tlb.Put(page, paddr-(vaddr&PageMask))

	return paddr, true
}

func (o *HardwareTranslator) Read(offset uint64, length int) ([]byte, error) {
	return readVirtual(o.phys, o.Translate, offset, length)
}

func (o *HardwareTranslator) Write(offset uint64, data []byte) (int, error) {
	return writeVirtual(o.phys, o.Translate, offset, data)
}

func (o *HardwareTranslator) Ranges(start uint64, fn func(addrspace.Run) error) error {
	e := &emitter{arch: o.arch, rawStart: o.arch.Raw(start), fn: fn}

	err := o.enumerate(e.rawStart, tableVisitor{
		large: func(vaddr uint64, level Level, entry uint64) error {
			return e.emit(vaddr, o.largeAddr(vaddr, level, entry), level.Span())
		},
		leaves: func(vbase uint64, table []uint64) error {
			for i, pte := range table {
				if !o.valid(pte) {
					continue
				}

				vaddr := vbase | uint64(i)<<PageShift
				err := e.emit(vaddr, o.hardwareAddr(vaddr, pte), PageSize)
				if err != nil {
					return err
				}
			}
			return nil
		},
	})
	if errors.Is(err, addrspace.ErrStop) {
		return nil
	}

	return err
}

// Describe returns the entries read while translating vaddr.
func (o *HardwareTranslator) Describe(vaddr uint64) (Description, error) {
	result, err := o.walk(vaddr, true)
	if err != nil {
		return Description{}, err
	}

	desc := Description{
		VirtualAddress: vaddr,
		DTB:            o.dtb,
		Steps:          result.steps,
	}

	switch {
	case result.end == walkLarge:
		desc.State = "large page"
		desc.Physical = o.largeAddr(vaddr, result.level, result.entry)
		desc.Mapped = true
	case result.end == walkLeaf && o.valid(result.entry):
		desc.State = StateValid.String()
		desc.Physical = o.hardwareAddr(vaddr, result.entry)
		desc.Mapped = true
	default:
		desc.State = "invalid " + result.level.Name
	}

	return desc, nil
}

// Close does nothing. The physical address space is owned by
// whoever created it.
func (o *HardwareTranslator) Close() error {
	return nil
}

// Description explains how a virtual address was translated.
type Description struct {
	VirtualAddress uint64
	DTB            uint64
	Steps          []Step

	// State names the final state of the translation.
	State string

	Physical uint64
	Mapped   bool
}
