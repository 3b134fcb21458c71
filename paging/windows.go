package paging

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/profile"
	"gitlab.com/stephen-fox/vtop/ranges"
)

// WindowsTranslatorConfig configures a WindowsTranslator.
type WindowsTranslatorConfig struct {
	// Arch is the paging architecture.
	Arch *Arch

	// DTB is the page table root.
	DTB uint64

	// Profile supplies the page table entry bit fields. It is
	// ignored when OptMasks is set.
	Profile *profile.Profile

	// OptMasks overrides the bit fields found in Profile.
	OptMasks *Masks

	// OptPagefileOffset is the offset at which the pagefile is
	// mapped into the physical address space. When nil, the
	// physical stack is searched for an addrspace.PagefileMapper.
	OptPagefileOffset *uint64

	// OptVADProvider supplies VAD ranges. Without it, entries
	// that require the VAD resolve as demand zero.
	OptVADProvider VADProvider

	// OptKernel is the address space used to read prototype
	// PTEs. When nil, the translator reads them through itself.
	OptKernel addrspace.AddressSpace

	// OptKernelDTB is the kernel's page table root. A translator
	// for the kernel's own DTB never consults the VAD.
	OptKernelDTB *uint64

	OptLogger *log.Logger
}

func (o WindowsTranslatorConfig) validate() error {
	if o.Arch == nil {
		return errors.New("paging architecture cannot be nil")
	}

	if o.Profile == nil && o.OptMasks == nil {
		return errors.New("a profile or page table entry masks must be specified")
	}

	return nil
}

// NewWindowsTranslator creates a translator that implements the
// Windows pager's interpretation of page table entries.
//
// The translator references phys but does not own it. Closing the
// translator does not close phys.
func NewWindowsTranslator(phys addrspace.AddressSpace, config WindowsTranslatorConfig) (*WindowsTranslator, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	name := "windows_" + config.Arch.Name

	if phys == nil {
		return nil, addrspace.Rejectf(name, "a physical address space is required")
	}

	var masks Masks
	if config.OptMasks != nil {
		masks = *config.OptMasks
	} else {
		masks, err = MasksFromProfile(config.Profile)
		if err != nil {
			return nil, fmt.Errorf("failed to get page table entry masks - %w", err)
		}
	}

	err = masks.validate()
	if err != nil {
		return nil, err
	}

	translator := &WindowsTranslator{
		walker: walker{
			arch:      config.Arch,
			phys:      phys,
			dtb:       config.DTB,
			validMask: masks.Valid,
			largeMask: masks.LargePage,
		},
		name:        name,
		masks:       masks,
		vadProvider: config.OptVADProvider,
		kernel:      config.OptKernel,
		tlb:         NewTLB(),
		logger:      config.OptLogger,
	}

	if config.OptPagefileOffset != nil {
		translator.pagefileOffset = *config.OptPagefileOffset
		translator.hasPagefile = true
	} else {
		translator.pagefileOffset, translator.hasPagefile = addrspace.FindPagefileOffset(phys)
	}

	translator.noVADs = config.OptVADProvider == nil ||
		(config.OptKernelDTB != nil && *config.OptKernelDTB == config.DTB)

	if translator.logger != nil {
		translator.logger.Printf("%s translator at dtb 0x%x (pagefile: %t, vads: %t)",
			name, config.DTB, translator.hasPagefile, !translator.noVADs)
	}

	return translator, nil
}

// WindowsTranslator is a paged address space that emulates both the
// MMU and the Windows pager.
type WindowsTranslator struct {
	walker
	name           string
	masks          Masks
	pagefileOffset uint64
	hasPagefile    bool
	vadProvider    VADProvider
	kernel         addrspace.AddressSpace
	noVADs         bool
	vads           *ranges.Collection[VADRange]
	resolvingVADs  bool

	// readingPrototype is set while a prototype PTE is read
	// through this translator.
	readingPrototype bool

	tlb    *TLB
	logger *log.Logger
}

func (o *WindowsTranslator) Name() string {
	return o.name
}

func (o *WindowsTranslator) Base() addrspace.AddressSpace {
	return o.phys
}

func (o *WindowsTranslator) Flags() addrspace.Flags {
	return addrspace.VirtualFlag | (o.phys.Flags() & addrspace.WritableFlag)
}

// DTB returns the page table root.
func (o *WindowsTranslator) DTB() uint64 {
	return o.dtb
}

// TLB returns the translation cache.
func (o *WindowsTranslator) TLB() *TLB {
	return o.tlb
}

// Close does nothing. The physical address space is owned by
// whoever created it.
func (o *WindowsTranslator) Close() error {
	return nil
}

func (o *WindowsTranslator) Read(offset uint64, length int) ([]byte, error) {
	return readVirtual(o.phys, o.Translate, offset, length)
}

func (o *WindowsTranslator) Write(offset uint64, data []byte) (int, error) {
	return writeVirtual(o.phys, o.Translate, offset, data)
}

// Translate returns the physical address of vaddr.
func (o *WindowsTranslator) Translate(vaddr uint64) (uint64, bool) {
	page := vaddr &^ PageMask
	physPage, hit := o.tlb.Get(page)
	if hit {
		return physPage + (vaddr & PageMask), true
	}

	paddr, ok := o.translate(vaddr)
	if !ok {
		return 0, false
	}

	o.tlb.Put(page, paddr-(vaddr&PageMask))

	return paddr, true
}

func (o *WindowsTranslator) translate(vaddr uint64) (uint64, bool) {
	result, err := o.walk(vaddr, false)
	if err != nil {
		if o.logger != nil {
			o.logger.Printf("failed to walk page tables for 0x%x - %s", vaddr, err)
		}
		return 0, false
	}

	switch result.end {
	case walkLarge:
		return o.largeAddr(vaddr, result.level, result.entry), true
	case walkInvalid:
		// A missing page table is equivalent to a table
		// full of zero PTEs.
		if o.resolvingVADs {
			return 0, false
		}

		return o.physFromPTE(vaddr, 0)
	default:
		return o.physFromPTE(vaddr, result.entry)
	}
}

// Classify performs the first stage of PTE resolution on a hardware
// PTE. The returned value differs from pte when the entry refers to
// a prototype PTE: it is then the value of the prototype PTE.
func (o *WindowsTranslator) Classify(pte uint64, vaddr uint64) (PTEState, uint64) {
	switch {
	case pte&o.masks.Valid != 0:
		return StateValid, pte
	case pte&o.masks.Prototype == 0 && pte&o.masks.Transition != 0:
		return StateTransition, pte
	case pte&o.masks.Prototype != 0 && o.masks.ProtoAddress.Value(pte) == o.masks.VADSentinel:
		return o.consultVAD(vaddr, pte)
	case pte&o.masks.Prototype != 0:
		// The prototype PTE lives in the kernel's address space
		// since it is allocated from pool.
		return StatePrototype, o.readKernelEntry(o.masks.ProtoAddress.Value(pte))
	case o.masks.PageFileHigh.Value(pte) == 0:
		return o.consultVAD(vaddr, pte)
	default:
		return StatePagefile, pte
	}
}

// ResolvePrototype performs the second stage of PTE resolution on the
// value of a prototype PTE.
func (o *WindowsTranslator) ResolvePrototype(pte uint64, vaddr uint64) (PTEState, uint64, bool) {
	switch {
	case pte&o.masks.Valid != 0:
		return StateValid, o.hardwareAddr(vaddr, pte), true
	case pte&(o.masks.Prototype|o.masks.Transition) == o.masks.Transition:
		return StateTransition, o.hardwareAddr(vaddr, pte|o.masks.Valid), true
	case pte&(o.masks.Prototype|o.masks.Subsection) != 0:
		// Refers to a file mapping.
		return StateSubsection, 0, false
	case o.masks.PageFileHigh.Value(pte) == 0:
		return StateDemandZero, 0, false
	default:
		paddr, ok := o.pagefileAddr(vaddr, pte)
		return StatePagefile, paddr, ok
	}
}

// physFromPTE resolves a hardware PTE to a physical address.
func (o *WindowsTranslator) physFromPTE(vaddr uint64, pte uint64) (uint64, bool) {
	state, value := o.Classify(pte, vaddr)

	switch state {
	case StateValid, StateTransition:
		return o.hardwareAddr(vaddr, value|o.masks.Valid), true
	case StatePrototype, StateVad:
		_, paddr, ok := o.ResolvePrototype(value, vaddr)
		return paddr, ok
	case StatePagefile:
		return o.pagefileAddr(vaddr, value)
	default:
		return 0, false
	}
}

func (o *WindowsTranslator) pagefileAddr(vaddr uint64, pte uint64) (uint64, bool) {
	if !o.hasPagefile {
		return 0, false
	}

	return o.masks.PageFileHigh.Value(pte)*PageSize + o.pagefileOffset + (vaddr & PageMask), true
}

func (o *WindowsTranslator) consultVAD(vaddr uint64, pte uint64) (PTEState, uint64) {
	vads := o.vadRanges()
	if vads == nil {
		return StateDemandZero, pte
	}

	r, hit := vads.Lookup(vaddr)
	if !hit || !r.Value.HasPrototypes {
		return StateDemandZero, pte
	}

	index := (vaddr - r.Value.Start) >> PageShift
	entryAddr := r.Value.FirstPrototypePTE + index*uint64(o.arch.EntrySize)

	return StateVad, o.readKernelEntry(entryAddr)
}

// readKernelEntry reads a PTE sized value from the kernel's address
// space. Unreadable memory reads as zero.
//
// Without a kernel address space the entry is read through this
// translator. A prototype found while doing so is not followed, since
// the image may map the prototype through itself.
func (o *WindowsTranslator) readKernelEntry(addr uint64) uint64 {
	var as addrspace.AddressSpace = o
	if o.kernel != nil {
		as = o.kernel
	} else {
		if o.readingPrototype {
			if o.logger != nil {
				o.logger.Printf("not following nested prototype pte at 0x%x", addr)
			}
			return 0
		}

		o.readingPrototype = true
		defer func() {
			o.readingPrototype = false
		}()
	}

	raw, err := as.Read(addr, o.arch.EntrySize)
	if err != nil {
		if o.logger != nil {
			o.logger.Printf("failed to read prototype pte at 0x%x - %s", addr, err)
		}
		return 0
	}

	return o.decode(raw)
}

// vadRanges returns the cached VAD ranges, populating the cache on
// first use. It returns nil when VADs are not available, including
// while the cache is being populated.
func (o *WindowsTranslator) vadRanges() *ranges.Collection[VADRange] {
	if o.noVADs {
		return nil
	}

	if o.vads != nil {
		return o.vads
	}

	// The provider may translate addresses through this
	// translator. Those translations must not recurse into
	// the provider.
	if o.resolvingVADs {
		return nil
	}

	o.resolvingVADs = true
	defer func() {
		o.resolvingVADs = false
	}()

	vads := &ranges.Collection[VADRange]{}

	list, err := o.vadProvider.RangesFor(o.dtb)
	if err != nil {
		if o.logger != nil {
			o.logger.Printf("failed to get vads for dtb 0x%x - %s", o.dtb, err)
		}
		o.vads = vads
		return vads
	}

	for _, vad := range list {
		if vad.End <= vad.Start {
			continue
		}

		_ = vads.Insert(vad.Start, vad.End, vad)
	}

	if o.logger != nil {
		o.logger.Printf("cached %d vads for dtb 0x%x", vads.Len(), o.dtb)
	}

	o.vads = vads

	return vads
}

// Ranges enumerates the mapped pages in ascending order. Each page
// table is read in one operation. Zero PTEs outside of every VAD are
// skipped without evaluating them.
func (o *WindowsTranslator) Ranges(start uint64, fn func(addrspace.Run) error) error {
	e := &emitter{arch: o.arch, rawStart: o.arch.Raw(start), fn: fn}

	var vadList []ranges.Range[VADRange]
	if vads := o.vadRanges(); vads != nil {
		vadList = vads.All()
	}

	cursor := &vadCursor{vads: vadList}

	err := o.enumerate(e.rawStart, tableVisitor{
		large: func(vaddr uint64, level Level, entry uint64) error {
			return e.emit(vaddr, o.largeAddr(vaddr, level, entry), level.Span())
		},
		leaves: func(vbase uint64, table []uint64) error {
			for i, pte := range table {
				rawVaddr := vbase | uint64(i)<<PageShift
				if rawVaddr+PageSize <= e.rawStart {
					continue
				}

				vaddr := o.arch.Canonical(rawVaddr)
				if pte == 0 && !cursor.covers(vaddr) {
					continue
				}

				paddr, ok := o.physFromPTE(vaddr, pte)
				if !ok {
					continue
				}

				err := e.emit(rawVaddr, paddr, PageSize)
				if err != nil {
					return err
				}
			}
			return nil
		},
		hole: func(rawVaddr uint64, span uint64) error {
			if o.resolvingVADs {
				return nil
			}

			lo := o.arch.Canonical(rawVaddr)
			hi := lo + (span - 1)

			for _, vad := range vadList {
				if vad.End <= lo || vad.Start > hi {
					continue
				}

				from := vad.Start
				if from < lo {
					from = lo
				}
				from &^= PageMask

				to := vad.End - 1
				if to > hi {
					to = hi
				}

				for page := from; page <= to && page >= from; page += PageSize {
					paddr, ok := o.physFromPTE(page, 0)
					if !ok {
						continue
					}

					err := e.emit(o.arch.Raw(page), paddr, PageSize)
					if err != nil {
						return err
					}
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

// Describe returns the entries read while translating vaddr, and the
// state of the final PTE.
func (o *WindowsTranslator) Describe(vaddr uint64) (Description, error) {
	result, err := o.walk(vaddr, true)
	if err != nil {
		return Description{}, err
	}

	desc := Description{
		VirtualAddress: vaddr,
		DTB:            o.dtb,
		Steps:          result.steps,
	}

	pte := result.entry
	switch result.end {
	case walkLarge:
		desc.State = "large page"
		desc.Physical = o.largeAddr(vaddr, result.level, result.entry)
		desc.Mapped = true
		return desc, nil
	case walkInvalid:
		if o.resolvingVADs {
			desc.State = "invalid " + result.level.Name
			return desc, nil
		}
		pte = 0
	}

	state, value := o.Classify(pte, vaddr)
	desc.State = state.String()

	switch state {
	case StateValid, StateTransition:
		desc.Physical = o.hardwareAddr(vaddr, value|o.masks.Valid)
		desc.Mapped = true
	case StatePrototype, StateVad:
		desc.Steps = append(desc.Steps, Step{
			Name:  "Prototype PTE",
			Value: value,
		})

		var resolved PTEState
		resolved, desc.Physical, desc.Mapped = o.ResolvePrototype(value, vaddr)
		desc.State += " -> " + resolved.String()
	case StatePagefile:
		desc.Physical, desc.Mapped = o.pagefileAddr(vaddr, value)
	}

	return desc, nil
}

// vadCursor answers "is this address inside a VAD" for ascending
// addresses, discarding VADs that end before the current address.
type vadCursor struct {
	vads []ranges.Range[VADRange]
	i    int
}

func (o *vadCursor) covers(vaddr uint64) bool {
	for o.i < len(o.vads) && o.vads[o.i].End <= vaddr {
		o.i++
	}

	return o.i < len(o.vads) && o.vads[o.i].Start <= vaddr
}
