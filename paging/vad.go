package paging

// VADRange is a virtual memory region described by the operating
// system, as needed to resolve prototype page table entries.
type VADRange struct {
	// Start is the first address of the region.
	Start uint64

	// End is the exclusive end of the region.
	End uint64

	// FirstPrototypePTE is the kernel virtual address of the
	// region's array of prototype PTEs. It is only meaningful
	// when HasPrototypes is true.
	FirstPrototypePTE uint64

	HasPrototypes bool
}

// VADProvider supplies the virtual regions of the process that owns
// a page table root.
//
// Implementations may translate addresses through the translator
// that is asking. The translator guards against the resulting
// re-entrant calls.
type VADProvider interface {
	RangesFor(dtb uint64) ([]VADRange, error)
}

// VADProviderFunc adapts a function to a VADProvider.
type VADProviderFunc func(dtb uint64) ([]VADRange, error)

func (o VADProviderFunc) RangesFor(dtb uint64) ([]VADRange, error) {
	return o(dtb)
}
