package paging

// TLB caches the physical page of each translated virtual page.
//
// A TLB belongs to one translator, and therefore to one page table
// root. It has no eviction policy and is never invalidated. A new
// translator (with a new TLB) is created for every page table root.
type TLB struct {
	entries map[uint64]uint64
	hits    uint64
	misses  uint64
}

// NewTLB creates an empty TLB.
func NewTLB() *TLB {
	return &TLB{
		entries: make(map[uint64]uint64),
	}
}

// Get returns the physical address that the virtual page maps to.
func (o *TLB) Get(page uint64) (uint64, bool) {
	phys, hit := o.entries[page]
	if hit {
		o.hits++
	} else {
		o.misses++
	}
	return phys, hit
}

// Put caches the physical address for a virtual page.
func (o *TLB) Put(page uint64, phys uint64) {
	o.entries[page] = phys
}

// Len returns the number of cached pages.
func (o *TLB) Len() int {
	return len(o.entries)
}

// Stats returns the number of lookups that hit and missed.
func (o *TLB) Stats() (hits uint64, misses uint64) {
	return o.hits, o.misses
}
