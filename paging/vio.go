package paging

import (
	"fmt"

	"gitlab.com/stephen-fox/vtop/addrspace"
)

// readVirtual reads from phys one page at a time, using translate to
// map each page. Unmapped pages read as zeros.
func readVirtual(phys addrspace.AddressSpace, translate func(uint64) (uint64, bool), offset uint64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	out := make([]byte, length)

	pos := 0
	for pos < length {
		vaddr := offset + uint64(pos)

		n := PageSize - int(vaddr&PageMask)
		if n > length-pos {
			n = length - pos
		}

		paddr, ok := translate(vaddr)
		if ok {
			data, err := phys.Read(paddr, n)
			if err != nil {
				return nil, fmt.Errorf("failed to read physical address 0x%x for 0x%x - %w",
					paddr, vaddr, err)
			}

			copy(out[pos:pos+n], data)
		}

		pos += n
	}

	return out, nil
}

// writeVirtual writes to phys one page at a time. Pages that do not
// translate are skipped.
func writeVirtual(phys addrspace.AddressSpace, translate func(uint64) (uint64, bool), offset uint64, data []byte) (int, error) {
	written := 0

	pos := 0
	for pos < len(data) {
		vaddr := offset + uint64(pos)

		n := PageSize - int(vaddr&PageMask)
		if n > len(data)-pos {
			n = len(data) - pos
		}

		paddr, ok := translate(vaddr)
		if ok {
			w, err := phys.Write(paddr, data[pos:pos+n])
			written += w
			if err != nil {
				return written, fmt.Errorf("failed to write physical address 0x%x for 0x%x - %w",
					paddr, vaddr, err)
			}
		}

		pos += n
	}

	return written, nil
}
