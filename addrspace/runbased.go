package addrspace

import (
	"errors"
	"fmt"
	"io"

	"gitlab.com/stephen-fox/vtop/ranges"
)

// RunBased implements reading, writing, translation and range
// enumeration for layers that are described by a list of runs.
// Each run maps a range of the layer's addresses to an offset in
// the backing storage.
//
// Concrete layers embed it and supply the backing storage.
type RunBased struct {
	// Runs maps layer addresses to backing offsets.
	Runs ranges.Collection[Run]

	// Backing is read for addresses inside a run.
	Backing io.ReaderAt

	// OptWriter, when non-nil, receives writes that fall
	// inside a run. When nil, the layer is read-only.
	OptWriter io.WriterAt
}

// AddRun adds a run to the layer.
func (o *RunBased) AddRun(run Run) error {
	err := o.Runs.Insert(run.VirtualStart, run.End(), run)
	if err != nil {
		return fmt.Errorf("failed to add run %s - %w", run, err)
	}

	return nil
}

// Read implements AddressSpace.Read.
func (o *RunBased) Read(offset uint64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	out := make([]byte, length)

	err := o.chunks(offset, uint64(length), func(pos uint64, n uint64, backing uint64, mapped bool) error {
		if !mapped {
			// Already zero.
			return nil
		}

		start := pos - offset
		_, err := o.Backing.ReadAt(out[start:start+n], int64(backing))
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read 0x%x bytes at backing offset 0x%x - %w",
				n, backing, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Write implements AddressSpace.Write.
func (o *RunBased) Write(offset uint64, data []byte) (int, error) {
	if o.OptWriter == nil || len(data) == 0 {
		return 0, nil
	}

	written := 0

	err := o.chunks(offset, uint64(len(data)), func(pos uint64, n uint64, backing uint64, mapped bool) error {
		if !mapped {
			return nil
		}

		start := pos - offset
		w, err := o.OptWriter.WriteAt(data[start:start+n], int64(backing))
		written += w
		if err != nil {
			return fmt.Errorf("failed to write 0x%x bytes at backing offset 0x%x - %w",
				n, backing, err)
		}

		return nil
	})

	return written, err
}

// Translate implements AddressSpace.Translate.
func (o *RunBased) Translate(addr uint64) (uint64, bool) {
	r, hit := o.Runs.Lookup(addr)
	if !hit {
		return 0, false
	}

	return r.Value.PhysicalStart + (addr - r.Value.VirtualStart), true
}

// Ranges implements AddressSpace.Ranges.
func (o *RunBased) Ranges(start uint64, fn func(Run) error) error {
	var err error

	o.Runs.Ranges(start, func(r ranges.Range[Run]) bool {
		from := r.Start
		if start > from {
			from = start
		}

		err = fn(Run{
			VirtualStart:  from,
			PhysicalStart: r.Value.PhysicalStart + (from - r.Value.VirtualStart),
			Length:        r.End - from,
		})

		return err == nil
	})

	if errors.Is(err, ErrStop) {
		return nil
	}

	return err
}

// chunks splits [offset, offset+length) into pieces that are either
// entirely inside a run or entirely outside of every run.
func (o *RunBased) chunks(offset uint64, length uint64, fn func(pos uint64, n uint64, backing uint64, mapped bool) error) error {
	end := offset + length
	if end < offset {
		// Clamp at the top of the address range.
		end = ^uint64(0)
	}

	pos := offset
	for pos < end {
		r, hit := o.Runs.Next(pos)
		if !hit || r.Start >= end {
			return fn(pos, end-pos, 0, false)
		}

		if r.Start > pos {
			err := fn(pos, r.Start-pos, 0, false)
			if err != nil {
				return err
			}
			pos = r.Start
		}

		n := r.End - pos
		if end-pos < n {
			n = end - pos
		}

		err := fn(pos, n, r.Value.PhysicalStart+(pos-r.Value.VirtualStart), true)
		if err != nil {
			return err
		}

		pos += n
	}

	return nil
}
