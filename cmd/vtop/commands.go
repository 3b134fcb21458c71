package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/asmkit"
	"gitlab.com/stephen-fox/vtop/conv"
	"gitlab.com/stephen-fox/vtop/paging"
	"gitlab.com/stephen-fox/vtop/stack"
)

const (
	dumpChunkSize = 1 << 20

	defaultDisLength = 64
)

func layers(options stack.Options, spec string) error {
	builder := stack.NewBuilder(stack.DefaultRegistry(), options)

	var as addrspace.AddressSpace
	var err error
	if spec == "" {
		as, err = builder.Guess()
	} else {
		as, err = builder.FromSpec(spec)
	}

	for _, rejection := range builder.Rejections() {
		fmt.Printf("rejected: %s\n", rejection)
	}

	if err != nil {
		return err
	}

	if as == nil {
		return stack.ErrNoLayers
	}
	defer stack.Close(as)

	fmt.Printf("stack: %s\n", addrspace.Describe(as))
	fmt.Printf("spec:  %s\n", addrspace.Spec(as))

	if dtb, hasDTB := addrspace.FindDTBHint(as); hasDTB {
		fmt.Printf("dtb:   0x%x\n", dtb)
	}

	if offset, hasPagefile := addrspace.FindPagefileOffset(as); hasPagefile {
		fmt.Printf("pagefile offset: 0x%x\n", offset)
	}

	return nil
}

type describer interface {
	Describe(vaddr uint64) (paging.Description, error)
}

func vtop(as addrspace.AddressSpace, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: " + vtopCommand + " ADDRESS")
	}

	vaddr, err := conv.ParseAddress(args[0])
	if err != nil {
		return err
	}

	d, ok := as.(describer)
	if !ok {
		paddr, mapped := as.Translate(vaddr)
		if !mapped {
			return fmt.Errorf("0x%x is not mapped in %s", vaddr, as.Name())
		}

		fmt.Printf("0x%x -> 0x%x\n", vaddr, paddr)
		return nil
	}

	desc, err := d.Describe(vaddr)
	if err != nil {
		return err
	}

	fmt.Printf("virtual: 0x%x (dtb: 0x%x)\n", desc.VirtualAddress, desc.DTB)
	for _, step := range desc.Steps {
		fmt.Printf("  %-5s @ 0x%-12x = 0x%016x\n", step.Name, step.Addr, step.Value)
	}

	fmt.Printf("state: %s\n", desc.State)

	if desc.Mapped {
		fmt.Printf("physical: 0x%x\n", desc.Physical)
	}

	return nil
}

func ranges(as addrspace.AddressSpace, args []string) error {
	start, err := optionalAddress(args, 0)
	if err != nil {
		return err
	}

	return writeRanges(os.Stdout, as, start)
}

func writeRanges(w io.Writer, as addrspace.AddressSpace, start uint64) error {
	return as.Ranges(start, func(run addrspace.Run) error {
		_, err := fmt.Fprintf(w, "0x%016x-0x%016x -> 0x%x\n",
			run.VirtualStart, run.End(), run.PhysicalStart)
		return err
	})
}

func dump(as addrspace.AddressSpace, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: " + dumpCommand + " OUTPUT-FILE [START]")
	}

	start, err := optionalAddress(args, 1)
	if err != nil {
		return err
	}

	output, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output file - %w", err)
	}
	defer output.Close()

	result, err := dumpTo(output, as, start)
	if err != nil {
		return err
	}

	fmt.Printf("wrote 0x%x bytes to %s\n", result.written, args[0])

	if result.truncated {
		fmt.Fprintf(os.Stderr, "stopped at 0x%x - it is too far from start 0x%x to be "+
			"a file offset, specify a higher START to dump the rest\n",
			result.stoppedAt, start)
	}

	return nil
}

type dumpResult struct {
	written uint64

	// truncated is true if the dump stopped at stoppedAt because
	// the remaining memory does not fit in a file.
	truncated bool
	stoppedAt uint64
}

// dumpTo copies the mapped ranges of as at or above start to w. Memory
// at address A is written at offset A - start, so gaps between ranges
// are left as holes in the output.
func dumpTo(w io.WriterAt, as addrspace.AddressSpace, start uint64) (dumpResult, error) {
	var result dumpResult

	err := as.Ranges(start, func(run addrspace.Run) error {
		for pos := run.VirtualStart; pos < run.End(); {
			offset := pos - start
			if offset > math.MaxInt64 {
				result.truncated = true
				result.stoppedAt = pos
				return addrspace.ErrStop
			}

			n := run.End() - pos
			if n > dumpChunkSize {
				n = dumpChunkSize
			}

			data, err := as.Read(pos, int(n))
			if err != nil {
				return err
			}

			_, err = w.WriteAt(data, int64(offset))
			if err != nil {
				return fmt.Errorf("failed to write 0x%x to output - %w", pos, err)
			}

			result.written += n
			pos += n
		}

		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

func read(as addrspace.AddressSpace, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: " + readCommand + " ADDRESS LENGTH")
	}

	vaddr, err := conv.ParseAddress(args[0])
	if err != nil {
		return err
	}

	length, err := strconv.ParseUint(args[1], 0, 31)
	if err != nil {
		return fmt.Errorf("failed to parse length - %w", err)
	}

	data, err := as.Read(vaddr, int(length))
	if err != nil {
		return err
	}

	fmt.Print(hex.Dump(data))

	return nil
}

func write(as addrspace.AddressSpace, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: " + writeCommand + " ADDRESS < HEX-DATA")
	}

	vaddr, err := conv.ParseAddress(args[0])
	if err != nil {
		return err
	}

	data, err := conv.HexToBytes(os.Stdin)
	if err != nil {
		return err
	}

	n, err := as.Write(vaddr, data)
	if err != nil {
		return err
	}

	if n < len(data) {
		return fmt.Errorf("only wrote %d of %d bytes (unmapped memory was skipped)", n, len(data))
	}

	fmt.Printf("wrote %d bytes to 0x%x\n", n, vaddr)

	return nil
}

type archLayer interface {
	Arch() *paging.Arch
}

func dis(as addrspace.AddressSpace, args []string, syntax string, format string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: " + disCommand + " ADDRESS [LENGTH]")
	}

	vaddr, err := conv.ParseAddress(args[0])
	if err != nil {
		return err
	}

	length := uint64(defaultDisLength)
	if len(args) == 2 {
		length, err = strconv.ParseUint(args[1], 0, 31)
		if err != nil {
			return fmt.Errorf("failed to parse length - %w", err)
		}
	}

	bits := 64
	if withArch, ok := as.(archLayer); ok {
		bits = asmkit.BitsFor(withArch.Arch())
	}

	disass, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax: asmkit.DisassemblySyntax(syntax),
		Bits:   bits,
	})
	if err != nil {
		return err
	}

	writer, err := newInstWriter(format, os.Stdout)
	if err != nil {
		return err
	}

	err = disass.AddressSpace(as, vaddr, int(length), writer.Write)
	if err != nil {
		return err
	}

	return writer.Flush()
}

func optionalAddress(args []string, index int) (uint64, error) {
	if len(args) <= index {
		return 0, nil
	}

	return conv.ParseAddress(args[index])
}
