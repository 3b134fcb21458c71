// Package asmkit disassembles x86 instructions, including instructions
// read from an address space at a virtual address.
package asmkit

import (
	"errors"
	"fmt"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/paging"
	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

// BadInstruction is the disassembly of bytes that do not decode.
const BadInstruction = "(bad)"

// ErrNoOpcode is returned by Disassembler.Next when the bytes
// only contain instruction prefixes.
var ErrNoOpcode = errors.New("no opcode following prefixes")

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax DisassemblySyntax

	// Bits is the processor mode: 16, 32 or 64.
	Bits int
}

// BitsFor returns the processor mode that code in an address space
// using the specified paging architecture runs in.
func BitsFor(arch *paging.Arch) int {
	if arch.VirtualBits > 32 {
		return 64
	}

	return 32
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch config.Bits {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", config.Bits)
	}

	var disassemblyFn func(inst x86asm.Inst, pc uint64) string
	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case ATTSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GNUSyntax(inst, pc, nil)
		}
	case GoSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GoSyntax(inst, pc, nil)
		}
	case IntelSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.IntelSyntax(inst, pc, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
	}

	return &Disassembler{
		bits:          config.Bits,
		disassemblyFn: disassemblyFn,
	}, nil
}

// Disassembler decodes x86 instructions.
type Disassembler struct {
	bits          int
	disassemblyFn func(inst x86asm.Inst, pc uint64) string
}

// Next decodes the first instruction in rawInstructions, which are
// located at address.
func (o *Disassembler) Next(rawInstructions []byte, address uint64) (Inst, error) {
	x86Inst, err := x86asm.Decode(rawInstructions, o.bits)
	if err != nil {
		return Inst{}, err
	}

	// Prefixes without an opcode decode as an instruction
	// with no operation.
	if x86Inst.Op == 0 {
		return Inst{}, fmt.Errorf("truncated instruction at 0x%x - %w", address, ErrNoOpcode)
	}

	var disassembly string
	if o.disassemblyFn != nil {
		disassembly = o.disassemblyFn(x86Inst, address)
	}

	return Inst{
		Address: address,
		Bin:     copySlice(rawInstructions, x86Inst.Len),
		Len:     x86Inst.Len,
		Dis:     disassembly,
		Inst:    x86Inst,
	}, nil
}

// All decodes rawInstructions, which are located at address, calling
// onDecodeFn for each instruction. Bytes that do not decode produce
// a one byte BadInstruction.
//
// onDecodeFn may return addrspace.ErrStop to stop decoding, in which
// case All returns nil.
func (o *Disassembler) All(rawInstructions []byte, address uint64, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.Next(rawInstructions[index:], address+uint64(index))
		if err != nil {
			inst = Inst{
				Address: address + uint64(index),
				Bin:     copySlice(rawInstructions[index:], 1),
				Len:     1,
				Dis:     BadInstruction,
				Bad:     true,
			}
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			if errors.Is(err, addrspace.ErrStop) {
				return nil
			}

			return fmt.Errorf("on decode function failed for instruction at 0x%x (%q) - %w",
				inst.Address, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// AddressSpace reads length bytes from as at address and decodes them.
// Unmapped memory reads as zeros, which decodes as "add [eax], al".
// Use addrspace.AddressSpace.Translate to check the address first.
func (o *Disassembler) AddressSpace(as addrspace.AddressSpace, address uint64, length int, onDecodeFn func(Inst) error) error {
	raw, err := as.Read(address, length)
	if err != nil {
		return fmt.Errorf("failed to read 0x%x bytes at 0x%x from %s - %w",
			length, address, as.Name(), err)
	}

	return o.All(raw, address, onDecodeFn)
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Inst struct {
	// Address is the virtual address of the instruction.
	Address uint64

	Bin   []byte
	Len   int
	Index int
	Dis   string

	// Bad is true if the bytes did not decode.
	Bad bool

	Inst x86asm.Inst
}
