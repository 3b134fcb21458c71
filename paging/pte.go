package paging

import (
	"fmt"

	"gitlab.com/stephen-fox/vtop/profile"
)

// PTEState is the state of a page table entry as interpreted by the
// Windows pager.
type PTEState int

const (
	// StateValid is a hardware-valid entry.
	StateValid PTEState = iota

	// StateTransition is a page that is still in memory, but
	// that has been removed from the working set.
	StateTransition

	// StatePrototype is an entry that points at a prototype PTE.
	// The value is that of the prototype PTE.
	StatePrototype

	// StateVad is a prototype PTE found through the VAD. The
	// value is that of the prototype PTE.
	StateVad

	// StateSubsection is a prototype PTE that refers to a file
	// mapping. It cannot be resolved without the filesystem.
	StateSubsection

	// StatePagefile is a page that was paged out. The value
	// carries the pagefile offset.
	StatePagefile

	// StateDemandZero is a page that will be zero filled when
	// first touched.
	StateDemandZero
)

func (o PTEState) String() string {
	switch o {
	case StateValid:
		return "Valid"
	case StateTransition:
		return "Transition"
	case StatePrototype:
		return "Prototype"
	case StateVad:
		return "Vad"
	case StateSubsection:
		return "Subsection"
	case StatePagefile:
		return "Pagefile"
	case StateDemandZero:
		return "DemandZero"
	default:
		return fmt.Sprintf("PTEState(%d)", int(o))
	}
}

// Masks holds the page table entry bit fields used by the Windows
// pager.
type Masks struct {
	Valid      uint64
	LargePage  uint64
	Transition uint64
	Prototype  uint64
	Subsection uint64

	ProtoAddress profile.BitField
	PageFileHigh profile.BitField

	// VADSentinel is the ProtoAddress value that means "look
	// in the VAD".
	VADSentinel uint64
}

// MasksFromProfile captures the bit fields from a profile.
func MasksFromProfile(p *profile.Profile) (Masks, error) {
	fields := make(map[string]profile.BitField)
	for _, name := range []string{
		profile.FieldValid,
		profile.FieldLargePage,
		profile.FieldTransition,
		profile.FieldPrototype,
		profile.FieldSubsection,
		profile.FieldProtoAddress,
		profile.FieldPageFileHigh,
	} {
		field, err := p.Field(name)
		if err != nil {
			return Masks{}, err
		}

		fields[name] = field
	}

	return Masks{
		Valid:        fields[profile.FieldValid].Mask(),
		LargePage:    fields[profile.FieldLargePage].Mask(),
		Transition:   fields[profile.FieldTransition].Mask(),
		Prototype:    fields[profile.FieldPrototype].Mask(),
		Subsection:   fields[profile.FieldSubsection].Mask(),
		ProtoAddress: fields[profile.FieldProtoAddress],
		PageFileHigh: fields[profile.FieldPageFileHigh],
		VADSentinel:  p.PTE.VADSentinel,
	}, nil
}

func (o Masks) validate() error {
	if o.Valid == 0 {
		return fmt.Errorf("valid mask cannot be zero")
	}

	if o.Prototype == 0 || o.Transition == 0 {
		return fmt.Errorf("prototype and transition masks cannot be zero")
	}

	if o.ProtoAddress.Mask() == 0 || o.PageFileHigh.Mask() == 0 {
		return fmt.Errorf("proto address and page file high fields cannot be empty")
	}

	return nil
}
