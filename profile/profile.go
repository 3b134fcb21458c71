// Package profile describes the operating system and architecture
// specific layout of page table entries.
//
// Profiles are YAML documents. They carry the metadata that selects
// a paging implementation (architecture, operating system, PAE) and
// the bit fields of the page table entry union, so that translators
// never need to hardcode bit positions.
package profile

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	ArchAMD64 = "AMD64"
	ArchI386  = "I386"

	OSWindows = "windows"
)

// Names of page table entry fields.
const (
	FieldValid        = "Hard.Valid"
	FieldLargePage    = "Hard.LargePage"
	FieldPrototype    = "Proto.Prototype"
	FieldProtoAddress = "Proto.ProtoAddress"
	FieldTransition   = "Trans.Transition"
	FieldSubsection   = "Subsect.Subsection"
	FieldPageFileHigh = "Soft.PageFileHigh"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Profile describes an operating system version on an architecture.
type Profile struct {
	Name     string    `yaml:"name"`
	Metadata Metadata  `yaml:"metadata"`
	PTE      PTELayout `yaml:"pte"`
}

// Metadata selects the paging implementation.
type Metadata struct {
	Arch string `yaml:"arch"`
	OS   string `yaml:"os"`
	PAE  bool   `yaml:"pae"`
}

// PTELayout describes the members of the page table entry union.
type PTELayout struct {
	// Fields maps "<member>.<field>" names, such as
	// "Proto.ProtoAddress", to their bit positions.
	Fields map[string]BitField `yaml:"fields"`

	// VADSentinel is the value of the ProtoAddress field that
	// marks a prototype PTE whose real location must be looked
	// up in the process' virtual address descriptors.
	VADSentinel uint64 `yaml:"vad_sentinel"`
}

// BitField is the half-open bit range [StartBit, EndBit).
type BitField struct {
	StartBit uint `yaml:"start_bit"`
	EndBit   uint `yaml:"end_bit"`
}

// Mask returns the field's mask, in place.
func (o BitField) Mask() uint64 {
	width := o.EndBit - o.StartBit
	if width >= 64 {
		return ^uint64(0)
	}

	return ((uint64(1) << width) - 1) << o.StartBit
}

// Value extracts the field from v.
func (o BitField) Value(v uint64) uint64 {
	return (v & o.Mask()) >> o.StartBit
}

func (o BitField) validate() error {
	if o.EndBit <= o.StartBit {
		return fmt.Errorf("end bit %d must be greater than start bit %d", o.EndBit, o.StartBit)
	}

	if o.EndBit > 64 {
		return fmt.Errorf("end bit %d exceeds 64", o.EndBit)
	}

	return nil
}

// Field returns the named page table entry field.
func (o *Profile) Field(name string) (BitField, error) {
	field, hasIt := o.PTE.Fields[name]
	if !hasIt {
		return BitField{}, fmt.Errorf("profile %q has no page table entry field %q", o.Name, name)
	}

	return field, nil
}

// IsWindows returns true if the profile describes a Windows system.
func (o *Profile) IsWindows() bool {
	return strings.EqualFold(o.Metadata.OS, OSWindows)
}

func (o *Profile) validate() error {
	if o.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	switch o.Metadata.Arch {
	case ArchAMD64, ArchI386:
	default:
		return fmt.Errorf("unsupported architecture: %q", o.Metadata.Arch)
	}

	for name, field := range o.PTE.Fields {
		err := field.validate()
		if err != nil {
			return fmt.Errorf("field %q is invalid - %w", name, err)
		}
	}

	return nil
}

// Load decodes a YAML profile.
func Load(r io.Reader) (*Profile, error) {
	var p Profile

	err := yaml.NewDecoder(r).Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to decode profile - %w", err)
	}

	err = p.validate()
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// LoadFile decodes the YAML profile at filePath.
func LoadFile(filePath string) (*Profile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q - %w", filePath, err)
	}

	return p, nil
}

// Builtin returns one of the profiles that ship with this package.
func Builtin(name string) (*Profile, error) {
	f, err := builtinFS.Open(path.Join("builtin", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown builtin profile %q (available: %s)",
			name, strings.Join(BuiltinNames(), ", "))
	}
	defer f.Close()

	return Load(f)
}

// BuiltinNames returns the names of the builtin profiles.
func BuiltinNames() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}

	sort.Strings(names)

	return names
}

// Find returns a builtin profile if name matches one, and otherwise
// treats name as the path of a profile file.
func Find(name string) (*Profile, error) {
	for _, builtin := range BuiltinNames() {
		if builtin == name {
			return Builtin(name)
		}
	}

	return LoadFile(name)
}
