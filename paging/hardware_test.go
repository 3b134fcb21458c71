package paging

import (
	"testing"

	"gitlab.com/stephen-fox/vtop/addrspace"
)

// amd64Memory maps:
//
//	0x200000-0x400000 -> 0x200000 (2 MB page)
//	0x40000000-0x80000000 -> 0x40000000 (1 GB page)
//	0xffffffffc0000000 -> 0x5000
func amd64Memory() *memory {
	mem := newMemory(0x8000)

	// Upper half.
	mem.put64(0x1000+511*8, 0x2000|1)
	mem.put64(0x2000+511*8, 0x3000|1)
	mem.put64(0x3000, 0x4000|1)
	mem.put64(0x4000, 0x5000|1)

	// Lower half.
	mem.put64(0x1000, 0x6000|1)
	mem.put64(0x6000, 0x7000|1)
	mem.put64(0x6000+8, 0x40000000|0x80|1)
	mem.put64(0x7000+8, 0x200000|0x80|1)

	return mem
}

func newAMD64Translator(t *testing.T, phys addrspace.AddressSpace) *HardwareTranslator {
	t.Helper()

	translator, err := NewHardwareTranslator(phys, TranslatorConfig{
		Arch:    AMD64,
		DTB:     0x1000,
		Profile: testProfile(),
	})
	if err != nil {
		t.Fatal(err)
	}

	return translator
}

func TestHardwareTranslator_AMD64(t *testing.T) {
	translator := newAMD64Translator(t, amd64Memory().layer(t))

	checkTranslate(t, translator, 0xffffffffc0000123, 0x5123, true)
	checkTranslate(t, translator, 0x212345, 0x212345, true)
	checkTranslate(t, translator, 0x40001234, 0x40001234, true)
	checkTranslate(t, translator, 0x1000, 0, false)
	checkTranslate(t, translator, 0xffffffffc0001000, 0, false)
}

func TestHardwareTranslator_Ranges(t *testing.T) {
	translator := newAMD64Translator(t, amd64Memory().layer(t))

	checkRuns(t, collectRuns(t, translator, 0), []addrspace.Run{
		{VirtualStart: 0x200000, PhysicalStart: 0x200000, Length: 0x200000},
		{VirtualStart: 0x40000000, PhysicalStart: 0x40000000, Length: 0x40000000},
		{VirtualStart: 0xffffffffc0000000, PhysicalStart: 0x5000, Length: 0x1000},
	})

	checkRuns(t, collectRuns(t, translator, 0x300000), []addrspace.Run{
		{VirtualStart: 0x300000, PhysicalStart: 0x300000, Length: 0x100000},
		{VirtualStart: 0x40000000, PhysicalStart: 0x40000000, Length: 0x40000000},
		{VirtualStart: 0xffffffffc0000000, PhysicalStart: 0x5000, Length: 0x1000},
	})

	checkRuns(t, collectRuns(t, translator, 0xffff800000000000), []addrspace.Run{
		{VirtualStart: 0xffffffffc0000000, PhysicalStart: 0x5000, Length: 0x1000},
	})
}

func TestHardwareTranslator_RangesStop(t *testing.T) {
	translator := newAMD64Translator(t, amd64Memory().layer(t))

	var runs int
	err := translator.Ranges(0, func(addrspace.Run) error {
		runs++
		return addrspace.ErrStop
	})
	if err != nil {
		t.Fatal(err)
	}

	if runs != 1 {
		t.Fatalf("expected 1 run before stopping - got %d", runs)
	}
}

func TestHardwareTranslator_ReadWrite(t *testing.T) {
	mem := amd64Memory()
	copy(mem.data[0x5ff0:], "0123456789abcdef")

	translator := newAMD64Translator(t, mem.layer(t))

	// Straddles the end of the mapped page.
	data, err := translator.Read(0xffffffffc0000ff8, 16)
	if err != nil {
		t.Fatal(err)
	}

	if string(data[:8]) != "89abcdef" {
		t.Fatalf("expected '89abcdef' - got '%s'", data[:8])
	}

	if string(data[8:]) != string(make([]byte, 8)) {
		t.Fatalf("expected unmapped page to read as zeros - got 0x%x", data[8:])
	}

	n, err := translator.Write(0xffffffffc0000ff8, []byte("ABCDEFGHIJKLMNOP"))
	if err != nil {
		t.Fatal(err)
	}

	if n != 8 {
		t.Fatalf("expected 8 bytes written - got %d", n)
	}

	if string(mem.data[0x5ff8:0x6000]) != "ABCDEFGH" {
		t.Fatalf("expected physical memory to be written - got '%s'", mem.data[0x5ff8:0x6000])
	}
}

func TestHardwareTranslator_Describe(t *testing.T) {
	translator := newAMD64Translator(t, amd64Memory().layer(t))

	desc, err := translator.Describe(0xffffffffc0000123)
	if err != nil {
		t.Fatal(err)
	}

	if len(desc.Steps) != 4 {
		t.Fatalf("expected 4 steps - got %d", len(desc.Steps))
	}

	if desc.Steps[0].Name != "PML4E" || desc.Steps[0].Addr != 0x1000+511*8 {
		t.Fatalf("unexpected first step: %+v", desc.Steps[0])
	}

	if !desc.Mapped || desc.Physical != 0x5123 {
		t.Fatalf("expected 0x5123 - got 0x%x (mapped: %t)", desc.Physical, desc.Mapped)
	}

	desc, err = translator.Describe(0x1000)
	if err != nil {
		t.Fatal(err)
	}

	if desc.Mapped {
		t.Fatalf("expected 0x1000 to be unmapped")
	}

	if desc.State != "invalid PDE" {
		t.Fatalf("expected state 'invalid PDE' - got '%s'", desc.State)
	}
}

func TestHardwareTranslator_NoPhysical(t *testing.T) {
	_, err := NewHardwareTranslator(nil, TranslatorConfig{
		Arch:    AMD64,
		Profile: testProfile(),
	})
	if !addrspace.IsRejected(err) {
		t.Fatalf("expected rejection - got %v", err)
	}
}

func TestArch_Canonical(t *testing.T) {
	if v := AMD64.Canonical(0xffffc0000000); v != 0xffffffffc0000000 {
		t.Fatalf("expected 0xffffffffc0000000 - got 0x%x", v)
	}

	if v := AMD64.Canonical(0x7fffc0000000); v != 0x7fffc0000000 {
		t.Fatalf("expected lower half address to be unchanged - got 0x%x", v)
	}

	if v := AMD64.Raw(0xffffffffc0000000); v != 0xffffc0000000 {
		t.Fatalf("expected 0xffffc0000000 - got 0x%x", v)
	}

	if v := IA32.Canonical(0x80000000); v != 0x80000000 {
		t.Fatalf("expected ia32 address to be unchanged - got 0x%x", v)
	}
}

func TestArchFor(t *testing.T) {
	for _, c := range []struct {
		arch string
		pae  bool
		exp  *Arch
	}{
		{"AMD64", false, AMD64},
		{"I386", true, PAE},
		{"I386", false, IA32},
	} {
		arch, err := ArchFor(c.arch, c.pae)
		if err != nil {
			t.Fatal(err)
		}

		if arch != c.exp {
			t.Fatalf("%s (pae: %t): expected %s - got %s", c.arch, c.pae, c.exp.Name, arch.Name)
		}
	}

	_, err := ArchFor("ARM", false)
	if err == nil {
		t.Fatalf("expected an error for an unsupported architecture")
	}
}
