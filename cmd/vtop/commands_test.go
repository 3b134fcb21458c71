package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/stephen-fox/vtop/addrspace"
	"gitlab.com/stephen-fox/vtop/paging"
	"gitlab.com/stephen-fox/vtop/profile"
)

const upperPage = 0xffffffffc0000000

// newTestTranslator returns an amd64 translator that maps:
//
//	0x1000 -> 0x5000 (filled with 'a')
//	0x3000 -> 0x6000 (filled with 'b')
//	0xffffffffc0000000 -> 0x7000 (filled with 'c')
func newTestTranslator(t *testing.T) *paging.HardwareTranslator {
	t.Helper()

	data := make([]byte, 0xb000)
	put := func(addr uint64, value uint64) {
		binary.LittleEndian.PutUint64(data[addr:], value)
	}

	put(0x1000, 0x2000|1)
	put(0x2000, 0x3000|1)
	put(0x3000, 0x4000|1)
	put(0x4000+1*8, 0x5000|1)
	put(0x4000+3*8, 0x6000|1)

	put(0x1000+511*8, 0x8000|1)
	put(0x8000+511*8, 0x9000|1)
	put(0x9000, 0xa000|1)
	put(0xa000, 0x7000|1)

	copy(data[0x5000:], bytes.Repeat([]byte{'a'}, 0x1000))
	copy(data[0x6000:], bytes.Repeat([]byte{'b'}, 0x1000))
	copy(data[0x7000:], bytes.Repeat([]byte{'c'}, 0x1000))

	phys, err := addrspace.NewBufferLayer(addrspace.BufferLayerConfig{
		Data: data,
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := profile.Builtin("linux_amd64")
	if err != nil {
		t.Fatal(err)
	}

	translator, err := paging.NewHardwareTranslator(phys, paging.TranslatorConfig{
		Arch:    paging.AMD64,
		DTB:     0x1000,
		Profile: p,
	})
	if err != nil {
		t.Fatal(err)
	}

	return translator
}

func TestWriteRanges(t *testing.T) {
	translator := newTestTranslator(t)

	buf := bytes.NewBuffer(nil)

	err := writeRanges(buf, translator, 0)
	if err != nil {
		t.Fatal(err)
	}

	exp := "0x0000000000001000-0x0000000000002000 -> 0x5000\n" +
		"0x0000000000003000-0x0000000000004000 -> 0x6000\n" +
		"0xffffffffc0000000-0xffffffffc0001000 -> 0x7000\n"

	if buf.String() != exp {
		t.Fatalf("expected:\n%s\ngot:\n%s", exp, buf.String())
	}

	buf.Reset()

	err = writeRanges(buf, translator, 0x2000)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(buf.Bytes(), []byte("0x0000000000003000-")) {
		t.Fatalf("expected ranges to start at 0x3000 - got:\n%s", buf.String())
	}
}

func dumpToFile(t *testing.T, as addrspace.AddressSpace, start uint64) (dumpResult, []byte) {
	t.Helper()

	filePath := filepath.Join(t.TempDir(), "dump")

	f, err := os.Create(filePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	result, err := dumpTo(f, as, start)
	if err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatal(err)
	}

	return result, contents
}

func TestDumpTo_Sparse(t *testing.T) {
	result, contents := dumpToFile(t, newTestTranslator(t), 0)

	if result.written != 0x2000 {
		t.Fatalf("expected 0x2000 bytes written - got 0x%x", result.written)
	}

	if len(contents) != 0x4000 {
		t.Fatalf("expected a 0x4000 byte file - got 0x%x", len(contents))
	}

	zeros := make([]byte, 0x1000)

	for _, c := range []struct {
		offset int
		exp    []byte
	}{
		{0x0, zeros},
		{0x1000, bytes.Repeat([]byte{'a'}, 0x1000)},
		{0x2000, zeros},
		{0x3000, bytes.Repeat([]byte{'b'}, 0x1000)},
	} {
		if !bytes.Equal(contents[c.offset:c.offset+0x1000], c.exp) {
			t.Fatalf("unexpected contents at offset 0x%x", c.offset)
		}
	}
}

func TestDumpTo_StopsWhenOffsetIsTooLarge(t *testing.T) {
	result, _ := dumpToFile(t, newTestTranslator(t), 0)

	if !result.truncated {
		t.Fatalf("expected the dump to be truncated")
	}

	if result.stoppedAt != upperPage {
		t.Fatalf("expected the dump to stop at 0x%x - got 0x%x", uint64(upperPage), result.stoppedAt)
	}
}

func TestDumpTo_UpperHalf(t *testing.T) {
	result, contents := dumpToFile(t, newTestTranslator(t), upperPage)

	if result.truncated {
		t.Fatalf("expected the dump to not be truncated")
	}

	if !bytes.Equal(contents, bytes.Repeat([]byte{'c'}, 0x1000)) {
		t.Fatalf("expected the upper half page at offset 0 - got 0x%x bytes", len(contents))
	}
}
