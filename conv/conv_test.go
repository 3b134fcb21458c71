package conv

import (
	"bytes"
	"strings"
	"testing"
)

func TestHexToBytes(t *testing.T) {
	for name, c := range map[string]struct {
		input string
		exp   []byte
	}{
		"pairs":         {"31 c0 40", []byte{0x31, 0xc0, 0x40}},
		"run":           {"31c040\n", []byte{0x31, 0xc0, 0x40}},
		"c array":       {"{0x31, 0xc0, 0x40};", []byte{0x31, 0xc0, 0x40}},
		"c string":      {`"\x31\xc0\x40"`, []byte{0x31, 0xc0, 0x40}},
		"line comment":  {"31 // c0\n40", []byte{0x31, 0x40}},
		"block comment": {"31 /* c0 */ 40", []byte{0x31, 0x40}},
		"empty":         {"", nil},
	} {
		t.Run(name, func(t *testing.T) {
			b, err := HexToBytes(strings.NewReader(c.input))
			if err != nil {
				t.Fatal(err)
			}

			if !bytes.Equal(b, c.exp) {
				t.Fatalf("expected 0x%x - got 0x%x", c.exp, b)
			}
		})
	}
}

func TestHexToBytes_Invalid(t *testing.T) {
	for _, input := range []string{"3", "zz", "31 /* c0"} {
		_, err := HexToBytes(strings.NewReader(input))
		if err == nil {
			t.Fatalf("%q: expected an error", input)
		}
	}
}

func TestParseAddress(t *testing.T) {
	for input, exp := range map[string]uint64{
		"0x1000":                0x1000,
		" 0x1000 ":              0x1000,
		"0xfffff800`01234567":   0xfffff80001234567,
		"0xffff_ffff_c000_0000": 0xffffffffc0000000,
		"010":                   8,
		"42":                    42,
	} {
		addr, err := ParseAddress(input)
		if err != nil {
			t.Fatal(err)
		}

		if addr != exp {
			t.Fatalf("%q: expected 0x%x - got 0x%x", input, exp, addr)
		}
	}

	for _, input := range []string{"", "zz", "0x10000000000000000"} {
		_, err := ParseAddress(input)
		if err == nil {
			t.Fatalf("%q: expected an error", input)
		}
	}
}
