package main

import (
	"bytes"
	"testing"

	"gitlab.com/stephen-fox/vtop/asmkit"
)

func writeInsts(t *testing.T, format string) string {
	t.Helper()

	buf := bytes.NewBuffer(nil)

	writer, err := newInstWriter(format, buf)
	if err != nil {
		t.Fatal(err)
	}

	for _, inst := range []asmkit.Inst{
		{Address: 0x1000, Bin: []byte{0x31, 0xc0}, Dis: "xor eax, eax"},
		{Address: 0x1002, Bin: []byte{0x40}, Dis: "inc eax"},
	} {
		err = writer.Write(inst)
		if err != nil {
			t.Fatal(err)
		}
	}

	err = writer.Flush()
	if err != nil {
		t.Fatal(err)
	}

	return buf.String()
}

func TestGoByteSliceWriter(t *testing.T) {
	exp := "[]byte{\n" +
		"\t0x31, 0xc0, // 0x1000: xor eax, eax\n" +
		"\t0x40, // 0x1002: inc eax\n" +
		"}\n"

	if s := writeInsts(t, goFormat); s != exp {
		t.Fatalf("expected:\n%s\ngot:\n%s", exp, s)
	}
}

func TestJSONDisassWriter(t *testing.T) {
	exp := `[
  {
    "address": "0x1000",
    "bytes": "31c0",
    "disassembly": "xor eax, eax"
  },
  {
    "address": "0x1002",
    "bytes": "40",
    "disassembly": "inc eax"
  }
]
`

	if s := writeInsts(t, jsonFormat); s != exp {
		t.Fatalf("expected:\n%s\ngot:\n%s", exp, s)
	}
}

func TestNewInstWriter_Unsupported(t *testing.T) {
	_, err := newInstWriter("xml", nil)
	if err == nil {
		t.Fatalf("expected an error for an unsupported format")
	}
}
