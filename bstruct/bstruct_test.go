package bstruct

import (
	"encoding/binary"
	"testing"
)

type testStruct struct {
	A uint8
	B uint16
	C uint32
	D uint64
}

func TestStructToBytes_BigEndian(t *testing.T) {
	b, err := StructToBytes(&testStruct{A: 1, B: 0x0203, C: 0x04050607, D: 0x08090a0b0c0d0e0f},
		binary.BigEndian, nil)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if string(b) != string(exp) {
		t.Fatalf("expected %x - got %x", exp, b)
	}

	var decoded testStruct
	err = BytesToStruct(b, binary.BigEndian, &decoded)
	if err != nil {
		t.Fatal(err)
	}

	if decoded != (testStruct{A: 1, B: 0x0203, C: 0x04050607, D: 0x08090a0b0c0d0e0f}) {
		t.Fatalf("expected decoded struct to match - got %+v", decoded)
	}
}

func TestSize(t *testing.T) {
	size, err := Size(testStruct{})
	if err != nil {
		t.Fatal(err)
	}

	if size != 15 {
		t.Fatalf("expected size 15 - got %d", size)
	}
}

func TestBytesToStruct_Errors(t *testing.T) {
	var s testStruct

	err := BytesToStruct(make([]byte, 14), binary.LittleEndian, &s)
	if err == nil {
		t.Fatalf("expected an error for a short buffer")
	}

	err = BytesToStruct(make([]byte, 15), binary.LittleEndian, s)
	if err == nil {
		t.Fatalf("expected an error for a non-pointer")
	}

	err = BytesToStruct(make([]byte, 8), binary.LittleEndian, &struct{ S string }{})
	if err == nil {
		t.Fatalf("expected an error for an unsupported field type")
	}

	err = BytesToStruct(make([]byte, 8), binary.LittleEndian, &struct{ a uint64 }{})
	if err == nil {
		t.Fatalf("expected an error for an unexported field")
	}
}

func TestStructToBytes_Errors(t *testing.T) {
	_, err := StructToBytes(nil, binary.LittleEndian, nil)
	if err == nil {
		t.Fatalf("expected an error for a nil struct")
	}

	_, err = StructToBytes(struct{ S string }{}, binary.LittleEndian, nil)
	if err == nil {
		t.Fatalf("expected an error for an unsupported field type")
	}

	_, err = StructToBytes(struct{ a uint32 }{}, binary.LittleEndian, nil)
	if err == nil {
		t.Fatalf("expected an error for an unexported field")
	}
}
