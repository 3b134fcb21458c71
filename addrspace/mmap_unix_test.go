//go:build unix

package addrspace

import (
	"bytes"
	"testing"
)

func TestNewMmapLayer(t *testing.T) {
	image := bytes.Repeat([]byte{0x41}, 0x1000)
	copy(image[0x800:], "mapped")

	path := writeTempFile(t, "image.raw", image)

	layer, err := NewMmapLayer(nil, MmapLayerConfig{Filename: path})
	if err != nil {
		t.Fatal(err)
	}

	data, err := layer.Read(0x800, 6)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "mapped" {
		t.Fatalf("expected 'mapped' - got '%s'", data)
	}

	n, err := layer.Write(0, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	if n != 0 {
		t.Fatalf("expected write to be dropped - wrote %d", n)
	}

	err = layer.Close()
	if err != nil {
		t.Fatal(err)
	}

	err = layer.Close()
	if err != nil {
		t.Fatalf("expected second close to be a no-op - got %v", err)
	}
}

func TestNewMmapLayer_Rejections(t *testing.T) {
	empty := writeTempFile(t, "empty.raw", nil)

	_, err := NewMmapLayer(nil, MmapLayerConfig{Filename: empty})
	if !IsRejected(err) {
		t.Fatalf("expected rejection of an empty file - got %v", err)
	}

	base := NewBufferLayerOrExit(BufferLayerConfig{Data: make([]byte, 16)})

	_, err = NewMmapLayer(base, MmapLayerConfig{Filename: empty})
	if !IsRejected(err) {
		t.Fatalf("expected rejection with a base - got %v", err)
	}
}
