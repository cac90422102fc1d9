package vaultzstd

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c := New()
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 64)

	compressed, err := c.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("compressed size %d not smaller than original %d for repetitive input", len(compressed), len(payload))
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressEmptyPayload(t *testing.T) {
	c := New()
	compressed, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil): %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(decompressed) != 0 {
		t.Fatalf("Decompress(empty) = %v, want empty", decompressed)
	}
}
