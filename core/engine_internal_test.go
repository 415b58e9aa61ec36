package core

import (
	"bytes"
	"testing"
)

func TestSectionCodecRoundTrip(t *testing.T) {
	cases := [][][]byte{
		{[]byte("key"), []byte("value")},
		{nil, nil},
		{[]byte("only")},
		{[]byte(""), []byte("x"), []byte("yz")},
	}
	for _, sections := range cases {
		encoded := encodeSections(sections...)
		decoded, err := decodeSections(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", sections, err)
		}
		if len(decoded) != len(sections) {
			t.Fatalf("section count: got %d want %d", len(decoded), len(sections))
		}
		for i := range sections {
			if !bytes.Equal(decoded[i], sections[i]) {
				t.Fatalf("section %d: %q != %q", i, decoded[i], sections[i])
			}
		}
	}
}

func TestDecodeSectionsMalformed(t *testing.T) {
	if _, err := decodeSections([]byte{1, 2}); err == nil {
		t.Fatal("short trailer must error")
	}
	// trailer claims 100 bytes but only 1 is present
	bad := append([]byte{0xaa}, 0x00, 0x00, 0x00, 0x64)
	if _, err := decodeSections(bad); err == nil {
		t.Fatal("oversized length must error")
	}
}

func TestGasMeterExhaustion(t *testing.T) {
	meter := NewGasMeter(10)
	if err := meter.Consume(6); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := meter.Consume(5); err == nil {
		t.Fatal("expected out-of-gas")
	}
	if meter.Used() != 6 {
		t.Fatalf("used after failure: %d", meter.Used())
	}
}

func TestMaybeGunzipRejectsGarbage(t *testing.T) {
	if _, err := maybeGunzip([]byte{1, 2, 3, 4}); err == nil {
		t.Fatal("garbage magic must error")
	}
	if _, err := maybeGunzip([]byte{0x1f}); err == nil {
		t.Fatal("too-short input must error")
	}
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01}
	out, err := maybeGunzip(wasm)
	if err != nil || !bytes.Equal(out, wasm) {
		t.Fatalf("plain wasm must pass through: %v %q", err, out)
	}
}
