package filters

import (
	"bytes"
	"errors"
	"testing"
)

func TestFlateRoundTrip(t *testing.T) {
	p := NewPipeline(Limits{})
	plain := bytes.Repeat([]byte("stream payload "), 100)
	enc, err := FlateEncode(plain)
	if err != nil {
		t.Fatalf("FlateEncode: %v", err)
	}
	if len(enc) >= len(plain) {
		t.Fatalf("encoded %d bytes, not smaller than %d", len(enc), len(plain))
	}
	dec, err := p.Decode(enc, []string{"FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatal("round trip mismatch")
	}
}

func TestASCIIHexDecode(t *testing.T) {
	p := NewPipeline(Limits{})
	out, err := p.Decode([]byte("48 65 6c 6C 6f>ignored"), []string{"ASCIIHexDecode"}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "Hello" {
		t.Fatalf("out = %q", out)
	}
	// Odd digit count pads with zero.
	out, err = p.Decode([]byte("5>"), []string{"ASCIIHexDecode"}, nil)
	if err != nil || !bytes.Equal(out, []byte{0x50}) {
		t.Fatalf("out = % x, err = %v", out, err)
	}
}

func TestASCII85Decode(t *testing.T) {
	p := NewPipeline(Limits{})
	out, err := p.Decode([]byte("<~87cUR~>"), []string{"ASCII85Decode"}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "Hell" {
		t.Fatalf("out = %q", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	p := NewPipeline(Limits{})
	// literal "ab", then 'c' repeated 4 times, then EOD
	in := []byte{1, 'a', 'b', 254, 'c', 128}
	out, err := p.Decode(in, []string{"RunLengthDecode"}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "abcccc" {
		t.Fatalf("out = %q", out)
	}
}

func TestFilterChain(t *testing.T) {
	p := NewPipeline(Limits{})
	plain := []byte("chained payload")
	flated, err := FlateEncode(plain)
	if err != nil {
		t.Fatal(err)
	}
	hexed := make([]byte, 0, len(flated)*2)
	const digits = "0123456789abcdef"
	for _, b := range flated {
		hexed = append(hexed, digits[b>>4], digits[b&0xf])
	}
	hexed = append(hexed, '>')
	out, err := p.Decode(hexed, []string{"ASCIIHexDecode", "FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("Decode chain: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("out = %q, want %q", out, plain)
	}
}

func TestUnknownFilter(t *testing.T) {
	p := NewPipeline(Limits{})
	_, err := p.Decode([]byte("x"), []string{"NoSuchDecode"}, nil)
	if !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("err = %v, want ErrUnknownFilter", err)
	}
}

func TestDecompressionLimit(t *testing.T) {
	p := NewPipeline(Limits{MaxDecompressedSize: 16})
	enc, err := FlateEncode(bytes.Repeat([]byte{'a'}, 1024))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Decode(enc, []string{"FlateDecode"}, nil); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestPassthroughCodecs(t *testing.T) {
	p := NewPipeline(Limits{})
	if !p.Passthrough("DCTDecode") {
		t.Fatal("DCTDecode should be passthrough")
	}
	if p.Passthrough("FlateDecode") {
		t.Fatal("FlateDecode should not be passthrough")
	}
	payload := []byte{0xff, 0xd8, 0xff}
	out, err := p.Decode(payload, []string{"DCTDecode"}, nil)
	if err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("out = % x, err = %v", out, err)
	}
}
