package main

import (
	"bytes"
	"testing"
)

func TestWord32FlipInvolution(t *testing.T) {
	in := []byte{
		0x01, 0x02, 0x03, 0x04,
		0xaa, 0xbb, 0xcc, 0xdd,
		0x00, 0x00, 0x00, 0x01,
	}
	once := word32Flip(in)
	twice := word32Flip(once)
	if !bytes.Equal(twice, in) {
		t.Fatalf("word32Flip(word32Flip(x)) != x: got %x, want %x", twice, in)
	}
	if bytes.Equal(once, in) {
		t.Fatalf("word32Flip(x) unexpectedly equals x")
	}
}

func TestWord32FlipReversesEachWord(t *testing.T) {
	in := []byte{0x11, 0x22, 0x33, 0x44}
	got := word32Flip(in)
	want := []byte{0x44, 0x33, 0x22, 0x11}
	if !bytes.Equal(got, want) {
		t.Fatalf("word32Flip single word = %x, want %x", got, want)
	}
}

func TestBuildFlippedHeaderLength(t *testing.T) {
	var prevHash, merkleRoot [32]byte
	var ntime, nbits, nonce [4]byte
	hdr := buildFlippedHeader(1, prevHash, merkleRoot, ntime, nbits, nonce)
	if len(hdr) != 80 {
		t.Fatalf("header length = %d, want 80", len(hdr))
	}
}

func TestBuildCanonicalHeaderReversesPrevHash(t *testing.T) {
	var prevHash [32]byte
	for i := range prevHash {
		prevHash[i] = byte(i)
	}
	var merkleRoot [32]byte
	var ntime, nbits, nonce [4]byte
	hdr := buildCanonicalHeader(1, prevHash, merkleRoot, ntime, nbits, nonce)

	// prev_hash occupies bytes [4:36) and must be the byte-reversed form of
	// the internal-order hash passed in.
	got := hdr[4:36]
	want := reverseBytes(prevHash[:])
	if !bytes.Equal(got, want) {
		t.Fatalf("canonical header prev_hash = %x, want %x", got, want)
	}
}
