package main

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func fakeTxid(b byte) []byte {
	id := make([]byte, 32)
	for i := range id {
		id[i] = b
	}
	return id
}

func TestBuildMerkleBranchesLengthMatchesLog2(t *testing.T) {
	cases := []struct {
		n      int
		wantLn int
	}{
		{0, 0}, // coinbase only, no branches
		{1, 1}, // coinbase + 1 tx -> ceil(log2(2)) = 1
		{2, 2}, // coinbase + 2 tx -> ceil(log2(3)) = 2
		{3, 2}, // coinbase + 3 tx -> ceil(log2(4)) = 2
		{4, 3}, // coinbase + 4 tx -> ceil(log2(5)) = 3
		{7, 3}, // coinbase + 7 tx -> ceil(log2(8)) = 3
	}
	for _, c := range cases {
		txids := make([][]byte, c.n)
		for i := 0; i < c.n; i++ {
			txids[i] = fakeTxid(byte(i + 1))
		}
		branches := buildMerkleBranches(txids)
		if len(branches) != c.wantLn {
			t.Errorf("n=%d: branch length = %d, want %d", c.n, len(branches), c.wantLn)
		}
	}
}

func TestMerkleRootNoTransactionsEqualsCoinbaseHash(t *testing.T) {
	coinbaseHash := fakeTxid(0x42)
	root, ok := computeMerkleRootFromBranchesBytes32(coinbaseHash, nil)
	if !ok {
		t.Fatalf("computeMerkleRootFromBranchesBytes32 failed")
	}
	if !bytes.Equal(root[:], coinbaseHash) {
		t.Fatalf("merkle root with no branches = %x, want coinbase hash %x", root, coinbaseHash)
	}
}

func TestMerkleRootHexAndBytesAgree(t *testing.T) {
	coinbaseHash := fakeTxid(0x01)
	txids := [][]byte{fakeTxid(0x02), fakeTxid(0x03), fakeTxid(0x04)}

	hexBranches := buildMerkleBranches(txids)
	byteBranches, err := decodeMerkleBranchesBytes(hexBranches)
	if err != nil {
		t.Fatalf("decodeMerkleBranchesBytes: %v", err)
	}

	rootFromHex := computeMerkleRootFromBranches(coinbaseHash, hexBranches)
	rootFromBytes, ok := computeMerkleRootFromBranchesBytes32(coinbaseHash, byteBranches)
	if !ok {
		t.Fatalf("computeMerkleRootFromBranchesBytes32 failed")
	}
	if !bytes.Equal(rootFromHex, rootFromBytes[:]) {
		t.Fatalf("hex-branch root %x != bytes-branch root %x", rootFromHex, rootFromBytes)
	}
}

func TestDecodeMerkleBranchesBytesRejectsBadHex(t *testing.T) {
	_, err := decodeMerkleBranchesBytes([]string{"not-hex"})
	if err == nil {
		t.Fatalf("expected error decoding invalid hex branch")
	}
}

func TestBuildMerkleBranchesRoundTripsHexLength(t *testing.T) {
	txids := [][]byte{fakeTxid(0x05)}
	branches := buildMerkleBranches(txids)
	for _, b := range branches {
		if len(b) != 64 {
			t.Fatalf("branch hex length = %d, want 64", len(b))
		}
		if _, err := hex.DecodeString(b); err != nil {
			t.Fatalf("branch %q is not valid hex: %v", b, err)
		}
	}
}
