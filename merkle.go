package main

import "encoding/hex"

// buildMerkleBranches computes the merkle branch hashes needed by a Stratum
// miner to fold the coinbase hash (always tree position 0) up to the block's
// merkle root. txids must be in display (byte-reversed) order, as
// validateTransactions returns them, and exclude the coinbase transaction
// itself; each is reversed back to the internal order doubleSHA256 produces
// before hashing, and the branches are emitted in that internal order.
func buildMerkleBranches(txids [][]byte) []string {
	natural := make([][]byte, len(txids))
	for i, id := range txids {
		natural[i] = reverseBytes(id)
	}

	branches := buildMerkleBranchesBytes(natural)
	out := make([]string, len(branches))
	for i, b := range branches {
		out[i] = hex.EncodeToString(b)
	}
	return out
}

func buildMerkleBranchesBytes(hashes [][]byte) [][]byte {
	var branches [][]byte
	level := hashes
	for len(level) > 0 {
		branches = append(branches, level[0])
		level = level[1:]
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := append(append([]byte{}, level[i]...), level[i+1]...)
			next = append(next, doubleSHA256(pair))
		}
		level = next
	}
	return branches
}

// decodeMerkleBranchesBytes pre-decodes hex branch strings into fixed-size
// arrays so the hot share-validation path avoids repeated hex decoding.
func decodeMerkleBranchesBytes(branches []string) ([][32]byte, error) {
	out := make([][32]byte, len(branches))
	for i, b := range branches {
		if err := decodeHexToFixedBytes(out[i][:], b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// computeMerkleRootFromBranches folds a coinbase hash up through hex-encoded
// branch hashes to produce the block's merkle root, in the same internal
// byte order as coinbaseHash.
func computeMerkleRootFromBranches(coinbaseHash []byte, branches []string) []byte {
	root, ok := computeMerkleRootFromBranches32(coinbaseHash, branches)
	if !ok {
		return nil
	}
	out := make([]byte, 32)
	copy(out, root[:])
	return out
}

func computeMerkleRootFromBranches32(coinbaseHash []byte, branches []string) ([32]byte, bool) {
	var cur [32]byte
	if len(coinbaseHash) != 32 {
		return cur, false
	}
	copy(cur[:], coinbaseHash)
	for _, b := range branches {
		var branch [32]byte
		if err := decodeHexToFixedBytes(branch[:], b); err != nil {
			return cur, false
		}
		cur = combineMerkleStep(cur, branch)
	}
	return cur, true
}

func computeMerkleRootFromBranchesBytes32(coinbaseHash []byte, branches [][32]byte) ([32]byte, bool) {
	var cur [32]byte
	if len(coinbaseHash) != 32 {
		return cur, false
	}
	copy(cur[:], coinbaseHash)
	for _, branch := range branches {
		cur = combineMerkleStep(cur, branch)
	}
	return cur, true
}

func combineMerkleStep(a, b [32]byte) [32]byte {
	pair := make([]byte, 64)
	copy(pair[:32], a[:])
	copy(pair[32:], b[:])
	combined := doubleSHA256(pair)
	var out [32]byte
	copy(out[:], combined)
	return out
}
