package main

// word32Flip reverses the byte order within each 4-byte word of b. b's
// length must be a multiple of 4. This is the ckpool-solo "flip" transform
// used for share-hash header assembly.
func word32Flip(b []byte) []byte {
	out := make([]byte, len(b))
	for i := 0; i+4 <= len(b); i += 4 {
		out[i] = b[i+3]
		out[i+1] = b[i+2]
		out[i+2] = b[i+1]
		out[i+3] = b[i]
	}
	return out
}

// buildFlippedHeader assembles the 80-byte block header using the
// ckpool-solo flipped-endianness convention used for share hashing: every
// 4-byte field is laid out big-endian, the merkle root is word32-flipped
// before insertion, and the entire buffer is word32-flipped again at the
// end. ASIC firmwares are known to depend on this exact layout.
func buildFlippedHeader(versionFinal uint32, prevHash [32]byte, merkleRootNatural [32]byte, ntime, nbits, nonce [4]byte) [80]byte {
	var raw [80]byte
	off := 0
	writeUint32BE(raw[off:off+4], versionFinal)
	off += 4
	copy(raw[off:off+32], prevHash[:])
	off += 32
	copy(raw[off:off+32], word32Flip(merkleRootNatural[:]))
	off += 32
	copy(raw[off:off+4], ntime[:])
	off += 4
	copy(raw[off:off+4], nbits[:])
	off += 4
	copy(raw[off:off+4], nonce[:])

	var flipped [80]byte
	copy(flipped[:], word32Flip(raw[:]))
	return flipped
}

// buildCanonicalHeader assembles the standard Bitcoin block header (all
// multi-byte fields little-endian, prev_hash and merkle_root in their usual
// reversed-display/internal forms) for submission to the node.
func buildCanonicalHeader(versionFinal uint32, prevHash [32]byte, merkleRootNatural [32]byte, ntime, nbits, nonce [4]byte) [80]byte {
	var out [80]byte
	off := 0
	writeUint32LEArr(out[off:off+4], versionFinal)
	off += 4
	copy(out[off:off+32], reverseBytes(prevHash[:]))
	off += 32
	copy(out[off:off+32], merkleRootNatural[:])
	off += 32
	copy(out[off:off+4], reverseBytes(ntime[:]))
	off += 4
	copy(out[off:off+4], reverseBytes(nbits[:]))
	off += 4
	copy(out[off:off+4], reverseBytes(nonce[:]))
	return out
}

func writeUint32BE(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func writeUint32LEArr(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
