package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// defaultVersionMask is the BIP320 version-rolling mask used when no
// version_mask is configured: mining.configure intersects the miner's
// requested mask with it, and computePoolMask starts from it when deriving a
// job's mask from the template.
const defaultVersionMask uint32 = 0x1fffe000

// diff1Target is the target corresponding to difficulty 1, i.e. the decoded
// form of bitcoind's compact bits 0x1d00ffff.
var diff1Target = blockchain.CompactToBig(0x1d00ffff)

// maxUint256 is the largest possible 256-bit target: targetFromDifficulty
// returns it for a non-positive difficulty and clamps to it for very small
// ones.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// targetFromBits decodes a getblocktemplate "bits" compact hex field into
// its expanded 256-bit target.
func targetFromBits(bitsHex string) (*big.Int, error) {
	raw, err := hex.DecodeString(bitsHex)
	if err != nil || len(raw) != 4 {
		return nil, fmt.Errorf("bits must decode to 4 bytes: %q", bitsHex)
	}
	compact := binary.BigEndian.Uint32(raw)
	target := blockchain.CompactToBig(compact)
	if target.Sign() <= 0 {
		return nil, fmt.Errorf("bits %q decoded to non-positive target", bitsHex)
	}
	return target, nil
}

// targetFromDifficulty converts a Stratum difficulty value into the target
// a share's hash must not exceed, using the standard diff1Target/difficulty
// relationship.
func targetFromDifficulty(diff float64) *big.Int {
	if diff <= 0 {
		return new(big.Int).Set(maxUint256)
	}
	num := new(big.Float).SetInt(diff1Target)
	den := big.NewFloat(diff)
	quotient := new(big.Float).Quo(num, den)
	target, _ := quotient.Int(nil)
	if target.Sign() <= 0 {
		target = big.NewInt(1)
	}
	if target.Cmp(maxUint256) > 0 {
		target = new(big.Int).Set(maxUint256)
	}
	return target
}

// difficultyFromHash computes the Stratum difficulty implied by a share
// hash. hash is expected as doubleSHA256 returns it, i.e. the little-endian
// byte order of the integer Bitcoin compares against the target; it is
// reversed internally into big-endian order before SetBytes.
func difficultyFromHash(hash []byte) float64 {
	n := new(big.Int).SetBytes(reverseBytes(hash))
	if n.Sign() == 0 {
		return 0
	}
	num := new(big.Float).SetInt(diff1Target)
	den := new(big.Float).SetInt(n)
	result := new(big.Float).Quo(num, den)
	f, _ := result.Float64()
	return f
}

// uint256BEFromBigInt renders v as a fixed 32-byte big-endian array.
// buildJob stores the result as Job.targetBE; ValidateShare compares against
// the big.Int Job.Target and does not read targetBE.
func uint256BEFromBigInt(v *big.Int) [32]byte {
	var out [32]byte
	if v == nil {
		return out
	}
	b := v.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}
