package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
)

// ShareSubmission is the parsed mining.submit payload (spec.md 4.5/6).
type ShareSubmission struct {
	Worker         string
	JobID          string
	Extranonce2Hex string
	NtimeHex       string
	NonceHex       string
	VersionBitsHex string
}

// ShareOutcome is the result of validating one submitted share.
type ShareOutcome struct {
	Accepted     bool
	BlockFound   bool
	RejectReason string
	Difficulty   float64
	BlockHex     string
}

func rejected(reason string) (*ShareOutcome, error) {
	return &ShareOutcome{Accepted: false, RejectReason: reason}, nil
}

// ValidateShare implements spec.md 4.5 end to end: job lookup, time-window
// and duplicate checks, coinbase/merkle reconstruction, the ckpool-flipped
// header hash, and pool/network target comparison. When the share clears
// the network target it also assembles the canonical block hex for
// submission.
func ValidateShare(jm *JobManager, dup *submittedShareSet, extranonce1 []byte, sub ShareSubmission, sessionDifficulty float64) (*ShareOutcome, error) {
	if _, err := strconv.ParseUint(sub.JobID, 16, 64); err != nil || len(sub.JobID) != 16 {
		return rejected("Invalid job id format")
	}

	job := jm.JobByID(sub.JobID)
	if job == nil {
		return rejected("Job not found")
	}

	ntime, err := parseUint32BEHex(sub.NtimeHex)
	if err != nil {
		return rejected("Invalid ntime")
	}
	delta := int64(ntime) - job.Template.CurTime
	if delta < 0 {
		delta = -delta
	}
	if delta > 600 {
		return rejected("Time out of range")
	}

	key := shareKey(sub.Worker, sub.JobID, sub.Extranonce2Hex, sub.NtimeHex, sub.NonceHex)
	if dup.checkAndInsert(key) {
		return rejected("Duplicate share")
	}

	if len(sub.Extranonce2Hex) != job.Extranonce2Size*2 {
		return rejected("Invalid extranonce2 size")
	}
	extranonce2, err := hex.DecodeString(sub.Extranonce2Hex)
	if err != nil {
		return rejected("Invalid extranonce2")
	}

	nonce, err := parseUint32BEHex(sub.NonceHex)
	if err != nil {
		return rejected("Invalid nonce")
	}

	versionFinal := uint32(job.Template.Version)
	if sub.VersionBitsHex != "" {
		vbits, err := parseUint32BEHex(sub.VersionBitsHex)
		if err != nil {
			return rejected("Invalid version bits")
		}
		versionFinal |= vbits
	}

	coinbaseBin, coinbaseHash, err := serializeCoinbaseTxPredecoded(
		job.Template.Height,
		extranonce1,
		extranonce2,
		job.TemplateExtraNonce2Size,
		job.PayoutScript,
		job.CoinbaseValue,
		job.coinbaseFlagsBytes,
		job.CoinbaseMsg,
		job.ScriptTime,
		job.ScriptTimeNanos,
	)
	if err != nil {
		return nil, fmt.Errorf("reconstruct coinbase: %w", err)
	}

	merkleRoot, ok := computeMerkleRootFromBranchesBytes32(coinbaseHash, job.merkleBranchesBytes)
	if !ok {
		return nil, fmt.Errorf("merkle root computation failed")
	}

	var ntimeBytes, nonceBytes [4]byte
	writeUint32BE(ntimeBytes[:], ntime)
	writeUint32BE(nonceBytes[:], nonce)

	flipped := buildFlippedHeader(versionFinal, job.prevHashBytes, merkleRoot, ntimeBytes, job.bitsBytes, nonceBytes)
	hash := doubleSHA256(flipped[:])

	diff := sessionDifficulty
	if diff <= 0 {
		diff = 1
	}
	poolTarget := targetFromDifficulty(diff)

	// h is produced by double_sha256 and must be interpreted as a
	// little-endian 256-bit integer, i.e. reversed before SetBytes.
	hInt := new(big.Int).SetBytes(reverseBytes(hash))

	if hInt.Cmp(poolTarget) > 0 {
		return rejected("Above target")
	}

	outcome := &ShareOutcome{Accepted: true, Difficulty: difficultyFromHash(hash)}

	if job.Target != nil && hInt.Cmp(job.Target) <= 0 {
		outcome.BlockFound = true
		blockHex, err := assembleBlockHex(job, versionFinal, merkleRoot, ntimeBytes, nonceBytes, coinbaseBin)
		if err != nil {
			return nil, fmt.Errorf("assemble block: %w", err)
		}
		outcome.BlockHex = blockHex
	}

	return outcome, nil
}

func assembleBlockHex(job *Job, versionFinal uint32, merkleRoot [32]byte, ntimeBytes, nonceBytes [4]byte, coinbaseBin []byte) (string, error) {
	header := buildCanonicalHeader(versionFinal, job.prevHashBytes, merkleRoot, ntimeBytes, job.bitsBytes, nonceBytes)

	var out []byte
	out = append(out, header[:]...)
	out = appendVarInt(out, uint64(1+len(job.Transactions)))
	out = append(out, coinbaseBin...)
	for i, tx := range job.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return "", fmt.Errorf("decode template tx %d: %w", i, err)
		}
		out = append(out, raw...)
	}
	return hex.EncodeToString(out), nil
}
