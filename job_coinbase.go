package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// serializeCoinbaseTxPredecoded rebuilds the full coinbase transaction from
// a session's extranonce2 for share validation. The scriptSig carries the
// height, the template's coinbaseaux.flags, two ser_number fields (the job's
// build second and its nanosecond offset, keeping scriptSigs unique across
// same-second refreshes at the same height), the extranonce placeholder
// length, the extranonce1/extranonce2 bytes themselves, and the pool tag.
// The coinbase always pays a single output; no SegWit witness commitment
// output is emitted even when the template carries one.
func serializeCoinbaseTxPredecoded(height int64, extranonce1, extranonce2 []byte, templateExtraNonce2Size int, payoutScript []byte, coinbaseValue int64, flagsBytes []byte, coinbaseMsg string, scriptTime int64, scriptTimeNanos int64) ([]byte, []byte, error) {
	if len(payoutScript) == 0 {
		return nil, nil, fmt.Errorf("payout script required")
	}

	padLen := templateExtraNonce2Size - len(extranonce2)
	if padLen < 0 {
		padLen = 0
	}
	placeholderLen := len(extranonce1) + len(extranonce2) + padLen
	extraNoncePlaceholder := bytes.Repeat([]byte{0x00}, placeholderLen)

	scriptSigPart1 := bytes.Join([][]byte{
		serializeNumberScript(height),
		flagsBytes, // coinbaseaux.flags from bitcoind
		serializeNumberScript(scriptTime),
		serializeNumberScript(scriptTimeNanos),
		{byte(len(extraNoncePlaceholder))},
	}, nil)
	msg := normalizeCoinbaseMessage(coinbaseMsg)
	scriptSigPart2 := serializeStringScript(msg)
	scriptSigLen := len(scriptSigPart1) + padLen + len(extranonce1) + len(extranonce2) + len(scriptSigPart2)

	var vin bytes.Buffer
	writeVarInt(&vin, 1)
	vin.Write(bytes.Repeat([]byte{0x00}, 32))
	writeUint32LE(&vin, 0xffffffff)
	writeVarInt(&vin, uint64(scriptSigLen))
	vin.Write(scriptSigPart1)
	if padLen > 0 {
		vin.Write(bytes.Repeat([]byte{0x00}, padLen))
	}
	vin.Write(extranonce1)
	vin.Write(extranonce2)
	vin.Write(scriptSigPart2)
	writeUint32LE(&vin, 0xffffffff) // sequence

	var outputs bytes.Buffer
	writeVarInt(&outputs, 1)
	writeUint64LE(&outputs, uint64(coinbaseValue))
	writeVarInt(&outputs, uint64(len(payoutScript)))
	outputs.Write(payoutScript)

	var tx bytes.Buffer
	writeUint32LE(&tx, 1) // version
	tx.Write(vin.Bytes())
	tx.Write(outputs.Bytes())
	writeUint32LE(&tx, 0) // locktime

	txid := doubleSHA256(tx.Bytes())
	return tx.Bytes(), txid, nil
}

func serializeNumberScript(n int64) []byte {
	if n >= 1 && n <= 16 {
		return []byte{byte(0x50 + n)}
	}
	l := 1
	buf := make([]byte, 9)
	for n > 0x7f {
		buf[l] = byte(n & 0xff)
		l++
		n >>= 8
	}
	buf[0] = byte(l)
	buf[l] = byte(n)
	return buf[:l+1]
}

// normalizeCoinbaseMessage trims spaces and ensures the message has '/' prefix and suffix.
// If the message is empty after trimming, returns the default "/nodeStratum/" tag.
func normalizeCoinbaseMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "/nodeStratum/"
	}
	msg = strings.TrimPrefix(msg, "/")
	msg = strings.TrimSuffix(msg, "/")
	return "/" + msg + "/"
}

func serializeStringScript(s string) []byte {
	b := []byte(s)
	if len(b) < 253 {
		return append([]byte{byte(len(b))}, b...)
	}
	if len(b) < 0x10000 {
		out := []byte{253, byte(len(b)), byte(len(b) >> 8)}
		return append(out, b...)
	}
	if len(b) < 0x100000000 {
		out := []byte{254, byte(len(b)), byte(len(b) >> 8), byte(len(b) >> 16), byte(len(b) >> 24)}
		return append(out, b...)
	}
	out := []byte{255}
	out = appendVarInt(out, uint64(len(b)))
	return append(out, b...)
}

func coinbaseScriptSigFixedLen(height int64, scriptTime int64, scriptTimeNanos int64, coinbaseFlags string, extranonce2Size int, templateExtraNonce2Size int) (int, error) {
	flagsBytes := []byte{}
	if coinbaseFlags != "" {
		var err error
		flagsBytes, err = hex.DecodeString(coinbaseFlags)
		if err != nil {
			return 0, fmt.Errorf("decode coinbase flags: %w", err)
		}
	}
	if templateExtraNonce2Size < extranonce2Size {
		templateExtraNonce2Size = extranonce2Size
	}
	padLen := templateExtraNonce2Size - extranonce2Size
	if padLen < 0 {
		padLen = 0
	}
	partLen := len(serializeNumberScript(height)) + len(flagsBytes) + len(serializeNumberScript(scriptTime)) + len(serializeNumberScript(scriptTimeNanos)) + 1
	return partLen + padLen + coinbaseExtranonce1Size + extranonce2Size, nil
}

func clampCoinbaseMessage(message string, limit int, height int64, scriptTime int64, scriptTimeNanos int64, coinbaseFlags string, extranonce2Size int, templateExtraNonce2Size int) (string, bool, error) {
	if limit <= 0 {
		return message, false, nil
	}
	fixedLen, err := coinbaseScriptSigFixedLen(height, scriptTime, scriptTimeNanos, coinbaseFlags, extranonce2Size, templateExtraNonce2Size)
	if err != nil {
		return "", false, err
	}
	allowed := limit - fixedLen
	if allowed <= 0 {
		return "", true, nil
	}

	normalized := normalizeCoinbaseMessage(message)
	body := ""
	if len(normalized) > 2 {
		body = normalized[1 : len(normalized)-1]
	}
	if len(serializeStringScript(normalized)) <= allowed {
		return body, false, nil
	}
	for len(body) > 0 {
		body = body[:len(body)-1]
		candidate := "/" + body + "/"
		if len(serializeStringScript(candidate)) <= allowed {
			return body, true, nil
		}
	}
	defaultNormalized := normalizeCoinbaseMessage("")
	if len(serializeStringScript(defaultNormalized)) <= allowed {
		return "", true, nil
	}
	return "", true, nil
}

// buildCoinbaseParts constructs coinb1/coinb2 for the stratum protocol: the
// miner fills the gap between them with its own extranonce1 (already baked
// into coinb1's scriptSig length prefix) and extranonce2. The trailing
// string in the scriptSig is the pool's coinbase message. Like
// serializeCoinbaseTxPredecoded, the coinbase always pays a single output;
// the template's default_witness_commitment, if any, is never emitted.
func buildCoinbaseParts(height int64, extranonce1 []byte, extranonce2Size int, templateExtraNonce2Size int, payoutScript []byte, coinbaseValue int64, coinbaseFlags string, coinbaseMsg string, scriptTime int64, scriptTimeNanos int64) (string, string, error) {
	if extranonce2Size <= 0 {
		extranonce2Size = 4
	}
	if templateExtraNonce2Size < extranonce2Size {
		templateExtraNonce2Size = extranonce2Size
	}
	templatePlaceholderLen := len(extranonce1) + templateExtraNonce2Size
	extraNoncePlaceholder := bytes.Repeat([]byte{0x00}, templatePlaceholderLen)
	padLen := templateExtraNonce2Size - extranonce2Size

	var flagsBytes []byte
	if coinbaseFlags != "" {
		var err error
		flagsBytes, err = hex.DecodeString(coinbaseFlags)
		if err != nil {
			return "", "", fmt.Errorf("decode coinbase flags: %w", err)
		}
	}

	scriptSigPart1 := bytes.Join([][]byte{
		serializeNumberScript(height),
		flagsBytes, // coinbaseaux.flags from bitcoind
		serializeNumberScript(scriptTime),
		serializeNumberScript(scriptTimeNanos),
		{byte(len(extraNoncePlaceholder))},
	}, nil)
	msg := normalizeCoinbaseMessage(coinbaseMsg)
	scriptSigPart2 := serializeStringScript(msg)

	// p1: version || input count || prevout || scriptsig length || scriptsig_part1
	var p1 bytes.Buffer
	writeUint32LE(&p1, 1) // tx version
	writeVarInt(&p1, 1)
	p1.Write(bytes.Repeat([]byte{0x00}, 32)) // prev hash
	writeUint32LE(&p1, 0xffffffff)           // prev index
	writeVarInt(&p1, uint64(len(scriptSigPart1)+len(extraNoncePlaceholder)+len(scriptSigPart2)))
	p1.Write(scriptSigPart1)

	// Outputs: a single value-paying output to the pool's payout script.
	var outputs bytes.Buffer
	writeVarInt(&outputs, 1)
	writeUint64LE(&outputs, uint64(coinbaseValue))
	writeVarInt(&outputs, uint64(len(payoutScript)))
	outputs.Write(payoutScript)

	// p2: scriptSig_part2 || sequence || outputs || locktime
	var p2 bytes.Buffer
	p2.Write(scriptSigPart2)
	writeUint32LE(&p2, 0xffffffff) // sequence
	p2.Write(outputs.Bytes())
	writeUint32LE(&p2, 0) // locktime

	coinb1 := hex.EncodeToString(p1.Bytes())
	if padLen > 0 {
		coinb1 += strings.Repeat("00", padLen)
	}
	coinb2 := hex.EncodeToString(p2.Bytes())
	return coinb1, coinb2, nil
}
