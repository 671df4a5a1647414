package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// writeVarInt appends a Bitcoin CompactSize-encoded integer to buf.
func writeVarInt(buf *bytes.Buffer, v uint64) {
	buf.Write(appendVarInt(nil, v))
}

// appendVarInt appends the CompactSize encoding of v to dst and returns it.
func appendVarInt(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(dst, byte(v))
	case v <= 0xffff:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(v))
		return append(append(dst, 0xfd), out...)
	case v <= 0xffffffff:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(v))
		return append(append(dst, 0xfe), out...)
	default:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, v)
		return append(append(dst, 0xff), out...)
	}
}

func writeUint32LE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64LE(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// doubleSHA256 is Bitcoin's standard hashing primitive: SHA256(SHA256(data)).
func doubleSHA256(data []byte) []byte {
	first := sha256Sum(data)
	second := sha256Sum(first[:])
	out := make([]byte, 32)
	copy(out, second[:])
	return out
}

// reverseBytes returns a new slice with b's bytes in reverse order, used
// throughout the codebase to convert between Bitcoin's internal
// little-endian byte order and the big-endian hex strings RPC and Stratum
// exchange.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch first {
	case 0xfd:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xfe:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xff:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return uint64(first), nil
	}
}

// stripWitnessData removes the BIP144 segregated-witness marker/flag and
// per-input witness stacks from a raw transaction, returning the legacy
// (non-witness) serialization used for txid computation. hasWitness reports
// whether the input was witness-serialized at all.
func stripWitnessData(raw []byte) (base []byte, hasWitness bool, err error) {
	if len(raw) < 6 {
		return raw, false, nil
	}
	if raw[4] != 0x00 || raw[5] != 0x01 {
		return raw, false, nil
	}

	r := bytes.NewReader(raw)
	var out bytes.Buffer

	var version [4]byte
	if _, err := r.Read(version[:]); err != nil {
		return nil, false, err
	}
	out.Write(version[:])

	// skip marker + flag
	if _, err := r.ReadByte(); err != nil {
		return nil, false, err
	}
	if _, err := r.ReadByte(); err != nil {
		return nil, false, err
	}

	inCount, err := readVarInt(r)
	if err != nil {
		return nil, false, err
	}
	writeVarInt(&out, inCount)
	for i := uint64(0); i < inCount; i++ {
		if err := copyTxIn(r, &out); err != nil {
			return nil, false, fmt.Errorf("input %d: %w", i, err)
		}
	}

	outCount, err := readVarInt(r)
	if err != nil {
		return nil, false, err
	}
	writeVarInt(&out, outCount)
	for i := uint64(0); i < outCount; i++ {
		if err := copyTxOut(r, &out); err != nil {
			return nil, false, fmt.Errorf("output %d: %w", i, err)
		}
	}

	// consume and discard witness stacks, one set per input
	for i := uint64(0); i < inCount; i++ {
		stackLen, err := readVarInt(r)
		if err != nil {
			return nil, false, err
		}
		for j := uint64(0); j < stackLen; j++ {
			itemLen, err := readVarInt(r)
			if err != nil {
				return nil, false, err
			}
			if _, err := r.Seek(int64(itemLen), 1); err != nil {
				return nil, false, err
			}
		}
	}

	var locktime [4]byte
	if _, err := r.Read(locktime[:]); err != nil {
		return nil, false, err
	}
	out.Write(locktime[:])

	return out.Bytes(), true, nil
}

func copyTxIn(r *bytes.Reader, out *bytes.Buffer) error {
	var prevout [36]byte
	if _, err := r.Read(prevout[:]); err != nil {
		return err
	}
	out.Write(prevout[:])

	scriptLen, err := readVarInt(r)
	if err != nil {
		return err
	}
	writeVarInt(out, scriptLen)
	script := make([]byte, scriptLen)
	if _, err := r.Read(script); err != nil {
		return err
	}
	out.Write(script)

	var sequence [4]byte
	if _, err := r.Read(sequence[:]); err != nil {
		return err
	}
	out.Write(sequence[:])
	return nil
}

func copyTxOut(r *bytes.Reader, out *bytes.Buffer) error {
	var value [8]byte
	if _, err := r.Read(value[:]); err != nil {
		return err
	}
	out.Write(value[:])

	scriptLen, err := readVarInt(r)
	if err != nil {
		return err
	}
	writeVarInt(out, scriptLen)
	script := make([]byte, scriptLen)
	if _, err := r.Read(script); err != nil {
		return err
	}
	out.Write(script)
	return nil
}
