package main

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodeBase58Uint64 renders a monotonic session counter
// (SessionManager.sessionSeq) as a short, unambiguous base58 session id for
// logging and worker-list bookkeeping. It never collides and never produces
// the visually confusable characters base58 excludes.
func encodeBase58Uint64(value uint64) string {
	if value == 0 {
		return string(base58Alphabet[0])
	}
	var buf [16]byte
	i := len(buf)
	for value > 0 {
		i--
		buf[i] = base58Alphabet[value%58]
		value /= 58
	}
	return string(buf[i:])
}
