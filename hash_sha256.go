package main

import (
	stdsha "crypto/sha256"

	simdsha "github.com/minio/sha256-simd"
)

type sha256SumFunc func([]byte) [32]byte

// sha256Sum backs every double-SHA256 in the pool: share/header hashing
// (codec.go), coinbase txid/wtxid recomputation (job_validate.go), and worker
// name hashing (stratum_session.go). It is a package var rather than a direct
// call so setSha256Implementation can swap in the SIMD-accelerated
// implementation at startup without threading a choice through every caller.
var sha256Sum sha256SumFunc = stdsha.Sum256

// setSha256Implementation selects between the standard library's SHA256 and
// minio/sha256-simd's AVX2/SHA-NI accelerated implementation, controlled by
// the hash_simd config setting. The pool hashes every submitted share's
// block header, so this is on the hottest path in the process.
func setSha256Implementation(useSimd bool) {
	if useSimd {
		sha256Sum = simdsha.Sum256
		return
	}
	sha256Sum = stdsha.Sum256
}
