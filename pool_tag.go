package main

import (
	"crypto/rand"
	"strings"
)

const (
	poolTagLength  = 4
	poolTagCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var poolTagCharsetBytes = []byte(poolTagCharset)

// generatePoolEntropy returns a random alphanumeric tag of length poolTagLength.
// If randomness fails, it falls back to a deterministic string derived from the
// pool software name so the tag is always valid.
func generatePoolEntropy() string {
	tag, err := randomAlnumString(poolTagLength)
	if err != nil || len(tag) != poolTagLength {
		alt := poolSoftwareName
		if len(alt) < poolTagLength {
			alt += strings.Repeat("X", poolTagLength-len(alt))
		}
		return alt[:poolTagLength]
	}
	return tag
}

// randomAlnumString returns a string of the requested length composed of
// alphanumeric characters from poolTagCharset.
func randomAlnumString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = poolTagCharsetBytes[int(buf[i])%len(poolTagCharsetBytes)]
	}
	return string(buf), nil
}
