// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// Uint64 returns the first eight bytes of the SHA256 digest of s,
// read big-endian. Used to derive independent random streams from names.
func Uint64(s string) uint64 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(h[:8])
}

// Digest returns a short, order-sensitive fingerprint of parts.
// Parts are joined with a NUL separator so ("ab","c") and ("a","bc") differ.
func Digest(parts []string) string {
	return SHA256Short([]byte(strings.Join(parts, "\x00")), 16)
}
