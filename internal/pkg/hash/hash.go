// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// PassageHash identifies a passage by its normalized text. Whitespace runs are
// collapsed so the same passage returned by both retrieval paths hashes equal.
func PassageHash(text string) string {
	return SHA256Short([]byte(strings.Join(strings.Fields(text), " ")), 16)
}

// PassageKey is the merge key for a retrieved passage.
func PassageKey(document string, page int, passageHash string) string {
	return document + "\x00" + strconv.Itoa(page) + "\x00" + passageHash
}

// TermIndex maps a keyword to its sparse vector dimension. The index side
// uses the same function when uploading keyword vectors.
func TermIndex(term string) uint32 {
	return uint32(xxhash.Sum64String(term))
}
