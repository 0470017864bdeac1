// Package roothash provides the content hash used throughout the store:
// blob addressing, trie node addressing, and ledger entry chaining all
// share this single hash function so that a hash computed by one
// component is meaningful to every other.
package roothash

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a BLAKE2b-256 digest. It is the address of a blob, a trie node,
// or a ledger entry.
type Hash [Size]byte

// Zero is the hash with every byte zero. No blob ever actually hashes to
// this value in practice, but it is used as the "no predecessor" marker
// for the first ledger entry.
var Zero Hash

// Sum hashes data and returns the resulting Hash.
func Sum(data []byte) Hash {
	return blake2b.Sum256(data)
}

// SumAll hashes the concatenation of parts without allocating an
// intermediate buffer for each one individually.
func SumAll(parts ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 only errors on a bad key length, and we never pass one.
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// String returns the lowercase hex encoding of h, the form used for every
// on-disk filename in the store (blobs/XX/<hash>, chain/NNNNNN, ...).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the Zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// ParseHash decodes a hex string produced by Hash.String back into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("roothash: parse %q: %w", s, err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("roothash: parse %q: want %d bytes, got %d", s, Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ShardPath splits the hex form of h into depth one-character directory
// components followed by the remaining filename, e.g. depth 3 of
// "ab12cd..." yields ("a","b","1","2cd...").
func ShardPath(h Hash, depth int) []string {
	hex := h.String()
	if depth > len(hex) {
		depth = len(hex)
	}
	parts := make([]string, 0, depth+1)
	for i := 0; i < depth; i++ {
		parts = append(parts, string(hex[i]))
	}
	parts = append(parts, hex[depth:])
	return parts
}
