package crypto

import (
	"errors"

	"golang.org/x/crypto/sha3"
)

// HashSize is the fixed digest size every Hash produces, matching the
// per-peer xor_hashes / cleartext_hash commitments in a Descriptor.
const HashSize = 32

// Hash is a fixed-size digest.
type Hash [HashSize]byte

// Bytes returns the digest bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// Equal does a plain comparison; hash comparisons in this protocol are never
// used to branch on secret data, so constant time is not required here
// (contrast crypto.PublicKey.Equal, which guards key material).
func (h Hash) Equal(other Hash) bool { return h == other }

// HashBytes computes the SHA3-256 digest of data.
func HashBytes(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// HashFromBytes wraps an externally-supplied digest, e.g. one decoded off
// the wire, validating its length.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errBadHashLength
	}
	copy(h[:], b)
	return h, nil
}

var errBadHashLength = errors.New("crypto: wrong hash length")
