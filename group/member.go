package group

import (
	"bytes"

	"github.com/nblp/dcnet/crypto"
)

// EmptyKey and EmptyDH are the sentinels returned by Key/DH lookups for an
// id not present in the roster. Callers that need strict behavior must
// Contains() first; lookups by id never fail outright (Group.Hpp's
// GetKey/GetPublicDiffieHellman never throw either, they return a
// NullPrivateKey-backed EmptyKey()).
var (
	EmptyKey crypto.PublicKey
	EmptyDH  crypto.DHPublicKey
)

// Member is one entry in a Group's roster: an identity paired with its
// long-term asymmetric public key and Diffie-Hellman public component.
type Member struct {
	ID  ID
	Key crypto.PublicKey
	DH  crypto.DHPublicKey
}

// Equal is strict componentwise equality: same id, same key bytes, same DH
// bytes. Equality here is a conjunction of all three fields, deliberately
// stricter than comparing any single field alone would be.
func (m Member) Equal(other Member) bool {
	return m.ID == other.ID &&
		bytes.Equal(m.Key.Bytes(), other.Key.Bytes()) &&
		bytes.Equal(m.DH.Bytes(), other.DH.Bytes())
}

// Less defines the strict total order used to sort a roster: (ID, key
// bytes, DH bytes) lexicographically: a later field is compared only when
// every earlier field is equal.
func (m Member) Less(other Member) bool {
	if c := m.ID.Compare(other.ID); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(m.Key.Bytes(), other.Key.Bytes()); c != 0 {
		return c < 0
	}
	return bytes.Compare(m.DH.Bytes(), other.DH.Bytes()) < 0
}
